// Package client assembles the HTTP middleware stack shared by the
// exchange REST clients: per-exchange rate limiting, the optional daily
// request budget and the rest circuit breaker, in that order, in front of
// the base transport.
package client

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sawpanic/pricesentry/internal/net/budget"
	"github.com/sawpanic/pricesentry/internal/net/circuit"
	"github.com/sawpanic/pricesentry/internal/net/ratelimit"
)

// RequestTimeout is the hard per-call timeout applied to every REST
// request.
const RequestTimeout = 10 * time.Second

const userAgent = "PriceSentry/1.0 (+https://github.com/sawpanic/pricesentry)"

// StatusError marks a response the exchange rejected at the protocol
// level. The transport converts every status >= 400 into one so callers
// can branch on the code.
type StatusError struct {
	Exchange   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Exchange, e.StatusCode)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Transport is the exchange-facing http.RoundTripper. Any of the
// middleware members may be nil, which skips that stage.
type Transport struct {
	Exchange string
	Limiter  *ratelimit.Limiter
	Budget   *budget.Tracker
	Breakers *circuit.Registry
	Base     http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	// Budget fails fast before a token is spent on a doomed request.
	if err := t.Budget.Consume(); err != nil {
		return nil, err
	}

	if t.Limiter != nil {
		if err := t.Limiter.Wait(req.Context(), t.Exchange); err != nil {
			return nil, fmt.Errorf("rate limit wait for %s: %w", t.Exchange, err)
		}
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	if t.Breakers == nil {
		return t.do(base, req)
	}

	var resp *http.Response
	err := t.Breakers.Execute(circuit.BreakerREST, func() error {
		var err error
		resp, err = t.do(base, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// do executes the request and turns protocol-level rejections into
// StatusErrors so they count as breaker failures.
func (t *Transport) do(base http.RoundTripper, req *http.Request) (*http.Response, error) {
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &StatusError{Exchange: t.Exchange, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// New builds the http.Client used by one exchange adapter.
func New(exchange string, limiter *ratelimit.Limiter, tracker *budget.Tracker, breakers *circuit.Registry) *http.Client {
	return &http.Client{
		Timeout: RequestTimeout,
		Transport: &Transport{
			Exchange: exchange,
			Limiter:  limiter,
			Budget:   tracker,
			Breakers: breakers,
		},
	}
}
