package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pricesentry/internal/net/budget"
	"github.com/sawpanic/pricesentry/internal/net/circuit"
	"github.com/sawpanic/pricesentry/internal/net/client"
	"github.com/sawpanic/pricesentry/internal/telemetry"
)

// Backoff policy for REST fetches.
const (
	restMaxRetries  = 3
	restBackoffBase = time.Second
	restBackoffMax  = 10 * time.Second
)

// restClient executes exchange REST fetches with exponential backoff on
// transient failures. The middleware transport underneath carries the
// rate limiter, the daily budget and the rest breaker.
type restClient struct {
	exchange string
	httpc    *http.Client
	metrics  *telemetry.Metrics

	sleep func(ctx context.Context, d time.Duration) error
}

func newRESTClient(exchange string, httpc *http.Client, metrics *telemetry.Metrics) *restClient {
	if httpc == nil {
		httpc = client.New(exchange, nil, nil, nil)
	}
	return &restClient{
		exchange: exchange,
		httpc:    httpc,
		metrics:  metrics,
		sleep:    sleepCtx,
	}
}

// getJSON fetches url and hands the body to parse. Network failures and
// retryable statuses are retried with min(base*2^attempt, max) backoff;
// open breakers and budget exhaustion fail immediately.
func (r *restClient) getJSON(ctx context.Context, endpoint, url string, parse func([]byte) error) error {
	if r.metrics != nil {
		r.metrics.RESTRequests.WithLabelValues(r.exchange, endpoint).Inc()
	}

	var lastErr error
	for attempt := 0; attempt <= restMaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt - 1)
			log.Debug().
				Str("exchange", r.exchange).
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("retrying REST fetch")
			if err := r.sleep(ctx, delay); err != nil {
				return wrapErr(r.exchange, err)
			}
		}

		body, err := r.fetch(ctx, url)
		if err != nil {
			lastErr = err
			if retryable(err) {
				continue
			}
			return wrapErr(r.exchange, err)
		}

		if err := parse(body); err != nil {
			return wrapErr(r.exchange, err)
		}
		return nil
	}
	return wrapErr(r.exchange, fmt.Errorf("%s %s failed after %d attempts: %w",
		r.exchange, endpoint, restMaxRetries+1, lastErr))
}

func (r *restClient) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// retryable reports whether another attempt can help: transport-level
// failures and 5xx/429 statuses qualify, protection-layer rejections do
// not.
func retryable(err error) bool {
	if circuit.IsOpen(err) {
		return false
	}
	var exhausted *budget.ExhaustedError
	if errors.As(err, &exhausted) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *client.StatusError
	if errors.As(err, &status) {
		return status.Retryable()
	}
	return true
}

func backoffDelay(attempt int) time.Duration {
	delay := restBackoffBase << uint(attempt)
	if delay > restBackoffMax {
		delay = restBackoffMax
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
