// Package circuit wraps sony/gobreaker behind a registry of named
// breakers protecting the exchange-facing call sites.
package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Standard breaker names used by the exchange adapter.
const (
	BreakerStart     = "ws_start"
	BreakerReconnect = "ws_reconnect"
	BreakerREST      = "rest"
)

// Settings configures one named breaker. The breaker opens after
// FailureThreshold consecutive failures and stays open for
// RecoveryTimeout; the first call after that probes half-open, where a
// success closes the breaker and a failure reopens it.
type Settings struct {
	Name             string
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
}

// DefaultSettings is applied to breakers executed before being configured.
var DefaultSettings = Settings{
	FailureThreshold: 5,
	RecoveryTimeout:  60 * time.Second,
}

// Stats is a point-in-time view of one breaker.
type Stats struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalSuccesses      uint32 `json:"total_successes"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// Registry holds the process-wide set of named breakers.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Configure creates or replaces the named breaker.
func (r *Registry) Configure(s Settings) {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = DefaultSettings.FailureThreshold
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = DefaultSettings.RecoveryTimeout
	}

	threshold := s.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    s.RecoveryTimeout,
		Timeout:     s.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[s.Name] = cb
}

// Execute runs fn through the named breaker. Unconfigured names are
// created on first use with DefaultSettings. When the breaker is open the
// call fails immediately without invoking fn.
func (r *Registry) Execute(name string, fn func() error) error {
	cb := r.get(name)
	_, err := cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// State returns the current state string for a breaker, "closed" if it
// was never used.
func (r *Registry) State(name string) string {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

// Stats snapshots every registered breaker, keyed by name.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Stats, len(r.breakers))
	for name, cb := range r.breakers {
		counts := cb.Counts()
		out[name] = Stats{
			Name:                name,
			State:               cb.State().String(),
			Requests:            counts.Requests,
			TotalSuccesses:      counts.TotalSuccesses,
			TotalFailures:       counts.TotalFailures,
			ConsecutiveFailures: counts.ConsecutiveFailures,
		}
	}
	return out
}

func (r *Registry) get(name string) *gobreaker.CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	s := DefaultSettings
	s.Name = name
	r.Configure(s)

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// IsOpen reports whether the error came from an open or throttled breaker
// rather than from the wrapped call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
