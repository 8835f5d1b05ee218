// Package ratelimit provides the per-exchange token-bucket limiter sitting
// in front of the REST clients.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRPS and DefaultBurst are tuned for the public market-data
// endpoints of the supported exchanges, all of which allow far more than
// this unauthenticated.
const (
	DefaultRPS   = 5.0
	DefaultBurst = 10
)

// Limiter hands out one token bucket per exchange. Buckets are created
// lazily on first use.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter builds a limiter with the given per-exchange rate.
// Non-positive values fall back to the defaults.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = DefaultRPS
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) get(exchange string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[exchange]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[exchange]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[exchange] = lim
	return lim
}

// Allow reports whether a request for the exchange may proceed right now.
func (l *Limiter) Allow(exchange string) bool {
	return l.get(exchange).Allow()
}

// Wait blocks until a request for the exchange is allowed or the context
// is cancelled.
func (l *Limiter) Wait(ctx context.Context, exchange string) error {
	return l.get(exchange).Wait(ctx)
}

// Stats is a point-in-time view of one exchange bucket.
type Stats struct {
	Exchange string        `json:"exchange"`
	RPS      float64       `json:"rps"`
	Burst    int           `json:"burst"`
	Tokens   float64       `json:"tokens"`
	Delay    time.Duration `json:"delay"`
}

// Snapshot reports the state of every bucket created so far.
func (l *Limiter) Snapshot() map[string]Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Stats, len(l.limiters))
	for exchange, lim := range l.limiters {
		res := lim.Reserve()
		delay := res.Delay()
		res.Cancel()
		out[exchange] = Stats{
			Exchange: exchange,
			RPS:      float64(lim.Limit()),
			Burst:    lim.Burst(),
			Tokens:   lim.Tokens(),
			Delay:    delay,
		}
	}
	return out
}
