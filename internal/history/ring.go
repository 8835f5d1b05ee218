// Package history keeps the bounded, time-ordered per-symbol price store
// that backs reference-price lookups.
package history

import (
	"sync"
	"time"
)

const (
	// MaxLen bounds the number of points retained per symbol.
	MaxLen = 3600
	// MaxAge bounds how old a retained point may be.
	MaxAge = time.Hour
	// CleanupInterval is the wall-clock spacing of age eviction passes.
	CleanupInterval = 60 * time.Second
)

// PricePoint is one observed price with its receipt timestamp in
// milliseconds.
type PricePoint struct {
	Timestamp int64   `json:"ts"`
	Price     float64 `json:"price"`
}

// Ring is the per-symbol bounded deque of PricePoints. Points are appended
// in arrival order and trimmed only at the head, either by the capacity
// bound on append or by the periodic age eviction. The stream worker is
// the sole writer.
type Ring struct {
	mu          sync.RWMutex
	points      map[string][]PricePoint
	maxLen      int
	maxAge      time.Duration
	cleanupGap  time.Duration
	lastCleanup time.Time

	now func() time.Time
}

// NewRing builds a ring with the standard bounds.
func NewRing() *Ring {
	return &Ring{
		points:     make(map[string][]PricePoint),
		maxLen:     MaxLen,
		maxAge:     MaxAge,
		cleanupGap: CleanupInterval,
		now:        time.Now,
	}
}

// Record appends the current price for a symbol and, when the last age
// eviction is at least CleanupInterval in the past, runs a cleanup pass.
func (r *Ring) Record(symbol string, price float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	pts := append(r.points[symbol], PricePoint{Timestamp: now.UnixMilli(), Price: price})
	if len(pts) > r.maxLen {
		pts = pts[len(pts)-r.maxLen:]
	}
	r.points[symbol] = pts

	if r.lastCleanup.IsZero() {
		r.lastCleanup = now
		return
	}
	if now.Sub(r.lastCleanup) >= r.cleanupGap {
		r.cleanupLocked(now)
		r.lastCleanup = now
	}
}

// Cleanup drops points older than MaxAge and removes symbols whose rings
// become empty. Record triggers it on its own cadence; exposing it lets
// the owner force a pass on shutdown.
func (r *Ring) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.cleanupLocked(now)
	r.lastCleanup = now
}

func (r *Ring) cleanupLocked(now time.Time) {
	cutoff := now.Add(-r.maxAge).UnixMilli()
	for symbol, pts := range r.points {
		idx := 0
		for idx < len(pts) && pts[idx].Timestamp < cutoff {
			idx++
		}
		if idx == 0 {
			continue
		}
		if idx >= len(pts) {
			delete(r.points, symbol)
			continue
		}
		r.points[symbol] = append([]PricePoint(nil), pts[idx:]...)
	}
}

// Closest returns the retained point whose timestamp is nearest to
// targetMs. The boolean is false when the symbol has no points.
func (r *Ring) Closest(symbol string, targetMs int64) (PricePoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pts := r.points[symbol]
	if len(pts) == 0 {
		return PricePoint{}, false
	}

	// Points arrive in order, so a binary partition narrows the candidates
	// to the two neighbours of the target.
	lo, hi := 0, len(pts)
	for lo < hi {
		mid := (lo + hi) / 2
		if pts[mid].Timestamp < targetMs {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	best := pts[min(lo, len(pts)-1)]
	if lo > 0 {
		prev := pts[lo-1]
		if abs64(prev.Timestamp-targetMs) <= abs64(best.Timestamp-targetMs) {
			best = prev
		}
	}
	return best, true
}

// Len reports the number of retained points for a symbol.
func (r *Ring) Len(symbol string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.points[symbol])
}

// Symbols lists the symbols currently holding points.
func (r *Ring) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.points))
	for symbol := range r.points {
		out = append(out, symbol)
	}
	return out
}

// Points returns a copy of the retained points for a symbol in arrival
// order.
func (r *Ring) Points(symbol string) []PricePoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]PricePoint(nil), r.points[symbol]...)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
