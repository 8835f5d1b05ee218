// Package budget enforces the optional daily REST request budget. A
// tracker counts requests per UTC day and fails fast once the configured
// limit is reached; the counter resets at UTC midnight.
package budget

import (
	"fmt"
	"sync"
	"time"
)

// ExhaustedError is returned once the daily limit is reached. Callers
// surface it before the request is attempted.
type ExhaustedError struct {
	Exchange string
	Used     int64
	Limit    int64
	ResetAt  time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("daily request budget exhausted for %s: %d/%d used, resets at %s",
		e.Exchange, e.Used, e.Limit, e.ResetAt.Format("15:04 UTC"))
}

// Tracker counts REST requests for one exchange against a daily limit.
// A limit of zero or less disables tracking entirely.
type Tracker struct {
	exchange string
	limit    int64

	mu   sync.Mutex
	used int64
	day  time.Time // UTC midnight of the counted day

	now func() time.Time
}

// NewTracker builds a tracker for one exchange.
func NewTracker(exchange string, limit int64) *Tracker {
	return &Tracker{
		exchange: exchange,
		limit:    limit,
		now:      time.Now,
	}
}

// Consume counts one request. It returns an *ExhaustedError when the
// daily limit is already spent; the request must not be attempted then.
func (t *Tracker) Consume() error {
	if t == nil || t.limit <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNewDayLocked()
	if t.used >= t.limit {
		return &ExhaustedError{
			Exchange: t.exchange,
			Used:     t.used,
			Limit:    t.limit,
			ResetAt:  t.day.AddDate(0, 0, 1),
		}
	}
	t.used++
	return nil
}

// Stats is a point-in-time view of the tracker.
type Stats struct {
	Exchange  string    `json:"exchange"`
	Limit     int64     `json:"limit"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Unlimited bool      `json:"unlimited"`
}

// Stats reports the current usage. Unlimited trackers report zero usage.
func (t *Tracker) Stats() Stats {
	if t == nil || t.limit <= 0 {
		return Stats{Unlimited: true}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNewDayLocked()
	return Stats{
		Exchange:  t.exchange,
		Limit:     t.limit,
		Used:      t.used,
		Remaining: t.limit - t.used,
		ResetAt:   t.day.AddDate(0, 0, 1),
	}
}

// Reset clears the counter, mostly for tests and manual operation.
func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.used = 0
	t.day = utcMidnight(t.now())
}

func (t *Tracker) resetIfNewDayLocked() {
	today := utcMidnight(t.now())
	if !today.Equal(t.day) {
		t.day = today
		t.used = 0
	}
}

func utcMidnight(ts time.Time) time.Time {
	u := ts.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
