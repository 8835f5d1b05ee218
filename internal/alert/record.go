// Package alert carries the alert data model, the bounded in-process
// alert history, and the cooldown/priority gate applied before
// notifications go out.
package alert

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultHistoryCap bounds the in-memory alert buffer.
const DefaultHistoryCap = 100

// Severity is the operational classification stored on a record.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityLow     Severity = "low"
	SeverityMedium  Severity = "medium"
	SeverityHigh    Severity = "high"
)

// Record is one emitted alert. Records are immutable once added to the
// history; IDs are assigned monotonically within the process.
type Record struct {
	ID            int64     `json:"id" db:"id"`
	Symbol        string    `json:"symbol" db:"symbol"`
	Message       string    `json:"message" db:"message"`
	Severity      Severity  `json:"severity" db:"severity"`
	Price         float64   `json:"price" db:"price"`
	ChangePercent float64   `json:"change_percent" db:"change_percent"`
	Threshold     float64   `json:"threshold" db:"threshold"`
	Minutes       float64   `json:"minutes" db:"minutes"`
	Timestamp     time.Time `json:"ts" db:"ts"`
}

// History is the process-wide bounded alert buffer. Oldest records fall
// off the front once the capacity is reached.
type History struct {
	mu       sync.RWMutex
	records  []Record
	capacity int
	nextID   atomic.Int64
}

// NewHistory builds a buffer; capacity <= 0 falls back to
// DefaultHistoryCap.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &History{capacity: capacity}
}

// Add assigns the next ID, stamps the record if it carries no timestamp,
// stores it and returns the stored value.
func (h *History) Add(r Record) Record {
	r.ID = h.nextID.Add(1)
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	if len(h.records) > h.capacity {
		h.records = h.records[len(h.records)-h.capacity:]
	}
	return r
}

// Latest returns up to n records, newest first.
func (h *History) Latest(n int) []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	out := make([]Record, 0, n)
	for i := len(h.records) - 1; i >= len(h.records)-n; i-- {
		out = append(out, h.records[i])
	}
	return out
}

// Snapshot returns a copy of the buffer in insertion order.
func (h *History) Snapshot() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Record(nil), h.records...)
}

// Len reports the number of buffered records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}
