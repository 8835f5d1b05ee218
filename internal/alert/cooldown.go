package alert

import (
	"sync"
	"time"
)

// Priority classifies a mover by the magnitude of its move.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// SeverityFor maps a priority to the operational severity stored on alert
// records: HIGH moves are warnings, everything else is informational.
func SeverityFor(p Priority) Severity {
	if p == PriorityHigh {
		return SeverityWarning
	}
	return SeverityInfo
}

// Classify buckets an absolute percent change against the configured
// cutoffs: HIGH at or above high, MEDIUM at or above medium, LOW below.
func Classify(absPct, medium, high float64) Priority {
	switch {
	case absPct >= high:
		return PriorityHigh
	case absPct >= medium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Cooldown is the per-symbol notification rate gate. ShouldNotify never
// mutates the state; callers record a send explicitly after it succeeds.
type Cooldown struct {
	mu       sync.Mutex
	lastSent map[string]time.Time

	now func() time.Time
}

// NewCooldown builds an empty gate.
func NewCooldown() *Cooldown {
	return &Cooldown{
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// ShouldNotify reports whether a notification for symbol may go out.
// HIGH priority bypasses the cooldown entirely when bypassHigh is set;
// otherwise at least cooldownSeconds must have elapsed since the last
// recorded send. Symbols never sent before always pass.
func (c *Cooldown) ShouldNotify(symbol string, priority Priority, cooldownSeconds float64, bypassHigh bool) bool {
	if bypassHigh && priority == PriorityHigh {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastSent[symbol]
	if !ok {
		return true
	}
	return c.now().Sub(last).Seconds() >= cooldownSeconds
}

// Record marks a successful send for symbol.
func (c *Cooldown) Record(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSent[symbol] = c.now()
}

// Reset forgets all recorded sends.
func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSent = make(map[string]time.Time)
}
