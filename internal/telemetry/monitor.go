package telemetry

import (
	"sync"
	"time"
)

// Performance is the monitor's contribution to the stats snapshot.
type Performance struct {
	UptimeSeconds   float64   `json:"uptime_seconds"`
	Ticks           int64     `json:"ticks"`
	LastTickAt      time.Time `json:"last_tick_at"`
	LastTickSeconds float64   `json:"last_tick_seconds"`
	AvgTickSeconds  float64   `json:"avg_tick_seconds"`
}

// Monitor tracks process uptime and detector tick durations.
type Monitor struct {
	mu        sync.Mutex
	startedAt time.Time
	ticks     int64
	lastTick  time.Time
	lastDur   time.Duration
	totalDur  time.Duration

	now func() time.Time
}

// NewMonitor starts the uptime clock.
func NewMonitor() *Monitor {
	m := &Monitor{now: time.Now}
	m.startedAt = m.now()
	return m
}

// RecordTick stores the duration of one detector tick.
func (m *Monitor) RecordTick(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
	m.lastTick = m.now()
	m.lastDur = d
	m.totalDur += d
}

// Uptime reports how long the process has been running.
func (m *Monitor) Uptime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.startedAt)
}

// Snapshot returns a copy of the monitor state.
func (m *Monitor) Snapshot() Performance {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := Performance{
		UptimeSeconds:   m.now().Sub(m.startedAt).Seconds(),
		Ticks:           m.ticks,
		LastTickAt:      m.lastTick,
		LastTickSeconds: m.lastDur.Seconds(),
	}
	if m.ticks > 0 {
		p.AvgTickSeconds = m.totalDur.Seconds() / float64(m.ticks)
	}
	return p
}
