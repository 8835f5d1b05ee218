package alert

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		absPct float64
		want   Priority
	}{
		{"below_medium_is_low", 0.9, PriorityLow},
		{"at_medium_is_medium", 1.0, PriorityMedium},
		{"between_cutoffs_is_medium", 2.99, PriorityMedium},
		{"at_high_is_high", 3.0, PriorityHigh},
		{"above_high_is_high", 12.5, PriorityHigh},
		{"zero_is_low", 0, PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.absPct, 1, 3))
		})
	}
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "LOW", PriorityLow.String())
	assert.Equal(t, "MEDIUM", PriorityMedium.String())
	assert.Equal(t, "HIGH", PriorityHigh.String())
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, SeverityWarning, SeverityFor(PriorityHigh))
	assert.Equal(t, SeverityInfo, SeverityFor(PriorityMedium))
	assert.Equal(t, SeverityInfo, SeverityFor(PriorityLow))
}

func newTestCooldown() (*Cooldown, *time.Time) {
	c := NewCooldown()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCooldownGate(t *testing.T) {
	t.Run("unknown_symbol_passes", func(t *testing.T) {
		c, _ := newTestCooldown()
		assert.True(t, c.ShouldNotify("BTC/USDT:USDT", PriorityLow, 60, false))
	})

	t.Run("within_cooldown_blocks", func(t *testing.T) {
		c, now := newTestCooldown()
		c.Record("BTC/USDT:USDT")
		*now = now.Add(30 * time.Second)
		assert.False(t, c.ShouldNotify("BTC/USDT:USDT", PriorityMedium, 60, false))
	})

	t.Run("elapsed_cooldown_passes", func(t *testing.T) {
		c, now := newTestCooldown()
		c.Record("BTC/USDT:USDT")
		*now = now.Add(60 * time.Second)
		assert.True(t, c.ShouldNotify("BTC/USDT:USDT", PriorityMedium, 60, false), "gate is inclusive at exactly the cooldown")
	})

	t.Run("high_bypass", func(t *testing.T) {
		// Both A and B sent at t=0; five seconds later A moved +6 (HIGH
		// with cutoffs medium=2 high=5) and B moved +3 (MEDIUM). Only A
		// passes the gate.
		c, now := newTestCooldown()
		c.Record("A")
		c.Record("B")
		*now = now.Add(5 * time.Second)

		prioA := Classify(6, 2, 5)
		prioB := Classify(3, 2, 5)
		require.Equal(t, PriorityHigh, prioA)
		require.Equal(t, PriorityMedium, prioB)

		assert.True(t, c.ShouldNotify("A", prioA, 60, true))
		assert.False(t, c.ShouldNotify("B", prioB, 60, true))
	})

	t.Run("bypass_disabled_blocks_high", func(t *testing.T) {
		c, now := newTestCooldown()
		c.Record("A")
		*now = now.Add(5 * time.Second)
		assert.False(t, c.ShouldNotify("A", PriorityHigh, 60, false))
	})

	t.Run("should_notify_does_not_mutate", func(t *testing.T) {
		c, now := newTestCooldown()
		assert.True(t, c.ShouldNotify("A", PriorityLow, 60, false))
		assert.True(t, c.ShouldNotify("A", PriorityLow, 60, false), "gate stays open until Record")

		c.Record("A")
		*now = now.Add(time.Second)
		assert.False(t, c.ShouldNotify("A", PriorityLow, 60, false))
	})

	t.Run("reset_forgets_sends", func(t *testing.T) {
		c, _ := newTestCooldown()
		c.Record("A")
		c.Reset()
		assert.True(t, c.ShouldNotify("A", PriorityLow, 3600, false))
	})
}

func TestHistory(t *testing.T) {
	t.Run("ids_are_monotonic", func(t *testing.T) {
		h := NewHistory(10)
		first := h.Add(Record{Symbol: "A"})
		second := h.Add(Record{Symbol: "B"})
		assert.Equal(t, int64(1), first.ID)
		assert.Equal(t, int64(2), second.ID)
	})

	t.Run("capacity_drops_oldest", func(t *testing.T) {
		h := NewHistory(3)
		for i := 0; i < 5; i++ {
			h.Add(Record{Symbol: fmt.Sprintf("S%d", i)})
		}
		assert.Equal(t, 3, h.Len())

		snap := h.Snapshot()
		assert.Equal(t, "S2", snap[0].Symbol)
		assert.Equal(t, "S4", snap[2].Symbol)
	})

	t.Run("latest_returns_newest_first", func(t *testing.T) {
		h := NewHistory(10)
		h.Add(Record{Symbol: "A"})
		h.Add(Record{Symbol: "B"})
		h.Add(Record{Symbol: "C"})

		latest := h.Latest(2)
		require.Len(t, latest, 2)
		assert.Equal(t, "C", latest[0].Symbol)
		assert.Equal(t, "B", latest[1].Symbol)

		all := h.Latest(0)
		assert.Len(t, all, 3)
	})

	t.Run("timestamps_are_stamped", func(t *testing.T) {
		h := NewHistory(10)
		r := h.Add(Record{Symbol: "A"})
		assert.False(t, r.Timestamp.IsZero())

		explicit := time.Unix(1000, 0)
		r = h.Add(Record{Symbol: "B", Timestamp: explicit})
		assert.Equal(t, explicit, r.Timestamp)
	})
}
