package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllow(t *testing.T) {
	t.Run("burst_then_block", func(t *testing.T) {
		l := NewLimiter(1.0, 2)

		assert.True(t, l.Allow("binance"))
		assert.True(t, l.Allow("binance"))
		assert.False(t, l.Allow("binance"))
	})

	t.Run("exchanges_are_isolated", func(t *testing.T) {
		l := NewLimiter(1.0, 1)

		assert.True(t, l.Allow("binance"))
		assert.False(t, l.Allow("binance"))
		assert.True(t, l.Allow("bybit"))
	})

	t.Run("zero_values_fall_back_to_defaults", func(t *testing.T) {
		l := NewLimiter(0, 0)
		for i := 0; i < DefaultBurst; i++ {
			assert.True(t, l.Allow("okx"), "request %d within burst", i)
		}
	})
}

func TestLimiterWait(t *testing.T) {
	t.Run("immediate_when_tokens_available", func(t *testing.T) {
		l := NewLimiter(1.0, 1)

		start := time.Now()
		require.NoError(t, l.Wait(context.Background(), "binance"))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("cancelled_context", func(t *testing.T) {
		l := NewLimiter(0.1, 1)
		require.NoError(t, l.Wait(context.Background(), "binance"))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.Error(t, l.Wait(ctx, "binance"))
	})
}

func TestLimiterSnapshot(t *testing.T) {
	l := NewLimiter(3.0, 5)
	l.Allow("binance")
	l.Allow("okx")

	stats := l.Snapshot()
	require.Len(t, stats, 2)
	assert.Equal(t, 3.0, stats["binance"].RPS)
	assert.Equal(t, 5, stats["binance"].Burst)
	assert.Equal(t, "okx", stats["okx"].Exchange)
}
