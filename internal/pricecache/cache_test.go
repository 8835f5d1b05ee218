package pricecache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(capacity int, ttl time.Duration) (*Cache, *time.Time) {
	c := NewWith(capacity, ttl)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCacheHitMissAccounting(t *testing.T) {
	c, now := newTestCache(10, 300*time.Second)
	defer c.Close()

	// Empty cache: two misses.
	_, ok := c.Get("binance:A")
	assert.False(t, ok)
	_, ok = c.Get("binance:B")
	assert.False(t, ok)

	c.Set("binance:A", 100)
	c.Set("binance:B", 200)

	// Within TTL: two hits, no refetch needed.
	vA, ok := c.Get("binance:A")
	require.True(t, ok)
	assert.Equal(t, 100.0, vA)
	vB, ok := c.Get("binance:B")
	require.True(t, ok)
	assert.Equal(t, 200.0, vB)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)

	// Past TTL: both entries expire on access and count as misses again.
	*now = now.Add(300*time.Second + time.Millisecond)
	_, ok = c.Get("binance:A")
	assert.False(t, ok)
	_, ok = c.Get("binance:B")
	assert.False(t, ok)

	stats = c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(4), stats.Misses)
	assert.Equal(t, uint64(2), stats.Expirations)
	assert.Zero(t, stats.Size, "expired entries are removed on access")
}

func TestCacheExpiryIsExclusiveBound(t *testing.T) {
	c, now := newTestCache(10, 300*time.Second)
	defer c.Close()

	c.Set("k", 1)
	*now = now.Add(300 * time.Second) // exactly ttl: still valid
	_, ok := c.Get("k")
	assert.True(t, ok, "entry at exactly ttl is not yet expired")

	*now = now.Add(time.Nanosecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCacheLRUEviction(t *testing.T) {
	c, now := newTestCache(3, time.Hour)
	defer c.Close()

	c.Set("a", 1)
	*now = now.Add(time.Second)
	c.Set("b", 2)
	*now = now.Add(time.Second)
	c.Set("c", 3)

	// Touch "a" so "b" becomes the least recently accessed.
	*now = now.Add(time.Second)
	_, ok := c.Get("a")
	require.True(t, ok)

	*now = now.Add(time.Second)
	c.Set("d", 4)

	assert.Equal(t, 3, c.Len(), "capacity bound holds")
	_, ok = c.Get("b")
	assert.False(t, ok, "least recently accessed entry was evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("d")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestCacheCapacityNeverExceeded(t *testing.T) {
	c, now := newTestCache(100, time.Hour)
	defer c.Close()

	for i := 0; i < 500; i++ {
		*now = now.Add(time.Millisecond)
		c.Set(fmt.Sprintf("key-%d", i), float64(i))
		assert.LessOrEqual(t, c.Len(), 100)
	}
	assert.Equal(t, uint64(400), c.Stats().Evictions)
}

func TestCacheUpdateDoesNotEvict(t *testing.T) {
	c, now := newTestCache(2, time.Hour)
	defer c.Close()

	c.Set("a", 1)
	*now = now.Add(time.Second)
	c.Set("b", 2)
	*now = now.Add(time.Second)
	c.Set("a", 10) // update in place, no eviction

	assert.Equal(t, 2, c.Len())
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10.0, v)
	assert.Zero(t, c.Stats().Evictions)
}

func TestCacheSweepRemovesExpired(t *testing.T) {
	c, now := newTestCache(10, time.Second)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	*now = now.Add(2 * time.Second)
	c.sweep()

	assert.Zero(t, c.Len())
	assert.Equal(t, uint64(2), c.Stats().Expirations)
}

func TestCacheClear(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)
	defer c.Close()

	c.Set("a", 1)
	c.Get("a")
	c.Clear()

	assert.Zero(t, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Hits, "counters survive a clear")
}
