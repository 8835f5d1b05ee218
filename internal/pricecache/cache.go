// Package pricecache provides the process-wide price cache consulted
// before the live-price map and REST fallback. Entries carry a TTL and the
// cache evicts least-recently-accessed entries at capacity.
package pricecache

import (
	"sync"
	"time"
)

const (
	// DefaultCapacity bounds the number of cached prices.
	DefaultCapacity = 1000
	// DefaultTTL is how long a cached price stays servable.
	DefaultTTL = 300 * time.Second

	janitorInterval = time.Minute
)

type entry struct {
	value      float64
	insertedAt time.Time
	accessedAt time.Time
	hits       int64
	ttl        time.Duration
}

// Stats summarizes cache effectiveness counters.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
	Size        int    `json:"size"`
	Capacity    int    `json:"capacity"`
}

// HitRate returns hits / (hits + misses), zero when idle.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a TTL price cache with LRU eviction at capacity. A background
// janitor sweeps expired entries once a minute; Close stops it.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	capacity int
	ttl      time.Duration

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64

	stopCh   chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

// New builds a cache with the standard capacity and TTL.
func New() *Cache {
	return NewWith(DefaultCapacity, DefaultTTL)
}

// NewWith builds a cache with explicit bounds and starts the janitor.
func NewWith(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries:  make(map[string]*entry),
		capacity: capacity,
		ttl:      ttl,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	go c.janitor()
	return c
}

// Get returns the cached price for key. An expired entry is removed and
// reported as a miss.
func (c *Cache) Get(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return 0, false
	}

	now := c.now()
	if c.expired(e, now) {
		delete(c.entries, key)
		c.expirations++
		c.misses++
		return 0, false
	}

	e.accessedAt = now
	e.hits++
	c.hits++
	return e.value, true
}

// Set stores a price under the default TTL.
func (c *Cache) Set(key string, value float64) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a price with an explicit TTL. Inserting into a full
// cache evicts the least recently accessed entry first.
func (c *Cache) SetWithTTL(key string, value float64, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.insertedAt = now
		e.accessedAt = now
		e.ttl = ttl
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictLRULocked()
	}
	c.entries[key] = &entry{
		value:      value,
		insertedAt: now,
		accessedAt: now,
		ttl:        ttl,
	}
}

// Delete removes a key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry, keeping the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        len(c.entries),
		Capacity:    c.capacity,
	}
}

// Close stops the janitor. The cache stays usable afterwards.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.insertedAt) > e.ttl
}

func (c *Cache) evictLRULocked() {
	var oldestKey string
	var oldestAccess time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.accessedAt.Before(oldestAccess) {
			oldestKey = key
			oldestAccess = e.accessedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

func (c *Cache) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, key)
			c.expirations++
		}
	}
}
