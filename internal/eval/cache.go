package eval

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a bounded LRU of evaluations keyed by (position, depth, lines).
// Each worker owns one; Stats may be read from other goroutines.
type Cache struct {
	lru      *lru.Cache[Key, Evaluation]
	capacity int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewCache creates a cache holding at most capacity evaluations.
// A capacity of zero or less disables caching.
func NewCache(capacity int) *Cache {
	c := &Cache{capacity: max(capacity, 0)}
	if capacity > 0 {
		// only fails for a non-positive size
		c.lru, _ = lru.NewWithEvict[Key, Evaluation](capacity, func(Key, Evaluation) {
			c.evictions.Add(1)
		})
	}
	return c
}

// Get returns the cached evaluation for key and marks it recently used.
func (c *Cache) Get(key Key) (Evaluation, bool) {
	if c.lru != nil {
		if ev, ok := c.lru.Get(key); ok {
			c.hits.Add(1)
			return ev, true
		}
	}
	c.misses.Add(1)
	return Evaluation{}, false
}

// Put stores ev under key, evicting the least recently used entry when full.
func (c *Cache) Put(key Key, ev Evaluation) {
	if c.lru == nil {
		return
	}
	c.lru.Add(key, ev)
}

// GetOrCompute returns the cached evaluation for key or calls compute and
// stores its result. Failed computations are not cached.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute func(context.Context) (Evaluation, error)) (Evaluation, error) {
	if ev, ok := c.Get(key); ok {
		return ev, nil
	}
	ev, err := compute(ctx)
	if err != nil {
		return Evaluation{}, err
	}
	c.Put(key, ev)
	return ev, nil
}

// Len returns the number of cached evaluations.
func (c *Cache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// CacheStats holds cache counters.
type CacheStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
}

// Stats returns current cache statistics.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
		Capacity:  c.capacity,
	}
}
