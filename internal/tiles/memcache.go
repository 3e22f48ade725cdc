package tiles

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/parcelworks/housecount/internal/geo"
)

// MemCache is a concurrent-safe LRU tile cache with TTL expiration. It
// fronts the disk cache in the server and stands in for it in tests.
type MemCache struct {
	mu         sync.Mutex
	entries    map[geo.Tile]*memEntry
	order      []geo.Tile // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
}

type memEntry struct {
	data      []byte
	createdAt time.Time
}

// NewMemCache creates a MemCache with the given capacity and TTL. A zero TTL
// means entries never expire.
func NewMemCache(maxEntries int, ttl time.Duration) *MemCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemCache{
		entries:    make(map[geo.Tile]*memEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Get retrieves a cached tile. Misses and expirations return false.
func (c *MemCache) Get(t geo.Tile) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[t]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	if c.ttl > 0 && time.Since(entry.createdAt) > c.ttl {
		delete(c.entries, t)
		c.removeFromOrder(t)
		c.misses.Add(1)
		return nil, false
	}

	// Move to back (most recently used).
	c.removeFromOrder(t)
	c.order = append(c.order, t)
	c.hits.Add(1)
	return entry.data, true
}

// Put stores a tile, evicting the oldest entry if at capacity.
func (c *MemCache) Put(t geo.Tile, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[t]; ok {
		c.entries[t] = &memEntry{data: data, createdAt: time.Now()}
		c.removeFromOrder(t)
		c.order = append(c.order, t)
		return nil
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[t] = &memEntry{data: data, createdAt: time.Now()}
	c.order = append(c.order, t)
	return nil
}

// HitRate returns the fraction of Gets served from cache.
func (c *MemCache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func (c *MemCache) removeFromOrder(t geo.Tile) {
	for i, k := range c.order {
		if k == t {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
