package enrich

import (
	"sync"
	"time"

	"github.com/warehouse-ops/pipeline/internal/event"
)

// ttlCache is the L1 in-process metadata cache: unbounded by count, expired
// by per-entry timestamp check on read. Read-mostly; a single RWMutex is
// enough at the pipeline's lookup rates.
type ttlCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	value    event.Record
	cachedAt time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *ttlCache) get(key string) (event.Record, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.cachedAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

func (c *ttlCache) set(key string, value event.Record) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, cachedAt: c.now()}
	c.mu.Unlock()
}
