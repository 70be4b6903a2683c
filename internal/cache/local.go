package cache

import (
	"sync"
	"time"

	domain "github.com/finvault/gateway/internal/domain/identity"
)

// LocalCache is the in-process tier of the fallback cache. Expiry is lazy:
// entries are checked on read and dropped when stale.
type LocalCache struct {
	mu      sync.RWMutex
	entries map[string]domain.CachedVerification

	now func() time.Time
}

// NewLocalCache creates an empty local tier.
func NewLocalCache() *LocalCache {
	return &LocalCache{
		entries: make(map[string]domain.CachedVerification),
		now:     time.Now,
	}
}

// Get returns a live entry, or ok=false when absent or expired. Expired
// entries are removed on the way out.
func (c *LocalCache) Get(key string) (domain.CachedVerification, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return domain.CachedVerification{}, false
	}
	if entry.Expired(c.now()) {
		c.mu.Lock()
		if current, still := c.entries[key]; still && current.CachedAt.Equal(entry.CachedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return domain.CachedVerification{}, false
	}
	return entry, true
}

// Put stores an entry.
func (c *LocalCache) Put(key string, entry domain.CachedVerification) {
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Len returns the number of entries, expired ones included.
func (c *LocalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
