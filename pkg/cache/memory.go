// Package cache keeps the last successful payload per endpoint so degraded
// reads can serve real, if stale, data.
package cache

import (
	"sync"
	"time"
)

type Cache struct {
	entries    map[string]*Entry
	mutex      sync.RWMutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewCache creates a cache whose entries live for ttl (zero keeps them until
// evicted). maxEntries bounds the cache; zero means unbounded.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]*Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *Cache) Get(key string) (*Entry, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}

	if entry.IsExpired(c.now()) {
		return nil, false
	}

	return entry, true
}

func (c *Cache) Set(key string, payload []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stored := make([]byte, len(payload))
	copy(stored, payload)

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.entries[key] = NewEntry(key, stored, c.ttl, c.now())
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.StoredAt.Before(oldest) {
			oldestKey = key
			oldest = entry.StoredAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *Cache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.entries, key)
}

func (c *Cache) CleanupExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	count := 0
	now := c.now()

	for key, entry := range c.entries {
		if entry.IsExpired(now) {
			delete(c.entries, key)
			count++
		}
	}

	return count
}

func (c *Cache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.entries)
}

func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*Entry)
}
