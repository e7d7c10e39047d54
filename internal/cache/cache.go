package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	value      interface{}
	insertedAt time.Time
	ttl        time.Duration
}

// Cache is an in-memory store with per-entry TTLs. Expired entries are
// evicted lazily on access. Values are held by reference; callers that
// mutate a retrieved value must copy it first.
//
// The cache deliberately does not deduplicate concurrent computes of the
// same key. Two callers racing through GetOrCompute both invoke the
// producer and the last writer wins, which is harmless for idempotent
// remote reads and keeps lookups lock-cheap.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates an empty cache whose Set entries live for defaultTTL.
func New(defaultTTL time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// SetClock replaces the cache's time source. Used by tests to simulate the
// passage of time.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *Cache) expired(ent entry, now time.Time) bool {
	return now.Sub(ent.insertedAt) >= ent.ttl
}

// Get returns the live value stored under key. A hit on an expired entry
// evicts it and reports a miss.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	ent, ok := c.entries[key]
	now := c.now()
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.expired(ent, now) {
		return ent.value, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.expired(cur, c.now()) {
		delete(c.entries, key)
		return nil, false
	}
	// Another writer refreshed the key in the window.
	return cur.value, true
}

// Set stores value under key with the cache's default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL stores value under key. A non-positive ttl selects the
// default.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, insertedAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// GetOrCompute returns the cached value under key, invoking produce on a
// miss and storing its result with the given ttl. Producer errors propagate
// to the caller and nothing is cached for them.
func (c *Cache) GetOrCompute(key string, ttl time.Duration, produce func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := produce()
	if err != nil {
		return nil, err
	}
	c.SetWithTTL(key, v, ttl)
	return v, nil
}

// Delete removes the entry stored under key, if any.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// DeletePrefix removes every entry whose key starts with prefix and returns
// the number removed.
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			n++
		}
	}
	if n > 0 {
		log.Tracef("purged %d entries under %q", n, prefix)
	}
	return n
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]entry)
	c.mu.Unlock()
	log.Tracef("cleared %d entries", n)
}

// Len returns the number of stored entries, counting expired ones not yet
// evicted.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
