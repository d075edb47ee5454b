// Package cache provides a process-local TTL cache used for read-through
// caching of fetched events and aggregates. The cache is an injected
// collaborator so its lifetime is tied to the owning service instance, and
// every write to a key must invalidate it to bound staleness to the TTL.
package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// TTL is a thread-safe map cache with per-entry expiry.
type TTL struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
	now     func() time.Time
}

// Option configures the cache.
type Option func(*TTL)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *TTL) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs an empty TTL cache.
func New(opts ...Option) *TTL {
	c := &TTL{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value and whether it is present and unexpired.
func (c *TTL) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores a value with the given time-to-live.
func (c *TTL) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// Invalidate removes a key. Callers must invalidate on every write to the
// same logical record.
func (c *TTL) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// GetOrLoad returns the cached value or runs load exactly once per key across
// concurrent callers, caching the result on success.
func (c *TTL) GetOrLoad(key string, ttl time.Duration, load func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	return v, err
}

// Purge removes all expired entries. Intended for periodic housekeeping.
func (c *TTL) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of entries, including expired but unpurged ones.
func (c *TTL) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
