package usecase

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	Value  V
	Expiry time.Time
}

// ttlCache is a small expiring map for upstream reads.
type ttlCache[V any] struct {
	ttl     time.Duration
	entries map[string]cacheEntry[V]
	mu      sync.Mutex
	timeNow func() time.Time
}

func newTTLCache[V any](ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		ttl:     ttl,
		entries: make(map[string]cacheEntry[V]),
		timeNow: time.Now,
	}
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.timeNow().After(entry.Expiry) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return entry.Value, true
}

func (c *ttlCache[V]) Set(key string, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[V]{Value: value, Expiry: c.timeNow().Add(c.ttl)}
}
