// Package cache provides a small generic LRU cache used for engine-private
// GPU resource caches (image textures, per-layer uniform state).
//
// Values frequently own GPU handles, so the cache takes an eviction callback:
// whatever is dropped — by LRU pressure, Delete, or Clear — is handed to the
// callback so the caller can destroy the underlying resource.
package cache

import "sync"

// Cache is a generic thread-safe LRU cache with a soft entry limit.
// A softLimit of 0 means unlimited (entries live until Delete or Clear).
//
// Cache must not be copied after creation.
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	entries   map[K]*entry[V]
	softLimit int
	tick      int64
	onEvict   func(K, V)
}

type entry[V any] struct {
	value V
	atime int64
}

// New creates a cache with the given soft limit.
// onEvict, if non-nil, is called (under the cache lock) for every entry
// removed by eviction, Delete, or Clear.
func New[K comparable, V any](softLimit int, onEvict func(K, V)) *Cache[K, V] {
	return &Cache[K, V]{
		entries:   make(map[K]*entry[V]),
		softLimit: softLimit,
		onEvict:   onEvict,
	}
}

// Get retrieves a value and refreshes its access time.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.tick++
	e.atime = c.tick
	return e.value, true
}

// Set stores a value, evicting the oldest entries past the soft limit.
// An existing value under the same key is passed to onEvict first.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok && c.onEvict != nil {
		c.onEvict(key, old.value)
	}
	c.tick++
	c.entries[key] = &entry[V]{value: value, atime: c.tick}
	c.evictOverLimit()
}

// GetOrCreate returns the cached value or creates and stores a new one.
// create runs under the cache lock so a key is only ever created once.
// If create fails, nothing is stored.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.tick++
		e.atime = c.tick
		return e.value, nil
	}

	value, err := create()
	if err != nil {
		var zero V
		return zero, err
	}

	c.tick++
	c.entries[key] = &entry[V]{value: value, atime: c.tick}
	c.evictOverLimit()
	return value, nil
}

// Delete removes an entry, invoking onEvict for it.
// Returns true if the entry existed.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.onEvict != nil {
		c.onEvict(key, e.value)
	}
	delete(c.entries, key)
	return true
}

// Clear removes every entry, invoking onEvict for each.
// Used on device loss and engine destroy, where all cached GPU handles go
// stale at once.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onEvict != nil {
		for k, e := range c.entries {
			c.onEvict(k, e.value)
		}
	}
	c.entries = make(map[K]*entry[V])
	c.tick = 0
}

// Keys returns a snapshot of the current keys.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of live entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOverLimit drops least-recently-used entries while over the soft limit.
// Caller must hold c.mu.
func (c *Cache[K, V]) evictOverLimit() {
	if c.softLimit <= 0 {
		return
	}
	for len(c.entries) > c.softLimit {
		var (
			oldestKey   K
			oldestAtime int64 = -1
		)
		for k, e := range c.entries {
			if oldestAtime < 0 || e.atime < oldestAtime {
				oldestKey = k
				oldestAtime = e.atime
			}
		}
		e := c.entries[oldestKey]
		if c.onEvict != nil {
			c.onEvict(oldestKey, e.value)
		}
		delete(c.entries, oldestKey)
	}
}
