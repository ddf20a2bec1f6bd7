// Package boundedcache implements a thread-safe, size-bounded, TTL'd
// in-memory map with LRU eviction.
//
// It backs two distinct needs in this repo: each rating provider's fast
// in-process hit cache, and the consolidator's negative-result memo.
// Both need the same shape — bounded size, per-entry TTL, LRU eviction at
// capacity — kept per-owner rather than unified, since each owner's
// negative results mean something different and should expire on its
// own schedule.
//
// Trade-offs: RWMutex chosen over sync.Map for the same reason as the
// cache tier's L1 — ordered iteration for LRU and atomic eviction would
// be awkward on top of sync.Map. A global lock on write is acceptable at
// the scale a single provider's working set reaches; shard if it isn't.
package boundedcache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     any
	expiresAt time.Time
	element   *list.Element
}

// Cache is a bounded, TTL'd, LRU-evicted map.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	lru        *list.List
	maxEntries int
}

// New creates a Cache capped at maxEntries; at capacity, the least
// recently used entry is evicted before inserting a new key.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Cache{
		entries:    make(map[string]*entry, maxEntries),
		lru:        list.New(),
		maxEntries: maxEntries,
	}
}

// Get returns (value, true) if key is present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		c.deleteLocked(key)
		c.mu.Unlock()
		return nil, false
	}
	c.mu.Lock()
	c.lru.MoveToFront(e.element)
	c.mu.Unlock()
	return e.value, true
}

// Set stores value under key with the given TTL, evicting the LRU entry
// if the cache is at capacity.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(ttl)
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.lru.MoveToFront(e.element)
		return
	}

	if c.lru.Len() >= c.maxEntries {
		c.evictLocked()
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt}
	e.element = c.lru.PushFront(e)
	c.entries[key] = e
}

// Delete removes key, returning whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(key)
}

func (c *Cache) deleteLocked(key string) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.lru.Remove(e.element)
	delete(c.entries, key)
	return true
}

func (c *Cache) evictLocked() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	c.lru.Remove(oldest)
	delete(c.entries, e.key)
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
