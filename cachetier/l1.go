package cachetier

import (
	"container/list"
	"sync"
	"time"

	"ratingproxy.app/pkg/utils"
)

type l1Entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	element   *list.Element
}

// l1Cache is the in-process front layer of the cache tier: a thread-safe
// LRU+TTL map over compressed byte blobs, checked before the L2 round
// trip on every Get.
//
// Trade-offs: RWMutex chosen over sync.Map since sync.Map lacks ordered
// iteration needed for LRU, and atomic eviction is complex. A global lock
// on write is acceptable for the per-process working set this tier
// serves; shard for higher loads.
type l1Cache struct {
	mu         sync.RWMutex
	entries    map[string]*l1Entry
	lru        *list.List
	maxEntries int
}

func newL1Cache(maxEntries int) *l1Cache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &l1Cache{
		entries:    make(map[string]*l1Entry, maxEntries),
		lru:        list.New(),
		maxEntries: maxEntries,
	}
}

func (c *l1Cache) Get(key string) ([]byte, bool) {
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

func (c *l1Cache) Set(key string, value []byte, ttl time.Duration) {
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
	e := &l1Entry{key: key, value: value, expiresAt: expiresAt}
	e.element = c.lru.PushFront(e)
	c.entries[key] = e
}

func (c *l1Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(key)
}

func (c *l1Cache) deleteLocked(key string) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.lru.Remove(e.element)
	delete(c.entries, key)
	return true
}

func (c *l1Cache) evictLocked() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*l1Entry)
	c.lru.Remove(oldest)
	delete(c.entries, e.key)
}

// DeletePattern removes all keys matching an admin-supplied cache-flush
// pattern, reusing the shared glob/prefix/regex matcher.
func (c *l1Cache) DeletePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toDelete []string
	for key := range c.entries {
		if matched, _ := utils.MatchPattern(pattern, key); matched {
			toDelete = append(toDelete, key)
		}
	}
	count := 0
	for _, key := range toDelete {
		if c.deleteLocked(key) {
			count++
		}
	}
	return count
}

func (c *l1Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
