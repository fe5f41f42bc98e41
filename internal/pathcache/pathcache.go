// Package pathcache provides a bounded TTL + LRU cache for remote-item
// path resolutions. It exists to bound the files.get calls made against
// the Drive API, which is independently rate-limited: without it every
// activity record would trigger a full parent-chain walk.
package pathcache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is a cached resolution: the materialized path and whether the
// item is a folder.
type Entry struct {
	Path     string
	IsFolder bool
	ParentID string
}

// Cache is a fixed-capacity key-value store with per-entry TTL and
// least-recently-used eviction. An entry older than the TTL is treated
// as absent regardless of recency. Safe for concurrent use.
//
// A disabled cache (see NewDisabled) stores nothing: every Get is a
// miss, every Put a no-op.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	maxSize int
	ttl     time.Duration
	enabled bool

	// now is replaceable in tests to drive TTL expiry deterministically.
	now func() time.Time
}

type cacheItem struct {
	key        string
	value      Entry
	insertedAt time.Time
}

// New creates an enabled cache with the given capacity and TTL.
func New(maxSize int, ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*list.Element, maxSize),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		now:     time.Now,
	}
}

// NewDisabled creates a cache that bypasses storage entirely.
func NewDisabled() *Cache {
	return &Cache{enabled: false, now: time.Now}
}

// Get returns the entry for key if present and younger than the TTL.
// A hit marks the entry most recently used. An expired entry is removed
// and reported as a miss; the caller must refresh it.
func (c *Cache) Get(key string) (Entry, bool) {
	if !c.enabled {
		return Entry{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}

	item := el.Value.(*cacheItem)

	if c.now().Sub(item.insertedAt) >= c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)

		return Entry{}, false
	}

	c.order.MoveToFront(el)

	return item.value, true
}

// Put stores value under key, resetting its age. When inserting a new
// key into a full cache, the least-recently-used entry is evicted first.
func (c *Cache) Put(key string, value Entry) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		item := el.Value.(*cacheItem)
		item.value = value
		item.insertedAt = c.now()
		c.order.MoveToFront(el)

		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheItem).key)
		}
	}

	c.entries[key] = c.order.PushFront(&cacheItem{
		key:        key,
		value:      value,
		insertedAt: c.now(),
	})
}

// Len returns the number of live entries, counting expired but
// not-yet-collected entries.
func (c *Cache) Len() int {
	if !c.enabled {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

// SetNowFunc replaces the clock, for tests.
func (c *Cache) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = now
}
