// Package cache provides an LRU + TTL cache for query pre-parse results.
//
// The registry scans every SPARQL query for the graphs it references before deciding
// where to send it. Identical query text always yields the same reference set, so the
// scan result is cached by a hash of the text.
//
// Features:
//   - LRU eviction for bounded memory
//   - TTL expiration for stale entries
//   - Thread-safe operations
//   - Hit/miss statistics
//
// Usage:
//
//	c := cache.NewQueryCache[Refs](1000, 5*time.Minute)
//
//	key := c.Key(query)
//	if refs, ok := c.Get(key); ok {
//		return refs
//	}
//	refs := scan(query)
//	c.Put(key, refs)
package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxSize is used when NewQueryCache is given a non-positive size.
const DefaultMaxSize = 1000

// QueryCache is a thread-safe LRU cache keyed by query hash.
//
// The cache uses:
//   - Hash map for O(1) lookups
//   - Doubly-linked list for LRU ordering
//   - TTL for automatic expiration
type QueryCache[V any] struct {
	mu sync.Mutex

	maxSize int
	ttl     time.Duration
	enabled bool
	now     func() time.Time

	list  *list.List
	items map[uint64]*list.Element

	hits   atomic.Uint64
	misses atomic.Uint64
}

type cacheEntry[V any] struct {
	key       uint64
	value     V
	expiresAt time.Time
}

// NewQueryCache creates a new cache.
//
// Parameters:
//   - maxSize: maximum number of entries (LRU eviction when exceeded)
//   - ttl: time-to-live for entries (0 = no expiration)
func NewQueryCache[V any](maxSize int, ttl time.Duration) *QueryCache[V] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &QueryCache[V]{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		now:     time.Now,
		list:    list.New(),
		items:   make(map[uint64]*list.Element, maxSize),
	}
}

// Key hashes query text. Same text = same key.
func (c *QueryCache[V]) Key(query string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(query))
	return h.Sum64()
}

// Get returns the cached value if present and not expired, and marks it most recently used.
func (c *QueryCache[V]) Get(key uint64) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		c.misses.Add(1)
		return zero, false
	}
	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	entry := elem.Value.(*cacheEntry[V])
	if c.ttl > 0 && c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses.Add(1)
		return zero, false
	}

	c.list.MoveToFront(elem)
	c.hits.Add(1)
	return entry.value, true
}

// Put adds or replaces an entry, evicting the least recently used one when full.
func (c *QueryCache[V]) Put(key uint64, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry[V])
		entry.value = value
		if c.ttl > 0 {
			entry.expiresAt = c.now().Add(c.ttl)
		}
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry[V]{key: key, value: value}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.items[key] = c.list.PushFront(entry)
}

// Remove removes an entry from the cache.
func (c *QueryCache[V]) Remove(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries.
func (c *QueryCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list.Init()
	c.items = make(map[uint64]*list.Element, c.maxSize)
}

// Len returns the number of cached entries.
func (c *QueryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats returns cache statistics.
func (c *QueryCache[V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Size:    c.Len(),
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// Stats holds cache performance statistics.
type Stats struct {
	Size    int     // Current number of entries
	MaxSize int     // Maximum capacity
	Hits    uint64  // Number of cache hits
	Misses  uint64  // Number of cache misses
	HitRate float64 // Hit rate percentage (0-100)
}

// SetEnabled enables or disables the cache. Disabling drops every entry.
func (c *QueryCache[V]) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled

	if !enabled {
		c.list.Init()
		c.items = make(map[uint64]*list.Element, c.maxSize)
	}
}

// evictOldest removes the least recently used entry.
// Caller must hold the lock.
func (c *QueryCache[V]) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// removeElement removes an element from the cache.
// Caller must hold the lock.
func (c *QueryCache[V]) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry[V]).key)
}
