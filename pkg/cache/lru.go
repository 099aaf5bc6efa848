// Package cache provides a bounded LRU used to keep recently released
// images resident.
//
// Images whose last reference is dropped are flushed to disk and parked
// here. Reopening a parked image is a map hit instead of a badger scan;
// when the LRU is full the least recently parked image is evicted and
// its memory reclaimed.
//
// Features:
// - LRU eviction for bounded memory
// - Take semantics: a hit removes the entry (ownership moves to caller)
// - Eviction callback
// - Hit/miss statistics
//
// Usage:
//
//	idle := cache.NewLRU[string, *Image](64, nil)
//	idle.Put("ev1", img)
//
//	if img, ok := idle.Take("ev1"); ok {
//		return img // reused without touching disk
//	}
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// LRU is a thread-safe least-recently-used map.
//
// The cache uses:
// - Hash map for O(1) lookups
// - Doubly-linked list for LRU ordering
type LRU[K comparable, V any] struct {
	mu sync.Mutex

	maxSize int
	onEvict func(K, V)

	list  *list.List
	items map[K]*list.Element

	hits   uint64
	misses uint64
}

// lruEntry holds a cached item.
type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// NewLRU creates a new LRU.
//
// Parameters:
//   - maxSize: Maximum number of entries (LRU eviction when exceeded)
//   - onEvict: Called for entries pushed out by capacity or Clear (may be nil)
//
// A non-positive maxSize uses the default of 256.
func NewLRU[K comparable, V any](maxSize int, onEvict func(K, V)) *LRU[K, V] {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &LRU[K, V]{
		maxSize: maxSize,
		onEvict: onEvict,
		list:    list.New(),
		items:   make(map[K]*list.Element, maxSize),
	}
}

// Put adds or refreshes an entry. If the cache is full, the least recently
// used entry is evicted first.
func (c *LRU[K, V]) Put(key K, value V) {
	var evicted []*lruEntry[K, V]

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		elem.Value.(*lruEntry[K, V]).value = value
		c.list.MoveToFront(elem)
		c.mu.Unlock()
		return
	}
	for c.list.Len() >= c.maxSize {
		evicted = append(evicted, c.removeElement(c.list.Back()))
	}
	c.items[key] = c.list.PushFront(&lruEntry[K, V]{key: key, value: value})
	c.mu.Unlock()

	// Callbacks run without the lock so they may do I/O.
	c.notify(evicted)
}

// Get returns the entry and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		var zero V
		return zero, false
	}
	c.list.MoveToFront(elem)
	atomic.AddUint64(&c.hits, 1)
	return elem.Value.(*lruEntry[K, V]).value, true
}

// Take removes and returns the entry. The eviction callback is not called.
func (c *LRU[K, V]) Take(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		var zero V
		return zero, false
	}
	atomic.AddUint64(&c.hits, 1)
	return c.removeElement(elem).value, true
}

// Remove removes an entry without calling the eviction callback.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear evicts every entry, calling the eviction callback for each.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	evicted := make([]*lruEntry[K, V], 0, c.list.Len())
	for c.list.Len() > 0 {
		evicted = append(evicted, c.removeElement(c.list.Back()))
	}
	c.mu.Unlock()

	c.notify(evicted)
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats returns cache statistics.
func (c *LRU[K, V]) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	size := c.Len()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return Stats{
		Size:    size,
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

func (c *LRU[K, V]) notify(evicted []*lruEntry[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, e := range evicted {
		c.onEvict(e.key, e.value)
	}
}

// removeElement removes an element from the cache.
// Caller must hold the lock.
func (c *LRU[K, V]) removeElement(elem *list.Element) *lruEntry[K, V] {
	c.list.Remove(elem)
	entry := elem.Value.(*lruEntry[K, V])
	delete(c.items, entry.key)
	return entry
}
