// Package lru implements a bounded least-recently-used cache whose entries can
// be pinned.
//
// Pinned ("sticky") entries are skipped by eviction. Axion pins the behavior
// profiles of users under monitoring so that memory pressure never discards
// the state an operator is actively watching.
//
// Thread Safety: all methods are safe for concurrent access.
package lru

import (
	"container/list"
	"sync"
)

// EvictFunc is invoked, outside the cache lock, for every entry removed by
// capacity pressure.
type EvictFunc[K comparable, V any] func(key K, value V)

// Cache is a generic LRU cache with optional sticky entries.
type Cache[K comparable, V any] struct {
	capacity int
	onEvict  EvictFunc[K, V]

	mu     sync.RWMutex
	order  *list.List // front = most recently used
	items  map[K]*list.Element
	sticky map[K]struct{}
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a cache holding at most capacity non-sticky entries
// (default: 1000 if <= 0).
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Cache[K, V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[K]*list.Element),
		sticky:   make(map[K]struct{}),
	}
}

// NewWithEvict creates a cache that reports evictions to fn.
func NewWithEvict[K comparable, V any](capacity int, fn EvictFunc[K, V]) *Cache[K, V] {
	c := New[K, V](capacity)
	c.onEvict = fn
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Peek returns the value for key without touching recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if elem, ok := c.items[key]; ok {
		return elem.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Put stores value under key, evicting the least recently used non-sticky
// entries when over capacity.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*entry[K, V]).value = value
		c.mu.Unlock()
		return
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})
	evicted := c.evictLocked()
	c.mu.Unlock()

	c.notify(evicted)
}

// GetOrCreate returns the value for key, creating it with factory when absent.
// The factory runs under the cache lock and must not call back into the cache.
func (c *Cache[K, V]) GetOrCreate(key K, factory func() V) V {
	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		v := elem.Value.(*entry[K, V]).value
		c.mu.Unlock()
		return v
	}
	value := factory()
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})
	evicted := c.evictLocked()
	c.mu.Unlock()

	c.notify(evicted)
	return value
}

// evictLocked removes non-sticky entries from the back until within capacity.
// When every entry is sticky the cache is allowed to exceed its capacity.
func (c *Cache[K, V]) evictLocked() []*entry[K, V] {
	var evicted []*entry[K, V]
	for c.order.Len() > c.capacity {
		elem := c.order.Back()
		for elem != nil {
			if _, pinned := c.sticky[elem.Value.(*entry[K, V]).key]; !pinned {
				break
			}
			elem = elem.Prev()
		}
		if elem == nil {
			break
		}
		e := elem.Value.(*entry[K, V])
		c.order.Remove(elem)
		delete(c.items, e.key)
		evicted = append(evicted, e)
	}
	return evicted
}

func (c *Cache[K, V]) notify(evicted []*entry[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, e := range evicted {
		c.onEvict(e.key, e.value)
	}
}

// SetSticky pins (true) or unpins (false) key. Pinning a key that is not
// cached is remembered and applies once it is added.
func (c *Cache[K, V]) SetSticky(key K, sticky bool) {
	c.mu.Lock()
	if sticky {
		c.sticky[key] = struct{}{}
		c.mu.Unlock()
		return
	}
	delete(c.sticky, key)
	evicted := c.evictLocked()
	c.mu.Unlock()

	c.notify(evicted)
}

// IsSticky reports whether key is pinned.
func (c *Cache[K, V]) IsSticky(key K) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sticky[key]
	return ok
}

// Delete removes key and its pin.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
	delete(c.sticky, key)
}

// Range calls fn for every entry from most to least recently used, on a
// snapshot taken under the read lock. Returning false stops iteration.
func (c *Cache[K, V]) Range(fn func(key K, value V) bool) {
	c.mu.RLock()
	snapshot := make([]*entry[K, V], 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*entry[K, V])
		snapshot = append(snapshot, &entry[K, V]{key: e.key, value: e.value})
	}
	c.mu.RUnlock()

	for _, e := range snapshot {
		if !fn(e.key, e.value) {
			return
		}
	}
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

// Clear removes every entry and pin.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[K]*list.Element)
	c.sticky = make(map[K]struct{})
}

// Keys returns the cached keys, most recently used first.
func (c *Cache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]K, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry[K, V]).key)
	}
	return keys
}

// Capacity returns the configured capacity.
func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}

// StickyCount returns the number of pinned keys.
func (c *Cache[K, V]) StickyCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sticky)
}
