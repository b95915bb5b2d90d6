// Package politelru implements the capacity-bounded, recency-ordered
// cache with a "pin" predicate described in spec.md §4.2, grounded on
// original_source/freezetag/freezefs.py's PoliteLRUCache (an OrderedDict
// subclass that walks from the least-recent entry looking for a
// purgeable victim) and shaped, method-name-wise, like
// github.com/hashicorp/golang-lru's Cache[K,V] surface.
//
// Cache is not safe for concurrent use; callers must hold an external
// lock across Get, pin-state mutations, and Remove, exactly as spec.md
// §4.2 requires ("callers hold an external lock").
package politelru

import "container/list"

// CanPurge reports whether the entry for key is currently eligible for
// eviction. It is consulted, in least-recent-first order, whenever an
// insertion would push the cache over capacity.
type CanPurge[K comparable] func(key K) bool

// Loader constructs the value for a key on a cache miss. It may fail; on
// failure Get does not retain a partial entry.
type Loader[K comparable, V any] func(key K) (V, error)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Cache is a capacity-bounded map with LRU recency ordering that skips
// over pinned entries when it needs to evict.
type Cache[K comparable, V any] struct {
	capacity int
	loader   Loader[K, V]
	canPurge CanPurge[K]

	ll    *list.List // front = most-recent, back = least-recent
	items map[K]*list.Element
}

// New creates a Cache with the given capacity, value loader, and pin
// predicate. Capacity is a soft bound: §4.2 explicitly allows it to be
// exceeded temporarily if no entry is purgeable.
func New[K comparable, V any](capacity int, loader Loader[K, V], canPurge CanPurge[K]) *Cache[K, V] {
	return &Cache[K, V]{
		capacity: capacity,
		loader:   loader,
		canPurge: canPurge,
		ll:       list.New(),
		items:    make(map[K]*list.Element),
	}
}

// Len returns the current number of resident entries.
func (c *Cache[K, V]) Len() int {
	return c.ll.Len()
}

// Contains reports whether key is currently resident, without affecting
// recency order.
func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.items[key]
	return ok
}

// Get returns the value for key, invoking the loader on a miss. On
// success the entry is moved to most-recent.
func (c *Cache[K, V]) Get(key K) (V, error) {
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, nil
	}

	value, err := c.loader(key)
	if err != nil {
		var zero V
		return zero, err
	}
	c.add(key, value)
	return value, nil
}

// Add inserts or overwrites the value for key directly, without going
// through the loader.
func (c *Cache[K, V]) Add(key K, value V) {
	if el, ok := c.items[key]; ok {
		el.Value.(*entry[K, V]).value = value
		c.ll.MoveToFront(el)
		return
	}
	c.add(key, value)
}

func (c *Cache[K, V]) add(key K, value V) {
	el := c.ll.PushFront(&entry[K, V]{key: key, value: value})
	c.items[key] = el
	c.evictIfNeeded()
}

// Remove force-evicts key regardless of its pin state, matching spec.md
// §4.3's "force purge" requirement for watcher-driven invalidation.
func (c *Cache[K, V]) Remove(key K) {
	if el, ok := c.items[key]; ok {
		c.ll.Remove(el)
		delete(c.items, key)
	}
}

// evictIfNeeded walks from the least-recent entry forward, evicting the
// first purgeable one it finds and stopping there. Non-purgeable entries
// are promoted to most-recent and the walk continues to the next
// least-recent entry, exactly as freezefs.py's PoliteLRUCache.__setitem__
// does. A single pass over the whole list bounds the scan: if nothing is
// purgeable after examining every entry once, eviction gives up and the
// cache is allowed to temporarily exceed capacity (spec.md §4.2).
func (c *Cache[K, V]) evictIfNeeded() {
	for c.ll.Len() > c.capacity {
		attempts := c.ll.Len()
		evicted := false
		for i := 0; i < attempts; i++ {
			victim := c.ll.Back()
			if victim == nil {
				return
			}
			key := victim.Value.(*entry[K, V]).key
			if c.canPurge(key) {
				c.ll.Remove(victim)
				delete(c.items, key)
				evicted = true
				break
			}
			c.ll.MoveToFront(victim)
		}
		if !evicted {
			return
		}
	}
}
