// Package ftagcache wraps politelru with the freezetag reference
// tracking and keep-alive timer behavior described in spec.md §4.3,
// grounded on original_source/freezetag/freezefs.py's
// _schedule_purge_ftag / _purge_ftag / _can_purge_ftag trio (cancel-and-
// replace threading.Timer, translated here to time.AfterFunc).
package ftagcache

import (
	"sync"
	"time"

	"github.com/freezefs/freezefs/internal/freezetag"
	"github.com/freezefs/freezefs/internal/politelru"
)

// DefaultCapacity is the number of freezetags kept resident, per spec.md
// §4.3 ("C = 10 freezetags resident").
const DefaultCapacity = 10

// DefaultKeepAlive is the grace period an unreferenced freezetag remains
// cached after its last release, per spec.md §4.3.
const DefaultKeepAlive = 10 * time.Second

type ref struct {
	timer     *time.Timer
	openCount int
}

// Cache owns the freezetag_ref_lock described in spec.md §5: it must be
// held across cache get + ref mutation so that "evictable" and "about to
// be used" cannot race. All exported methods acquire it internally.
type Cache struct {
	mu        sync.Mutex
	keepAlive time.Duration
	lru       *politelru.Cache[string, freezetag.Freezetag]
	refs      map[string]*ref
}

// New builds a Cache with the given capacity and keep-alive duration,
// using loader to parse a freezetag file on a cache miss.
func New(capacity int, keepAlive time.Duration, loader func(path string) (freezetag.Freezetag, error)) *Cache {
	c := &Cache{
		keepAlive: keepAlive,
		refs:      make(map[string]*ref),
	}
	c.lru = politelru.New[string, freezetag.Freezetag](capacity, loader, c.canPurge)
	return c
}

// canPurge is the pin predicate consulted by the underlying LRU. The
// caller of the LRU (this package) always holds c.mu while it runs, so it
// is safe to read c.refs directly.
func (c *Cache) canPurge(path string) bool {
	r, ok := c.refs[path]
	if !ok {
		return true
	}
	return r.openCount <= 0
}

// Load resolves path through the LRU (parsing it on a miss) and schedules
// a keep-alive purge, matching freezefs.py's _add_ftag sequence of
// `freezetag_cache[path]` followed by `_schedule_purge_ftag(path)`.
func (c *Cache) Load(path string) (freezetag.Freezetag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ftag, err := c.lru.Get(path)
	if err != nil {
		return freezetag.Freezetag{}, err
	}
	c.scheduleKeepAlive(path)
	return ftag, nil
}

// Acquire increments path's open reference count and resolves it through
// the LRU (constructing it if absent), for use by an open() call that
// will hold a handle across a subsequent read, per spec.md §4.5 step 5.
func (c *Cache) Acquire(path string) (freezetag.Freezetag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.refs[path]
	if !ok {
		r = &ref{}
		c.refs[path] = r
	}
	r.openCount++
	ftag, err := c.lru.Get(path)
	if err != nil {
		r.openCount--
		return freezetag.Freezetag{}, err
	}
	return ftag, nil
}

// Release decrements path's open reference count and schedules a
// keep-alive purge, per spec.md §4.5 "Release".
func (c *Cache) Release(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.refs[path]; ok {
		r.openCount--
	}
	c.scheduleKeepAlive(path)
}

// ForcePurge immediately removes path from the cache regardless of pin
// state, for use on watcher move/delete events, per spec.md §4.3 "Force
// purge".
func (c *Cache) ForcePurge(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.refs[path]; ok {
		if r.timer != nil {
			r.timer.Stop()
		}
		if r.openCount <= 0 {
			delete(c.refs, path)
		}
	}
	c.lru.Remove(path)
}

// scheduleKeepAlive must be called with c.mu held. It cancels any prior
// pending timer for path and starts a new one.
func (c *Cache) scheduleKeepAlive(path string) {
	r, ok := c.refs[path]
	if !ok {
		r = &ref{}
		c.refs[path] = r
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(c.keepAlive, func() {
		c.onKeepAliveFired(path)
	})
}

func (c *Cache) onKeepAliveFired(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.refs[path]
	if !ok || r.openCount > 0 {
		return
	}
	if c.lru.Contains(path) {
		c.lru.Remove(path)
	}
	delete(c.refs, path)
}

// RenameRef rekeys an in-flight reference record from src to dst, used by
// the index when a freezetag is renamed on disk while it (or a prior
// keep-alive) still has ref bookkeeping in place.
func (c *Cache) RenameRef(src, dst string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.refs[src]; ok {
		delete(c.refs, src)
		c.refs[dst] = r
	}
}
