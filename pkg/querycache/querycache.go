// Package querycache is the client-side cache of fetchable view resources,
// keyed by opaque query identifiers. Invalidation is lazy: marking an entry
// stale costs nothing until the next read, which then refetches.
package querycache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/svelumani/MusicianManager-sub005/pkg/logger"
)

// FetchFunc loads the resource behind a query identifier.
type FetchFunc func(ctx context.Context, id string) (any, error)

type entry struct {
	value     any
	stale     bool
	fetchedAt time.Time
}

// Cache holds fetched query results until they are invalidated.
type Cache struct {
	fetch FetchFunc
	log   logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty cache that loads misses through fetch.
func New(fetch FetchFunc, log logger.Logger) *Cache {
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{
		fetch:   fetch,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Get returns the cached value for id, fetching it first if the entry is
// absent or has been marked stale.
func (c *Cache) Get(ctx context.Context, id string) (any, error) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok && !e.stale {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	value, err := c.fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("querycache failed to fetch %q: %w", id, err)
	}

	c.mu.Lock()
	c.entries[id] = &entry{value: value, fetchedAt: time.Now()}
	c.mu.Unlock()

	return value, nil
}

// Invalidate marks the given identifiers stale so the next Get refetches.
// Unknown identifiers and repeated invalidations are harmless; the view
// layer may register queries lazily, after the first change notification.
func (c *Cache) Invalidate(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			e.stale = true
		}
	}
	c.log.Debug("querycache invalidated", "ids", ids)
}

// Clear drops every entry. The critical reload path calls this before
// navigating, so a half-failed reload cannot serve stale reads.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

// IsStale reports whether id is cached and marked stale.
func (c *Cache) IsStale(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return ok && e.stale
}

// Len returns the number of cached entries, stale or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
