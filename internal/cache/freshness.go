// Package cache holds the last known snapshot per aircraft with a TTL.
// Producers consult it to skip entities whose data is still fresh; sessions
// fall back to expired entries, marked stale, when the upstream is down.
package cache

import (
	"sync"
	"time"

	"github.com/skywatch/opensky-tracker/internal/opensky"
)

type entry struct {
	snapshot opensky.Snapshot
	storedAt time.Time
}

// Cache is a TTL-bounded snapshot store. Expiry is enforced lazily on read:
// Get never returns an entry older than the TTL. Expired entries stay in
// place until overwritten or invalidated, so GetStale can serve the last
// known position during upstream outages.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the fresh snapshot for id, or false when absent or expired.
// An expired entry is not removed; it remains reachable through GetStale.
func (c *Cache) Get(id string) (opensky.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok || c.expired(e) {
		return opensky.Snapshot{}, false
	}
	return e.snapshot, true
}

// GetMultiple returns fresh snapshots for the given ids; missing or expired
// ids are simply absent from the result.
func (c *Cache) GetMultiple(ids []string) map[string]opensky.Snapshot {
	out := make(map[string]opensky.Snapshot, len(ids))
	for _, id := range ids {
		if snap, ok := c.Get(id); ok {
			out[id] = snap
		}
	}
	return out
}

// GetStale returns the entry for id even when expired, marking it stale.
// Used only for degraded serving after retries are exhausted.
func (c *Cache) GetStale(id string) (opensky.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok {
		return opensky.Snapshot{}, false
	}
	snap := e.snapshot
	if c.expired(e) {
		snap.Stale = true
	}
	return snap, true
}

func (c *Cache) Set(id string, snap opensky.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = entry{snapshot: snap, storedAt: c.now()}
}

func (c *Cache) SetMultiple(snaps map[string]opensky.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, snap := range snaps {
		c.entries[id] = entry{snapshot: snap, storedAt: now}
	}
}

// Invalidate removes one entry.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Partition splits ids into those with a fresh cached snapshot and those
// that need a fetch, preserving the input order of the need-fetch list. This
// is the precondition step batch producers run before splitting.
func (c *Cache) Partition(ids []string) (fresh map[string]opensky.Snapshot, needFetch []string) {
	fresh = make(map[string]opensky.Snapshot)
	for _, id := range ids {
		if snap, ok := c.Get(id); ok {
			fresh[id] = snap
			continue
		}
		needFetch = append(needFetch, id)
	}
	return fresh, needFetch
}

func (c *Cache) expired(e entry) bool {
	return c.now().Sub(e.storedAt) > c.ttl
}

// SetClock replaces the time source. Test hook.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
