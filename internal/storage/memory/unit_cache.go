package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

type unitKey struct {
	workID string
	unitID string
}

// UnitCache is a process-local novel.UnitCache.
type UnitCache struct {
	mu      sync.RWMutex
	entries map[unitKey]novel.CacheEntry
}

// NewUnitCache constructs an empty UnitCache.
func NewUnitCache() *UnitCache {
	return &UnitCache{entries: make(map[unitKey]novel.CacheEntry)}
}

// Get returns the cached entry or novel.ErrCacheMiss.
func (c *UnitCache) Get(_ context.Context, workID, unitID string) (novel.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[unitKey{workID, unitID}]
	if !ok {
		return novel.CacheEntry{}, novel.ErrCacheMiss
	}
	return entry, nil
}

// Put upserts an entry; the last write wins.
func (c *UnitCache) Put(_ context.Context, entry novel.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[unitKey{entry.WorkID, entry.UnitID}] = entry
	return nil
}

// Exists reports whether the unit is cached.
func (c *UnitCache) Exists(_ context.Context, workID, unitID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[unitKey{workID, unitID}]
	return ok, nil
}

// GetAllForWork returns every cached unit of a work ordered by unit id.
func (c *UnitCache) GetAllForWork(_ context.Context, workID string) ([]novel.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []novel.CacheEntry
	for key, entry := range c.entries {
		if key.workID == workID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, nil
}
