package billing

import (
	"container/list"
	"context"
	"sync"
)

// SnapshotCache stores the last snapshot seen per customer reference.
type SnapshotCache interface {
	// Get returns the cached snapshot or ErrSnapshotNotFound.
	Get(ctx context.Context, customerRef string) (*Snapshot, error)
	// Set stores the snapshot under its CustomerRef, replacing older entries.
	Set(ctx context.Context, snapshot *Snapshot) error
}

const defaultCacheCapacity = 10_000

// MemoryCache is a bounded in-process SnapshotCache with LRU eviction.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

// NewMemoryCache creates a cache holding up to capacity snapshots.
// Non-positive capacity uses a default of 10000.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &MemoryCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *MemoryCache) Get(ctx context.Context, customerRef string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[customerRef]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*Snapshot).Clone(), nil
}

func (c *MemoryCache) Set(ctx context.Context, snapshot *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot == nil || snapshot.CustomerRef == "" {
		return ErrMissingCustomerRef
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[snapshot.CustomerRef]; ok {
		// Never let an older read replace a newer one.
		if elem.Value.(*Snapshot).FetchedAt.After(snapshot.FetchedAt) {
			return nil
		}
		elem.Value = snapshot.Clone()
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[snapshot.CustomerRef] = c.order.PushFront(snapshot.Clone())
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*Snapshot).CustomerRef)
	}
	return nil
}

// Len returns the number of cached snapshots.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
