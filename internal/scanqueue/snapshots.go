package scanqueue

import (
	"sync"

	"turnstile/internal/ticket/models"
)

// SnapshotCache holds the last known ticket snapshot per credential. The
// optimistic path decides against these while the remote store is
// unreachable; every successful remote read refreshes them.
type SnapshotCache struct {
	mu        sync.RWMutex
	snapshots map[string]models.Ticket
}

// NewSnapshotCache creates an empty snapshot cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{snapshots: make(map[string]models.Ticket)}
}

// Get returns the cached snapshot for a credential, or nil when the
// credential has never been seen by this device.
func (c *SnapshotCache) Get(credential string) *models.Ticket {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.snapshots[credential]; ok {
		cp := t
		return &cp
	}
	return nil
}

// Put stores the latest snapshot for a credential.
func (c *SnapshotCache) Put(t models.Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[t.Credential] = t
}
