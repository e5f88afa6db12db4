package respcache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryCache is a mutex-guarded TTL cache with a hard entry cap. When the
// cap is reached the oldest entry is evicted, regardless of freshness.
type MemoryCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List
}

type memoryEntry struct {
	key   string
	entry Entry
}

// NewMemoryCache creates a cache holding at most maxEntries responses for
// at most ttl each.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string, now time.Time) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	me := el.Value.(*memoryEntry)
	if now.Sub(me.entry.StoredAt) >= c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		return Entry{}, false
	}
	return me.entry, true
}

func (c *MemoryCache) Set(_ context.Context, key string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*memoryEntry).entry = e
		c.order.MoveToBack(el)
		return
	}

	if c.order.Len() >= c.maxEntries {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*memoryEntry).key)
		}
	}
	c.entries[key] = c.order.PushBack(&memoryEntry{key: key, entry: e})
}

// Len reports the current entry count. Test helper.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
