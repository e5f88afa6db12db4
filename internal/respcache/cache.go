// Package respcache caches responses of idempotent read endpoints for a
// short TTL. Keys are the normalized request (path plus sorted query);
// mutating requests bypass the cache entirely.
package respcache

import (
	"context"
	"net/url"
	"time"
)

// Entry is a cached response.
type Entry struct {
	Status      int       `json:"status"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"stored_at"`
}

// Cache is the store contract shared by the memory and Redis variants.
// Get returns ok=false for a miss or an expired entry.
type Cache interface {
	Get(ctx context.Context, key string, now time.Time) (Entry, bool)
	Set(ctx context.Context, key string, e Entry)
}

// Key normalizes a request path and query into a cache key. Query
// parameters are sorted so equivalent URLs hit the same entry.
func Key(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}
