package respcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "respcache:"

// RedisCache shares cached responses across instances. TTL enforcement is
// delegated to Redis key expiry; the size cap is left to Redis' own
// maxmemory eviction policy.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed response cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string, _ time.Time) (Entry, bool) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

func (c *RedisCache) Set(ctx context.Context, key string, e Entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	// Best effort: a failed write just means the next read is a miss.
	c.client.Set(ctx, redisKeyPrefix+key, raw, c.ttl)
}
