package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore tracks accepted replay keys for the retention window.
type NonceStore interface {
	// Remember records key if absent and reports whether it was fresh.
	// A false return means the key was already accepted within retention.
	Remember(ctx context.Context, key string, retention time.Duration) (bool, error)
}

// MemoryNonceStore is the single-instance NonceStore. Expired keys are
// swept lazily on insert.
type MemoryNonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryNonceStore creates an empty nonce store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{seen: make(map[string]time.Time)}
}

func (s *MemoryNonceStore) Remember(_ context.Context, key string, retention time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, expiry := range s.seen {
		if now.After(expiry) {
			delete(s.seen, k)
		}
	}

	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = now.Add(retention)
	return true, nil
}

const nonceKeyPrefix = "webhook:nonce:"

// RedisNonceStore shares replay keys across instances. SET NX with expiry
// makes the record-if-absent check atomic.
type RedisNonceStore struct {
	client *redis.Client
}

// NewRedisNonceStore creates a Redis-backed nonce store.
func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client}
}

func (s *RedisNonceStore) Remember(ctx context.Context, key string, retention time.Duration) (bool, error) {
	return s.client.SetNX(ctx, nonceKeyPrefix+key, 1, retention).Result()
}
