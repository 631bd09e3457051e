package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers payload fingerprints so redelivered mailbox entries are
// admitted only once.
type Deduper interface {
	// Add records the key if it is new. Returns true when newly recorded.
	Add(ctx context.Context, key string) (bool, error)
	// Remove forgets a key so a failed admission can be retried.
	Remove(ctx context.Context, key string) error
}

// RedisDeduper stores seen payload fingerprints in Redis so drains on any
// instance skip payloads another instance already admitted.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(key string) string {
	return fmt.Sprintf("nudge:share:seen:%s", key)
}

func (r *RedisDeduper) Add(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), 1, r.ttl).Result()
}

func (r *RedisDeduper) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// memoryDeduper is the fallback when Redis is not configured. It keeps seen
// keys for the lifetime of the process, which covers redelivery within a
// session but not across restarts.
type memoryDeduper struct {
	seen map[string]struct{}
}

// NewMemoryDeduper creates a process-local deduper.
func NewMemoryDeduper() Deduper {
	return &memoryDeduper{seen: make(map[string]struct{})}
}

func (m *memoryDeduper) Add(ctx context.Context, key string) (bool, error) {
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}

func (m *memoryDeduper) Remove(ctx context.Context, key string) error {
	delete(m.seen, key)
	return nil
}
