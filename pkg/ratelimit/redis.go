package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// expirySlack keeps a key briefly past its window so a late increment from a
// skewed clock still lands on the same counter.
const expirySlack = 5 * time.Second

// RedisStore shares counters across instances. INCR is atomic per key in
// redis, so no client-side locking is needed.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a redis-backed store
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pharos:rl:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Name implements Store
func (s *RedisStore) Name() string { return "redis" }

// Increment implements Store
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	redisKey := s.prefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, ttl+expirySlack)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis increment %s: %w", key, err)
	}
	return incr.Val(), nil
}
