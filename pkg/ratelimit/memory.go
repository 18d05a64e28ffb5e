package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pharoshq/pharos/pkg/observability"
)

// counter is one window of one key. Its mutex serializes increments for
// that key only.
type counter struct {
	mu        sync.Mutex
	count     int64
	expiresAt time.Time
}

// MemoryStore keeps counters in a bounded LRU. Suitable for a single
// instance; use RedisStore when several instances share limits.
type MemoryStore struct {
	counters *lru.Cache[string, *counter]
	now      func() time.Time
	metrics  *observability.Metrics
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithEvictionMetrics counts live counters pushed out by capacity
func WithEvictionMetrics(m *observability.Metrics) MemoryOption {
	return func(s *MemoryStore) { s.metrics = m }
}

// NewMemoryStore creates a store holding at most capacity live keys. Least
// recently used keys are evicted first, which only ever under-counts: an
// evicted key starts again from zero. Size capacity above the number of
// distinct (route, scope) pairs expected in one window and watch
// pharos_ratelimit_evictions_total.
func NewMemoryStore(capacity int, opts ...MemoryOption) (*MemoryStore, error) {
	s := &MemoryStore{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	cache, err := lru.NewWithEvict[string, *counter](capacity, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit cache: %w", err)
	}
	s.counters = cache
	return s, nil
}

// onEvict runs for capacity evictions and Cleanup removals alike; only
// counters still inside their window are counted.
func (s *MemoryStore) onEvict(_ string, c *counter) {
	c.mu.Lock()
	live := !s.now().After(c.expiresAt)
	c.mu.Unlock()
	if live {
		s.metrics.RecordEviction()
	}
}

// Name implements Store
func (s *MemoryStore) Name() string { return "memory" }

// Increment implements Store
func (s *MemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c, ok := s.counters.Get(key)
	if !ok {
		fresh := &counter{expiresAt: s.now().Add(ttl)}
		prev, found, _ := s.counters.PeekOrAdd(key, fresh)
		if found {
			c = prev
		} else {
			c = fresh
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return c.count, nil
}

// Len returns the number of tracked keys
func (s *MemoryStore) Len() int {
	return s.counters.Len()
}

// Cleanup removes counters whose window has passed and returns how many
func (s *MemoryStore) Cleanup() int {
	now := s.now()
	removed := 0
	for _, key := range s.counters.Keys() {
		c, ok := s.counters.Peek(key)
		if !ok {
			continue
		}
		c.mu.Lock()
		expired := now.After(c.expiresAt)
		c.mu.Unlock()
		if expired && s.counters.Remove(key) {
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done
func (s *MemoryStore) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}
