package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pharoshq/pharos/pkg/guarderr"
	"github.com/pharoshq/pharos/pkg/observability"
)

// Rule is a fixed-window limit: at most Limit calls per Window
type Rule struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// Validate checks that r can be enforced
func (r Rule) Validate() error {
	if r.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", r.Limit)
	}
	if r.Window < time.Second {
		return fmt.Errorf("window must be at least 1s, got %s", r.Window)
	}
	return nil
}

// Result describes the state of a key after one call
type Result struct {
	Allowed   bool
	Limit     int
	Count     int64
	Remaining int
	ResetAt   time.Time
}

// Store counts calls per key. Implementations must serialize increments of
// the same key and must not block increments of other keys.
type Store interface {
	// Increment adds one to key and returns the new count. The key is unique
	// per window; ttl is how long the store must keep it.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Name labels the store in metrics and logs.
	Name() string
}

// Limiter applies fixed-window rules against a Store
type Limiter struct {
	store    Store
	now      func() time.Time
	failOpen bool
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, for tests and deterministic replay
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithFailOpen allows requests when the store errors instead of failing them
func WithFailOpen(failOpen bool) Option {
	return func(l *Limiter) { l.failOpen = failOpen }
}

// WithMetrics records store latency and errors
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithLogger sets the logger used for store failures
func WithLogger(logger *observability.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// NewLimiter creates a limiter over store. Fails closed unless WithFailOpen(true).
func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return l
}

// WindowStart aligns t to the start of its window: floor(t / window) * window.
// Windows are epoch-aligned so every instance agrees on boundaries.
func WindowStart(t time.Time, window time.Duration) time.Time {
	ns := t.UnixNano()
	return time.Unix(0, ns-ns%int64(window)).UTC()
}

// Key builds the counter key for (route, scope) in the window starting at start
func Key(route, scope string, start time.Time) string {
	return route + "|" + scope + "|" + strconv.FormatInt(start.Unix(), 10)
}

// Allow counts one call for (route, scope). The Nth call in a window passes,
// the N+1th fails with a TOO_MANY_REQUESTS guard error. Every call counts,
// including rejected ones. An invalid rule is an error, not a guard denial.
func (l *Limiter) Allow(ctx context.Context, route, scope string, rule Rule) (Result, error) {
	if err := rule.Validate(); err != nil {
		return Result{Limit: rule.Limit}, fmt.Errorf("invalid rate limit rule for %s: %w", route, err)
	}

	now := l.now()
	start := WindowStart(now, rule.Window)
	resetAt := start.Add(rule.Window)

	result := Result{Limit: rule.Limit, ResetAt: resetAt}

	began := time.Now()
	count, err := l.store.Increment(ctx, Key(route, scope, start), rule.Window)
	l.metrics.RecordStoreCall(l.store.Name(), time.Since(began), err)
	if err != nil {
		if l.failOpen {
			l.logger.WithError(err).
				WithField("store", l.store.Name()).
				WithField("route", route).
				Warn("rate limit store unavailable, allowing request")
			result.Allowed = true
			result.Remaining = rule.Limit
			return result, nil
		}
		return result, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	result.Count = count
	result.Remaining = rule.Limit - int(count)
	if result.Remaining < 0 {
		result.Remaining = 0
	}

	if count > int64(rule.Limit) {
		return result, guarderr.TooManyRequests(resetAt.Sub(now))
	}

	result.Allowed = true
	return result, nil
}

// SetHeaders writes the X-RateLimit-* headers for res
func SetHeaders(w http.ResponseWriter, res Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}
