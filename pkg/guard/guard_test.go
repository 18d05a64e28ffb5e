package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharoshq/pharos/pkg/audit"
	"github.com/pharoshq/pharos/pkg/csrf"
	"github.com/pharoshq/pharos/pkg/guarderr"
	"github.com/pharoshq/pharos/pkg/httputil"
	"github.com/pharoshq/pharos/pkg/observability"
	"github.com/pharoshq/pharos/pkg/ratelimit"
	"github.com/pharoshq/pharos/pkg/session"
)

const csrfToken = "phc_test-token"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type auditSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *auditSink) Log(ctx context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *auditSink) Close() error { return nil }

type fixture struct {
	composer *Composer
	clock    *clock
	metrics  *observability.Metrics
	sink     *auditSink
	recorder *audit.Recorder
}

func newFixture(t *testing.T, extra ...Option) *fixture {
	t.Helper()
	store, err := ratelimit.NewMemoryStore(1000)
	require.NoError(t, err)

	f := &fixture{
		clock: &clock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
		sink:  &auditSink{},
	}
	f.metrics = observability.NewMetrics(prometheus.NewRegistry())
	f.recorder = audit.NewRecorder(f.sink, time.Second)

	limiter := ratelimit.NewLimiter(store, ratelimit.WithClock(f.clock.Now))
	opts := append([]Option{
		WithLimiter(limiter),
		WithRules(ratelimit.NewPolicySet(&ratelimit.Policy{Default: ratelimit.Rule{Limit: 10, Window: time.Minute}})),
		WithMetrics(f.metrics),
		WithAudit(f.recorder),
	}, extra...)
	f.composer = New(opts...)
	return f
}

func (f *fixture) auditEvents(t *testing.T) []*audit.Event {
	t.Helper()
	require.NoError(t, f.recorder.Flush(context.Background()))
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	return append([]*audit.Event(nil), f.sink.events...)
}

func mutating(method string, withCSRF bool, userID string) *http.Request {
	req := httptest.NewRequest(method, "/api/v1/workspaces/ws-1/skus", nil)
	req.RemoteAddr = "198.51.100.4:5555"
	if withCSRF {
		req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: csrfToken})
		req.Header.Set(csrf.HeaderName, csrfToken)
	}
	if userID != "" {
		req = req.WithContext(session.WithSession(req.Context(), &session.Session{ID: "s-" + userID, UserID: userID}))
	}
	return req
}

func ok(w http.ResponseWriter, r *http.Request) error {
	return httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWrap_HappyPath(t *testing.T) {
	f := newFixture(t)
	h := f.composer.Wrap(Route{Name: "skus.create", CSRF: true}, ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, mutating(http.MethodPost, true, "alice"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Empty(t, f.auditEvents(t))
}

func TestWrap_CSRFRejectedBeforeRateLimit(t *testing.T) {
	f := newFixture(t)
	called := false
	h := f.composer.Wrap(Route{Name: "skus.create", CSRF: true, RateLimit: &ratelimit.Rule{Limit: 1, Window: time.Minute}},
		func(w http.ResponseWriter, r *http.Request) error {
			called = true
			return ok(w, r)
		})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, mutating(http.MethodPost, false, "alice"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "CSRF_INVALID", decode(t, rec).Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
	assert.False(t, called)

	// Rejected CSRF attempts never touched the counter.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, mutating(http.MethodPost, true, "alice"))
	assert.Equal(t, http.StatusOK, rec.Code)

	events := f.auditEvents(t)
	require.Len(t, events, 3)
	assert.Equal(t, audit.EventTypeGuardCSRFDenied, events[0].EventType)
	assert.Equal(t, "alice", events[0].UserID)
	assert.Equal(t, "skus.create", events[0].Route)
	assert.Equal(t, "198.51.100.4", events[0].IPAddress)
	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.GuardFailuresTotal.WithLabelValues("skus.create", "CSRF_INVALID")))
}

func TestWrap_CSRFSkippedForSafeMethods(t *testing.T) {
	f := newFixture(t)
	h := f.composer.Wrap(Route{Name: "plan.get", CSRF: true}, ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, mutating(http.MethodGet, false, "alice"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWrap_RateLimitWindow(t *testing.T) {
	f := newFixture(t)
	h := f.composer.Wrap(Route{Name: "skus.create", CSRF: true}, ok)

	for i := 1; i <= 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, mutating(http.MethodPost, true, "alice"))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, mutating(http.MethodPost, true, "alice"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "TOO_MANY_REQUESTS", decode(t, rec).Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// Another user has their own counter.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, mutating(http.MethodPost, true, "bob"))
	assert.Equal(t, http.StatusOK, rec.Code)

	f.clock.Advance(61 * time.Second)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, mutating(http.MethodPost, true, "alice"))
	assert.Equal(t, http.StatusOK, rec.Code)

	events := f.auditEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeGuardRateLimited, events[0].EventType)
}

func TestWrap_AnonymousScopedByIP(t *testing.T) {
	f := newFixture(t)
	h := f.composer.Wrap(Route{Name: "csrf.issue", RateLimit: &ratelimit.Rule{Limit: 1, Window: time.Minute}}, ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, mutating(http.MethodGet, false, ""))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, mutating(http.MethodGet, false, ""))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := mutating(http.MethodGet, false, "")
	other.RemoteAddr = "198.51.100.99:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWrap_ForwardedForRotationSharesScope(t *testing.T) {
	f := newFixture(t, WithTrustProxy(true))
	h := f.composer.Wrap(Route{Name: "csrf.issue"}, ok)

	allowed := 0
	for i := 0; i < 100; i++ {
		req := mutating(http.MethodGet, false, "")
		req.RemoteAddr = "10.0.0.2:443"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("192.0.2.%d, 203.0.113.50", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 10, allowed)
}

func TestWrap_HandlerErrors(t *testing.T) {
	f := newFixture(t)
	router := mux.NewRouter()
	router.Handle("/api/v1/workspaces/{workspace_id}/skus", f.composer.Wrap(Route{Name: "skus.create", CSRF: true},
		func(w http.ResponseWriter, r *http.Request) error {
			switch r.Header.Get("X-Mode") {
			case "forbidden":
				return guarderr.Forbidden()
			case "unauthorized":
				return guarderr.Unauthorized()
			case "wrapped":
				return errors.Join(errors.New("context"), guarderr.ForbiddenWithDetails("Plan limit reached", map[string]interface{}{"locked": true}))
			default:
				return errors.New("pq: relation \"skus\" does not exist")
			}
		}))

	tests := []struct {
		mode   string
		status int
		code   string
	}{
		{"forbidden", http.StatusForbidden, "FORBIDDEN"},
		{"unauthorized", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrapped", http.StatusForbidden, "FORBIDDEN"},
		{"internal", http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			req := mutating(http.MethodPost, true, "alice")
			req.Header.Set("X-Mode", tt.mode)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.status, body.HTTPStatus)
			assert.NotContains(t, rec.Body.String(), "pq:")
		})
	}

	events := f.auditEvents(t)
	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, "ws-1", e.WorkspaceID)
		assert.Equal(t, StageHandler, e.Metadata["stage"])
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(
		f.metrics.GuardDecisionsTotal.WithLabelValues(StageHandler, "skus.create", observability.OutcomeError)))
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Log(ctx context.Context, e *audit.Event) error {
	<-s.release
	return nil
}

func (s *blockingSink) Close() error { return nil }

func TestWrap_RejectionFloodKeepsAuditBounded(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	sink := &blockingSink{release: make(chan struct{})}
	recorder := audit.NewRecorder(sink, time.Minute, audit.WithMaxInFlight(8), audit.WithMetrics(metrics))
	defer func() {
		close(sink.release)
		require.NoError(t, recorder.Flush(context.Background()))
	}()

	f := newFixture(t, WithAudit(recorder), WithMetrics(metrics))
	h := f.composer.Wrap(Route{Name: "csrf.issue", RateLimit: &ratelimit.Rule{Limit: 1, Window: time.Minute}}, ok)

	// One caller hammering the route is audited once per window.
	denied := 0
	for i := 0; i < 2000; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, mutating(http.MethodGet, false, "alice"))
		if rec.Code == http.StatusTooManyRequests {
			denied++
		}
	}
	assert.Equal(t, 1999, denied)
	assert.Equal(t, 1, recorder.InFlight())

	// Many callers each hitting their limit are capped by the recorder.
	for i := 0; i < 500; i++ {
		for j := 0; j < 2; j++ {
			req := mutating(http.MethodGet, false, "")
			req.RemoteAddr = fmt.Sprintf("10.0.%d.%d:4000", i/256, i%256)
			h.ServeHTTP(httptest.NewRecorder(), req)
		}
	}
	assert.Equal(t, 8, recorder.InFlight())
	assert.Equal(t, float64(500-7), testutil.ToFloat64(
		metrics.AuditEventsDroppedTotal.WithLabelValues(string(audit.EventTypeGuardRateLimited))))
}

func TestWrap_InvalidRuleIsInternalError(t *testing.T) {
	f := newFixture(t)
	h := f.composer.Wrap(Route{Name: "skus.create", RateLimit: &ratelimit.Rule{Limit: 5}}, ok)

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, mutating(http.MethodGet, false, "alice"))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL", decode(t, rec).Code)
}

type brokenStore struct{}

func (brokenStore) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("dial tcp: connection refused")
}
func (brokenStore) Name() string { return "broken" }

func TestWrap_StoreFailure(t *testing.T) {
	rule := &ratelimit.Rule{Limit: 5, Window: time.Minute}

	closed := New(WithLimiter(ratelimit.NewLimiter(brokenStore{})))
	rec := httptest.NewRecorder()
	closed.Wrap(Route{Name: "skus.create", RateLimit: rule}, ok).ServeHTTP(rec, mutating(http.MethodPost, false, "alice"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL", decode(t, rec).Code)

	open := New(WithLimiter(ratelimit.NewLimiter(brokenStore{}, ratelimit.WithFailOpen(true))))
	rec = httptest.NewRecorder()
	open.Wrap(Route{Name: "skus.create", RateLimit: rule}, ok).ServeHTTP(rec, mutating(http.MethodPost, false, "alice"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWrap_NoLimiter(t *testing.T) {
	c := New()
	h := c.Wrap(Route{Name: "logout", CSRF: true}, ok)
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, mutating(http.MethodPost, true, "alice"))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}
