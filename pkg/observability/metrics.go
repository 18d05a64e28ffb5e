package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Guard decision outcomes used as the "outcome" label.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Guard metrics
	GuardDecisionsTotal *prometheus.CounterVec
	GuardFailuresTotal  *prometheus.CounterVec

	// Rate limiter store metrics
	RateLimitStoreErrorsTotal *prometheus.CounterVec
	RateLimitStoreDuration    *prometheus.HistogramVec
	RateLimitEvictionsTotal   prometheus.Counter

	// Entitlement metrics
	PlanLookupDuration prometheus.Histogram

	// Maintenance metrics
	SessionsPurgedTotal      prometheus.Counter
	AuditEventsArchivedTotal prometheus.Counter

	// Audit metrics
	AuditEventsDroppedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharos_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pharos_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharos_guard_decisions_total",
				Help: "Guard stage decisions by guard, route and outcome",
			},
			[]string{"guard", "route", "outcome"},
		),
		GuardFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharos_guard_failures_total",
				Help: "Requests rejected with a guard error code",
			},
			[]string{"route", "code"},
		),
		RateLimitStoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharos_ratelimit_store_errors_total",
				Help: "Rate limit store failures",
			},
			[]string{"store"},
		),
		RateLimitStoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pharos_ratelimit_store_duration_seconds",
				Help:    "Rate limit store increment latency",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
			},
			[]string{"store"},
		),
		RateLimitEvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pharos_ratelimit_evictions_total",
				Help: "Live rate limit counters evicted from the in-memory store",
			},
		),
		PlanLookupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pharos_plan_lookup_duration_seconds",
				Help:    "Workspace plan resolution latency including live usage counts",
				Buckets: prometheus.DefBuckets,
			},
		),
		SessionsPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pharos_sessions_purged_total",
				Help: "Expired sessions deleted by the sweeper",
			},
		),
		AuditEventsArchivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pharos_audit_events_archived_total",
				Help: "Audit events archived to object storage",
			},
		),
		AuditEventsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharos_audit_events_dropped_total",
				Help: "Audit events dropped because the write queue was full",
			},
			[]string{"event_type"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GuardDecisionsTotal,
		m.GuardFailuresTotal,
		m.RateLimitStoreErrorsTotal,
		m.RateLimitStoreDuration,
		m.RateLimitEvictionsTotal,
		m.PlanLookupDuration,
		m.SessionsPurgedTotal,
		m.AuditEventsArchivedTotal,
		m.AuditEventsDroppedTotal,
	)

	return m
}

// RecordGuardDecision counts one guard stage outcome. Safe on a nil receiver.
func (m *Metrics) RecordGuardDecision(guard, route, outcome string) {
	if m == nil {
		return
	}
	m.GuardDecisionsTotal.WithLabelValues(guard, route, outcome).Inc()
}

// RecordGuardFailure counts a rejected request by error code. Safe on a nil receiver.
func (m *Metrics) RecordGuardFailure(route, code string) {
	if m == nil {
		return
	}
	m.GuardFailuresTotal.WithLabelValues(route, code).Inc()
}

// RecordStoreCall observes a rate limit store call. Safe on a nil receiver.
func (m *Metrics) RecordStoreCall(store string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.RateLimitStoreDuration.WithLabelValues(store).Observe(duration.Seconds())
	if err != nil {
		m.RateLimitStoreErrorsTotal.WithLabelValues(store).Inc()
	}
}

// RecordEviction counts a live counter evicted from the memory store. Safe on a nil receiver.
func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.RateLimitEvictionsTotal.Inc()
}

// RecordAuditDropped counts an audit event that was not written. Safe on a nil receiver.
func (m *Metrics) RecordAuditDropped(eventType string) {
	if m == nil {
		return
	}
	m.AuditEventsDroppedTotal.WithLabelValues(eventType).Inc()
}

// ObservePlanLookup records entitlement resolution latency. Safe on a nil receiver.
func (m *Metrics) ObservePlanLookup(duration time.Duration) {
	if m == nil {
		return
	}
	m.PlanLookupDuration.Observe(duration.Seconds())
}

// HTTPMiddleware records request counts and latency. routeName maps a request
// to a bounded label value; raw paths would explode label cardinality.
func (m *Metrics) HTTPMiddleware(routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeName(r)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Handler returns the Prometheus scrape handler for registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
