package guard

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pharoshq/pharos/pkg/audit"
	"github.com/pharoshq/pharos/pkg/contextkeys"
	"github.com/pharoshq/pharos/pkg/csrf"
	"github.com/pharoshq/pharos/pkg/guarderr"
	"github.com/pharoshq/pharos/pkg/httputil"
	"github.com/pharoshq/pharos/pkg/observability"
	"github.com/pharoshq/pharos/pkg/ratelimit"
	"github.com/pharoshq/pharos/pkg/rbac"
	"github.com/pharoshq/pharos/pkg/session"
)

// Stage names used in metrics and traces
const (
	StageCSRF      = "csrf"
	StageRateLimit = "ratelimit"
	StageHandler   = "handler"
)

// Handler is protected work. A returned guard error is rendered as its
// stable body; any other error becomes a 500.
type Handler func(w http.ResponseWriter, r *http.Request) error

// Route describes the guards in front of one handler
type Route struct {
	// Name identifies the route in rate-limit keys, metrics and audit events.
	Name string
	// CSRF enables the double-submit check for mutating methods.
	CSRF bool
	// RateLimit overrides the composer's rule source for this route.
	RateLimit *ratelimit.Rule
	// NoRateLimit skips rate limiting entirely.
	NoRateLimit bool
}

// RuleSource supplies per-route rate-limit rules
type RuleSource interface {
	RuleFor(route string) ratelimit.Rule
}

// ScopeFunc derives the rate-limit scope of a request
type ScopeFunc func(r *http.Request) string

// Composer wraps handlers with CSRF verification and rate limiting, in that
// order, and renders any failure.
type Composer struct {
	verifier    *csrf.Verifier
	limiter     *ratelimit.Limiter
	rules       RuleSource
	scope       ScopeFunc
	trustProxy  bool
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
	audit       *audit.Recorder
	logger      *observability.Logger
}

// Option configures a Composer
type Option func(*Composer)

func WithCSRF(v *csrf.Verifier) Option            { return func(c *Composer) { c.verifier = v } }
func WithLimiter(l *ratelimit.Limiter) Option     { return func(c *Composer) { c.limiter = l } }
func WithRules(rs RuleSource) Option              { return func(c *Composer) { c.rules = rs } }
func WithScope(fn ScopeFunc) Option               { return func(c *Composer) { c.scope = fn } }
func WithTrustProxy(trust bool) Option            { return func(c *Composer) { c.trustProxy = trust } }
func WithMetrics(m *observability.Metrics) Option { return func(c *Composer) { c.metrics = m } }
func WithAudit(r *audit.Recorder) Option          { return func(c *Composer) { c.audit = r } }
func WithLogger(l *observability.Logger) Option   { return func(c *Composer) { c.logger = l } }

func WithOTelMetrics(m *observability.OTelMetrics) Option {
	return func(c *Composer) { c.otelMetrics = m }
}

// New creates a composer. Without WithLimiter no route is rate limited.
func New(opts ...Option) *Composer {
	c := &Composer{}
	for _, opt := range opts {
		opt(c)
	}
	if c.verifier == nil {
		c.verifier = csrf.NewVerifier(csrf.Config{})
	}
	if c.scope == nil {
		c.scope = DefaultScope(c.trustProxy)
	}
	if c.logger == nil {
		c.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return c
}

// DefaultScope keys authenticated requests by user and anonymous ones by
// client IP.
func DefaultScope(trustProxy bool) ScopeFunc {
	return func(r *http.Request) string {
		if sess, ok := session.FromContext(r.Context()); ok {
			return "user:" + sess.UserID
		}
		return "ip:" + httputil.ClientIP(r, trustProxy)
	}
}

// Wrap returns h behind the guards of route
func (c *Composer) Wrap(route Route, h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.Tracer().Start(r.Context(), "guard "+route.Name,
			trace.WithAttributes(attribute.String("pharos.route", route.Name)))
		defer span.End()

		ctx = contextkeys.WithRoute(ctx, route.Name)
		r = r.WithContext(ctx)

		if route.CSRF {
			if err := c.verifier.VerifyRequest(r); err != nil {
				c.fail(w, r, span, route, StageCSRF, err, true)
				return
			}
			c.decide(ctx, StageCSRF, route.Name, observability.OutcomeAllowed)
		}

		if rule, ok := c.ruleFor(route); ok {
			res, err := c.limiter.Allow(ctx, route.Name, c.scope(r), rule)
			if _, isGuard := guarderr.As(err); err == nil || isGuard {
				ratelimit.SetHeaders(w, res)
			}
			if err != nil {
				// Only the first rejection per key and window is audited.
				c.fail(w, r, span, route, StageRateLimit, err, res.Count <= int64(rule.Limit)+1)
				return
			}
			c.decide(ctx, StageRateLimit, route.Name, observability.OutcomeAllowed)
		}

		if err := h(w, r); err != nil {
			c.fail(w, r, span, route, StageHandler, err, true)
		}
	})
}

func (c *Composer) ruleFor(route Route) (ratelimit.Rule, bool) {
	if c.limiter == nil || route.NoRateLimit {
		return ratelimit.Rule{}, false
	}
	if route.RateLimit != nil {
		return *route.RateLimit, true
	}
	if c.rules != nil {
		rule := c.rules.RuleFor(route.Name)
		return rule, rule.Limit > 0
	}
	return ratelimit.Rule{}, false
}

func (c *Composer) decide(ctx context.Context, stage, route, outcome string) {
	c.metrics.RecordGuardDecision(stage, route, outcome)
	c.otelMetrics.RecordGuardDecision(ctx, stage, route, outcome)
}

// fail renders err. Guard errors keep their code and status and are audited
// when record is set; everything else is logged and answered with a generic
// 500.
func (c *Composer) fail(w http.ResponseWriter, r *http.Request, span trace.Span, route Route, stage string, err error, record bool) {
	ctx := r.Context()

	ge, ok := guarderr.As(err)
	if !ok {
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal error")
		c.decide(ctx, stage, route.Name, observability.OutcomeError)
		c.logger.WithError(err).
			WithField("route", route.Name).
			WithField("stage", stage).
			WithField("request_id", contextkeys.GetRequestID(ctx)).
			Error("Guarded request failed")
		httputil.WriteInternalError(w)
		return
	}

	span.SetAttributes(attribute.String("pharos.guard.code", string(ge.Code)))
	c.decide(ctx, stage, route.Name, observability.OutcomeDenied)
	c.metrics.RecordGuardFailure(route.Name, string(ge.Code))

	if record {
		c.record(r, route, stage, ge)
	}
	guarderr.Write(w, ge)
}

func (c *Composer) record(r *http.Request, route Route, stage string, ge *guarderr.Error) {
	ctx := r.Context()
	event := audit.NewEvent(ctx, eventType(ge.Code), audit.EventStatusDenied, ge.Message)
	event.WorkspaceID = mux.Vars(r)[rbac.WorkspaceVar]
	event.IPAddress = httputil.ClientIP(r, c.trustProxy)
	event.Metadata = map[string]interface{}{
		"code":   string(ge.Code),
		"stage":  stage,
		"method": r.Method,
	}
	c.audit.Record(ctx, event)
}

func eventType(code guarderr.Code) audit.EventType {
	switch code {
	case guarderr.CodeCSRFInvalid:
		return audit.EventTypeGuardCSRFDenied
	case guarderr.CodeTooManyRequests:
		return audit.EventTypeGuardRateLimited
	case guarderr.CodeUnauthorized:
		return audit.EventTypeGuardUnauthorized
	}
	return audit.EventTypeGuardForbidden
}
