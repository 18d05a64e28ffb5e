package entitlements

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/pharoshq/pharos/pkg/observability"
)

// Resolver assembles workspace plans from the subscriptions table and live
// tenant row counts. It never enforces anything.
type Resolver struct {
	db          *sql.DB
	now         func() time.Time
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
}

// Option configures a Resolver
type Option func(*Resolver)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithMetrics records lookup latency in Prometheus
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithOTelMetrics records lookup latency on the OTel meter
func WithOTelMetrics(m *observability.OTelMetrics) Option {
	return func(r *Resolver) { r.otelMetrics = m }
}

// NewResolver creates a plan resolver over db
func NewResolver(db *sql.DB, opts ...Option) *Resolver {
	r := &Resolver{db: db, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetWorkspacePlan returns the effective plan of workspaceID. The
// subscription row and every usage count are read concurrently on each call.
func (r *Resolver) GetWorkspacePlan(ctx context.Context, workspaceID string) (*WorkspacePlan, error) {
	ctx, span := observability.Tracer().Start(ctx, "entitlements.GetWorkspacePlan")
	defer span.End()
	span.SetAttributes(attribute.String("pharos.workspace_id", workspaceID))

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		r.metrics.ObservePlanLookup(elapsed)
		r.otelMetrics.RecordPlanLookup(ctx, elapsed.Seconds())
	}()

	now := r.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var (
		sub   *Subscription
		usage Usage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sub, err = r.GetSubscription(gctx, workspaceID)
		return err
	})
	g.Go(func() error {
		return r.count(gctx, &usage.Seats, "SELECT COUNT(*) FROM memberships WHERE workspace_id = $1", workspaceID)
	})
	g.Go(func() error {
		return r.count(gctx, &usage.SKUs, "SELECT COUNT(*) FROM skus WHERE workspace_id = $1", workspaceID)
	})
	g.Go(func() error {
		return r.count(gctx, &usage.Competitors, "SELECT COUNT(*) FROM competitors WHERE workspace_id = $1", workspaceID)
	})
	g.Go(func() error {
		return r.count(gctx, &usage.ImportsThisMonth,
			"SELECT COUNT(*) FROM csv_imports WHERE workspace_id = $1 AND created_at >= $2",
			workspaceID, monthStart)
	})

	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to resolve plan for workspace %s: %w", workspaceID, err)
	}

	tier, limits, features := Derive(sub)
	plan := &WorkspacePlan{
		WorkspaceID: workspaceID,
		Tier:        tier,
		Status:      StatusActive,
		Limits:      limits,
		Features:    features,
		Usage:       usage,
		ResolvedAt:  now,
	}
	if sub != nil {
		plan.Status = sub.Status
		plan.CurrentPeriodEnd = sub.CurrentPeriodEnd
	}

	span.SetAttributes(attribute.String("pharos.tier", string(plan.Tier)))
	return plan, nil
}

func (r *Resolver) count(ctx context.Context, dst *int64, query string, args ...interface{}) error {
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(dst); err != nil {
		return fmt.Errorf("failed to count usage: %w", err)
	}
	return nil
}

// GetSubscription returns the subscription row of workspaceID, or nil when
// the workspace has none.
func (r *Resolver) GetSubscription(ctx context.Context, workspaceID string) (*Subscription, error) {
	query := `
		SELECT tier, status, seat_limit, sku_limit, competitor_limit, import_limit,
		       feature_overrides, current_period_end, updated_at
		FROM subscriptions
		WHERE workspace_id = $1
	`

	sub := Subscription{WorkspaceID: workspaceID}
	var (
		tier, status                string
		seats, skus, comps, imports sql.NullInt64
		overrides                   sql.NullString
		periodEnd                   sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, workspaceID).Scan(
		&tier, &status, &seats, &skus, &comps, &imports, &overrides, &periodEnd, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	sub.Tier = Tier(tier)
	sub.Status = SubscriptionStatus(status)
	sub.SeatLimit = nullInt(seats)
	sub.SKULimit = nullInt(skus)
	sub.CompetitorLimit = nullInt(comps)
	sub.ImportLimit = nullInt(imports)
	if periodEnd.Valid {
		t := periodEnd.Time.UTC()
		sub.CurrentPeriodEnd = &t
	}
	if overrides.Valid && overrides.String != "" {
		if err := json.Unmarshal([]byte(overrides.String), &sub.FeatureOverrides); err != nil {
			return nil, fmt.Errorf("failed to decode feature overrides: %w", err)
		}
	}
	return &sub, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
