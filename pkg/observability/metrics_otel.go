package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the guard counters onto the OpenTelemetry meter so they
// reach the collector alongside traces.
type OTelMetrics struct {
	guardDecisions metric.Int64Counter
	planLookups    metric.Float64Histogram
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithProvider(otel.GetMeterProvider())
}

// NewOTelMetricsWithProvider creates instruments on provider
func NewOTelMetricsWithProvider(provider metric.MeterProvider) (*OTelMetrics, error) {
	meter := provider.Meter(InstrumentationName)

	guardDecisions, err := meter.Int64Counter(
		"pharos.guard.decisions",
		metric.WithDescription("Guard stage decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard decisions counter: %w", err)
	}

	planLookups, err := meter.Float64Histogram(
		"pharos.entitlements.plan_lookup.duration",
		metric.WithDescription("Workspace plan resolution latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan lookup histogram: %w", err)
	}

	return &OTelMetrics{guardDecisions: guardDecisions, planLookups: planLookups}, nil
}

// RecordGuardDecision adds one decision. Safe on a nil receiver.
func (m *OTelMetrics) RecordGuardDecision(ctx context.Context, guard, route, outcome string) {
	if m == nil {
		return
	}
	m.guardDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("guard", guard),
		attribute.String("route", route),
		attribute.String("outcome", outcome),
	))
}

// RecordPlanLookup records a plan lookup in seconds. Safe on a nil receiver.
func (m *OTelMetrics) RecordPlanLookup(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.planLookups.Record(ctx, seconds)
}
