// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry setup, health probes and graceful shutdown.
//
// Logging uses log/slog with a JSON handler behind a small wrapper so request
// fields (request_id, user_id, route) can be attached from the context:
//
//	logger := observability.FromContext(r.Context())
//	logger.WithField("workspace_id", id).Info("plan resolved")
//
// Metrics are registered on an explicit *prometheus.Registry and served on the
// health port, never on the public API listener.
package observability
