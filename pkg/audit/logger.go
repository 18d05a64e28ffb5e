package audit

import (
	"context"
	"time"

	"github.com/pharoshq/pharos/pkg/async"
	"github.com/pharoshq/pharos/pkg/observability"
)

// Logger persists audit events
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

// NoopLogger discards events
type NoopLogger struct{}

func (NoopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NoopLogger) Close() error                                { return nil }

// DefaultWriteTimeout bounds one best-effort audit write
const DefaultWriteTimeout = 5 * time.Second

// DefaultMaxInFlight bounds concurrent audit writes per Recorder
const DefaultMaxInFlight = 64

// Recorder writes events in the background so audit failures never block or
// fail a response. Errors and panics are logged and dropped. When
// MaxInFlight writes are already running new events are dropped and
// counted instead of queued.
type Recorder struct {
	logger  Logger
	timeout time.Duration
	tracker *async.Tracker
	metrics *observability.Metrics
}

// RecorderOption configures a Recorder
type RecorderOption func(*recorderConfig)

type recorderConfig struct {
	maxInFlight int
	metrics     *observability.Metrics
}

// WithMaxInFlight sets how many writes may run at once
func WithMaxInFlight(n int) RecorderOption {
	return func(c *recorderConfig) { c.maxInFlight = n }
}

// WithMetrics counts dropped events
func WithMetrics(m *observability.Metrics) RecorderOption {
	return func(c *recorderConfig) { c.metrics = m }
}

// NewRecorder wraps logger. A nil logger records nothing.
func NewRecorder(logger Logger, timeout time.Duration, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = NoopLogger{}
	}
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	cfg := recorderConfig{maxInFlight: DefaultMaxInFlight}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxInFlight <= 0 {
		cfg.maxInFlight = DefaultMaxInFlight
	}
	return &Recorder{
		logger:  logger,
		timeout: timeout,
		tracker: async.NewTracker(cfg.maxInFlight),
		metrics: cfg.metrics,
	}
}

// Record schedules event for writing. ctx may be a request context; it is
// detached from cancellation so the write outlives the response.
func (r *Recorder) Record(ctx context.Context, event *Event) {
	if r == nil || event == nil {
		return
	}
	if _, ok := r.logger.(NoopLogger); ok {
		return
	}

	detached := context.WithoutCancel(ctx)
	started := r.tracker.TryGo(detached, r.timeout, "audit "+string(event.EventType), func(ctx context.Context) error {
		if err := r.logger.Log(ctx, event); err != nil {
			observability.FromContext(ctx).WithError(err).
				WithField("event_type", string(event.EventType)).
				Warn("Audit write failed")
		}
		return nil
	})
	if !started {
		r.metrics.RecordAuditDropped(string(event.EventType))
	}
}

// InFlight returns the number of writes currently running
func (r *Recorder) InFlight() int {
	if r == nil {
		return 0
	}
	return r.tracker.InFlight()
}

// Flush waits for in-flight writes until ctx is done
func (r *Recorder) Flush(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.tracker.Wait(ctx)
}

// Close flushes pending writes and closes the underlying logger
func (r *Recorder) Close(ctx context.Context) error {
	if err := r.Flush(ctx); err != nil {
		return err
	}
	return r.logger.Close()
}
