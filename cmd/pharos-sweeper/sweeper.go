package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/pharoshq/pharos/pkg/audit"
	"github.com/pharoshq/pharos/pkg/observability"
)

// SessionPurger deletes sessions that expired before cutoff
type SessionPurger interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper runs the periodic maintenance jobs
type Sweeper struct {
	sessions SessionPurger
	archiver *audit.Archiver
	metrics  *observability.Metrics
	logger   *logrus.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewSweeper creates a sweeper. archiver may be nil when archiving is off.
func NewSweeper(sessions SessionPurger, archiver *audit.Archiver, metrics *observability.Metrics, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		archiver: archiver,
		metrics:  metrics,
		logger:   logger,
		timeout:  10 * time.Minute,
		now:      time.Now,
	}
}

// PurgeSessions deletes expired sessions
func (s *Sweeper) PurgeSessions(ctx context.Context) error {
	n, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SessionsPurgedTotal.Add(float64(n))
	}
	s.logger.WithField("purged", n).Info("Expired sessions purged")
	return nil
}

// ArchiveAudit uploads old audit events and deletes them. It is a no-op
// when archiving is disabled.
func (s *Sweeper) ArchiveAudit(ctx context.Context) error {
	if s.archiver == nil {
		s.logger.Debug("Audit archiving disabled, skipping")
		return nil
	}
	n, err := s.archiver.Run(ctx)
	if err != nil {
		return fmt.Errorf("archived %d events before failing: %w", n, err)
	}
	s.logger.WithField("archived", n).Info("Audit events archived")
	return nil
}

// RunAll runs every job once. A failing job does not stop the others.
func (s *Sweeper) RunAll(ctx context.Context) error {
	return errors.Join(
		s.wrap("purge sessions", s.PurgeSessions)(ctx),
		s.wrap("archive audit", s.ArchiveAudit)(ctx),
	)
}

// Schedule registers the jobs on c. A run that is still going when the next
// one is due is skipped.
func (s *Sweeper) Schedule(c *cron.Cron, sessionSpec, archiveSpec string) error {
	jobs := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"purge sessions", sessionSpec, s.PurgeSessions},
		{"archive audit", archiveSpec, s.ArchiveAudit},
	}

	for _, job := range jobs {
		run := s.wrap(job.name, job.fn)
		wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.logger))).Then(cron.FuncJob(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			_ = run(ctx)
		}))
		if _, err := c.AddJob(job.spec, wrapped); err != nil {
			return fmt.Errorf("failed to schedule %s (%q): %w", job.name, job.spec, err)
		}
	}
	return nil
}

func (s *Sweeper) wrap(name string, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		start := time.Now()
		err := fn(ctx)
		entry := s.logger.WithField("job", name).WithField("duration", time.Since(start))
		if err != nil {
			entry.WithError(err).Error("Maintenance job failed")
			return fmt.Errorf("%s: %w", name, err)
		}
		entry.Debug("Maintenance job complete")
		return nil
	}
}
