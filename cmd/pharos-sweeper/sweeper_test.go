package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharoshq/pharos/pkg/audit"
	"github.com/pharoshq/pharos/pkg/observability"
	"github.com/pharoshq/pharos/pkg/session"
	"github.com/pharoshq/pharos/pkg/storage/storagetest"
)

var now = time.Date(2026, 7, 1, 3, 30, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type blobs struct {
	keys []string
}

func (b *blobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	b.keys = append(b.keys, key)
	return nil
}

type failingPurger struct{}

func (failingPurger) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, errors.New("connection reset")
}

func TestSweeperRunAll(t *testing.T) {
	db := storagetest.NewSQLite(t)
	fx := storagetest.NewFixtures(db, now)
	ctx := context.Background()

	userID := fx.User(t, "buyer@acme.test")
	store := session.NewSQLStore(db)
	for i, expires := range []time.Time{now.Add(-time.Hour), now.Add(-time.Minute), now.Add(time.Hour)} {
		require.NoError(t, store.Create(ctx, string(rune('a'+i)), &session.Session{
			ID:        string(rune('a' + i)),
			UserID:    userID,
			CreatedAt: now.Add(-2 * time.Hour),
			ExpiresAt: expires,
		}))
	}

	events, err := audit.NewDBLogger(db)
	require.NoError(t, err)
	for _, id := range []string{"old-1", "old-2"} {
		e := audit.NewEvent(ctx, audit.EventTypeGuardForbidden, audit.EventStatusDenied, "Forbidden")
		e.ID = id
		e.Timestamp = now.AddDate(-2, 0, 0)
		require.NoError(t, events.Log(ctx, e))
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	uploads := &blobs{}
	archiver := audit.NewArchiver(events, uploads, audit.ArchiverConfig{Retention: 90 * 24 * time.Hour}, metrics)

	sweeper := NewSweeper(store, archiver, metrics, quietLogger())
	sweeper.now = func() time.Time { return now }

	require.NoError(t, sweeper.RunAll(ctx))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.SessionsPurgedTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.AuditEventsArchivedTotal))
	assert.Len(t, uploads.keys, 1)

	var remaining int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&remaining))
	assert.Equal(t, 1, remaining)
}

func TestSweeperJobFailure(t *testing.T) {
	sweeper := NewSweeper(failingPurger{}, nil, nil, quietLogger())

	err := sweeper.RunAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purge sessions")
	assert.NoError(t, sweeper.ArchiveAudit(context.Background()))
}

func TestSweeperSchedule(t *testing.T) {
	sweeper := NewSweeper(failingPurger{}, nil, nil, quietLogger())

	c := cron.New(cron.WithLocation(time.UTC))
	require.NoError(t, sweeper.Schedule(c, "*/15 * * * *", "30 3 * * *"))
	assert.Len(t, c.Entries(), 2)

	err := sweeper.Schedule(cron.New(), "every tuesday", "30 3 * * *")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purge sessions")
}
