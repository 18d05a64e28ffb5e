package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharoshq/pharos/pkg/contextkeys"
	"github.com/pharoshq/pharos/pkg/observability"
	"github.com/pharoshq/pharos/pkg/storage/storagetest"
)

var now = time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

func event(id string, ts time.Time) *Event {
	return &Event{
		ID:          id,
		Timestamp:   ts,
		EventType:   EventTypeGuardForbidden,
		Status:      EventStatusDenied,
		UserID:      "user-1",
		WorkspaceID: "ws-1",
		Route:       "skus.create",
		Message:     "Forbidden",
	}
}

type memLogger struct {
	mu      sync.Mutex
	events  []*Event
	err     error
	explode bool
}

func (l *memLogger) Log(ctx context.Context, e *Event) error {
	if l.explode {
		panic("audit store exploded")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.events = append(l.events, e)
	return nil
}

func (l *memLogger) Close() error { return nil }

func (l *memLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func TestNewEvent(t *testing.T) {
	ctx := contextkeys.WithUserID(context.Background(), "user-9")
	ctx = contextkeys.WithRoute(ctx, "imports.create")
	ctx = contextkeys.WithRequestID(ctx, "req-1")

	e := NewEvent(ctx, EventTypeDataImportCreate, EventStatusSuccess, "import recorded")
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "user-9", e.UserID)
	assert.Equal(t, "imports.create", e.Route)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, time.UTC, e.Timestamp.Location())
}

func TestRecorder(t *testing.T) {
	t.Run("survives cancelled request context", func(t *testing.T) {
		logger := &memLogger{}
		rec := NewRecorder(logger, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rec.Record(ctx, event("e1", now))

		require.NoError(t, rec.Flush(context.Background()))
		assert.Equal(t, 1, logger.count())
	})

	t.Run("failures and panics are contained", func(t *testing.T) {
		failing := NewRecorder(&memLogger{err: errors.New("db down")}, time.Second)
		failing.Record(context.Background(), event("e2", now))
		assert.NoError(t, failing.Flush(context.Background()))

		panicking := NewRecorder(&memLogger{explode: true}, time.Second)
		panicking.Record(context.Background(), event("e3", now))
		assert.NoError(t, panicking.Close(context.Background()))
	})

	t.Run("nil logger records nothing", func(t *testing.T) {
		rec := NewRecorder(nil, 0)
		rec.Record(context.Background(), event("e4", now))
		assert.NoError(t, rec.Flush(context.Background()))

		var nilRec *Recorder
		nilRec.Record(context.Background(), event("e5", now))
		assert.NoError(t, nilRec.Flush(context.Background()))
	})
}

type blockingLogger struct {
	release chan struct{}
	written atomic.Int32
}

func (l *blockingLogger) Log(ctx context.Context, e *Event) error {
	<-l.release
	l.written.Add(1)
	return nil
}

func (l *blockingLogger) Close() error { return nil }

func TestRecorder_DropsWhenFull(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := &blockingLogger{release: make(chan struct{})}
	rec := NewRecorder(logger, time.Minute, WithMaxInFlight(4), WithMetrics(metrics))

	for i := 0; i < 500; i++ {
		rec.Record(context.Background(), event("flood", now))
	}
	assert.Equal(t, 4, rec.InFlight())
	assert.Equal(t, float64(496), testutil.ToFloat64(
		metrics.AuditEventsDroppedTotal.WithLabelValues(string(EventTypeGuardForbidden))))

	close(logger.release)
	require.NoError(t, rec.Flush(context.Background()))
	assert.Equal(t, int32(4), logger.written.Load())
	assert.Zero(t, rec.InFlight())

	// Slots are reusable once writes finish.
	rec.Record(context.Background(), event("after", now))
	require.NoError(t, rec.Close(context.Background()))
	assert.Equal(t, int32(5), logger.written.Load())
}

func TestDBLogger(t *testing.T) {
	db := storagetest.NewSQLite(t)
	logger, err := NewDBLogger(db)
	require.NoError(t, err)
	ctx := context.Background()

	old := event("a-old", now.Add(-100*24*time.Hour))
	old.Metadata = map[string]interface{}{"code": "FORBIDDEN"}
	old.IPAddress = "203.0.113.7"
	require.NoError(t, logger.Log(ctx, old))
	require.NoError(t, logger.Log(ctx, event("b-new", now)))

	events, err := logger.ListBefore(ctx, now.Add(-90*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a-old", events[0].ID)
	assert.Equal(t, "FORBIDDEN", events[0].Metadata["code"])
	assert.Equal(t, "203.0.113.7", events[0].IPAddress)
	assert.Empty(t, events[0].RequestID)
	assert.True(t, events[0].Timestamp.Equal(old.Timestamp))

	n, err := logger.Delete(ctx, []string{"a-old", "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = logger.Delete(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = NewDBLogger(nil)
	assert.Error(t, err)
}

func TestExport(t *testing.T) {
	events := []*Event{event("e1", now), event("e2", now.Add(time.Second))}

	data, err := Export(events, ExportFormatNDJSON)
	require.NoError(t, err)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var ids []string
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"e1", "e2"}, ids)

	data, err = Export(events, ExportFormatCSV)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "e1,2026-06-01T09:30:00Z,guard.forbidden,denied"))

	_, err = Export(events, "xml")
	assert.Error(t, err)
}

type fakeBlobs struct {
	objects map[string][]byte
	err     error
}

func (f *fakeBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = data
	return nil
}

func TestArchiver(t *testing.T) {
	db := storagetest.NewSQLite(t)
	logger, err := NewDBLogger(db)
	require.NoError(t, err)
	ctx := context.Background()

	for i, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		require.NoError(t, logger.Log(ctx, event(id, now.Add(-40*24*time.Hour).Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, logger.Log(ctx, event("fresh", now.Add(-time.Hour))))

	t.Run("failed upload keeps rows", func(t *testing.T) {
		a := NewArchiver(logger, &fakeBlobs{err: errors.New("s3 unavailable")}, ArchiverConfig{Retention: 30 * 24 * time.Hour}, nil)
		a.now = func() time.Time { return now }

		n, err := a.Run(ctx)
		require.Error(t, err)
		assert.Zero(t, n)

		left, err := logger.ListBefore(ctx, now, 100)
		require.NoError(t, err)
		assert.Len(t, left, 6)
	})

	t.Run("archives in batches", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := observability.NewMetrics(registry)
		blobs := &fakeBlobs{}
		a := NewArchiver(logger, blobs, ArchiverConfig{Retention: 30 * 24 * time.Hour, BatchSize: 2}, metrics)
		a.now = func() time.Time { return now }

		n, err := a.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Len(t, blobs.objects, 3)
		assert.Contains(t, blobs.objects, "audit/2026/04/22/093000-e1.ndjson")
		assert.Equal(t, float64(5), testutil.ToFloat64(metrics.AuditEventsArchivedTotal))

		left, err := logger.ListBefore(ctx, now, 100)
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, "fresh", left[0].ID)
	})

	t.Run("csv objects", func(t *testing.T) {
		require.NoError(t, logger.Log(ctx, event("old-csv", now.Add(-40*24*time.Hour))))
		blobs := &fakeBlobs{}
		a := NewArchiver(logger, blobs, ArchiverConfig{Retention: 30 * 24 * time.Hour, Format: ExportFormatCSV}, nil)
		a.now = func() time.Time { return now }

		n, err := a.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		data, ok := blobs.objects["audit/2026/04/22/093000-old-csv.csv"]
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(string(data), "ID,Timestamp,EventType"))
	})
}

func TestParseExportFormat(t *testing.T) {
	f, err := ParseExportFormat(" CSV ")
	require.NoError(t, err)
	assert.Equal(t, ExportFormatCSV, f)

	_, err = ParseExportFormat("parquet")
	assert.Error(t, err)
}
