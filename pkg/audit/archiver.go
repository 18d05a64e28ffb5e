package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/pharoshq/pharos/pkg/observability"
)

// ArchiveStore reads and prunes archived events
type ArchiveStore interface {
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Event, error)
	Delete(ctx context.Context, ids []string) (int64, error)
}

// BlobWriter uploads one archive object
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// ArchiverConfig configures an Archiver
type ArchiverConfig struct {
	Retention time.Duration
	BatchSize int
	Prefix    string
	// Format of each archive object, NDJSON unless set.
	Format ExportFormat
}

// Archiver moves events older than the retention period to object storage
// and deletes them once the upload succeeded.
type Archiver struct {
	store   ArchiveStore
	blobs   BlobWriter
	cfg     ArchiverConfig
	now     func() time.Time
	metrics *observability.Metrics
}

// NewArchiver creates an archiver. metrics may be nil.
func NewArchiver(store ArchiveStore, blobs BlobWriter, cfg ArchiverConfig, metrics *observability.Metrics) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "audit"
	}
	if cfg.Format == "" {
		cfg.Format = ExportFormatNDJSON
	}
	return &Archiver{store: store, blobs: blobs, cfg: cfg, now: time.Now, metrics: metrics}
}

// Run archives batches until no event older than the cutoff is left. It
// returns the number of archived events. A failed upload leaves its batch
// in the table for the next run.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	cutoff := a.now().UTC().Add(-a.cfg.Retention)
	total := 0

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		events, err := a.store.ListBefore(ctx, cutoff, a.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		if len(events) == 0 {
			return total, nil
		}

		data, err := Export(events, a.cfg.Format)
		if err != nil {
			return total, err
		}

		key := a.objectKey(events[0])
		if err := a.blobs.Put(ctx, key, data, contentType(a.cfg.Format)); err != nil {
			return total, err
		}

		ids := make([]string, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		if _, err := a.store.Delete(ctx, ids); err != nil {
			return total, fmt.Errorf("archived %s but failed to prune: %w", key, err)
		}

		total += len(events)
		if a.metrics != nil {
			a.metrics.AuditEventsArchivedTotal.Add(float64(len(events)))
		}

		if len(events) < a.cfg.BatchSize {
			return total, nil
		}
	}
}

// objectKey partitions archives by the day of their oldest event
func (a *Archiver) objectKey(first *Event) string {
	ts := first.Timestamp.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s-%s.%s",
		a.cfg.Prefix, ts.Year(), ts.Month(), ts.Day(), ts.Format("150405"), first.ID, a.cfg.Format)
}

func contentType(format ExportFormat) string {
	if format == ExportFormatCSV {
		return "text/csv"
	}
	return "application/x-ndjson"
}
