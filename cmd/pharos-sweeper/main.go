package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/pharoshq/pharos/pkg/audit"
	"github.com/pharoshq/pharos/pkg/config"
	"github.com/pharoshq/pharos/pkg/observability"
	"github.com/pharoshq/pharos/pkg/session"
	"github.com/pharoshq/pharos/pkg/storage"
)

var (
	sessionSchedule = flag.String("session-schedule", "*/15 * * * *", "Cron schedule for purging expired sessions (UTC)")
	archiveSchedule = flag.String("archive-schedule", "30 3 * * *", "Cron schedule for audit archiving (default: 03:30 UTC)")
	metricsAddr     = flag.String("metrics-addr", ":9091", "Address for the /metrics endpoint, empty to disable")
	logLevel        = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	runOnce         = flag.Bool("run-once", false, "Run every job once and exit")
)

// The sweeper purges expired sessions and archives old audit events to S3
func main() {
	flag.Parse()
	logger := setupLogger(*logLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenPostgres(ctx, storage.PostgresConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var archiver *audit.Archiver
	if cfg.Archive.Enabled {
		archiver, err = newArchiver(ctx, cfg, db, metrics)
		if err != nil {
			logger.Fatalf("Failed to set up audit archiving: %v", err)
		}
		logger.Infof("Audit archiving to s3://%s/%s as %s after %s", cfg.Archive.S3Bucket, cfg.Archive.S3Prefix, cfg.Archive.Format, cfg.Archive.Retention)
	}

	sweeper := NewSweeper(session.NewSQLStore(db), archiver, metrics, logger)

	if *runOnce {
		if err := sweeper.RunAll(ctx); err != nil {
			logger.Fatalf("Maintenance run failed: %v", err)
		}
		logger.Info("Maintenance run completed successfully")
		return
	}

	c := cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cron.PrintfLogger(logger)))
	if err := sweeper.Schedule(c, *sessionSchedule, *archiveSchedule); err != nil {
		logger.Fatalf("Failed to schedule jobs: %v", err)
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler(registry))
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	c.Start()
	logger.Info("PharOS sweeper started")
	logger.Infof("Session purge schedule: %s", *sessionSchedule)
	logger.Infof("Audit archive schedule: %s", *archiveSchedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Received shutdown signal, waiting for running jobs...")
	<-c.Stop().Done()
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Metrics server shutdown: %v", err)
		}
	}
	logger.Info("PharOS sweeper stopped")
}

func newArchiver(ctx context.Context, cfg *config.Config, db *sql.DB, metrics *observability.Metrics) (*audit.Archiver, error) {
	client, err := storage.NewS3Client(ctx, storage.S3Config{
		Endpoint:     cfg.Archive.S3Endpoint,
		Region:       cfg.Archive.S3Region,
		Bucket:       cfg.Archive.S3Bucket,
		AccessKey:    cfg.Archive.S3AccessKey,
		SecretKey:    cfg.Archive.S3SecretKey,
		UsePathStyle: cfg.Archive.S3UsePathStyle,
	})
	if err != nil {
		return nil, err
	}

	format, err := audit.ParseExportFormat(cfg.Archive.Format)
	if err != nil {
		return nil, err
	}

	events, err := audit.NewDBLogger(db)
	if err != nil {
		return nil, err
	}

	return audit.NewArchiver(events, storage.NewBlobStore(client, cfg.Archive.S3Bucket), audit.ArchiverConfig{
		Retention: cfg.Archive.Retention,
		Prefix:    cfg.Archive.S3Prefix,
		Format:    format,
	}, metrics), nil
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}
