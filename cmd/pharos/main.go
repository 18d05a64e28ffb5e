package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pharoshq/pharos/pkg/api"
	"github.com/pharoshq/pharos/pkg/audit"
	"github.com/pharoshq/pharos/pkg/config"
	"github.com/pharoshq/pharos/pkg/csrf"
	"github.com/pharoshq/pharos/pkg/entitlements"
	"github.com/pharoshq/pharos/pkg/guard"
	"github.com/pharoshq/pharos/pkg/observability"
	"github.com/pharoshq/pharos/pkg/ratelimit"
	"github.com/pharoshq/pharos/pkg/rbac"
	"github.com/pharoshq/pharos/pkg/session"
	"github.com/pharoshq/pharos/pkg/storage"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.InfoLevel, os.Stderr).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("PharOS server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	db, err := storage.OpenPostgres(ctx, storage.PostgresConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}

	if cfg.Database.AutoMigrate {
		applied, err := storage.RunMigrations(ctx, db)
		if err != nil {
			db.Close()
			return err
		}
		logger.WithField("applied", applied).Info("Database migrations complete")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	var otelMetrics *observability.OTelMetrics
	if cfg.Observability.OTelEnabled {
		if otelMetrics, err = observability.NewOTelMetrics(); err != nil {
			logger.WithError(err).Warn("OpenTelemetry metrics unavailable")
		}
	}

	// Redis is optional. Without it sessions live in Postgres and rate limit
	// counters are per process.
	var (
		rdb          *redis.Client
		sessionStore session.Store = session.NewSQLStore(db)
		counterStore ratelimit.Store
	)
	if cfg.Redis.URL != "" {
		rdb, err = storage.NewRedisClient(ctx, storage.RedisConfig{
			URL:          cfg.Redis.URL,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			db.Close()
			return err
		}
		sessionStore = session.NewRedisStore(rdb, "")
		counterStore = ratelimit.NewRedisStore(rdb, cfg.RateLimit.KeyPrefix)
	} else {
		mem, err := ratelimit.NewMemoryStore(cfg.RateLimit.MemoryCapacity, ratelimit.WithEvictionMetrics(metrics))
		if err != nil {
			db.Close()
			return err
		}
		mem.StartCleanup(ctx, time.Minute)
		counterStore = mem
		logger.Warn("PHAROS_REDIS_URL not set; rate limits are enforced per instance")
	}

	policies, err := loadPolicies(ctx, cfg.RateLimit, logger)
	if err != nil {
		closeStores(db, rdb)
		return err
	}

	dbLogger, err := audit.NewDBLogger(db)
	if err != nil {
		closeStores(db, rdb)
		return err
	}
	recorder := audit.NewRecorder(dbLogger, audit.DefaultWriteTimeout,
		audit.WithMaxInFlight(cfg.Audit.MaxInFlight),
		audit.WithMetrics(metrics),
	)

	verifier := csrf.NewVerifier(csrf.Config{
		Secure: cfg.Session.SecureCookie,
		Domain: cfg.Session.CookieDomain,
	})
	limiter := ratelimit.NewLimiter(counterStore,
		ratelimit.WithFailOpen(cfg.RateLimit.FailOpen),
		ratelimit.WithMetrics(metrics),
		ratelimit.WithLogger(logger),
	)
	composer := guard.New(
		guard.WithCSRF(verifier),
		guard.WithLimiter(limiter),
		guard.WithRules(policies),
		guard.WithTrustProxy(cfg.Server.TrustProxy),
		guard.WithMetrics(metrics),
		guard.WithOTelMetrics(otelMetrics),
		guard.WithAudit(recorder),
		guard.WithLogger(logger),
	)

	memberships := rbac.NewSQLStore(db)
	server := api.NewServer(api.Deps{
		DB: db,
		Sessions: session.NewManager(sessionStore, session.Config{
			TTL:          cfg.Session.TTL,
			SecureCookie: cfg.Session.SecureCookie,
			CookieDomain: cfg.Session.CookieDomain,
		}),
		CSRF:         verifier,
		Roles:        rbac.NewResolver(memberships, metrics),
		Members:      memberships,
		Plans:        entitlements.NewResolver(db, entitlements.WithMetrics(metrics), entitlements.WithOTelMetrics(otelMetrics)),
		Guard:        composer,
		Audit:        recorder,
		Logger:       logger,
		Metrics:      metrics,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		TrustProxy:   cfg.Server.TrustProxy,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, rdb, version))
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.RegisterShutdownFunc("background tasks", func(context.Context) error {
		cancel()
		return nil
	})
	shutdown.RegisterShutdownFunc("audit recorder", recorder.Close)
	if rdb != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return rdb.Close() })
	}
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders)
	})

	serve := func(name string, srv *http.Server) {
		logger.WithField("addr", srv.Addr).Infof("Starting %s server", name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).WithField("addr", srv.Addr).Errorf("%s server failed", name)
			if err := shutdown.Shutdown(context.Background()); err != nil {
				logger.WithError(err).Error("Shutdown after server failure was incomplete")
			}
			os.Exit(1)
		}
	}
	go serve("health", healthServer)
	go serve("API", httpServer)

	logger.WithField("version", version).Info("PharOS server started")
	return shutdown.WaitForShutdown()
}

// loadPolicies builds the route rules from the policy file when one is
// configured, falling back to the default rule for every route, and keeps
// the file watched for changes.
func loadPolicies(ctx context.Context, cfg config.RateLimitConfig, logger *observability.Logger) (*ratelimit.PolicySet, error) {
	fallback := &ratelimit.Policy{Default: ratelimit.Rule{Limit: cfg.DefaultLimit, Window: cfg.DefaultWindow}}
	if cfg.PolicyFile == "" {
		return ratelimit.NewPolicySet(fallback), nil
	}

	policy, err := ratelimit.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	set := ratelimit.NewPolicySet(policy)
	if err := set.Watch(ctx, cfg.PolicyFile, logger); err != nil {
		logger.WithError(err).Warn("Rate limit policy hot reload disabled")
	}
	logger.WithField("path", cfg.PolicyFile).WithField("routes", len(policy.Routes)).Info("Rate limit policy loaded")
	return set, nil
}

func closeStores(db *sql.DB, rdb *redis.Client) {
	if rdb != nil {
		rdb.Close()
	}
	db.Close()
}
