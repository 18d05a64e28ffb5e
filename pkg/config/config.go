package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pharoshq/pharos/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Session       SessionConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// TrustProxy enables X-Forwarded-For / X-Real-IP for client IP scoping
	TrustProxy bool
}

// DatabaseConfig holds Postgres settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds the optional shared store. An empty URL selects the
// in-process stores for sessions and rate limiting.
type RedisConfig struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SessionConfig holds session and cookie settings
type SessionConfig struct {
	TTL          time.Duration
	SecureCookie bool
	CookieDomain string
}

// RateLimitConfig holds limiter settings
type RateLimitConfig struct {
	PolicyFile     string
	DefaultLimit   int
	DefaultWindow  time.Duration
	MemoryCapacity int
	FailOpen       bool
	KeyPrefix      string
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	// MaxInFlight caps concurrent audit writes; events beyond it are dropped
	// and counted.
	MaxInFlight int
}

// ArchiveConfig holds audit archive settings used by the sweeper
type ArchiveConfig struct {
	Enabled        bool
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3Prefix       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	Retention      time.Duration
	// Format of archive objects: ndjson or csv
	Format string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Session:       loadSessionConfig(),
		RateLimit:     loadRateLimitConfig(),
		Audit:         loadAuditConfig(),
		Archive:       loadArchiveConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PHAROS_HOST", "0.0.0.0"),
		Port:            getEnv("PHAROS_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PHAROS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PHAROS_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PHAROS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PHAROS_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    int64(getEnvInt("PHAROS_MAX_BODY_BYTES", 1<<20)),
		HealthPort:      getEnv("PHAROS_HEALTH_PORT", "9090"),
		TrustProxy:      getEnvBool("PHAROS_TRUST_PROXY", false),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("PHAROS_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("PHAROS_DATABASE_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("PHAROS_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("PHAROS_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		AutoMigrate:     getEnvBool("PHAROS_DATABASE_AUTO_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          getEnv("PHAROS_REDIS_URL", ""),
		PoolSize:     getEnvInt("PHAROS_REDIS_POOL_SIZE", 10),
		DialTimeout:  getEnvDuration("PHAROS_REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("PHAROS_REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("PHAROS_REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:          getEnvDuration("PHAROS_SESSION_TTL", 7*24*time.Hour),
		SecureCookie: getEnvBool("PHAROS_SECURE_COOKIES", true),
		CookieDomain: getEnv("PHAROS_COOKIE_DOMAIN", ""),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		PolicyFile:     getEnv("PHAROS_RATELIMIT_POLICY_FILE", ""),
		DefaultLimit:   getEnvInt("PHAROS_RATELIMIT_DEFAULT_LIMIT", 10),
		DefaultWindow:  getEnvDuration("PHAROS_RATELIMIT_DEFAULT_WINDOW", 60*time.Second),
		MemoryCapacity: getEnvInt("PHAROS_RATELIMIT_MEMORY_CAPACITY", 100000),
		FailOpen:       getEnvBool("PHAROS_RATELIMIT_FAIL_OPEN", true),
		KeyPrefix:      getEnv("PHAROS_RATELIMIT_KEY_PREFIX", "pharos:rl:"),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		MaxInFlight: getEnvInt("PHAROS_AUDIT_MAX_IN_FLIGHT", 64),
	}
}

func loadArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled:        getEnvBool("PHAROS_AUDIT_ARCHIVE_ENABLED", false),
		S3Endpoint:     getEnv("PHAROS_S3_ENDPOINT", ""),
		S3Region:       getEnv("PHAROS_S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("PHAROS_S3_BUCKET", ""),
		S3Prefix:       getEnv("PHAROS_S3_PREFIX", "audit"),
		S3AccessKey:    getEnv("PHAROS_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("PHAROS_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("PHAROS_S3_USE_PATH_STYLE", false),
		Retention:      getEnvDuration("PHAROS_AUDIT_RETENTION", 90*24*time.Hour),
		Format:         strings.ToLower(getEnv("PHAROS_AUDIT_ARCHIVE_FORMAT", "ndjson")),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("PHAROS_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PHAROS_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PHAROS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PHAROS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PHAROS_OTEL_SERVICE_NAME", "pharos"),
		OTelServiceVersion: getEnv("PHAROS_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PHAROS_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("PHAROS_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required (PHAROS_DATABASE_URL)")
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	if c.RateLimit.DefaultLimit <= 0 {
		return fmt.Errorf("default rate limit must be positive")
	}
	if c.RateLimit.DefaultWindow < time.Second {
		return fmt.Errorf("default rate limit window must be at least 1s")
	}
	if c.RateLimit.MemoryCapacity <= 0 {
		return fmt.Errorf("rate limit memory capacity must be positive")
	}

	if c.Audit.MaxInFlight <= 0 {
		return fmt.Errorf("audit max in-flight writes must be positive")
	}

	if c.Archive.Enabled && c.Archive.S3Bucket == "" {
		return fmt.Errorf("S3 bucket is required when audit archiving is enabled")
	}
	if c.Archive.Format != "ndjson" && c.Archive.Format != "csv" {
		return fmt.Errorf("audit archive format must be ndjson or csv, got %q", c.Archive.Format)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns an environment variable as bool or a default
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.ToLower(value))
	if err != nil {
		return defaultValue
	}
	return b
}

// getEnvInt returns an environment variable as int or a default
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// getEnvDuration returns an environment variable as duration or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
