package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageBackendRedis    = "redis"
	StorageBackendPostgres = "postgres"

	EventPublisherRabbitMQ = "rabbitmq"
	EventPublisherRedis    = "redis"
	EventPublisherLog      = "log"
)

type Config struct {
	Env      string
	HTTPPort string

	StorageBackend string
	DatabaseURL    string
	RedisAddr      string
	RedisUsername  string
	RedisPassword  string
	RedisDB        int

	EventPublisher string
	AMQPURL        string

	IdempotencyPendingTTL   time.Duration
	IdempotencyCompletedTTL time.Duration

	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveBucket    string
	ArchiveUseSSL    bool
	ArchiveWorkers   int

	ActorTokenSecret string

	CORSAllowedOrigins    []string
	APIRateLimitPerMin    int
	WriteRateLimitPerMin  int
	RateLimitRedisEnabled bool
	RateLimitRedisPrefix  string

	ReadinessProbeTimeout  time.Duration
	ServerStartGracePeriod time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELLogLevel              string
}

func Load() (*Config, error) {
	env := getEnv("APP_ENV", "development")

	cfg := &Config{
		Env:      env,
		HTTPPort: getEnv("HTTP_PORT", "8080"),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageBackendRedis)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisUsername:  os.Getenv("REDIS_USERNAME"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getEnvInt("REDIS_DB", 0),

		EventPublisher: strings.ToLower(getEnv("EVENT_PUBLISHER", EventPublisherLog)),
		AMQPURL:        os.Getenv("AMQP_URL"),

		ArchiveEndpoint:  os.Getenv("ARCHIVE_S3_ENDPOINT"),
		ArchiveAccessKey: os.Getenv("ARCHIVE_S3_ACCESS_KEY"),
		ArchiveSecretKey: os.Getenv("ARCHIVE_S3_SECRET_KEY"),
		ArchiveBucket:    getEnv("ARCHIVE_S3_BUCKET", "user-audit-archives"),
		ArchiveUseSSL:    getEnvBool("ARCHIVE_S3_USE_SSL", false),
		ArchiveWorkers:   getEnvInt("ARCHIVE_WORKERS", 4),

		ActorTokenSecret: os.Getenv("ACTOR_TOKEN_SECRET"),

		CORSAllowedOrigins:    splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		APIRateLimitPerMin:    getEnvInt("API_RATE_LIMIT_PER_MIN", 120),
		WriteRateLimitPerMin:  getEnvInt("WRITE_RATE_LIMIT_PER_MIN", 30),
		RateLimitRedisEnabled: getEnvBool("RATE_LIMIT_REDIS_ENABLED", false),
		RateLimitRedisPrefix:  getEnv("RATE_LIMIT_REDIS_PREFIX", "ratelimit"),

		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "user-management-kiro-poc"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", env),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELTraceSamplingRatio:   getEnvFloat("OTEL_TRACE_SAMPLING_RATIO", 1.0),
		OTELMetricsEnabled:       getEnvBool("OTEL_METRICS_ENABLED", true),
		OTELTracingEnabled:       getEnvBool("OTEL_TRACING_ENABLED", true),
		OTELLogsEnabled:          getEnvBool("OTEL_LOGS_ENABLED", true),
		OTELLogLevel:             strings.ToLower(getEnv("OTEL_LOG_LEVEL", "info")),
	}

	var err error
	if cfg.IdempotencyPendingTTL, err = getEnvDuration("IDEMPOTENCY_PENDING_TTL", "5m"); err != nil {
		return nil, err
	}
	if cfg.IdempotencyCompletedTTL, err = getEnvDuration("IDEMPOTENCY_COMPLETED_TTL", "24h"); err != nil {
		return nil, err
	}
	if cfg.ReadinessProbeTimeout, err = getEnvDuration("READINESS_PROBE_TIMEOUT", "2s"); err != nil {
		return nil, err
	}
	if cfg.ServerStartGracePeriod, err = getEnvDuration("SERVER_START_GRACE_PERIOD", "0s"); err != nil {
		return nil, err
	}
	if cfg.OTELMetricsExportInterval, err = getEnvDuration("OTEL_METRICS_EXPORT_INTERVAL", "10s"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	switch c.StorageBackend {
	case StorageBackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR is required when STORAGE_BACKEND=redis")
		}
	case StorageBackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	default:
		errs = append(errs, "STORAGE_BACKEND must be redis or postgres")
	}

	switch c.EventPublisher {
	case EventPublisherRabbitMQ:
		if c.AMQPURL == "" {
			errs = append(errs, "AMQP_URL is required when EVENT_PUBLISHER=rabbitmq")
		}
	case EventPublisherRedis:
		if c.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR is required when EVENT_PUBLISHER=redis")
		}
	case EventPublisherLog:
	default:
		errs = append(errs, "EVENT_PUBLISHER must be rabbitmq, redis, or log")
	}

	if c.IdempotencyPendingTTL <= 0 {
		errs = append(errs, "IDEMPOTENCY_PENDING_TTL must be > 0")
	}
	if c.IdempotencyCompletedTTL < 24*time.Hour {
		errs = append(errs, "IDEMPOTENCY_COMPLETED_TTL must be at least 24h")
	}

	if c.ArchiveEndpoint != "" {
		if c.ArchiveAccessKey == "" || c.ArchiveSecretKey == "" {
			errs = append(errs, "ARCHIVE_S3_ACCESS_KEY and ARCHIVE_S3_SECRET_KEY are required when ARCHIVE_S3_ENDPOINT is set")
		}
		if c.ArchiveBucket == "" {
			errs = append(errs, "ARCHIVE_S3_BUCKET is required when ARCHIVE_S3_ENDPOINT is set")
		}
	}
	if c.ArchiveWorkers < 1 {
		errs = append(errs, "ARCHIVE_WORKERS must be > 0")
	}

	if c.ActorTokenSecret != "" && len(c.ActorTokenSecret) < 32 {
		errs = append(errs, "ACTOR_TOKEN_SECRET must be at least 32 chars when set")
	}

	if c.APIRateLimitPerMin <= 0 {
		errs = append(errs, "API_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.WriteRateLimitPerMin <= 0 {
		errs = append(errs, "WRITE_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.RateLimitRedisEnabled && c.RedisAddr == "" {
		errs = append(errs, "REDIS_ADDR is required when RATE_LIMIT_REDIS_ENABLED=true")
	}

	if c.ReadinessProbeTimeout <= 0 {
		errs = append(errs, "READINESS_PROBE_TIMEOUT must be > 0")
	}
	if c.ServerStartGracePeriod < 0 {
		errs = append(errs, "SERVER_START_GRACE_PERIOD must be >= 0")
	}

	if (c.OTELMetricsEnabled || c.OTELTracingEnabled || c.OTELLogsEnabled) && c.OTELExporterOTLPEndpoint == "" {
		errs = append(errs, "OTEL_EXPORTER_OTLP_ENDPOINT is required when OTel is enabled")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	}
	if c.OTELMetricsExportInterval <= 0 {
		errs = append(errs, "OTEL_METRICS_EXPORT_INTERVAL must be > 0")
	}
	if !isValidLogLevel(c.OTELLogLevel) {
		errs = append(errs, "OTEL_LOG_LEVEL must be one of debug, info, warn, error")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func isValidLogLevel(v string) bool {
	switch strings.ToLower(v) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, def))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trim := strings.TrimSpace(p)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}
