package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/app"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/config"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/database"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/events"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/health"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/http/handler"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/http/middleware"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/http/router"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/observability"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/repository"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/security"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/service"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/storage"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(
	provideObservabilityRuntime,
	provideAppLogger,
)

var StorageSet = wire.NewSet(
	provideRuntimeDB,
	provideRedisClient,
	provideStore,
	provideReadinessProbeRunner,
)

var RepositorySet = wire.NewSet(
	repository.NewUserRepository,
	repository.NewAuditRepository,
	repository.NewIdempotencyRepository,
	wire.Bind(new(repository.IdempotencyRepository), new(*repository.StoreIdempotencyRepository)),
)

var EventSet = wire.NewSet(providePublisher)

var ServiceSet = wire.NewSet(
	provideIdempotencyGuard,
	service.NewAuditRecorder,
	service.NewUserService,
	service.NewQueryService,
	wire.Bind(new(service.UserServiceInterface), new(*service.UserServiceImpl)),
	wire.Bind(new(service.QueryServiceInterface), new(*service.QueryServiceImpl)),
)

var HTTPSet = wire.NewSet(
	handler.NewUserHandler,
	provideActorTokenParser,
	provideGlobalRateLimiter,
	provideWriteRateLimiter,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(provideApp)

func provideObservabilityRuntime(cfg *config.Config) (*observability.Runtime, error) {
	bootstrapLogger := observability.NewBootstrapLogger(cfg)
	return observability.InitRuntime(context.Background(), cfg, bootstrapLogger)
}

func provideAppLogger(cfg *config.Config, runtime *observability.Runtime) *slog.Logger {
	return observability.InitLogger(cfg, runtime.LoggerProvider)
}

// provideRuntimeDB opens and migrates postgres only when it is the
// selected backend; the redis backend runs without a relational store.
func provideRuntimeDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.StorageBackend != config.StorageBackendPostgres {
		return nil, nil
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func provideRedisClient(cfg *config.Config, logger *slog.Logger) *redis.Client {
	if !redisNeeded(cfg) {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	observability.InstrumentRedisClient(client, logger)
	return client
}

func redisNeeded(cfg *config.Config) bool {
	return cfg.StorageBackend == config.StorageBackendRedis ||
		cfg.EventPublisher == config.EventPublisherRedis ||
		cfg.RateLimitRedisEnabled
}

func provideStore(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendRedis:
		return storage.NewRedisStore(redisClient), nil
	case config.StorageBackendPostgres:
		return storage.NewSQLStore(db), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func providePublisher(cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) (events.Publisher, error) {
	switch cfg.EventPublisher {
	case config.EventPublisherRabbitMQ:
		return events.NewRabbitMQPublisher(cfg.AMQPURL)
	case config.EventPublisherRedis:
		return events.NewRedisStreamPublisher(redisClient, ""), nil
	case config.EventPublisherLog:
		return events.NewLogPublisher(logger), nil
	default:
		return nil, fmt.Errorf("unknown event publisher %q", cfg.EventPublisher)
	}
}

func provideIdempotencyGuard(cfg *config.Config, records repository.IdempotencyRepository, logger *slog.Logger) *service.IdempotencyGuard {
	return service.NewIdempotencyGuard(records, logger, cfg.IdempotencyPendingTTL, cfg.IdempotencyCompletedTTL)
}

func provideActorTokenParser(cfg *config.Config) *security.ActorTokenParser {
	return security.NewActorTokenParser(cfg.ActorTokenSecret)
}

func provideGlobalRateLimiter(cfg *config.Config, redisClient *redis.Client) router.GlobalRateLimiterFunc {
	if cfg.RateLimitRedisEnabled && redisClient != nil {
		redisLimiter := middleware.NewRedisFixedWindowLimiter(redisClient, cfg.RateLimitRedisPrefix+":api")
		return middleware.NewDistributedRateLimiter(
			redisLimiter,
			cfg.APIRateLimitPerMin,
			time.Minute,
			middleware.FailOpen,
			"api",
		).Middleware()
	}
	return middleware.NewRateLimiter(cfg.APIRateLimitPerMin, time.Minute).Middleware()
}

// provideWriteRateLimiter fails closed: losing the limiter backend must
// not open the floodgates on mutations.
func provideWriteRateLimiter(cfg *config.Config, redisClient *redis.Client) router.WriteRateLimiterFunc {
	if cfg.RateLimitRedisEnabled && redisClient != nil {
		redisLimiter := middleware.NewRedisFixedWindowLimiter(redisClient, cfg.RateLimitRedisPrefix+":write")
		return middleware.NewDistributedRateLimiter(
			redisLimiter,
			cfg.WriteRateLimitPerMin,
			time.Minute,
			middleware.FailClosed,
			"write",
		).Middleware()
	}
	return middleware.NewRateLimiter(cfg.WriteRateLimitPerMin, time.Minute).Middleware()
}

func provideRouterDependencies(
	userHandler *handler.UserHandler,
	parser *security.ActorTokenParser,
	globalRateLimiter router.GlobalRateLimiterFunc,
	writeRateLimiter router.WriteRateLimiterFunc,
	readiness *health.ProbeRunner,
	cfg *config.Config,
) router.Dependencies {
	return router.Dependencies{
		UserHandler:       userHandler,
		ActorParser:       parser,
		CORSOrigins:       cfg.CORSAllowedOrigins,
		APIRateLimitRPM:   cfg.APIRateLimitPerMin,
		WriteRateLimitRPM: cfg.WriteRateLimitPerMin,
		GlobalRateLimiter: globalRateLimiter,
		WriteRateLimiter:  writeRateLimiter,
		Readiness:         readiness,
		EnableOTelHTTP:    cfg.OTELMetricsEnabled || cfg.OTELTracingEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func provideReadinessProbeRunner(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) *health.ProbeRunner {
	checkers := make([]health.Checker, 0, 2)
	if db != nil {
		checkers = append(checkers, health.NewDBChecker(db))
	}
	if redisClient != nil {
		checkers = append(checkers, health.NewRedisChecker(redisClient))
	}
	return health.NewProbeRunner(cfg.ReadinessProbeTimeout, cfg.ServerStartGracePeriod, checkers...)
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	redisClient *redis.Client,
	publisher events.Publisher,
	readiness *health.ProbeRunner,
) *app.App {
	return app.New(cfg, logger, server, runtime, db, redisClient, publisher, readiness)
}
