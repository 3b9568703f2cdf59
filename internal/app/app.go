package app

import (
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/config"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/events"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/health"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/observability"
)

// App bundles everything main owns at runtime. DB and Redis may be nil
// depending on the configured storage backend; Publisher is never nil.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	DB            *gorm.DB
	Redis         *redis.Client
	Publisher     events.Publisher
	Readiness     *health.ProbeRunner
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	redisClient *redis.Client,
	publisher events.Publisher,
	readiness *health.ProbeRunner,
) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		DB:            db,
		Redis:         redisClient,
		Publisher:     publisher,
		Readiness:     readiness,
	}
}
