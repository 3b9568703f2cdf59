package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/health"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/http/handler"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/http/middleware"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/http/response"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/security"
)

type Dependencies struct {
	UserHandler       *handler.UserHandler
	ActorParser       *security.ActorTokenParser
	CORSOrigins       []string
	APIRateLimitRPM   int
	WriteRateLimitRPM int
	GlobalRateLimiter GlobalRateLimiterFunc
	WriteRateLimiter  WriteRateLimiterFunc
	Readiness         *health.ProbeRunner
	EnableOTelHTTP    bool
}

type GlobalRateLimiterFunc func(http.Handler) http.Handler
type WriteRateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	// Actor resolution precedes rate limiting so authenticated traffic
	// is bucketed per actor rather than per egress IP.
	r.Use(middleware.ActorMiddleware(dep.ActorParser))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())
	}

	writeLimiter := dep.WriteRateLimiter
	if writeLimiter == nil {
		writeLimiter = middleware.NewRateLimiter(dep.WriteRateLimitRPM, time.Minute).Middleware()
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Get("/", dep.UserHandler.List)
		r.Get("/{id}", dep.UserHandler.GetByID)
		r.Get("/{id}/audit", dep.UserHandler.AuditLog)
		r.With(writeLimiter, middleware.RequireIdempotencyKey("user.register")).Post("/", dep.UserHandler.Register)
		r.With(writeLimiter, middleware.RequireIdempotencyKey("user.profile.update")).Patch("/{id}", dep.UserHandler.UpdateProfile)
		r.With(writeLimiter, middleware.RequireIdempotencyKey("user.status.update")).Put("/{id}/status", dep.UserHandler.UpdateStatus)
		r.With(writeLimiter, middleware.RequireIdempotencyKey("user.roles.assign")).Post("/{id}/roles", dep.UserHandler.AssignRole)
		r.With(writeLimiter, middleware.RequireIdempotencyKey("user.roles.remove")).Delete("/{id}/roles/{role}", dep.UserHandler.RemoveRole)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
