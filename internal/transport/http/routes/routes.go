package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-portal-iam/internal/infra/config"
	"github.com/michaelayoade/dotmac-portal-iam/internal/transport/http/handlers"
	"github.com/michaelayoade/dotmac-portal-iam/internal/transport/http/middleware"
	"github.com/michaelayoade/dotmac-portal-iam/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth         *usecase.AuthService
	Sessions     *usecase.SessionService
	TwoFactor    *usecase.TwoFactorService
	Provisioning *usecase.ProvisioningService
	Admin        *usecase.AdminService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Services    ServiceSet
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	if origins := deps.Config.App.AllowedOrigins; len(origins) > 0 {
		r.Use(middleware.CORS(origins))
	}
	if metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{}); err != nil {
		deps.Logger.Warn("http metrics disabled", zap.Error(err))
	} else {
		r.Use(metrics.Handler())
	}

	healthHandler := handlers.NewHealthHandler()
	r.GET("/healthz", healthHandler.Status)

	checks := make(map[string]handlers.Pinger, 2)
	if deps.Database != nil {
		checks["postgres"] = pingerFunc(deps.Database.Ping)
	}
	if deps.Cache != nil {
		checks["redis"] = pingerFunc(deps.Cache.HealthCheck)
	}
	r.GET("/readyz", handlers.NewReadyHandler(checks).Status)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")

		authHandler := handlers.NewAuthHandler(deps.Services.Auth, deps.Services.Provisioning)
		authHandler.RegisterRoutes(authGroup, buildLoginMiddlewares(deps)...)

		twoFactorHandler := handlers.NewTwoFactorHandler(deps.Services.Auth, deps.Services.TwoFactor)
		twoFactorHandler.RegisterRoutes(authGroup)

		sessionHandler := handlers.NewSessionHandler(deps.Services.Auth, deps.Services.Sessions)
		sessionHandler.RegisterRoutes(api)

		adminGroup := api.Group("/admin", middleware.RequireAdminKey(deps.Config.Admin.APIKey))
		adminHandler := handlers.NewAdminAccountHandler(deps.Services.Provisioning, deps.Services.Admin)
		adminHandler.RegisterRoutes(adminGroup)
	}

	return r
}

func buildLoginMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.LoginMaxAttempts
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       "auth_login_ip",
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
