package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
	"github.com/michaelayoade/dotmac-portal-iam/internal/infra/config"
	"github.com/michaelayoade/dotmac-portal-iam/internal/infra/database"
	"github.com/michaelayoade/dotmac-portal-iam/internal/infra/geoip"
	kafkainfra "github.com/michaelayoade/dotmac-portal-iam/internal/infra/kafka"
	"github.com/michaelayoade/dotmac-portal-iam/internal/infra/logger"
	redisinfra "github.com/michaelayoade/dotmac-portal-iam/internal/infra/redis"
	"github.com/michaelayoade/dotmac-portal-iam/internal/infra/security"
	"github.com/michaelayoade/dotmac-portal-iam/internal/infra/telemetry"
	postgresrepo "github.com/michaelayoade/dotmac-portal-iam/internal/repository/postgres"
	redisrepo "github.com/michaelayoade/dotmac-portal-iam/internal/repository/redis"
	"github.com/michaelayoade/dotmac-portal-iam/internal/transport/http/middleware"
	"github.com/michaelayoade/dotmac-portal-iam/internal/transport/http/routes"
	"github.com/michaelayoade/dotmac-portal-iam/internal/usecase"
)

// Application wires the engine's collaborators and owns their lifecycles.
type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	geo      *geoip.Resolver
	tracer   *telemetry.TracerProvider
	sweeper  *usecase.SessionSweeper
}

// New assembles the application from configuration.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if _, err := telemetry.Attach(ctx, cfg); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.OTLPEndpoint != "" {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init tracer provider: %w", err)
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	keyProvider, err := security.NewFileKeyProvider(cfg.JWT.KeyDirectory)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}

	hasher, err := security.NewArgon2Hasher(port.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("init argon2 hasher: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	var producer *kafkainfra.Producer
	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	var geoResolver *geoip.Resolver
	var geo port.GeoResolver
	if cfg.Geo.MMDBPath != "" {
		geoResolver, err = geoip.NewResolver(cfg.Geo.MMDBPath, log)
		if err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("init geoip resolver: %w", err)
		}
		geo = geoResolver
	} else {
		log.Info("geoip database not configured, country and velocity signals disabled")
	}

	repos := postgresrepo.NewRepositories(pool)

	revocationCache := redisrepo.NewSessionRevocationCache(redisClient.Client(), cfg.Redis.RevocationPrefix)
	setupStore := redisrepo.NewTwoFactorSetupStore(redisClient.Client(), cfg.Redis.TwoFactorSetupPrefix)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "portal:rate-limit",
		TTL:       rateLimitWindow * 2,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	audit := usecase.NewAuditRecorder(repos.Attempts, repos.Sessions, log)

	sessionService := usecase.NewSessionService(
		repos.Sessions,
		revocationCache,
		geo,
		eventPublisher,
		audit,
		usecase.SessionSettings{
			DefaultTimeout:        cfg.Session.DefaultTimeout,
			RememberMeDuration:    cfg.Session.RememberMeDuration,
			MaxConcurrentDefault:  cfg.Session.MaxConcurrentDefault,
			ImpossibleVelocityKmh: cfg.Session.ImpossibleVelocityKmh,
			RevocationTTL:         cfg.Redis.RevocationTTL,
		},
		log,
	)

	degradation := domain.NewDegradationPolicy(
		domain.ParseDegradationPolicyMode(cfg.Revocation.DegradationPolicy))
	tokenService := usecase.NewTokenService(
		keyProvider,
		repos.Sessions,
		revocationCache,
		degradation,
		cfg.App.Name,
		cfg.JWT.AccessTokenTTL,
		log,
	)

	riskScorer := usecase.NewRiskScorer(repos.Attempts, log)
	lockout := usecase.NewLockoutPolicy(repos.Accounts, eventPublisher, log)

	twoFactorService := usecase.NewTwoFactorService(
		repos.Accounts,
		setupStore,
		sessionService,
		eventPublisher,
		cfg.TwoFactor.Issuer,
		cfg.TwoFactor.SetupTTL,
		cfg.TwoFactor.BackupCodes,
		log,
	)

	authService, err := usecase.NewAuthService(
		repos.Accounts,
		hasher,
		riskScorer,
		lockout,
		twoFactorService,
		sessionService,
		tokenService,
		audit,
		eventPublisher,
		geo,
		cfg.Risk.StepUpThreshold,
		log,
	)
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	generator := usecase.NewIdentifierGenerator(repos.Accounts)
	provisioningService := usecase.NewProvisioningService(
		repos.Accounts,
		generator,
		hasher,
		security.NewPasswordPolicy(),
		eventPublisher,
		log,
	)
	adminService := usecase.NewAdminService(repos.Accounts, sessionService, eventPublisher, log)

	var sweeper *usecase.SessionSweeper
	if cfg.Sweeper.Enabled {
		sweeper = usecase.NewSessionSweeper(repos.Sessions, cfg.Sweeper.Interval, cfg.Sweeper.Retention, log)
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Auth:         authService,
			Sessions:     sessionService,
			TwoFactor:    twoFactorService,
			Provisioning: provisioningService,
			Admin:        adminService,
		},
	})

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		producer: producer,
		geo:      geoResolver,
		tracer:   tracer,
		sweeper:  sweeper,
	}, nil
}

// Run serves HTTP traffic until the context is cancelled, then shuts down the
// API, metrics listener, sweeper, and connections in order.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()
	defer func() {
		if a.geo != nil {
			_ = a.geo.Close()
		}
	}()
	defer func() {
		if a.tracer != nil {
			_ = a.tracer.Shutdown(context.Background())
		}
	}()

	if a.sweeper != nil {
		a.sweeper.Start(ctx)
		defer a.sweeper.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting portal IAM API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	var metricsSrv *http.Server
	if a.cfg.Telemetry.MetricsPort > 0 && a.cfg.Telemetry.MetricsPort != a.cfg.App.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.Telemetry.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		a.logger.Info("starting metrics listener", zap.String("address", metricsSrv.Addr))
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("metrics listener error", zap.Error(err))
			}
		}()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
