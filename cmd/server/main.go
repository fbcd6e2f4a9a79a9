package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	integrationapp "github.com/erp/nfse-bridge/internal/application/integration"
	invoicingapp "github.com/erp/nfse-bridge/internal/application/invoicing"
	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/infrastructure/auth"
	"github.com/erp/nfse-bridge/internal/infrastructure/cache"
	"github.com/erp/nfse-bridge/internal/infrastructure/config"
	"github.com/erp/nfse-bridge/internal/infrastructure/erp"
	"github.com/erp/nfse-bridge/internal/infrastructure/logger"
	"github.com/erp/nfse-bridge/internal/infrastructure/persistence"
	"github.com/erp/nfse-bridge/internal/infrastructure/scheduler"
	"github.com/erp/nfse-bridge/internal/infrastructure/storage"
	"github.com/erp/nfse-bridge/internal/infrastructure/telemetry"
	"github.com/erp/nfse-bridge/internal/interfaces/http/handler"
	"github.com/erp/nfse-bridge/internal/interfaces/http/middleware"
	"github.com/erp/nfse-bridge/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	ctx := context.Background()
	telemetryCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}

	// The OTLP log bridge must exist before the logger so it can be teed in
	logsCfg := telemetryCfg
	logsCfg.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, logsCfg)
	if err != nil {
		panic("Failed to initialize log export: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	var extraCores []zapcore.Core
	if core := loggerProvider.ZapCore(cfg.Telemetry.ServiceName, logger.ParseLevel(cfg.Log.Level)); core != nil {
		extraCores = append(extraCores, core)
	}
	log, err := logger.New(logCfg, extraCores...)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting NFSe bridge",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	// Telemetry
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	batchMetrics, err := telemetry.NewBatchMetrics(meterProvider.Meter("nfse-bridge"))
	if err != nil {
		log.Fatal("Failed to create batch instruments", zap.Error(err))
	}
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.ProfilingServer,
		ApplicationName: cfg.Telemetry.ServiceName,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if profiler.IsEnabled() {
		tracerProvider.EnableSpanProfiles()
	}
	httpMetrics := telemetry.NewHTTPMetrics()

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:    cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL: cfg.App.Env == "development",
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Secrets at rest
	key, err := cfg.Security.CredentialKeyBytes()
	if err != nil {
		log.Fatal("Invalid credential key", zap.Error(err))
	}
	box, err := auth.NewSecretBox(key)
	if err != nil {
		log.Fatal("Failed to create secret box", zap.Error(err))
	}
	if !box.Encrypting() {
		log.Warn("security.credential_key is not set, ERP secrets are stored in plain text")
	}

	// Credential store and nonce store, Redis-backed when enabled
	var (
		credentialStore integration.CredentialStore = persistence.NewGormCredentialRepository(db.DB, box)
		nonceStore      integration.NonceStore      = cache.NewInMemoryNonceStore()
		redisClient     *redis.Client
		readyChecks     = map[string]handler.Pinger{"database": db}
	)
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		nonceStore = cache.NewRedisNonceStore(redisClient, "")
		credentialStore = cache.NewCachedCredentialStore(credentialStore, redisClient, box, 0, log)
		readyChecks["redis"] = redisPinger{redisClient}
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}

	// ERP connection
	oauthClient, err := erp.NewOAuthClient(erp.OAuthConfig{
		AuthorizeURL: cfg.ERP.AuthorizeURL,
		TokenURL:     cfg.ERP.TokenURL,
		RedirectURI:  cfg.ERP.RedirectURI,
		Scopes:       cfg.ERP.Scopes,
		Timeout:      cfg.ERP.Timeout,
	}, nil, log)
	if err != nil {
		log.Fatal("Failed to create ERP OAuth client", zap.Error(err))
	}
	tokenManager := integrationapp.NewTokenManager(credentialStore, nonceStore, oauthClient, cfg.ERP.UserKey, log)

	erpClient, err := erp.NewClient(erp.ClientConfig{
		BaseURL:       cfg.ERP.BaseURL,
		Timeout:       cfg.ERP.Timeout,
		EmitTimeout:   cfg.NFSe.EmitTimeout,
		SubmitTimeout: cfg.NFSe.SubmitTimeout,
	}, tokenManager, log, erp.WithCallRecorder(batchMetrics))
	if err != nil {
		log.Fatal("Failed to create ERP client", zap.Error(err))
	}

	// Payload archive
	archive, err := storage.NewArchive(ctx, &cfg.Storage, log)
	if err != nil {
		log.Fatal("Failed to initialize payload archive", zap.Error(err))
	}

	// Invoicing
	queueStore := persistence.NewGormRpsRecordRepository(db.DB)
	throttle := scheduler.NewThrottle(cfg.ERP.BatchDelay)
	reconciler := invoicingapp.NewStatusReconciler(erpClient, queueStore, throttle, scheduler.RetryPolicy{
		Attempts:       cfg.NFSe.PollAttempts,
		Delay:          cfg.NFSe.PollDelay,
		AttemptTimeout: cfg.NFSe.PollTimeout,
	}, log)
	emitter := invoicingapp.NewInvoiceEmitter(erpClient, archive, invoicingapp.EmitterConfig{
		Series:          cfg.NFSe.Series,
		PaymentMethodID: cfg.ERP.PaymentMethodID,
		ServiceCode:     cfg.ERP.ServiceCode,
	}, log)
	invoicingService := invoicingapp.NewService(
		erpClient,
		queueStore,
		tokenManager,
		invoicingapp.NewServiceLineFilter(erpClient, log),
		invoicingapp.NewContactResolver(erpClient, log),
		emitter,
		reconciler,
		throttle,
		invoicingapp.ServiceConfig{PollAfterSubmit: cfg.NFSe.PollAfterSubmit},
		log,
		invoicingapp.WithBatchRecorder(batchMetrics),
		invoicingapp.WithBatchRecorder(httpMetrics),
	)

	// Periodic sync
	syncTrigger, err := scheduler.NewSyncTrigger(scheduler.SyncTriggerConfig{
		Enabled:    cfg.Scheduler.SyncEnabled,
		Interval:   cfg.Scheduler.SyncInterval,
		RunTimeout: cfg.Scheduler.RunTimeout,
	}, invoicingService, log)
	if err != nil {
		log.Fatal("Invalid scheduler configuration", zap.Error(err))
	}
	if err := syncTrigger.Start(ctx); err != nil {
		log.Fatal("Failed to start periodic sync", zap.Error(err))
	}

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	if cfg.App.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.ProfilingWithConfig(middleware.ProfilingConfig{
		Enabled:   profiler.IsEnabled(),
		SkipPaths: middleware.DefaultProfilingConfig().SkipPaths,
	}))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	engine.Use(middleware.CORSWithConfig(corsConfig))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	if cfg.HTTP.MetricsEnabled {
		engine.Use(httpMetrics.Middleware())
		engine.GET("/metrics", gin.WrapH(httpMetrics.Handler()))
	}

	router.HealthRoutes(engine, handler.NewHealthHandler(cfg.App.Name, version, readyChecks))

	var verifier *auth.JWTVerifier
	if cfg.Security.JWTSecret != "" {
		verifier = auth.NewJWTVerifier(cfg.Security.JWTSecret, cfg.Security.JWTIssuer)
	} else {
		log.Warn("security.jwt_secret is not set, the operator API is unauthenticated")
	}
	jwtConfig := middleware.DefaultJWTConfig(verifier)
	jwtConfig.Logger = log

	var batchGuard []gin.HandlerFunc
	if cfg.HTTP.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		batchGuard = append(batchGuard, middleware.RateLimit(limiter))
	}

	var nfseOpts []handler.NFSeHandlerOption
	if cfg.Storage.Enabled {
		nfseOpts = append(nfseOpts, handler.WithPayloadLinker(archive))
	}

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Use(middleware.JWTAuthMiddlewareWithConfig(jwtConfig), middleware.TracingAttributeInjector())
	r.Register(router.ERPRoutes(handler.NewERPHandler(tokenManager))).
		Register(router.NFSeRoutes(handler.NewNFSeHandler(invoicingService, nfseOpts...), batchGuard...))
	r.Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := syncTrigger.Stop(shutdownCtx); err != nil {
		log.Error("Periodic sync did not stop in time", zap.Error(err))
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing Redis", zap.Error(err))
		}
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// redisPinger adapts the Redis client to the readiness check
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
