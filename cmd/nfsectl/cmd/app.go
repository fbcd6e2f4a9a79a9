package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

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
)

// app holds the services a command needs. It mirrors the server wiring
// minus HTTP and telemetry.
type app struct {
	cfg          *config.Config
	log          *zap.Logger
	tokens       *integrationapp.TokenManager
	invoicing    *invoicingapp.Service
	sharedNonces bool

	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	log, err := logger.New(&logger.Config{
		Level:  logLevel,
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, func() error {
		_ = log.Sync()
		return nil
	})

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(logLevel))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	key, err := cfg.Security.CredentialKeyBytes()
	if err != nil {
		return nil, err
	}
	box, err := auth.NewSecretBox(key)
	if err != nil {
		return nil, err
	}

	var (
		credentialStore integration.CredentialStore = persistence.NewGormCredentialRepository(db.DB, box)
		nonceStore      integration.NonceStore      = cache.NewInMemoryNonceStore()
	)
	if cfg.Redis.Enabled {
		var client *redis.Client
		client, err = cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		nonceStore = cache.NewRedisNonceStore(client, "")
		credentialStore = cache.NewCachedCredentialStore(credentialStore, client, box, 0, log)
		a.sharedNonces = true
	}

	oauthClient, err := erp.NewOAuthClient(erp.OAuthConfig{
		AuthorizeURL: cfg.ERP.AuthorizeURL,
		TokenURL:     cfg.ERP.TokenURL,
		RedirectURI:  cfg.ERP.RedirectURI,
		Scopes:       cfg.ERP.Scopes,
		Timeout:      cfg.ERP.Timeout,
	}, nil, log)
	if err != nil {
		return nil, err
	}
	a.tokens = integrationapp.NewTokenManager(credentialStore, nonceStore, oauthClient, cfg.ERP.UserKey, log)

	erpClient, err := erp.NewClient(erp.ClientConfig{
		BaseURL:       cfg.ERP.BaseURL,
		Timeout:       cfg.ERP.Timeout,
		EmitTimeout:   cfg.NFSe.EmitTimeout,
		SubmitTimeout: cfg.NFSe.SubmitTimeout,
	}, a.tokens, log)
	if err != nil {
		return nil, err
	}
	archive, err := storage.NewArchive(ctx, &cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("initialize payload archive: %w", err)
	}

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
	a.invoicing = invoicingapp.NewService(
		erpClient,
		queueStore,
		a.tokens,
		invoicingapp.NewServiceLineFilter(erpClient, log),
		invoicingapp.NewContactResolver(erpClient, log),
		emitter,
		reconciler,
		throttle,
		invoicingapp.ServiceConfig{PollAfterSubmit: cfg.NFSe.PollAfterSubmit},
		log,
	)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// withApp builds the app for the duration of one command
func withApp(ctx context.Context, fn func(*app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
