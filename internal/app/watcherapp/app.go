package watcherapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sinhamoca/verificacao-sub002/internal/config"
	"github.com/sinhamoca/verificacao-sub002/internal/infra/httpclient"
	"github.com/sinhamoca/verificacao-sub002/internal/jobs/watcher"
	"github.com/sinhamoca/verificacao-sub002/internal/panel"
	pgrepo "github.com/sinhamoca/verificacao-sub002/internal/repo/postgres"
	redrepo "github.com/sinhamoca/verificacao-sub002/internal/repo/redis"
	fulfillsvc "github.com/sinhamoca/verificacao-sub002/internal/services/fulfillment"
	notifysvc "github.com/sinhamoca/verificacao-sub002/internal/services/notify"
	paysvc "github.com/sinhamoca/verificacao-sub002/internal/services/payments"
)

// App polls the charge provider for settled PIX charges and hands them to
// fulfillment. It is a standalone process so the API can be scaled without
// multiplying pollers.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	postgres *pgxpool.Pool
	redis    *goredis.Client
	job      *watcher.Job
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("init postgres for watcher app: %w", err)
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	lockRepo := redrepo.NewLockRepo(redisClient)

	panelRepo := pgrepo.NewPanelRepo(pool)
	resellerRepo := pgrepo.NewResellerRepo(pool)
	packageRepo := pgrepo.NewPackageRepo(pool)
	paymentRepo := pgrepo.NewPaymentRepo(pool)
	transactionRepo := pgrepo.NewTransactionRepo(pool)

	registry := panel.NewRegistry(cfg.Fulfillment.RemoteTimeout)
	fulfillmentService := fulfillsvc.NewService(fulfillsvc.Dependencies{
		Payments:     paymentRepo,
		Transactions: transactionRepo,
		Resellers:    resellerRepo,
		Panels:       panelRepo,
		Registry:     registry,
		Locker:       lockRepo,
	}, fulfillsvc.Config{
		MaxAttempts:     cfg.Fulfillment.MaxAttempts,
		Backoff:         cfg.Fulfillment.Backoff,
		BulkConcurrency: cfg.Fulfillment.BulkConcurrency,
		LockTTL:         cfg.Fulfillment.LockTTL,
	}, logger)

	if cfg.Notify.TelegramToken != "" {
		if notifier, err := notifysvc.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, logger); err != nil {
			logger.Warn("telegram notifier init failed, continuing without notifications", zap.Error(err))
		} else {
			fulfillmentService.AttachNotifier(notifier)
		}
	}

	chargeProvider := paysvc.NewSandboxProvider(cfg.Provider.BaseURL, cfg.Provider.APIKey, httpclient.New(cfg.Provider.Timeout))
	paymentService := paysvc.NewService(paysvc.Dependencies{
		Payments:  paymentRepo,
		Packages:  packageRepo,
		Resellers: resellerRepo,
		Provider:  chargeProvider,
		Fulfiller: fulfillmentService,
	}, cfg.Provider.ChargeTTL, logger)

	job := watcher.New(paymentRepo, chargeProvider, paymentService, cfg.Watcher.BatchSize, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		postgres: pool,
		redis:    redisClient,
		job:      job,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("watcher app started")

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.runWatchLoop(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("watcher app stopped")
			return nil
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			return err
		}
	}
}

func (a *App) runWatchLoop(ctx context.Context) error {
	interval := a.cfg.Watcher.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	if err := a.job.Run(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.job.Run(ctx); err != nil {
				return err
			}
		}
	}
}

func (a *App) Close() {
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
