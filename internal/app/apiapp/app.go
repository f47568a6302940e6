package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sinhamoca/verificacao-sub002/internal/config"
	"github.com/sinhamoca/verificacao-sub002/internal/infra/httpclient"
	"github.com/sinhamoca/verificacao-sub002/internal/panel"
	pgrepo "github.com/sinhamoca/verificacao-sub002/internal/repo/postgres"
	redrepo "github.com/sinhamoca/verificacao-sub002/internal/repo/redis"
	authsvc "github.com/sinhamoca/verificacao-sub002/internal/services/auth"
	fulfillsvc "github.com/sinhamoca/verificacao-sub002/internal/services/fulfillment"
	notifysvc "github.com/sinhamoca/verificacao-sub002/internal/services/notify"
	paysvc "github.com/sinhamoca/verificacao-sub002/internal/services/payments"
	ratesvc "github.com/sinhamoca/verificacao-sub002/internal/services/rate"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	sessionRepo := redrepo.NewSessionRepo(redisClient)
	lockRepo := redrepo.NewLockRepo(redisClient)
	rateRepo := redrepo.NewRateRepo(redisClient)

	panelRepo := pgrepo.NewPanelRepo(pool)
	resellerRepo := pgrepo.NewResellerRepo(pool)
	packageRepo := pgrepo.NewPackageRepo(pool)
	paymentRepo := pgrepo.NewPaymentRepo(pool)
	transactionRepo := pgrepo.NewTransactionRepo(pool)

	jwtManager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL)
	authService := authsvc.NewService(jwtManager, sessionRepo, resellerRepo, cfg.Auth.JWTAccessTTL)

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
	}, log)

	if cfg.Notify.TelegramToken != "" {
		if notifier, err := notifysvc.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, log); err != nil {
			log.Warn("telegram notifier init failed, continuing without notifications", zap.Error(err))
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
	}, cfg.Provider.ChargeTTL, log)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	loginLimiter := ratesvc.NewLoginLimiter(rateRepo, cfg.RateLimit.LoginPerMinute, cfg.RateLimit.LoginPer10Sec)

	RegisterRoutes(r, Dependencies{
		AuthService:        authService,
		PaymentService:     paymentService,
		FulfillmentService: fulfillmentService,
		LoginLimiter:       loginLimiter,
		Logger:             log,
	})

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
