package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"digigold/internal/api"
	"digigold/internal/cache"
	"digigold/internal/config"
	"digigold/internal/httpserver"
	"digigold/internal/logging"
	"digigold/internal/metrics"
	"digigold/internal/nav"
	"digigold/internal/notify"
	"digigold/internal/payment"
	"digigold/internal/prices"
	"digigold/internal/schemes"
	"digigold/internal/session"
	"digigold/internal/store"
	"digigold/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting digigold client", "env", cfg.AppEnv, "backend", cfg.BackendBaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	localStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init local store: %w", err)
	}
	defer localStore.Close()

	if err := localStore.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("local store ready")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed, snapshot cache disabled until it recovers", "error", err)
	}

	backend := api.New(api.Config{
		BaseURL: cfg.BackendBaseURL,
		Timeout: cfg.BackendTimeout,
	}, logger, metricRegistry)

	notifier := notify.NewLoggerNotifier(logger)

	sessions := session.NewManager(localStore, backend, logger)

	schemeSync := schemes.NewSynchronizer(backend, notifier, metricRegistry, logger)

	paymentFlow := payment.NewFlow(payment.Config{
		Currency:     cfg.Currency,
		KeyID:        cfg.GatewayKeyID,
		MerchantName: cfg.MerchantName,
	}, backend, payment.StaticGateway{}, localStore, notifier, metricRegistry, logger)
	paymentFlow.OnReconciled(func(ctx context.Context) {
		if _, err := schemeSync.Fetch(ctx, sessions.Phone()); err != nil {
			logger.Warn("post-payment scheme refresh failed", "error", err)
		}
	})

	pricePoller := prices.NewPoller(prices.Config{
		Interval: cfg.PriceRefreshInterval,
		CacheTTL: cfg.PriceCacheTTL,
	}, backend, notifier, metricRegistry, redisClient, logger)

	guard := nav.NewGuard(sessions, nav.RouteSignIn, func(target nav.Route) {
		logger.Info("navigation", "route", string(target))
	}, logger)

	// The route guard waits on the restore signal before any routing
	// decision; a failed restore still lands in a usable signed-out state.
	if err := sessions.Restore(ctx); err != nil {
		logger.Warn("session restore failed, continuing unauthenticated", "error", err)
	}
	<-sessions.Ready()

	if sessions.State() == session.StateAuthenticated {
		if reconciled, err := paymentFlow.Resubmit(ctx); err != nil {
			logger.Warn("startup receipt resubmission incomplete", "reconciled", reconciled, "error", err)
		} else if reconciled > 0 {
			logger.Info("recovered pending receipts", "reconciled", reconciled)
		}
		if _, err := schemeSync.Fetch(ctx, sessions.Phone()); err != nil {
			logger.Warn("initial scheme sync failed", "error", err)
		}
	}

	pricePoller.Start(ctx)
	defer pricePoller.Stop()

	httpSrv := httpserver.New(cfg.HTTPListenAddr, httpserver.Dependencies{
		Sessions: sessions,
		Guard:    guard,
		Prices:   pricePoller,
		Schemes:  schemeSync,
		Payments: paymentFlow,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

// openStore selects the local store backend from the database URL: a
// postgres URL uses the shared store, anything else is a SQLite path.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.UsesPostgres() {
		return store.NewPostgres(ctx, cfg.DatabaseURL, logger)
	}
	return store.NewSQLite(ctx, cfg.DatabaseURL, logger)
}
