package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marina-backend/api/routes"
	"github.com/angelmondragon/marina-backend/internal/billing"
	"github.com/angelmondragon/marina-backend/internal/ledger"
	"github.com/angelmondragon/marina-backend/internal/reconciliation"
	"github.com/angelmondragon/marina-backend/internal/subscriptions"
	mercadopagowebhook "github.com/angelmondragon/marina-backend/internal/webhooks/mercadopago"
	"github.com/angelmondragon/marina-backend/pkg/config"
	"github.com/angelmondragon/marina-backend/pkg/db"
	"github.com/angelmondragon/marina-backend/pkg/instance"
	"github.com/angelmondragon/marina-backend/pkg/logger"
	"github.com/angelmondragon/marina-backend/pkg/mercadopago"
	"github.com/angelmondragon/marina-backend/pkg/metrics"
	"github.com/angelmondragon/marina-backend/pkg/migrate"
	"github.com/angelmondragon/marina-backend/pkg/outbox"
	"github.com/angelmondragon/marina-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/marina-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo:     ledger.NewRepository(dbClient.DB()),
		Tx:       dbClient,
		Outbox:   outboxService,
		Logger:   logg,
		Ledger:   cfg.Ledger,
		Calendar: cfg.Calendar,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	mpClient, err := mercadopago.NewClient(cfg.MercadoPago.AccessToken,
		mercadopago.WithBaseURL(cfg.MercadoPago.BaseURL),
		mercadopago.WithTimeout(cfg.MercadoPago.Timeout),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create mercado pago client", err)
		os.Exit(1)
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:        billing.NewRepository(dbClient.DB()),
		Tx:          dbClient,
		Outbox:      outboxService,
		Provider:    mpClient,
		Logger:      logg,
		MercadoPago: cfg.MercadoPago,
		Calendar:    cfg.Calendar,
		BatchLimit:  cfg.Cron.SubscriptionBatchLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	reconciliationService, err := reconciliation.NewService(reconciliation.ServiceParams{
		Provider:      mpClient,
		Ledger:        ledgerService,
		Subscriptions: subscriptionService,
		Guard:         redisClient,
		Metrics:       metrics.NewReconciliationMetrics(prometheus.DefaultRegisterer),
		Logger:        logg,
		Config:        cfg.MercadoPago,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation service", err)
		os.Exit(1)
	}

	webhookService, err := mercadopagowebhook.NewService(mercadopagowebhook.ServiceParams{
		Reconciler:      reconciliationService,
		Secret:          cfg.MercadoPago.WebhookSecret,
		VerifySignature: cfg.FeatureFlags.VerifyWebhookSignature,
		Logger:          logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create mercado pago webhook service", err)
		os.Exit(1)
	}

	deliveries, err := idempotency.NewManager(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}
	webhookGuard, err := mercadopagowebhook.NewIdempotencyGuard(deliveries)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	router := routes.NewRouter(routes.RouterParams{
		Config:           cfg,
		Logger:           logg,
		DB:               dbClient,
		Redis:            redisClient,
		MercadoPago:      webhookService,
		MercadoPagoGuard: webhookGuard,
		Gatherer:         prometheus.DefaultGatherer,
	})
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(shutdownCtx, "api server shut down gracefully")
	}
}
