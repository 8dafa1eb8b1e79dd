package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marina-backend/internal/billing"
	"github.com/angelmondragon/marina-backend/internal/cron"
	"github.com/angelmondragon/marina-backend/internal/ledger"
	"github.com/angelmondragon/marina-backend/internal/subscriptions"
	"github.com/angelmondragon/marina-backend/pkg/config"
	"github.com/angelmondragon/marina-backend/pkg/db"
	"github.com/angelmondragon/marina-backend/pkg/instance"
	"github.com/angelmondragon/marina-backend/pkg/logger"
	"github.com/angelmondragon/marina-backend/pkg/mercadopago"
	"github.com/angelmondragon/marina-backend/pkg/metrics"
	"github.com/angelmondragon/marina-backend/pkg/migrate"
	"github.com/angelmondragon/marina-backend/pkg/outbox"
	"github.com/angelmondragon/marina-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

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

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	sweepJob, err := cron.NewOverdueSweepJob(cron.OverdueSweepJobParams{
		Logger:  logg,
		Ledger:  ledgerService,
		Metrics: metricsCollector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create overdue sweep job", err)
		os.Exit(1)
	}
	rolloverJob, err := cron.NewMarinaFeeRolloverJob(cron.MarinaFeeRolloverJobParams{
		Logger:  logg,
		Ledger:  ledgerService,
		Metrics: metricsCollector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create marina fee rollover job", err)
		os.Exit(1)
	}
	billingJob, err := cron.NewSubscriptionBillingJob(cron.SubscriptionBillingJobParams{
		Logger:  logg,
		Billing: subscriptionService,
		Metrics: metricsCollector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription billing job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Metrics:    metricsCollector,
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	// Sweep before billing so standing is current when charges go out.
	registry := cron.NewRegistry(sweepJob, rolloverJob, billingJob, retentionJob)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"jobs":        registry.Names(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
