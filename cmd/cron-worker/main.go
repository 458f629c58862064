package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/trademon/trademon-backend/internal/cron"
	"github.com/trademon/trademon-backend/internal/ledger"
	"github.com/trademon/trademon-backend/internal/notifications"
	"github.com/trademon/trademon-backend/internal/orders"
	"github.com/trademon/trademon-backend/pkg/config"
	"github.com/trademon/trademon-backend/pkg/db"
	"github.com/trademon/trademon-backend/pkg/env"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/metrics"
	"github.com/trademon/trademon-backend/pkg/migrate"
	"github.com/trademon/trademon-backend/pkg/outbox"
	"github.com/trademon/trademon-backend/pkg/redis"
)

const (
	lockKeyFormat    = "trademon:cron-worker:lock:%s"
	outboxRetention  = 7 * 24 * time.Hour
	day             = 24 * time.Hour
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	dispatcher, registry, err := buildJobs(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(ctx, "failed to build cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    env.Instance(),
	})
	logg.Info(runCtx, "starting cron worker")

	// Alerts raised by the last cycle still drain after the signal.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(runCtx))
	var g errgroup.Group
	g.Go(func() error { return dispatcher.Run(dispatchCtx) })
	g.Go(func() error {
		defer stopDispatch()
		return service.Run(runCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "cron worker shutting down gracefully")
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*notifications.Dispatcher, *cron.Registry, error) {
	conn := dbClient.DB()

	relay, err := notifications.NewRelay(notifications.NewHub(logg), redisClient, logg)
	if err != nil {
		return nil, nil, err
	}
	notificationRepo := notifications.NewRepository(conn)
	dispatcher, err := notifications.NewDispatcher(
		notificationRepo,
		[]notifications.Channel{relay},
		metrics.NewNotificationMetrics(prometheus.DefaultRegisterer),
		logg,
		notifications.DispatcherConfig{
			Workers:   cfg.Notifications.DispatchWorkers,
			QueueSize: cfg.Notifications.QueueSize,
			Timeout:   cfg.Notifications.DispatchTimeout,
		},
	)
	if err != nil {
		return nil, nil, err
	}
	notificationSvc, err := notifications.NewService(notificationRepo)
	if err != nil {
		return nil, nil, err
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), dbClient)
	if err != nil {
		return nil, nil, err
	}
	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)

	platformAccount, err := cfg.Reconciliation.PlatformAccount()
	if err != nil {
		return nil, nil, err
	}
	orderSvc, err := orders.NewService(orders.NewRepository(conn), dbClient, ledgerSvc, emitter, dispatcher, platformAccount, logg)
	if err != nil {
		return nil, nil, err
	}

	ledgerAudit, err := cron.NewLedgerAuditJob(cron.LedgerAuditJobParams{
		Logger:   logg,
		Ledger:   ledgerSvc,
		DB:       dbClient,
		Outbox:   emitter,
		Notifier: dispatcher,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ledger audit job: %w", err)
	}
	orderExpiry, err := cron.NewOrderExpiryJob(cron.OrderExpiryJobParams{
		Logger: logg,
		Orders: orderSvc,
		TTL:    cfg.Cron.PendingPaymentTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("order expiry job: %w", err)
	}
	outboxCleanup, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Retention:  outboxRetention,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("outbox retention job: %w", err)
	}
	notificationCleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:    logg,
		Purger:    notificationSvc,
		Retention: time.Duration(cfg.Notifications.RetentionDays) * day,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("notification cleanup job: %w", err)
	}

	return dispatcher, cron.NewRegistry(ledgerAudit, orderExpiry, outboxCleanup, notificationCleanup), nil
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
