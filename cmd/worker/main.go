package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trademon/trademon-backend/internal/notifications"
	"github.com/trademon/trademon-backend/pkg/config"
	"github.com/trademon/trademon-backend/pkg/db"
	"github.com/trademon/trademon-backend/pkg/env"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/metrics"
	"github.com/trademon/trademon-backend/pkg/outbox/idempotency"
	"github.com/trademon/trademon-backend/pkg/pubsub"
	"github.com/trademon/trademon-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	psOpts := []pubsub.Option{pubsub.RequireSubscriptions(cfg.PubSub.NotifySubscription)}
	if cfg.Notifications.PushEnabled {
		psOpts = append(psOpts, pubsub.RequireTopics(cfg.PubSub.PushTopic))
	}
	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, psOpts...)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub", err)
		}
	}()

	// The worker holds no sockets; the hub only backs the relay, which
	// publishes to the API instances that do.
	relay, err := notifications.NewRelay(notifications.NewHub(logg), redisClient, logg)
	requireResource(ctx, logg, "notification relay", err)
	channels := []notifications.Channel{relay}
	if cfg.Notifications.PushEnabled {
		push, err := notifications.NewPushPublisher(pubsubClient.PushPublisher())
		requireResource(ctx, logg, "push publisher", err)
		channels = append(channels, push)
	}

	dispatcher, err := notifications.NewDispatcher(
		notifications.NewRepository(dbClient.DB()),
		channels,
		metrics.NewNotificationMetrics(prometheus.DefaultRegisterer),
		logg,
		notifications.DispatcherConfig{
			Workers:   cfg.Notifications.DispatchWorkers,
			QueueSize: cfg.Notifications.QueueSize,
			Timeout:   cfg.Notifications.DispatchTimeout,
		},
	)
	requireResource(ctx, logg, "notification dispatcher", err)

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	subscription := pubsubClient.NotifySubscription()
	if subscription == nil {
		requireResource(ctx, logg, "notification subscription", errors.New("subscription not configured"))
	}
	consumer, err := notifications.NewConsumer(dispatcher, subscription, manager, logg)
	requireResource(ctx, logg, "notification consumer", err)

	service, err := NewService(ServiceParams{
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		PubSub:     pubsubClient,
		Consumer:   consumer,
		Dispatcher: dispatcher,
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    env.Instance(),
	})
	logg.Info(runCtx, "starting worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
