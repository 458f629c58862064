package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trademon/trademon-backend/api/controllers"
	"github.com/trademon/trademon-backend/api/routes"
	"github.com/trademon/trademon-backend/internal/checkout"
	"github.com/trademon/trademon-backend/internal/ledger"
	"github.com/trademon/trademon-backend/internal/listings"
	"github.com/trademon/trademon-backend/internal/notifications"
	"github.com/trademon/trademon-backend/internal/orders"
	"github.com/trademon/trademon-backend/internal/payments"
	"github.com/trademon/trademon-backend/internal/reconciliation"
	mpwebhook "github.com/trademon/trademon-backend/internal/webhooks/mercadopago"
	"github.com/trademon/trademon-backend/internal/withdrawals"
	"github.com/trademon/trademon-backend/pkg/config"
	"github.com/trademon/trademon-backend/pkg/db"
	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/mercadopago"
	"github.com/trademon/trademon-backend/pkg/metrics"
	"github.com/trademon/trademon-backend/pkg/outbox"
	"github.com/trademon/trademon-backend/pkg/pubsub"
	"github.com/trademon/trademon-backend/pkg/redis"
)

type application struct {
	deps       routes.Dependencies
	hub        *notifications.Hub
	relay      *notifications.Relay
	dispatcher *notifications.Dispatcher
}

// wire builds every service the API serves. pubsubClient is nil unless push
// delivery is enabled.
func wire(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	pubsubClient *pubsub.Client,
	registry *prometheus.Registry,
) (*application, error) {
	conn := dbClient.DB()

	hub := notifications.NewHub(logg, cfg.App.AllowedOrigins...)
	relay, err := notifications.NewRelay(hub, redisClient, logg)
	if err != nil {
		return nil, err
	}
	channels := []notifications.Channel{relay}
	if pubsubClient != nil {
		push, err := notifications.NewPushPublisher(pubsubClient.PushPublisher())
		if err != nil {
			return nil, fmt.Errorf("push publisher: %w", err)
		}
		channels = append(channels, push)
	}

	notificationRepo := notifications.NewRepository(conn)
	dispatcher, err := notifications.NewDispatcher(
		notificationRepo,
		channels,
		metrics.NewNotificationMetrics(registry),
		logg,
		notifications.DispatcherConfig{
			Workers:   cfg.Notifications.DispatchWorkers,
			QueueSize: cfg.Notifications.QueueSize,
			Timeout:   cfg.Notifications.DispatchTimeout,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("notification dispatcher: %w", err)
	}
	notificationSvc, err := notifications.NewService(notificationRepo)
	if err != nil {
		return nil, fmt.Errorf("notification service: %w", err)
	}

	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), dbClient)
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	platformAccount, err := cfg.Reconciliation.PlatformAccount()
	if err != nil {
		return nil, err
	}
	ordersRepo := orders.NewRepository(conn)
	orderSvc, err := orders.NewService(ordersRepo, dbClient, ledgerSvc, emitter, dispatcher, platformAccount, logg)
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	withdrawalSvc, err := withdrawals.NewService(withdrawals.NewRepository(conn), dbClient, ledgerSvc, emitter, dispatcher, logg)
	if err != nil {
		return nil, fmt.Errorf("withdrawals service: %w", err)
	}

	gateway, err := mercadopago.NewClient(
		cfg.MercadoPago.AccessToken,
		mercadopago.WithBaseURL(cfg.MercadoPago.BaseURL),
		mercadopago.WithTimeout(cfg.MercadoPago.RequestTimeout),
		mercadopago.WithSandbox(cfg.MercadoPago.Sandbox),
	)
	if err != nil {
		return nil, fmt.Errorf("mercadopago client: %w", err)
	}

	checkoutSvc, err := checkout.NewService(
		dbClient,
		ordersRepo,
		listings.NewRepository(conn),
		gateway,
		emitter,
		checkout.PreferenceConfig{
			Currency:        enums.Currency(cfg.MercadoPago.CurrencyID),
			NotificationURL: cfg.MercadoPago.NotificationURL,
			SuccessURL:      cfg.MercadoPago.SuccessURL,
			FailureURL:      cfg.MercadoPago.FailureURL,
			PendingURL:      cfg.MercadoPago.PendingURL,
		},
		logg,
	)
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	guard, err := payments.NewGuard(conn, payments.RetryPolicy{
		MaxRetries: cfg.Reconciliation.MaxRetries,
		BaseDelay:  cfg.Reconciliation.RetryBaseDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("idempotency guard: %w", err)
	}
	tiers, err := cfg.Reconciliation.ParsedFeeTiers()
	if err != nil {
		return nil, err
	}
	fees, err := reconciliation.NewFeeSchedule(tiers)
	if err != nil {
		return nil, fmt.Errorf("fee schedule: %w", err)
	}
	reconciler, err := reconciliation.NewService(
		dbClient,
		guard,
		ordersRepo,
		orderSvc,
		emitter,
		dispatcher,
		fees,
		metrics.NewReconciliationMetrics(registry),
		logg,
		reconciliation.Config{
			MaxRetries: cfg.Reconciliation.MaxRetries,
			BaseDelay:  cfg.Reconciliation.RetryBaseDelay,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("reconciliation service: %w", err)
	}

	webhookSvc, err := mpwebhook.NewService(gateway, reconciler, mpwebhook.Config{
		Secret: cfg.MercadoPago.WebhookSecret,
		MaxAge: cfg.MercadoPago.SignatureMaxAge,
	}, logg)
	if err != nil {
		return nil, fmt.Errorf("mercadopago webhook service: %w", err)
	}

	return &application{
		hub:        hub,
		relay:      relay,
		dispatcher: dispatcher,
		deps: routes.Dependencies{
			Pingers: map[string]controllers.Pinger{
				"database": dbClient,
				"redis":    redisClient,
			},
			Store:         redisClient,
			Gatherer:      registry,
			Ledger:        ledgerSvc,
			Withdrawals:   withdrawalSvc,
			Orders:        orderSvc,
			Checkout:      checkoutSvc,
			Notifications: notificationSvc,
			Hub:           hub,
			Webhook:       webhookSvc,
			WebhookStatus: metrics.NewWebhookMetrics(registry),
		},
	}, nil
}
