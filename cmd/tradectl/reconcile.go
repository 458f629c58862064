package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/trademon/trademon-backend/internal/notifications"
	"github.com/trademon/trademon-backend/internal/orders"
	"github.com/trademon/trademon-backend/internal/payments"
	"github.com/trademon/trademon-backend/internal/reconciliation"
	mpwebhook "github.com/trademon/trademon-backend/internal/webhooks/mercadopago"
	"github.com/trademon/trademon-backend/pkg/mercadopago"
	"github.com/trademon/trademon-backend/pkg/metrics"
	"github.com/trademon/trademon-backend/pkg/outbox"
	"github.com/trademon/trademon-backend/pkg/redis"
)

type paymentFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*mercadopago.Payment, error)
}

type paymentReconciler interface {
	HandlePaymentEvent(ctx context.Context, event reconciliation.PaymentEvent) (*reconciliation.Result, error)
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <payment-id>",
		Short: "Fetch a payment from the gateway and reconcile it again",
		Long: "Runs the payment through the same reconciliation path as the webhook. " +
			"A payment that was already applied reports a duplicate and changes nothing.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			gateway, err := mercadopago.NewClient(
				e.cfg.MercadoPago.AccessToken,
				mercadopago.WithBaseURL(e.cfg.MercadoPago.BaseURL),
				mercadopago.WithTimeout(e.cfg.MercadoPago.RequestTimeout),
				mercadopago.WithSandbox(e.cfg.MercadoPago.Sandbox),
			)
			if err != nil {
				return err
			}

			redisClient, err := redis.New(ctx, e.cfg.Redis, e.logg)
			if err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			defer redisClient.Close()

			relay, err := notifications.NewRelay(notifications.NewHub(e.logg), redisClient, e.logg)
			if err != nil {
				return err
			}
			dispatcher, err := notifications.NewDispatcher(
				notifications.NewRepository(e.db.DB()),
				[]notifications.Channel{relay},
				metrics.NewNotificationMetrics(prometheus.NewRegistry()),
				e.logg,
				notifications.DispatcherConfig{Workers: 1, Timeout: e.cfg.Notifications.DispatchTimeout},
			)
			if err != nil {
				return err
			}
			dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
			drained := make(chan struct{})
			go func() {
				defer close(drained)
				_ = dispatcher.Run(dispatchCtx)
			}()
			defer func() {
				stopDispatch()
				<-drained
			}()

			reconciler, err := buildReconciler(e, dispatcher)
			if err != nil {
				return err
			}
			return reconcilePayment(ctx, gateway, reconciler, args[0], cmd.OutOrStdout())
		},
	}
}

func buildReconciler(e *env, dispatcher *notifications.Dispatcher) (reconciliation.Service, error) {
	conn := e.db.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), e.logg)

	platformAccount, err := e.cfg.Reconciliation.PlatformAccount()
	if err != nil {
		return nil, err
	}
	ordersRepo := orders.NewRepository(conn)
	orderSvc, err := orders.NewService(ordersRepo, e.db, e.ledger, emitter, dispatcher, platformAccount, e.logg)
	if err != nil {
		return nil, err
	}
	guard, err := payments.NewGuard(conn, payments.RetryPolicy{
		MaxRetries: e.cfg.Reconciliation.MaxRetries,
		BaseDelay:  e.cfg.Reconciliation.RetryBaseDelay,
	})
	if err != nil {
		return nil, err
	}
	tiers, err := e.cfg.Reconciliation.ParsedFeeTiers()
	if err != nil {
		return nil, err
	}
	fees, err := reconciliation.NewFeeSchedule(tiers)
	if err != nil {
		return nil, err
	}
	return reconciliation.NewService(
		e.db, guard, ordersRepo, orderSvc, emitter, dispatcher, fees,
		metrics.NewReconciliationMetrics(prometheus.NewRegistry()),
		e.logg,
		reconciliation.Config{
			MaxRetries: e.cfg.Reconciliation.MaxRetries,
			BaseDelay:  e.cfg.Reconciliation.RetryBaseDelay,
		},
	)
}

func reconcilePayment(ctx context.Context, gateway paymentFetcher, rec paymentReconciler, paymentID string, out io.Writer) error {
	payment, err := gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}
	event, err := mpwebhook.ToPaymentEvent(payment)
	if err != nil {
		return err
	}
	result, err := rec.HandlePaymentEvent(ctx, event)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
