package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trademon/trademon-backend/api/controllers"
	ordercontrollers "github.com/trademon/trademon-backend/api/controllers/orders"
	webhookcontrollers "github.com/trademon/trademon-backend/api/controllers/webhooks"
	"github.com/trademon/trademon-backend/api/middleware"
	checkoutsvc "github.com/trademon/trademon-backend/internal/checkout"
	"github.com/trademon/trademon-backend/internal/ledger"
	"github.com/trademon/trademon-backend/internal/notifications"
	"github.com/trademon/trademon-backend/internal/orders"
	"github.com/trademon/trademon-backend/internal/withdrawals"
	"github.com/trademon/trademon-backend/pkg/config"
	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/logger"
	pkgredis "github.com/trademon/trademon-backend/pkg/redis"
)

const webhookRateLimitWindow = time.Minute

// Store is the Redis surface the HTTP layer needs for idempotency and rate
// limiting.
type Store interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// Dependencies is everything NewRouter wires into handlers. Nil services make
// their routes answer 500 rather than panic.
type Dependencies struct {
	Pingers       map[string]controllers.Pinger
	Store         Store
	Gatherer      prometheus.Gatherer
	Ledger        ledger.Service
	Withdrawals   withdrawals.Service
	Orders        orders.Service
	Checkout      checkoutsvc.Service
	Notifications notifications.Service
	Hub           *notifications.Hub
	Webhook       webhookcontrollers.MercadoPagoWebhookService
	WebhookStatus webhookStatusObserver
}

type webhookStatusObserver interface {
	ObserveStatus(provider string, status int)
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.Pingers, logg))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	webhookPolicy := middleware.NewRateLimitPolicy("webhook", webhookRateLimitWindow, cfg.MercadoPago.WebhookRateLimit)
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit(webhookPolicy, deps.Store, logg))
		r.Post("/mercadopago", webhookcontrollers.MercadoPagoWebhook(deps.Webhook, deps.WebhookStatus, cfg.Reconciliation.Timeout, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth, logg))
		r.Use(middleware.Idempotency(deps.Store, logg))

		r.Post("/checkout", controllers.Checkout(deps.Checkout, logg))

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", controllers.WalletBalance(deps.Ledger, logg))
			r.Get("/entries", controllers.WalletEntries(deps.Ledger, logg))
			r.Get("/withdrawals", controllers.ListMyWithdrawals(deps.Withdrawals, logg))
			r.Post("/withdrawals", controllers.RequestWithdrawal(deps.Withdrawals, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(deps.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
			r.Post("/{orderId}/{action}", ordercontrollers.Act(deps.Orders, ordercontrollers.ParticipantActions, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
		})

		r.Get("/ws", controllers.Realtime(realtimeHub(deps.Hub), logg))

		r.Route("/moderation", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.UserRoleModerator, enums.UserRoleAdmin))
			r.Post("/orders/{orderId}/{action}", ordercontrollers.Act(deps.Orders, ordercontrollers.ModeratorActions, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
			r.Get("/wallets/{accountId}", controllers.AdminWalletBalance(deps.Ledger, logg))
			r.Get("/wallets/{accountId}/entries", controllers.AdminWalletEntries(deps.Ledger, logg))
			r.Get("/withdrawals", controllers.AdminListWithdrawals(deps.Withdrawals, logg))
			r.Post("/withdrawals/{withdrawalId}/complete", controllers.CompleteWithdrawal(deps.Withdrawals, logg))
			r.Post("/withdrawals/{withdrawalId}/reject", controllers.RejectWithdrawal(deps.Withdrawals, logg))
		})
	})

	return r
}

// realtimeHub keeps a nil *Hub from turning into a non-nil interface.
func realtimeHub(h *notifications.Hub) controllers.RealtimeServer {
	if h == nil {
		return nil
	}
	return h
}
