package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/trademon/trademon-backend/api/responses"
	"github.com/trademon/trademon-backend/internal/reconciliation"
	mpwebhook "github.com/trademon/trademon-backend/internal/webhooks/mercadopago"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
	"github.com/trademon/trademon-backend/pkg/logger"
)

const (
	providerMercadoPago    = "mercadopago"
	maxWebhookBodyBytes    = 64 << 10
	defaultWebhookDeadline = 10 * time.Second
)

type MercadoPagoWebhookService interface {
	Handle(ctx context.Context, n *mpwebhook.Notification) (*reconciliation.Result, error)
}

type statusObserver interface {
	ObserveStatus(provider string, status int)
}

type ignoredResponse struct {
	Outcome string `json:"outcome"`
}

// MercadoPagoWebhook authenticates a gateway notification and waits for the
// reconciliation transaction before answering. Anything other than 200 makes
// the gateway redeliver, which the idempotency guard absorbs.
func MercadoPagoWebhook(svc MercadoPagoWebhookService, observer statusObserver, timeout time.Duration, logg *logger.Logger) http.HandlerFunc {
	if timeout <= 0 {
		timeout = defaultWebhookDeadline
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := http.StatusOK
		defer func() {
			if observer != nil {
				observer.ObserveStatus(providerMercadoPago, status)
			}
		}()
		fail := func(err error) {
			status = statusOf(err)
			responses.WriteError(ctx, logg, w, err)
		}

		if svc == nil {
			fail(pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				fail(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "webhook body too large"))
				return
			}
			fail(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		notification, err := mpwebhook.ParseNotification(body, r.URL.Query(), r.Header.Get("x-signature"), r.Header.Get("x-request-id"))
		if err != nil {
			fail(err)
			return
		}

		handleCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		result, err := svc.Handle(handleCtx, notification)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(handleCtx.Err(), context.DeadlineExceeded) {
				err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconciliation timed out")
			}
			fail(err)
			return
		}

		if result == nil {
			responses.WriteSuccess(w, ignoredResponse{Outcome: "ignored"})
			return
		}
		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"payment_id": result.ExternalPaymentID,
				"outcome":    result.Outcome,
			}), "mercadopago webhook reconciled")
		}
		responses.WriteSuccess(w, result)
	}
}

func statusOf(err error) int {
	typed := pkgerrors.As(err)
	if typed == nil {
		return http.StatusInternalServerError
	}
	return pkgerrors.MetadataFor(typed.Code()).HTTPStatus
}
