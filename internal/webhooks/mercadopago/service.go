package mpwebhook

import (
	"context"
	"strings"
	"time"

	"github.com/trademon/trademon-backend/internal/reconciliation"
	"github.com/trademon/trademon-backend/pkg/enums"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/mercadopago"
)

type paymentFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*mercadopago.Payment, error)
}

type reconciler interface {
	HandlePaymentEvent(ctx context.Context, event reconciliation.PaymentEvent) (*reconciliation.Result, error)
}

// Config holds the webhook authentication settings.
type Config struct {
	Secret string
	MaxAge time.Duration
}

// Service turns authenticated gateway notifications into reconciliation input.
type Service struct {
	gateway    paymentFetcher
	reconciler reconciler
	cfg        Config
	logg       *logger.Logger
	now        func() time.Time
}

// NewService wires the webhook service.
func NewService(gateway paymentFetcher, rec reconciler, cfg Config, logg *logger.Logger) (*Service, error) {
	if gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if rec == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service required")
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook secret required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		gateway:    gateway,
		reconciler: rec,
		cfg:        cfg,
		logg:       logg,
		now:        time.Now,
	}, nil
}

// Handle authenticates n and, for payment notifications, reconciles the
// gateway's authoritative payment record. A nil result with a nil error means
// the notification was authentic but not about a payment.
func (s *Service) Handle(ctx context.Context, n *Notification) (*reconciliation.Result, error) {
	if n == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification required")
	}
	if err := mercadopago.VerifySignature(s.cfg.Secret, mercadopago.SignatureInput{
		Header:    n.Signature,
		RequestID: n.RequestID,
		DataID:    n.DataID,
	}, s.cfg.MaxAge, s.now()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid webhook signature")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"topic":      n.Topic,
		"payment_id": n.DataID,
	})
	if !n.IsPayment() {
		s.logg.Debug(ctx, "ignoring non-payment notification")
		return nil, nil
	}

	payment, err := s.gateway.GetPayment(ctx, n.DataID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment detail unavailable")
		}
		return nil, err
	}

	event, err := ToPaymentEvent(payment)
	if err != nil {
		return nil, err
	}
	return s.reconciler.HandlePaymentEvent(ctx, event)
}

// ToPaymentEvent validates the payment record and builds the reconciliation input.
func ToPaymentEvent(payment *mercadopago.Payment) (reconciliation.PaymentEvent, error) {
	if payment == nil || strings.TrimSpace(payment.ID) == "" {
		return reconciliation.PaymentEvent{}, pkgerrors.New(pkgerrors.CodeValidation, "payment detail missing id")
	}
	if strings.TrimSpace(payment.Status) == "" {
		return reconciliation.PaymentEvent{}, pkgerrors.New(pkgerrors.CodeValidation, "payment detail missing status")
	}

	exponent := enums.CurrencyBRL.MinorUnitExponent()
	if payment.CurrencyID != "" {
		currency, err := enums.ParseCurrency(strings.ToUpper(payment.CurrencyID))
		if err != nil {
			return reconciliation.PaymentEvent{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported payment currency")
		}
		exponent = currency.MinorUnitExponent()
	}
	if payment.Amount.IsNegative() {
		return reconciliation.PaymentEvent{}, pkgerrors.New(pkgerrors.CodeValidation, "negative payment amount")
	}
	amount, err := mercadopago.ToMinorUnits(payment.Amount, exponent)
	if err != nil {
		return reconciliation.PaymentEvent{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment amount")
	}

	return reconciliation.PaymentEvent{
		ExternalPaymentID: payment.ID,
		OrderReference:    strings.TrimSpace(payment.ExternalReference),
		Status:            NormalizeStatus(payment.Status),
		RawStatus:         payment.Status,
		Amount:            amount,
	}, nil
}

// NormalizeStatus maps gateway statuses onto the statuses reconciliation
// understands. Refunds, chargebacks and mediations are not handled here and
// surface as unsupported so an operator looks at them.
func NormalizeStatus(raw string) enums.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved":
		return enums.PaymentStatusApproved
	case "pending", "in_process", "authorized":
		return enums.PaymentStatusPending
	case "rejected":
		return enums.PaymentStatusRejected
	case "cancelled":
		return enums.PaymentStatusCancelled
	default:
		return enums.PaymentStatusUnsupported
	}
}
