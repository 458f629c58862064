package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/trademon/trademon-backend/internal/notifications"
	"github.com/trademon/trademon-backend/internal/orders"
	"github.com/trademon/trademon-backend/internal/payments"
	"github.com/trademon/trademon-backend/pkg/db"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/metrics"
	"github.com/trademon/trademon-backend/pkg/outbox"
	"github.com/trademon/trademon-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderLocker interface {
	WithTx(tx *gorm.DB) orders.Repository
}

// PaymentEvent is a verified, normalized payment notification. Amount is in
// minor units and comes from the gateway's authoritative payment record.
type PaymentEvent struct {
	ExternalPaymentID string
	OrderReference    string
	Status            enums.PaymentStatus
	RawStatus         string
	Amount            int64
}

// Result describes what one reconciliation did.
type Result struct {
	Outcome           enums.ReconciliationOutcome `json:"outcome"`
	ExternalPaymentID string                      `json:"payment_id"`
	OrderID           *uuid.UUID                  `json:"order_id,omitempty"`
	FromState         enums.OrderState            `json:"from_state,omitempty"`
	ToState           enums.OrderState            `json:"to_state,omitempty"`
	LedgerEntries     int                         `json:"ledger_entries"`
}

// Service reconciles external payment notifications with orders and the
// ledger exactly once.
type Service interface {
	HandlePaymentEvent(ctx context.Context, event PaymentEvent) (*Result, error)
	PlatformFee(amount int64) int64
}

// Config bundles the tunables of the service.
type Config struct {
	MaxRetries uint64
	BaseDelay  time.Duration
}

type service struct {
	tx       txRunner
	guard    payments.Guard
	orders   orderLocker
	machine  orders.Service
	outbox   outbox.Emitter
	notifier orders.Notifier
	fees     *FeeSchedule
	metrics  *metrics.ReconciliationMetrics
	logg     *logger.Logger
	cfg      Config
}

// NewService wires the reconciliation service.
func NewService(
	tx txRunner,
	guard payments.Guard,
	orderRepo orderLocker,
	machine orders.Service,
	emitter outbox.Emitter,
	notifier orders.Notifier,
	fees *FeeSchedule,
	m *metrics.ReconciliationMetrics,
	logg *logger.Logger,
	cfg Config,
) (Service, error) {
	switch {
	case tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case guard == nil:
		return nil, fmt.Errorf("idempotency guard required")
	case orderRepo == nil:
		return nil, fmt.Errorf("orders repository required")
	case machine == nil:
		return nil, fmt.Errorf("orders service required")
	case emitter == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case fees == nil:
		return nil, fmt.Errorf("fee schedule required")
	case logg == nil:
		return nil, fmt.Errorf("logger required")
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 50 * time.Millisecond
	}
	return &service{
		tx:       tx,
		guard:    guard,
		orders:   orderRepo,
		machine:  machine,
		outbox:   emitter,
		notifier: notifier,
		fees:     fees,
		metrics:  m,
		logg:     logg,
		cfg:      cfg,
	}, nil
}

func (s *service) PlatformFee(amount int64) int64 {
	return s.fees.PlatformFee(amount)
}

// unit is the state of one attempt; a retry starts from a fresh unit.
type unit struct {
	result *Result
	notify []notifications.Message
}

// HandlePaymentEvent admits the payment through the idempotency guard, moves
// the order, and books the ledger in a single transaction. Transient store
// failures roll the whole unit back and retry it. Notifications are handed to
// the dispatcher only after commit.
func (s *service) HandlePaymentEvent(ctx context.Context, event PaymentEvent) (*Result, error) {
	started := time.Now()
	event.ExternalPaymentID = strings.TrimSpace(event.ExternalPaymentID)
	event.OrderReference = strings.TrimSpace(event.OrderReference)
	if event.ExternalPaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external payment id required")
	}
	if !event.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment status %q", event.Status))
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"payment_id":      event.ExternalPaymentID,
		"order_reference": event.OrderReference,
		"payment_status":  event.Status,
		"amount":          event.Amount,
	})

	var (
		u   unit
		err error
	)
	switch event.Status {
	case enums.PaymentStatusPending:
		u.result = &Result{Outcome: enums.OutcomePending, ExternalPaymentID: event.ExternalPaymentID}
	case enums.PaymentStatusUnsupported:
		u.result = &Result{Outcome: enums.OutcomeUnsupported, ExternalPaymentID: event.ExternalPaymentID}
		u.notify = []notifications.Message{notifications.AdminAlert(
			"Unsupported payment status",
			fmt.Sprintf("Payment %s reported status %q, which is not reconciled automatically.", event.ExternalPaymentID, event.RawStatus),
			fmt.Sprintf("unsupported_payment:%s:%s", event.ExternalPaymentID, event.RawStatus),
		)}
	default:
		u, err = s.reconcileWithRetry(logCtx, event)
	}
	if err != nil {
		s.metrics.ObserveFailure(time.Since(started))
		s.logg.Error(logCtx, "payment reconciliation failed", err)
		return nil, err
	}

	fields := map[string]any{
		"outcome":        u.result.Outcome,
		"ledger_entries": u.result.LedgerEntries,
	}
	if u.result.OrderID != nil {
		fields["order_id"] = *u.result.OrderID
		fields["from_state"] = u.result.FromState
		fields["to_state"] = u.result.ToState
	}
	s.logg.Info(s.logg.WithFields(logCtx, fields), "payment reconciled")
	s.metrics.Observe(u.result.Outcome, time.Since(started))

	if len(u.notify) > 0 {
		s.notifier.Dispatch(ctx, u.notify...)
	}
	return u.result, nil
}

func (s *service) reconcileWithRetry(ctx context.Context, event PaymentEvent) (unit, error) {
	backoff := retry.WithMaxRetries(s.cfg.MaxRetries, retry.NewExponential(s.cfg.BaseDelay))
	var (
		out     unit
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.metrics.IncRetry()
			s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "retrying payment reconciliation")
		}
		var u unit
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			u, err = s.reconcile(ctx, tx, event)
			return err
		})
		if err != nil {
			err = db.StoreError(err, "reconcile payment")
			if pkgerrors.HasCode(err, pkgerrors.CodeStoreUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		out = u
		return nil
	})
	return out, err
}

// reconcile is one attempt of the atomic unit.
func (s *service) reconcile(ctx context.Context, tx *gorm.DB, event PaymentEvent) (unit, error) {
	result := &Result{ExternalPaymentID: event.ExternalPaymentID}
	u := unit{result: result}

	admitted, err := s.guard.Admit(ctx, tx, payments.AdmitInput{
		ExternalPaymentID: event.ExternalPaymentID,
		OrderReference:    event.OrderReference,
		Status:            event.Status,
		Amount:            event.Amount,
	})
	if err != nil {
		return u, err
	}
	if !admitted {
		result.Outcome = enums.OutcomeDuplicate
		return u, nil
	}

	order, err := s.lockOrder(ctx, tx, event.OrderReference)
	if err != nil {
		return u, err
	}
	if order == nil {
		result.Outcome = enums.OutcomeUnknownOrder
		u.notify = append(u.notify, notifications.AdminAlert(
			"Payment for unknown order",
			fmt.Sprintf("Payment %s references order %q, which does not exist.", event.ExternalPaymentID, event.OrderReference),
			"unknown_order:"+event.ExternalPaymentID,
		))
		return u, s.finish(ctx, tx, event, nil, result)
	}

	orderID := order.ID
	result.OrderID = &orderID
	result.FromState = order.State
	result.ToState = order.State
	orderAmount := order.Amount

	// Applies to every decisive status, not only approvals.
	if event.Amount != order.Amount {
		result.Outcome = enums.OutcomeAmountMismatch
		if orders.Evaluate(order.State, enums.OrderEventAmountMismatch).Changed() {
			applied, err := s.machine.Apply(ctx, tx, orders.ApplyInput{Order: order, Event: enums.OrderEventAmountMismatch})
			if err != nil {
				return u, err
			}
			result.ToState = applied.Step.To
			u.notify = append(u.notify, applied.Notifications...)
		}
		u.notify = append(u.notify, notifications.AdminAlert(
			"Payment amount mismatch",
			fmt.Sprintf("Payment %s reported %d but order %s records %d.", event.ExternalPaymentID, event.Amount, order.ID, order.Amount),
			"amount_mismatch:"+event.ExternalPaymentID,
		))
		return u, s.finish(ctx, tx, event, &orderAmount, result)
	}

	switch event.Status {
	case enums.PaymentStatusRejected:
		if order.State != enums.OrderStatePendingPayment {
			s.rejectForState(ctx, &u, event, order, "")
			return u, s.finish(ctx, tx, event, &orderAmount, result)
		}
		result.Outcome = enums.OutcomeApplied
		u.notify = append(u.notify, notifications.Message{
			UserID:   order.BuyerID,
			Audience: enums.NotificationAudienceUser,
			Type:     enums.NotificationTypePaymentRejected,
			Title:    "Payment rejected",
			Body:     "Your payment was rejected. You can try again with another payment method.",
			Link:     "/orders/" + order.ID.String(),
			DedupKey: fmt.Sprintf("payment:%s:rejected", event.ExternalPaymentID),
		})
		return u, s.finish(ctx, tx, event, &orderAmount, result)

	case enums.PaymentStatusApproved, enums.PaymentStatusCancelled:
		orderEvent := enums.OrderEventPaymentApproved
		if event.Status == enums.PaymentStatusCancelled {
			orderEvent = enums.OrderEventPaymentCancelled
		}
		step := orders.Evaluate(order.State, orderEvent)
		secondPayment := step.Kind == orders.StepAlreadyInState &&
			orderEvent == enums.OrderEventPaymentApproved &&
			(order.ExternalPaymentID == nil || *order.ExternalPaymentID != event.ExternalPaymentID)
		if step.Kind == orders.StepInvalid || secondPayment {
			s.rejectForState(ctx, &u, event, order, orderEvent)
			return u, s.finish(ctx, tx, event, &orderAmount, result)
		}

		input := orders.ApplyInput{Order: order, Event: orderEvent}
		if orderEvent == enums.OrderEventPaymentApproved {
			fee := s.fees.PlatformFee(order.Amount)
			input.PaymentID = event.ExternalPaymentID
			input.PlatformFee = &fee
		}
		applied, err := s.machine.Apply(ctx, tx, input)
		if err != nil {
			return u, err
		}
		result.Outcome = enums.OutcomeApplied
		result.ToState = applied.Step.To
		result.LedgerEntries = len(applied.Entries)
		u.notify = append(u.notify, applied.Notifications...)
		return u, s.finish(ctx, tx, event, &orderAmount, result)
	}
	return u, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("status %q is not reconcilable", event.Status))
}

// rejectForState marks a payment that does not fit the order's current state.
// The order is left untouched and an admin is alerted.
func (s *service) rejectForState(ctx context.Context, u *unit, event PaymentEvent, order *models.Order, orderEvent enums.OrderEvent) {
	u.result.Outcome = enums.OutcomeRejected
	fields := map[string]any{
		"order_id":    order.ID,
		"order_state": order.State,
	}
	if orderEvent != "" {
		fields["event"] = orderEvent
	}
	s.logg.Error(s.logg.WithFields(ctx, fields), "payment event rejected by order state machine",
		pkgerrors.New(pkgerrors.CodeInvalidTransition, "payment event does not fit order state"))
	u.notify = append(u.notify, notifications.AdminAlert(
		"Payment rejected by order state",
		fmt.Sprintf("Payment %s (%s) arrived for order %s in state %s.", event.ExternalPaymentID, event.Status, order.ID, order.State),
		"rejected_transition:"+event.ExternalPaymentID,
	))
}

// lockOrder returns nil when the reference does not name an existing order.
func (s *service) lockOrder(ctx context.Context, tx *gorm.DB, reference string) (*models.Order, error) {
	id, err := uuid.Parse(reference)
	if err != nil {
		return nil, nil
	}
	order, err := s.orders.WithTx(tx).FindByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

// finish records the outcome on the idempotency record and stores the audit
// event in the same transaction.
func (s *service) finish(ctx context.Context, tx *gorm.DB, event PaymentEvent, orderAmount *int64, result *Result) error {
	if err := s.guard.RecordOutcome(ctx, tx, event.ExternalPaymentID, result.Outcome); err != nil {
		return err
	}
	audit := payloads.PaymentReconciledEvent{
		ExternalPaymentID: event.ExternalPaymentID,
		OrderReference:    event.OrderReference,
		Status:            event.Status,
		Outcome:           result.Outcome,
		ObservedAmount:    event.Amount,
		OrderAmount:       orderAmount,
		ReconciledAt:      time.Now().UTC(),
	}
	aggregateID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("payment:"+event.ExternalPaymentID))
	if result.OrderID != nil {
		from, to := result.FromState, result.ToState
		audit.FromState = &from
		audit.ToState = &to
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentReconciled,
		AggregateType: enums.AggregatePayment,
		AggregateID:   aggregateID,
		Data:          audit,
	})
}
