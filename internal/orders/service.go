package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/trademon/trademon-backend/internal/ledger"
	"github.com/trademon/trademon-backend/internal/notifications"
	"github.com/trademon/trademon-backend/pkg/db"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/outbox"
	"github.com/trademon/trademon-backend/pkg/outbox/payloads"
	"github.com/trademon/trademon-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Notifier receives notifications after the transaction that produced them
// has committed.
type Notifier interface {
	Dispatch(ctx context.Context, msgs ...notifications.Message)
}

// Service applies state machine events to orders together with their ledger
// effects, and exposes the buyer/seller/moderator actions.
type Service interface {
	Apply(ctx context.Context, tx *gorm.DB, input ApplyInput) (*ApplyResult, error)
	Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, actor Actor, params ListParams) (*ListResult, error)
	Accept(ctx context.Context, input ActionInput) (*models.Order, error)
	SubmitDelivery(ctx context.Context, input ActionInput) (*models.Order, error)
	ConfirmDelivery(ctx context.Context, input ActionInput) (*models.Order, error)
	OpenDispute(ctx context.Context, input ActionInput) (*models.Order, error)
	Cancel(ctx context.Context, input ActionInput) (*models.Order, error)
	ApproveReview(ctx context.Context, input ActionInput) (*models.Order, error)
	ResolveForSeller(ctx context.Context, input ActionInput) (*models.Order, error)
	Refund(ctx context.Context, input ActionInput) (*models.Order, error)
	ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Actor identifies who is acting on an order.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

func (a Actor) ref() *outbox.ActorRef {
	if a.UserID == uuid.Nil && a.Role == "" {
		return nil
	}
	return &outbox.ActorRef{UserID: a.UserID, Role: string(a.Role)}
}

// ActionInput carries one buyer/seller/moderator action.
type ActionInput struct {
	OrderID uuid.UUID
	Actor   Actor
	Reason  string
}

// ApplyInput describes one event applied to an order already locked in tx.
type ApplyInput struct {
	Order       *models.Order
	Event       enums.OrderEvent
	Actor       Actor
	PaymentID   string
	PlatformFee *int64
}

// ApplyResult is what happened inside the transaction. Notifications must be
// dispatched by the caller after commit.
type ApplyResult struct {
	Step          Step
	Entries       []models.LedgerEntry
	Notifications []notifications.Message
}

// ListParams configures the order listing for one user.
type ListParams struct {
	Limit  int
	Cursor string
	State  string
}

// ListResult wraps a page of orders.
type ListResult struct {
	Items  []models.Order `json:"items"`
	Cursor string         `json:"cursor"`
}

type service struct {
	repo            Repository
	tx              txRunner
	ledger          ledger.Service
	outbox          outbox.Emitter
	notifier        Notifier
	platformAccount uuid.UUID
	logg            *logger.Logger
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx txRunner, ledgerSvc ledger.Service, emitter outbox.Emitter, notifier Notifier, platformAccount uuid.UUID, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if platformAccount == uuid.Nil {
		return nil, fmt.Errorf("platform account required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:            repo,
		tx:              tx,
		ledger:          ledgerSvc,
		outbox:          emitter,
		notifier:        notifier,
		platformAccount: platformAccount,
		logg:            logg,
	}, nil
}

// Apply runs the state machine for input.Event and, when the order moves,
// persists the new state, books the ledger effects of the transition, and
// stores an order_state_changed outbox event, all inside tx.
func (s *service) Apply(ctx context.Context, tx *gorm.DB, input ApplyInput) (*ApplyResult, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	order := input.Order
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}

	step, err := Transition(order.State, input.Event)
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"order_id": order.ID,
			"state":    order.State,
			"event":    input.Event,
			"actor_id": input.Actor.UserID,
		}), "order transition rejected", err)
		return nil, err
	}
	result := &ApplyResult{Step: step}
	if !step.Changed() {
		return result, nil
	}

	repo := s.repo.WithTx(tx)
	if input.Event == enums.OrderEventPaymentApproved {
		if err := s.stampPayment(ctx, repo, order, input); err != nil {
			return nil, err
		}
	}
	if err := repo.UpdateState(ctx, order.ID, step.From, step.To); err != nil {
		return nil, db.StoreError(err, "update order state")
	}
	order.State = step.To

	entries, err := s.bookLedger(ctx, tx, order, step)
	if err != nil {
		return nil, err
	}
	result.Entries = entries

	now := time.Now().UTC()
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStateChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         input.Actor.ref(),
		OccurredAt:    now,
		Data: payloads.OrderStateChangedEvent{
			OrderID:           order.ID,
			BuyerID:           order.BuyerID,
			SellerID:          order.SellerID,
			Event:             step.Event,
			From:              step.From,
			To:                step.To,
			Amount:            order.Amount,
			Currency:          order.Currency,
			PlatformFee:       order.PlatformFee,
			ExternalPaymentID: order.ExternalPaymentID,
			ChangedAt:         now,
		},
	}); err != nil {
		return nil, db.StoreError(err, "emit order_state_changed")
	}
	for _, entry := range entries {
		if err := s.outbox.Emit(ctx, tx, ledgerEntryEvent(entry, input.Actor)); err != nil {
			return nil, db.StoreError(err, "emit ledger_entry_appended")
		}
	}

	result.Notifications = notificationsFor(order, step)
	return result, nil
}

func (s *service) stampPayment(ctx context.Context, repo Repository, order *models.Order, input ApplyInput) error {
	if input.PaymentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id required for payment approval")
	}
	if input.PlatformFee == nil || *input.PlatformFee < 0 || *input.PlatformFee > order.Amount {
		return pkgerrors.New(pkgerrors.CodeValidation, "platform fee out of range")
	}
	stamped, err := repo.StampPayment(ctx, order.ID, input.PaymentID, *input.PlatformFee)
	if err != nil {
		return db.StoreError(err, "stamp order payment")
	}
	if !stamped {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order already bound to another payment").
			WithDetails(map[string]any{"order_id": order.ID})
	}
	paymentID := input.PaymentID
	fee := *input.PlatformFee
	order.ExternalPaymentID = &paymentID
	order.PlatformFee = &fee
	return nil
}

// bookLedger posts the money movements tied to step. Held proceeds are the
// seller's pending entries for the order, so every release or reversal is
// bounded by what was actually credited.
func (s *service) bookLedger(ctx context.Context, tx *gorm.DB, order *models.Order, step Step) ([]models.LedgerEntry, error) {
	ref := ledger.OrderRef(order.ID)
	var entries []models.LedgerEntry
	appendEntry := func(input ledger.AppendInput) error {
		res, err := s.ledger.Append(ctx, tx, input)
		if err != nil {
			return err
		}
		entries = append(entries, res.Entry)
		return nil
	}

	switch {
	case step.Event == enums.OrderEventPaymentApproved:
		credit := order.Amount - *order.PlatformFee
		if credit <= 0 {
			return nil, nil
		}
		err := appendEntry(ledger.AppendInput{
			AccountID:   order.SellerID,
			Bucket:      enums.LedgerBucketPending,
			Amount:      credit,
			Type:        enums.LedgerEntryTypeSaleCredit,
			Status:      enums.LedgerEntryStatusPending,
			Description: fmt.Sprintf("Sale proceeds held for order %s", order.ID),
			Reference:   ref,
		})
		return entries, err

	case step.To == enums.OrderStateCompleted:
		held, err := s.ledger.HeldForReference(ctx, tx, order.SellerID, ref)
		if err != nil {
			return nil, err
		}
		if held <= 0 {
			return nil, nil
		}
		if err := appendEntry(ledger.AppendInput{
			AccountID:   order.SellerID,
			Bucket:      enums.LedgerBucketPending,
			Amount:      -held,
			Type:        enums.LedgerEntryTypeSaleCredit,
			Status:      enums.LedgerEntryStatusSettled,
			Description: fmt.Sprintf("Release held proceeds for order %s", order.ID),
			Reference:   ref,
		}); err != nil {
			return nil, err
		}
		if err := appendEntry(ledger.AppendInput{
			AccountID:   order.SellerID,
			Bucket:      enums.LedgerBucketAvailable,
			Amount:      held,
			Type:        enums.LedgerEntryTypeSaleCredit,
			Status:      enums.LedgerEntryStatusSettled,
			Description: fmt.Sprintf("Proceeds for order %s", order.ID),
			Reference:   ref,
		}); err != nil {
			return nil, err
		}
		if order.PlatformFee != nil && *order.PlatformFee > 0 {
			if err := appendEntry(ledger.AppendInput{
				AccountID:   s.platformAccount,
				Bucket:      enums.LedgerBucketAvailable,
				Amount:      *order.PlatformFee,
				Type:        enums.LedgerEntryTypePlatformFee,
				Status:      enums.LedgerEntryStatusSettled,
				Description: fmt.Sprintf("Platform fee for order %s", order.ID),
				Reference:   ref,
			}); err != nil {
				return nil, err
			}
		}
		return entries, nil

	case step.To == enums.OrderStateCancelled || step.To == enums.OrderStateRefunded:
		held, err := s.ledger.HeldForReference(ctx, tx, order.SellerID, ref)
		if err != nil {
			return nil, err
		}
		if held <= 0 {
			return nil, nil
		}
		err = appendEntry(ledger.AppendInput{
			AccountID:   order.SellerID,
			Bucket:      enums.LedgerBucketPending,
			Amount:      -held,
			Type:        enums.LedgerEntryTypeRefund,
			Status:      enums.LedgerEntryStatusSettled,
			Description: fmt.Sprintf("Reverse held proceeds for order %s", order.ID),
			Reference:   ref,
		})
		return entries, err
	}
	return nil, nil
}

func ledgerEntryEvent(entry models.LedgerEntry, actor Actor) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventLedgerEntryAppended,
		AggregateType: enums.AggregateWallet,
		AggregateID:   entry.AccountID,
		Actor:         actor.ref(),
		Data: payloads.LedgerEntryAppendedEvent{
			EntryID:       entry.ID,
			AccountID:     entry.AccountID,
			Sequence:      entry.Sequence,
			Bucket:        entry.Bucket,
			Amount:        entry.Amount,
			BalanceAfter:  entry.BalanceAfter,
			Type:          entry.Type,
			Status:        entry.Status,
			ReferenceType: entry.ReferenceType,
			ReferenceID:   entry.ReferenceID,
		},
	}
}

func (s *service) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "load order")
	}
	if !actor.Role.CanModerate() && order.BuyerID != actor.UserID && order.SellerID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, actor Actor, params ListParams) (*ListResult, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	query := listOrdersParams{UserID: actor.UserID, Limit: params.Limit}
	if params.State != "" {
		state, err := enums.ParseOrderState(params.State)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid state filter")
		}
		query.State = &state
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.ListForUser(ctx, query)
	if err != nil {
		return nil, db.StoreError(err, "list orders")
	}
	result := &ListResult{Items: rows}
	if result.Items == nil {
		result.Items = []models.Order{}
	}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

type authorizer func(order *models.Order, actor Actor) error

func sellerOnly(order *models.Order, actor Actor) error {
	if order.SellerID != actor.UserID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the seller may perform this action")
	}
	return nil
}

func buyerOnly(order *models.Order, actor Actor) error {
	if order.BuyerID != actor.UserID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer may perform this action")
	}
	return nil
}

func moderatorOnly(_ *models.Order, actor Actor) error {
	if !actor.Role.CanModerate() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "moderator role required")
	}
	return nil
}

func participantOrModerator(order *models.Order, actor Actor) error {
	if actor.Role.CanModerate() || order.BuyerID == actor.UserID || order.SellerID == actor.UserID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this order")
}

// cancelPolicy lets the buyer withdraw before paying and the seller decline
// before delivering; anything later needs a moderator.
func cancelPolicy(order *models.Order, actor Actor) error {
	switch {
	case actor.Role.CanModerate():
		return nil
	case order.BuyerID == actor.UserID && order.State == enums.OrderStatePendingPayment:
		return nil
	case order.SellerID == actor.UserID &&
		(order.State == enums.OrderStateAwaitingSeller || order.State == enums.OrderStateSellerAccepted):
		return nil
	case order.BuyerID == actor.UserID || order.SellerID == actor.UserID:
		return pkgerrors.New(pkgerrors.CodeForbidden, "cancellation at this stage requires a moderator")
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this order")
}

func (s *service) Accept(ctx context.Context, input ActionInput) (*models.Order, error) {
	return s.act(ctx, input, enums.OrderEventSellerAccepted, sellerOnly)
}

func (s *service) SubmitDelivery(ctx context.Context, input ActionInput) (*models.Order, error) {
	return s.act(ctx, input, enums.OrderEventDeliverySubmitted, sellerOnly)
}

func (s *service) ConfirmDelivery(ctx context.Context, input ActionInput) (*models.Order, error) {
	return s.act(ctx, input, enums.OrderEventDeliveryConfirmed, buyerOnly)
}

func (s *service) OpenDispute(ctx context.Context, input ActionInput) (*models.Order, error) {
	return s.act(ctx, input, enums.OrderEventDisputeOpened, participantOrModerator)
}

func (s *service) Cancel(ctx context.Context, input ActionInput) (*models.Order, error) {
	return s.act(ctx, input, enums.OrderEventCancel, cancelPolicy)
}

func (s *service) ApproveReview(ctx context.Context, input ActionInput) (*models.Order, error) {
	return s.act(ctx, input, enums.OrderEventReviewApproved, moderatorOnly)
}

func (s *service) ResolveForSeller(ctx context.Context, input ActionInput) (*models.Order, error) {
	return s.act(ctx, input, enums.OrderEventDisputeResolvedSeller, moderatorOnly)
}

func (s *service) Refund(ctx context.Context, input ActionInput) (*models.Order, error) {
	return s.act(ctx, input, enums.OrderEventRefund, moderatorOnly)
}

func (s *service) act(ctx context.Context, input ActionInput, event enums.OrderEvent, authorize authorizer) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var (
		order  *models.Order
		result *ApplyResult
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.repo.WithTx(tx).FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			return notFoundOr(err, "lock order")
		}
		if err := authorize(order, input.Actor); err != nil {
			return err
		}
		result, err = s.Apply(ctx, tx, ApplyInput{Order: order, Event: event, Actor: input.Actor})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":   order.ID,
		"event":      event,
		"from_state": result.Step.From,
		"to_state":   result.Step.To,
		"step":       result.Step.Kind.String(),
		"actor_id":   input.Actor.UserID,
	}), "order action applied")
	if len(result.Notifications) > 0 {
		s.notifier.Dispatch(ctx, result.Notifications...)
	}
	return order, nil
}

// ExpireStale cancels orders still awaiting payment before cutoff. Each order
// is handled in its own transaction; failures are collected and the rest of
// the batch continues.
func (s *service) ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.repo.ListStalePending(ctx, cutoff, pagination.NormalizeLimit(limit))
	if err != nil {
		return 0, db.StoreError(err, "list stale orders")
	}

	var (
		expired int
		errs    error
	)
	for _, candidate := range stale {
		var result *ApplyResult
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			order, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if order.State != enums.OrderStatePendingPayment {
				return nil
			}
			result, err = s.Apply(ctx, tx, ApplyInput{
				Order: order,
				Event: enums.OrderEventCancel,
				Actor: Actor{Role: enums.UserRoleAdmin},
			})
			return err
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", candidate.ID, err))
			continue
		}
		if result != nil && result.Step.Changed() {
			expired++
			s.notifier.Dispatch(ctx, result.Notifications...)
		}
	}
	return expired, errs
}

func notFoundOr(err error, action string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return db.StoreError(err, action)
}
