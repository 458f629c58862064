package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
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

// Notifier receives notifications once the settling transaction committed.
type Notifier interface {
	Dispatch(ctx context.Context, msgs ...notifications.Message)
}

// Service moves withdrawal requests through requested -> paid | rejected and
// books the matching ledger entries.
type Service interface {
	Request(ctx context.Context, accountID uuid.UUID, amount int64) (*models.WithdrawalRequest, error)
	Complete(ctx context.Context, input SettleInput) (*models.WithdrawalRequest, error)
	Reject(ctx context.Context, input SettleInput) (*models.WithdrawalRequest, error)
	Get(ctx context.Context, accountID, id uuid.UUID) (*models.WithdrawalRequest, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

// SettleInput is an admin decision on one request.
type SettleInput struct {
	WithdrawalID uuid.UUID
	AdminID      uuid.UUID
	Note         string
}

// ListParams filters withdrawals. AccountID nil lists every account.
type ListParams struct {
	AccountID *uuid.UUID
	Status    string
	Limit     int
	Cursor    string
}

// ListResult wraps a page of withdrawal requests.
type ListResult struct {
	Items  []models.WithdrawalRequest `json:"items"`
	Cursor string                     `json:"cursor"`
}

type service struct {
	repo     Repository
	tx       txRunner
	ledger   ledger.Service
	outbox   outbox.Emitter
	notifier Notifier
	logg     *logger.Logger
	now      func() time.Time
}

// NewService wires the withdrawal service.
func NewService(repo Repository, tx txRunner, ledgerSvc ledger.Service, emitter outbox.Emitter, notifier Notifier, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("withdrawals repository required")
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
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		ledger:   ledgerSvc,
		outbox:   emitter,
		notifier: notifier,
		logg:     logg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Request reserves amount from the available bucket. The debit and the
// request row share one transaction, so an overdraft leaves nothing behind.
func (s *service) Request(ctx context.Context, accountID uuid.UUID, amount int64) (*models.WithdrawalRequest, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "account identity missing")
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal amount must be positive")
	}

	req := &models.WithdrawalRequest{
		ID:        uuid.New(),
		AccountID: accountID,
		Amount:    amount,
		Status:    enums.WithdrawalStatusRequested,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, req); err != nil {
			return db.StoreError(err, "create withdrawal request")
		}
		ref := ledger.WithdrawalRef(req.ID)
		if _, err := s.ledger.Append(ctx, tx, ledger.AppendInput{
			AccountID:   accountID,
			Bucket:      enums.LedgerBucketAvailable,
			Amount:      -amount,
			Type:        enums.LedgerEntryTypeWithdrawal,
			Status:      enums.LedgerEntryStatusPending,
			Description: "withdrawal requested",
			Reference:   ref,
		}); err != nil {
			return err
		}
		if _, err := s.ledger.Append(ctx, tx, ledger.AppendInput{
			AccountID:   accountID,
			Bucket:      enums.LedgerBucketPending,
			Amount:      amount,
			Type:        enums.LedgerEntryTypeWithdrawal,
			Status:      enums.LedgerEntryStatusPending,
			Description: "withdrawal reserved",
			Reference:   ref,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWithdrawalRequested,
			AggregateType: enums.AggregateWithdrawal,
			AggregateID:   req.ID,
			Actor:         &outbox.ActorRef{UserID: accountID, Role: string(enums.UserRoleUser)},
			Data: payloads.WithdrawalRequestedEvent{
				WithdrawalID: req.ID,
				AccountID:    accountID,
				Amount:       amount,
				RequestedAt:  req.CreatedAt,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"withdrawal_id": req.ID.String(),
		"account_id":    accountID.String(),
		"amount":        amount,
	})
	s.logg.Info(ctx, "withdrawal requested")
	return req, nil
}

// Complete records that the payout was sent and releases the reservation.
func (s *service) Complete(ctx context.Context, input SettleInput) (*models.WithdrawalRequest, error) {
	return s.settle(ctx, input, enums.WithdrawalStatusPaid)
}

// Reject returns the reserved amount to the available bucket.
func (s *service) Reject(ctx context.Context, input SettleInput) (*models.WithdrawalRequest, error) {
	return s.settle(ctx, input, enums.WithdrawalStatusRejected)
}

func (s *service) settle(ctx context.Context, input SettleInput, to enums.WithdrawalStatus) (*models.WithdrawalRequest, error) {
	if input.WithdrawalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal id required")
	}
	if input.AdminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity missing")
	}
	var note *string
	if trimmed := strings.TrimSpace(input.Note); trimmed != "" {
		note = &trimmed
	}

	var settled *models.WithdrawalRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		req, err := repo.FindByIDForUpdate(ctx, input.WithdrawalID)
		if err != nil {
			return notFoundOr(err, "lock withdrawal request")
		}
		if req.Status != enums.WithdrawalStatusRequested {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "withdrawal already settled").WithDetails(map[string]any{
				"status": req.Status,
				"target": to,
			})
		}

		ref := ledger.WithdrawalRef(req.ID)
		held, err := s.ledger.HeldForReference(ctx, tx, req.AccountID, ref)
		if err != nil {
			return err
		}
		if held != req.Amount {
			return pkgerrors.New(pkgerrors.CodeInternal, "withdrawal reservation does not match request").WithDetails(map[string]any{
				"held":   held,
				"amount": req.Amount,
			})
		}

		entryStatus := enums.LedgerEntryStatusSettled
		if to == enums.WithdrawalStatusRejected {
			entryStatus = enums.LedgerEntryStatusFailed
		}
		if _, err := s.ledger.Append(ctx, tx, ledger.AppendInput{
			AccountID:   req.AccountID,
			Bucket:      enums.LedgerBucketPending,
			Amount:      -req.Amount,
			Type:        enums.LedgerEntryTypeWithdrawal,
			Status:      entryStatus,
			Description: "withdrawal " + string(to),
			Reference:   ref,
		}); err != nil {
			return err
		}
		if to == enums.WithdrawalStatusRejected {
			if _, err := s.ledger.Append(ctx, tx, ledger.AppendInput{
				AccountID:   req.AccountID,
				Bucket:      enums.LedgerBucketAvailable,
				Amount:      req.Amount,
				Type:        enums.LedgerEntryTypeWithdrawal,
				Status:      enums.LedgerEntryStatusFailed,
				Description: "withdrawal rejected, funds returned",
				Reference:   ref,
			}); err != nil {
				return err
			}
		}

		now := s.now()
		if err := repo.Settle(ctx, req.ID, to, input.AdminID, now, note); err != nil {
			return db.StoreError(err, "settle withdrawal request")
		}
		req.Status = to
		req.ProcessedBy = &input.AdminID
		req.ProcessedAt = &now
		if note != nil {
			req.Note = note
		}
		settled = req

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWithdrawalSettled,
			AggregateType: enums.AggregateWithdrawal,
			AggregateID:   req.ID,
			Actor:         &outbox.ActorRef{UserID: input.AdminID, Role: string(enums.UserRoleAdmin)},
			Data:          settledEvent(req),
			Version:       1,
		})
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"withdrawal_id": settled.ID.String(),
		"account_id":    settled.AccountID.String(),
		"status":        string(to),
	})
	s.logg.Info(ctx, "withdrawal settled")
	s.notifier.Dispatch(ctx, notifications.WithdrawalSettled(settledEvent(settled)))
	return settled, nil
}

func settledEvent(req *models.WithdrawalRequest) payloads.WithdrawalSettledEvent {
	event := payloads.WithdrawalSettledEvent{
		WithdrawalID: req.ID,
		AccountID:    req.AccountID,
		Amount:       req.Amount,
		Status:       req.Status,
	}
	if req.ProcessedBy != nil {
		event.ProcessedBy = *req.ProcessedBy
	}
	if req.ProcessedAt != nil {
		event.ProcessedAt = *req.ProcessedAt
	}
	return event
}

// Get returns one of the account's own requests.
func (s *service) Get(ctx context.Context, accountID, id uuid.UUID) (*models.WithdrawalRequest, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal id required")
	}
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "load withdrawal request")
	}
	if req.AccountID != accountID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal not found")
	}
	return req, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	query := listParams{AccountID: params.AccountID, Limit: params.Limit}
	if params.Status != "" {
		status, err := enums.ParseWithdrawalStatus(params.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		query.Status = &status
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, db.StoreError(err, "list withdrawals")
	}
	result := &ListResult{Items: rows}
	if result.Items == nil {
		result.Items = []models.WithdrawalRequest{}
	}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func notFoundOr(err error, action string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal not found")
	}
	return db.StoreError(err, action)
}
