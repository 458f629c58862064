package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trademon/trademon-backend/pkg/db"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
)

const uniqueExternalPaymentID = "ux_payment_events_external_payment_id"

// AdmitInput is the idempotency record written for one payment notification.
type AdmitInput struct {
	ExternalPaymentID string
	OrderReference    string
	Status            enums.PaymentStatus
	Amount            int64
}

// RetryPolicy bounds AdmitWithRetry.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
}

// Guard admits each external payment id at most once.
type Guard interface {
	Admit(ctx context.Context, tx *gorm.DB, input AdmitInput) (bool, error)
	AdmitWithRetry(ctx context.Context, input AdmitInput) (bool, error)
	RecordOutcome(ctx context.Context, tx *gorm.DB, externalPaymentID string, outcome enums.ReconciliationOutcome) error
	Find(ctx context.Context, externalPaymentID string) (*models.PaymentEvent, error)
}

type guard struct {
	db     *gorm.DB
	policy RetryPolicy
}

// NewGuard binds the guard to the payment_events table.
func NewGuard(conn *gorm.DB, policy RetryPolicy) (Guard, error) {
	if conn == nil {
		return nil, fmt.Errorf("database required")
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 50 * time.Millisecond
	}
	return &guard{db: conn, policy: policy}, nil
}

func validateAdmit(input AdmitInput) error {
	switch {
	case strings.TrimSpace(input.ExternalPaymentID) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "external payment id required")
	case !input.Status.IsDecisive():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("status %q does not consume the guard", input.Status))
	}
	return nil
}

// Admit inserts the idempotency record with INSERT ... ON CONFLICT DO NOTHING.
// It returns false when the id was already recorded. Store failures come back
// as errors and are never reported as duplicates.
func (g *guard) Admit(ctx context.Context, tx *gorm.DB, input AdmitInput) (bool, error) {
	if err := validateAdmit(input); err != nil {
		return false, err
	}
	conn := g.db
	if tx != nil {
		conn = tx
	}

	row := models.PaymentEvent{
		ExternalPaymentID: input.ExternalPaymentID,
		OrderReference:    input.OrderReference,
		Status:            input.Status,
		Outcome:           enums.OutcomePending,
		Amount:            input.Amount,
	}
	res := conn.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_payment_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, uniqueExternalPaymentID) {
			return false, nil
		}
		return false, db.StoreError(res.Error, "admit payment event")
	}
	return res.RowsAffected == 1, nil
}

// AdmitWithRetry runs Admit in its own statement, retrying transient store
// failures with exponential backoff.
func (g *guard) AdmitWithRetry(ctx context.Context, input AdmitInput) (bool, error) {
	backoff := retry.WithMaxRetries(g.policy.MaxRetries, retry.NewExponential(g.policy.BaseDelay))
	var admitted bool
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		admitted, err = g.Admit(ctx, nil, input)
		if pkgerrors.HasCode(err, pkgerrors.CodeStoreUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
	return admitted, err
}

func (g *guard) RecordOutcome(ctx context.Context, tx *gorm.DB, externalPaymentID string, outcome enums.ReconciliationOutcome) error {
	if !outcome.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid outcome %q", outcome))
	}
	conn := g.db
	if tx != nil {
		conn = tx
	}
	res := conn.WithContext(ctx).
		Model(&models.PaymentEvent{}).
		Where("external_payment_id = ?", externalPaymentID).
		Update("outcome", outcome)
	if res.Error != nil {
		return db.StoreError(res.Error, "record payment outcome")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment event not admitted")
	}
	return nil
}

func (g *guard) Find(ctx context.Context, externalPaymentID string) (*models.PaymentEvent, error) {
	var row models.PaymentEvent
	err := g.db.WithContext(ctx).Where("external_payment_id = ?", externalPaymentID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment event not found")
		}
		return nil, db.StoreError(err, "load payment event")
	}
	return &row, nil
}
