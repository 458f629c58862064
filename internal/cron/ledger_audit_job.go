package cron

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
	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/outbox"
	"github.com/trademon/trademon-backend/pkg/outbox/payloads"
	"github.com/trademon/trademon-backend/pkg/pagination"
)

const (
	ledgerAuditPageSize  = pagination.MaxLimit
	alertKindLedgerDrift = "ledger_drift"
)

type LedgerAuditJobParams struct {
	Logger   *logger.Logger
	Ledger   driftAuditor
	DB       txRunner
	Outbox   outboxEmitter
	Notifier alertNotifier
}

type driftAuditor interface {
	ListAccounts(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
	VerifyNoDrift(ctx context.Context, accountID uuid.UUID) (*ledger.DriftReport, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type alertNotifier interface {
	Dispatch(ctx context.Context, msgs ...notifications.Message)
}

// NewLedgerAuditJob replays every wallet's entries and raises an admin alert
// for each account whose cached balances disagree with the replay.
func NewLedgerAuditJob(params LedgerAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &ledgerAuditJob{
		logg:     params.Logger,
		ledger:   params.Ledger,
		db:       params.DB,
		outbox:   params.Outbox,
		notifier: params.Notifier,
		now:      time.Now,
	}, nil
}

type ledgerAuditJob struct {
	logg     *logger.Logger
	ledger   driftAuditor
	db       txRunner
	outbox   outboxEmitter
	notifier alertNotifier
	now      func() time.Time
}

func (j *ledgerAuditJob) Name() string { return "ledger-audit" }

func (j *ledgerAuditJob) Run(ctx context.Context) error {
	var (
		after    uuid.UUID
		audited  int
		drifting int
		errs     error
	)
	for {
		accounts, err := j.ledger.ListAccounts(ctx, after, ledgerAuditPageSize)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list wallets: %w", err))
		}
		for _, account := range accounts {
			report, err := j.ledger.VerifyNoDrift(ctx, account)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("verify %s: %w", account, err))
				continue
			}
			audited++
			if report.Consistent {
				continue
			}
			drifting++
			if err := j.raise(ctx, report); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("alert %s: %w", account, err))
			}
		}
		if len(accounts) < ledgerAuditPageSize {
			break
		}
		after = accounts[len(accounts)-1]
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"audited":  audited,
		"drifting": drifting,
	})
	if drifting > 0 {
		j.logg.Warn(logCtx, "ledger drift detected")
	} else {
		j.logg.Info(logCtx, "ledger audit complete")
	}
	return errs
}

// DriftDedupKey is the alert key for an account drifting at a given entry
// count; a fresh entry re-arms the alert.
func DriftDedupKey(report *ledger.DriftReport) string {
	return fmt.Sprintf("ledger-drift:%s:%d", report.AccountID, report.Entries)
}

func (j *ledgerAuditJob) raise(ctx context.Context, report *ledger.DriftReport) error {
	dedupKey := DriftDedupKey(report)
	message := fmt.Sprintf(
		"Wallet %s cached available=%d pending=%d but replay of %d entries gives available=%d pending=%d.",
		report.AccountID, report.CachedAvailable, report.CachedPending,
		report.Entries, report.ReplayAvailable, report.ReplayPending,
	)
	now := j.now().UTC()
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAdminAlertRaised,
			AggregateType: enums.AggregateWallet,
			AggregateID:   report.AccountID,
			Data: payloads.AdminAlertRaisedEvent{
				Kind:     alertKindLedgerDrift,
				Message:  message,
				DedupKey: dedupKey,
				Context: map[string]any{
					"account_id":       report.AccountID,
					"broken_sequence":  report.BrokenSequence,
					"entries":          report.Entries,
					"cached_available": report.CachedAvailable,
					"replay_available": report.ReplayAvailable,
				},
				RaisedAt: now,
			},
			Version:    1,
			OccurredAt: now,
		})
	})
	if err != nil {
		return err
	}
	j.logg.Error(j.logg.WithFields(ctx, map[string]any{
		"account_id":      report.AccountID,
		"broken_sequence": report.BrokenSequence,
	}), "ledger drift", errors.New(message))
	if j.notifier != nil {
		j.notifier.Dispatch(ctx, notifications.AdminAlert("Ledger drift", message, dedupKey))
	}
	return nil
}
