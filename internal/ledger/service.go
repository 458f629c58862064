package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trademon/trademon-backend/pkg/db"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
	"github.com/trademon/trademon-backend/pkg/pagination"
)

// Reference types entries point back to.
const (
	ReferenceOrder      = "order"
	ReferenceWithdrawal = "withdrawal"
	ReferenceAdjustment = "adjustment"
)

const auditBatchSize = 500

// Reference ties an entry to the business object it represents.
type Reference struct {
	Type string    `json:"type"`
	ID   uuid.UUID `json:"id"`
}

// OrderRef references an order.
func OrderRef(id uuid.UUID) Reference { return Reference{Type: ReferenceOrder, ID: id} }

// WithdrawalRef references a withdrawal request.
func WithdrawalRef(id uuid.UUID) Reference { return Reference{Type: ReferenceWithdrawal, ID: id} }

// AppendInput describes one signed movement on one wallet bucket.
type AppendInput struct {
	AccountID   uuid.UUID
	Bucket      enums.LedgerBucket
	Amount      int64
	Type        enums.LedgerEntryType
	Status      enums.LedgerEntryStatus
	Description string
	Reference   Reference
}

// Balance is the wallet projection as seen by readers.
type Balance struct {
	AccountID uuid.UUID `json:"account_id"`
	Available int64     `json:"available"`
	Pending   int64     `json:"pending"`
	Version   int64     `json:"version"`
}

// AppendResult carries the stored entry and the balances after it.
type AppendResult struct {
	Entry   models.LedgerEntry
	Balance Balance
}

// EntryPage is one page of entries, newest first.
type EntryPage struct {
	Entries    []models.LedgerEntry `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// DriftReport is the result of replaying an account's entries.
type DriftReport struct {
	AccountID       uuid.UUID `json:"account_id"`
	Entries         int64     `json:"entries"`
	ReplayAvailable int64     `json:"replay_available"`
	ReplayPending   int64     `json:"replay_pending"`
	CachedAvailable int64     `json:"cached_available"`
	CachedPending   int64     `json:"cached_pending"`
	BrokenSequence  int64     `json:"broken_sequence,omitempty"`
	Consistent      bool      `json:"consistent"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the only writer of wallet balances.
type Service interface {
	Append(ctx context.Context, tx *gorm.DB, input AppendInput) (*AppendResult, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (*Balance, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*EntryPage, error)
	HeldForReference(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, ref Reference) (int64, error)
	VerifyNoDrift(ctx context.Context, accountID uuid.UUID) (*DriftReport, error)
	ListAccounts(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type service struct {
	repo Repository
	tx   txRunner
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

func validateAppend(input AppendInput) error {
	switch {
	case input.AccountID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	case input.Amount == 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "ledger amount must be non-zero")
	case !input.Bucket.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger bucket %q", input.Bucket))
	case !input.Type.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger entry type %q", input.Type))
	case !input.Status.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger entry status %q", input.Status))
	case input.Reference.Type == "" || input.Reference.ID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "ledger reference is required")
	}
	return nil
}

// Append records one entry inside tx. When tx is nil a dedicated transaction
// is opened. The wallet row lock serializes writers per account; the version
// swap turns any lost race into a retryable error.
func (s *service) Append(ctx context.Context, tx *gorm.DB, input AppendInput) (*AppendResult, error) {
	if err := validateAppend(input); err != nil {
		return nil, err
	}
	if tx == nil {
		var result *AppendResult
		err := s.tx.WithTx(ctx, func(inner *gorm.DB) error {
			var err error
			result, err = s.append(ctx, s.repo.WithTx(inner), input)
			return err
		})
		return result, err
	}
	return s.append(ctx, s.repo.WithTx(tx), input)
}

func (s *service) append(ctx context.Context, repo Repository, input AppendInput) (*AppendResult, error) {
	wallet, err := repo.LockWallet(ctx, input.AccountID)
	if err != nil {
		return nil, storeError(err, "lock wallet")
	}

	next := *wallet
	var after int64
	switch input.Bucket {
	case enums.LedgerBucketAvailable:
		next.Balance += input.Amount
		after = next.Balance
	case enums.LedgerBucketPending:
		next.PendingBalance += input.Amount
		after = next.PendingBalance
	}
	if after < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient funds").WithDetails(map[string]any{
			"account_id": input.AccountID,
			"bucket":     input.Bucket,
			"balance":    after - input.Amount,
			"amount":     input.Amount,
		})
	}
	next.Version = wallet.Version + 1

	entry := models.LedgerEntry{
		AccountID:     input.AccountID,
		Sequence:      next.Version,
		Bucket:        input.Bucket,
		Amount:        input.Amount,
		BalanceAfter:  after,
		Type:          input.Type,
		Status:        input.Status,
		Description:   input.Description,
		ReferenceType: input.Reference.Type,
		ReferenceID:   input.Reference.ID,
	}
	if err := repo.InsertEntry(ctx, &entry); err != nil {
		if db.IsUniqueViolation(err, "ux_ledger_entries_account_sequence") {
			return nil, storeError(db.ErrConcurrentUpdate, "insert ledger entry")
		}
		return nil, storeError(err, "insert ledger entry")
	}
	if err := repo.SwapWallet(ctx, &next, wallet.Version); err != nil {
		return nil, storeError(err, "update wallet")
	}

	return &AppendResult{Entry: entry, Balance: toBalance(&next)}, nil
}

func (s *service) GetBalance(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	wallet, err := s.repo.FindWallet(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Balance{AccountID: accountID}, nil
		}
		return nil, storeError(err, "load wallet")
	}
	b := toBalance(wallet)
	return &b, nil
}

func (s *service) ListEntries(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*EntryPage, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	before, _, err := pagination.ParseSequenceCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	entries, err := s.repo.ListEntriesBefore(ctx, accountID, before, limit+1)
	if err != nil {
		return nil, storeError(err, "list ledger entries")
	}

	page := &EntryPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.NextCursor = pagination.EncodeSequenceCursor(page.Entries[limit-1].Sequence)
	}
	if page.Entries == nil {
		page.Entries = []models.LedgerEntry{}
	}
	return page, nil
}

// HeldForReference sums the pending-bucket entries of accountID tied to ref.
func (s *service) HeldForReference(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, ref Reference) (int64, error) {
	held, err := s.repo.WithTx(tx).SumByReference(ctx, accountID, enums.LedgerBucketPending, ref)
	if err != nil {
		return 0, storeError(err, "sum held funds")
	}
	return held, nil
}

// VerifyNoDrift replays the account's entries in sequence order from zero and
// compares the result against the cached wallet balances. The wallet is read
// first and the replay stops at its version, so appends racing the audit are
// not reported as drift.
func (s *service) VerifyNoDrift(ctx context.Context, accountID uuid.UUID) (*DriftReport, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	balance, err := s.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	report := &DriftReport{
		AccountID:       accountID,
		CachedAvailable: balance.Available,
		CachedPending:   balance.Pending,
	}

	var (
		cursor   int64
		expected int64 = 1
	)
replay:
	for {
		batch, err := s.repo.ListEntriesAfter(ctx, accountID, cursor, auditBatchSize)
		if err != nil {
			return nil, storeError(err, "replay ledger entries")
		}
		for _, entry := range batch {
			if entry.Sequence > balance.Version {
				break replay
			}
			if entry.Sequence != expected && report.BrokenSequence == 0 {
				report.BrokenSequence = entry.Sequence
			}
			expected = entry.Sequence + 1
			running := &report.ReplayAvailable
			if entry.Bucket == enums.LedgerBucketPending {
				running = &report.ReplayPending
			}
			*running += entry.Amount
			if *running != entry.BalanceAfter && report.BrokenSequence == 0 {
				report.BrokenSequence = entry.Sequence
			}
			report.Entries++
			cursor = entry.Sequence
		}
		if len(batch) < auditBatchSize {
			break
		}
	}

	report.Consistent = report.BrokenSequence == 0 &&
		report.ReplayAvailable == report.CachedAvailable &&
		report.ReplayPending == report.CachedPending &&
		report.Entries == balance.Version
	return report, nil
}

func (s *service) ListAccounts(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	ids, err := s.repo.ListWalletIDs(ctx, after, pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, storeError(err, "list wallets")
	}
	return ids, nil
}

func toBalance(w *models.Wallet) Balance {
	return Balance{
		AccountID: w.AccountID,
		Available: w.Balance,
		Pending:   w.PendingBalance,
		Version:   w.Version,
	}
}

func storeError(err error, action string) error {
	return db.StoreError(err, action)
}
