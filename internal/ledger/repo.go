package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trademon/trademon-backend/pkg/db"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
)

// Repository manages persistence for wallets and ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockWallet(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
	FindWallet(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error
	SwapWallet(ctx context.Context, next *models.Wallet, expectedVersion int64) error
	ListEntriesBefore(ctx context.Context, accountID uuid.UUID, beforeSeq int64, limit int) ([]models.LedgerEntry, error)
	ListEntriesAfter(ctx context.Context, accountID uuid.UUID, afterSeq int64, limit int) ([]models.LedgerEntry, error)
	SumByReference(ctx context.Context, accountID uuid.UUID, bucket enums.LedgerBucket, ref Reference) (int64, error)
	ListWalletIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockWallet creates the wallet row if needed and takes a row lock on it for
// the rest of the transaction.
func (r *repository) LockWallet(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	seed := models.Wallet{AccountID: accountID}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "account_id"}}, DoNothing: true}).
		Create(&seed).Error; err != nil {
		return nil, err
	}

	var wallet models.Wallet
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID).
		Take(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) FindWallet(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// SwapWallet writes the new balances only if nobody advanced the version since
// it was read.
func (r *repository) SwapWallet(ctx context.Context, next *models.Wallet, expectedVersion int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("account_id = ? AND version = ?", next.AccountID, expectedVersion).
		Updates(map[string]any{
			"balance":         next.Balance,
			"pending_balance": next.PendingBalance,
			"version":         next.Version,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return db.ErrConcurrentUpdate
	}
	return nil
}

func (r *repository) ListEntriesBefore(ctx context.Context, accountID uuid.UUID, beforeSeq int64, limit int) ([]models.LedgerEntry, error) {
	query := r.db.WithContext(ctx).Where("account_id = ?", accountID)
	if beforeSeq > 0 {
		query = query.Where("sequence < ?", beforeSeq)
	}
	var entries []models.LedgerEntry
	if err := query.Order("sequence DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListEntriesAfter(ctx context.Context, accountID uuid.UUID, afterSeq int64, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND sequence > ?", accountID, afterSeq).
		Order("sequence ASC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) SumByReference(ctx context.Context, accountID uuid.UUID, bucket enums.LedgerBucket, ref Reference) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("account_id = ? AND bucket = ? AND reference_type = ? AND reference_id = ?", accountID, bucket, ref.Type, ref.ID).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repository) ListWalletIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).Model(&models.Wallet{})
	if after != uuid.Nil {
		query = query.Where("account_id > ?", after)
	}
	if err := query.Order("account_id ASC").Limit(limit).Pluck("account_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
