package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trademon/trademon-backend/pkg/db"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and their line items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	CreateLineItems(ctx context.Context, items []models.OrderLineItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateState(ctx context.Context, id uuid.UUID, from, to enums.OrderState) error
	StampPayment(ctx context.Context, id uuid.UUID, externalPaymentID string, platformFee int64) (bool, error)
	SetPreference(ctx context.Context, id uuid.UUID, preferenceID string) error
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	ListForUser(ctx context.Context, params listOrdersParams) ([]models.Order, *pagination.Cursor, error)
}

type listOrdersParams struct {
	UserID uuid.UUID
	State  *enums.OrderState
	Limit  int
	Cursor *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit("LineItems").Create(order).Error
}

func (r *repository) CreateLineItems(ctx context.Context, items []models.OrderLineItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("LineItems", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC") }).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByIDForUpdate row-locks the order for the rest of the transaction.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateState moves the order only if it is still in from.
func (r *repository) UpdateState(ctx context.Context, id uuid.UUID, from, to enums.OrderState) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND state = ?", id, from).
		Updates(map[string]any{
			"state":      to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return db.ErrConcurrentUpdate
	}
	return nil
}

// StampPayment records the gateway payment id and the platform fee once. It
// reports false when the order already carries a payment id.
func (r *repository) StampPayment(ctx context.Context, id uuid.UUID, externalPaymentID string, platformFee int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND external_payment_id IS NULL", id).
		Updates(map[string]any{
			"external_payment_id": externalPaymentID,
			"platform_fee":        platformFee,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetPreference(ctx context.Context, id uuid.UUID, preferenceID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Update("preference_id", preferenceID).Error
}

func (r *repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("state = ? AND created_at < ?", enums.OrderStatePendingPayment, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) ListForUser(ctx context.Context, params listOrdersParams) ([]models.Order, *pagination.Cursor, error) {
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("(buyer_id = ? OR seller_id = ?)", params.UserID, params.UserID)
	if params.State != nil {
		query = query.Where("state = ?", *params.State)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var orders []models.Order
	if err := query.Order("created_at DESC, id DESC").Limit(normalized + 1).Find(&orders).Error; err != nil {
		return nil, nil, err
	}
	if len(orders) > normalized {
		last := orders[normalized-1]
		return orders[:normalized], &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return orders, nil, nil
}
