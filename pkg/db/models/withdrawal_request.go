package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trademon/trademon-backend/pkg/enums"
)

// WithdrawalRequest reserves available funds until an admin settles the payout.
type WithdrawalRequest struct {
	ID          uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	AccountID   uuid.UUID              `gorm:"column:account_id;type:uuid;not null;index" json:"account_id"`
	Amount      int64                  `gorm:"column:amount;not null" json:"amount"`
	Status      enums.WithdrawalStatus `gorm:"column:status;not null" json:"status"`
	Note        *string                `gorm:"column:note" json:"note,omitempty"`
	ProcessedBy *uuid.UUID             `gorm:"column:processed_by;type:uuid" json:"processed_by,omitempty"`
	ProcessedAt *time.Time             `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CreatedAt   time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (w *WithdrawalRequest) BeforeCreate(*gorm.DB) error {
	assignID(&w.ID)
	return nil
}
