package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is the cached balance projection of an account's ledger entries.
// Only the ledger store writes it.
type Wallet struct {
	AccountID      uuid.UUID `gorm:"column:account_id;type:uuid;primaryKey" json:"account_id"`
	Balance        int64     `gorm:"column:balance;not null;default:0" json:"balance"`
	PendingBalance int64     `gorm:"column:pending_balance;not null;default:0" json:"pending_balance"`
	Version        int64     `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
