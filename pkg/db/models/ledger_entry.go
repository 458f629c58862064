package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trademon/trademon-backend/pkg/enums"
)

// LedgerEntry is one immutable balance movement on a single wallet bucket.
type LedgerEntry struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	AccountID     uuid.UUID               `gorm:"column:account_id;type:uuid;not null;uniqueIndex:ux_ledger_entries_account_sequence,priority:1" json:"account_id"`
	Sequence      int64                   `gorm:"column:sequence;not null;uniqueIndex:ux_ledger_entries_account_sequence,priority:2" json:"sequence"`
	Bucket        enums.LedgerBucket      `gorm:"column:bucket;not null" json:"bucket"`
	Amount        int64                   `gorm:"column:amount;not null" json:"amount"`
	BalanceAfter  int64                   `gorm:"column:balance_after;not null" json:"balance_after"`
	Type          enums.LedgerEntryType   `gorm:"column:type;not null" json:"type"`
	Status        enums.LedgerEntryStatus `gorm:"column:status;not null" json:"status"`
	Description   string                  `gorm:"column:description;not null;default:''" json:"description"`
	ReferenceType string                  `gorm:"column:reference_type;not null;index:ix_ledger_entries_reference,priority:1" json:"reference_type"`
	ReferenceID   uuid.UUID               `gorm:"column:reference_id;type:uuid;not null;index:ix_ledger_entries_reference,priority:2" json:"reference_id"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}
