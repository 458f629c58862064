package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trademon/trademon-backend/pkg/enums"
)

// PaymentEvent is the idempotency record for one externally observed payment.
// OrderReference keeps the raw external reference so unknown orders are
// still recorded.
type PaymentEvent struct {
	ID                uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	ExternalPaymentID string                      `gorm:"column:external_payment_id;not null;uniqueIndex:ux_payment_events_external_payment_id"`
	OrderReference    string                      `gorm:"column:order_reference;not null"`
	Status            enums.PaymentStatus         `gorm:"column:status;not null"`
	Outcome           enums.ReconciliationOutcome `gorm:"column:outcome;not null"`
	Amount            int64                       `gorm:"column:amount;not null"`
	FirstSeenAt       time.Time                   `gorm:"column:first_seen_at;autoCreateTime"`
}

func (p *PaymentEvent) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
