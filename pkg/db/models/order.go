package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trademon/trademon-backend/pkg/enums"
)

// Order is one buyer/seller transaction. Amount is in minor units and never
// changes after creation.
type Order struct {
	ID                uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	BuyerID           uuid.UUID        `gorm:"column:buyer_id;type:uuid;not null;index" json:"buyer_id"`
	SellerID          uuid.UUID        `gorm:"column:seller_id;type:uuid;not null;index" json:"seller_id"`
	ListingID         uuid.UUID        `gorm:"column:listing_id;type:uuid;not null" json:"listing_id"`
	Amount            int64            `gorm:"column:amount;not null" json:"amount"`
	Currency          enums.Currency   `gorm:"column:currency;not null" json:"currency"`
	State             enums.OrderState `gorm:"column:state;not null;index" json:"state"`
	PlatformFee       *int64           `gorm:"column:platform_fee" json:"platform_fee,omitempty"`
	ExternalPaymentID *string          `gorm:"column:external_payment_id" json:"external_payment_id,omitempty"`
	PreferenceID      *string          `gorm:"column:preference_id" json:"preference_id,omitempty"`
	CreatedAt         time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	LineItems []OrderLineItem `gorm:"foreignKey:OrderID" json:"line_items,omitempty"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}
