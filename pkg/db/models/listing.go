package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trademon/trademon-backend/pkg/enums"
)

// Listing is a seller's priced collectible offer.
type Listing struct {
	ID        uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SellerID  uuid.UUID      `gorm:"column:seller_id;type:uuid;not null;index" json:"seller_id"`
	Title     string         `gorm:"column:title;not null" json:"title"`
	Price     int64          `gorm:"column:price;not null" json:"price"`
	Currency  enums.Currency `gorm:"column:currency;not null" json:"currency"`
	Active    bool           `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (l *Listing) BeforeCreate(*gorm.DB) error {
	assignID(&l.ID)
	return nil
}
