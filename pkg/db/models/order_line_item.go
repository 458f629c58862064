package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderLineItem snapshots a listing's price at checkout.
type OrderLineItem struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null;index" json:"order_id"`
	ListingID uuid.UUID `gorm:"column:listing_id;type:uuid;not null" json:"listing_id"`
	Title     string    `gorm:"column:title;not null" json:"title"`
	Quantity  int       `gorm:"column:quantity;not null" json:"quantity"`
	UnitPrice int64     `gorm:"column:unit_price;not null" json:"unit_price"`
	Total     int64     `gorm:"column:total;not null" json:"total"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (li *OrderLineItem) BeforeCreate(*gorm.DB) error {
	assignID(&li.ID)
	return nil
}
