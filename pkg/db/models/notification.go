package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trademon/trademon-backend/pkg/enums"
)

// Notification stores one in-app message per (user, event). Admin alerts are
// addressed to uuid.Nil with the admin audience.
type Notification struct {
	ID        uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID                  `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_notifications_user_dedup,priority:1" json:"user_id"`
	Audience  enums.NotificationAudience `gorm:"column:audience;not null" json:"audience"`
	Type      enums.NotificationType     `gorm:"column:type;not null" json:"type"`
	Title     string                     `gorm:"column:title;not null" json:"title"`
	Message   string                     `gorm:"column:message;not null" json:"message"`
	Link      *string                    `gorm:"column:link" json:"link,omitempty"`
	DedupKey  *string                    `gorm:"column:dedup_key;uniqueIndex:ux_notifications_user_dedup,priority:2" json:"dedup_key,omitempty"`
	ReadAt    *time.Time                 `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt time.Time                  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	assignID(&n.ID)
	return nil
}
