package notifications

import (
	"strings"

	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
)

// AdminRecipient is the user id admin alerts are stored under.
var AdminRecipient = uuid.Nil

// Message is one notification to fan out once the write it describes has
// committed.
type Message struct {
	UserID   uuid.UUID
	Audience enums.NotificationAudience
	Type     enums.NotificationType
	Title    string
	Body     string
	Link     string
	DedupKey string
}

// AdminAlert builds a back-office alert deduplicated by dedupKey.
func AdminAlert(title, body, dedupKey string) Message {
	return Message{
		UserID:   AdminRecipient,
		Audience: enums.NotificationAudienceAdmin,
		Type:     enums.NotificationTypeAdminAlert,
		Title:    title,
		Body:     body,
		DedupKey: dedupKey,
	}
}

// IsAdmin reports whether the message targets the back office.
func (m Message) IsAdmin() bool {
	return m.Audience == enums.NotificationAudienceAdmin
}

func (m Message) toModel() models.Notification {
	audience := m.Audience
	if audience == "" {
		audience = enums.NotificationAudienceUser
	}
	row := models.Notification{
		UserID:   m.UserID,
		Audience: audience,
		Type:     m.Type,
		Title:    m.Title,
		Message:  m.Body,
	}
	if link := strings.TrimSpace(m.Link); link != "" {
		row.Link = &link
	}
	if key := strings.TrimSpace(m.DedupKey); key != "" {
		row.DedupKey = &key
	}
	return row
}
