package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
)

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type topicPublisher struct {
	topic *gcppubsub.Publisher
}

func (p topicPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.topic.Publish(ctx, msg)
}

// PushMessage is the payload handed to the push transport.
type PushMessage struct {
	NotificationID uuid.UUID              `json:"notification_id"`
	UserID         uuid.UUID              `json:"user_id"`
	Type           enums.NotificationType `json:"type"`
	Title          string                 `json:"title"`
	Body           string                 `json:"body"`
	Link           *string                `json:"link,omitempty"`
}

// PushPublisher mirrors user notifications to the push topic. Admin alerts
// stay in the back office.
type PushPublisher struct {
	pub publisher
}

// NewPushPublisher wraps a Pub/Sub topic publisher.
func NewPushPublisher(topic *gcppubsub.Publisher) (*PushPublisher, error) {
	if topic == nil {
		return nil, fmt.Errorf("push topic publisher required")
	}
	return &PushPublisher{pub: topicPublisher{topic: topic}}, nil
}

// Name implements Channel.
func (p *PushPublisher) Name() string { return "push" }

// Deliver publishes row and waits for the server ack.
func (p *PushPublisher) Deliver(ctx context.Context, row models.Notification) error {
	if row.Audience == enums.NotificationAudienceAdmin {
		return nil
	}
	data, err := json.Marshal(PushMessage{
		NotificationID: row.ID,
		UserID:         row.UserID,
		Type:           row.Type,
		Title:          row.Title,
		Body:           row.Message,
		Link:           row.Link,
	})
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}
	result := p.pub.Publish(ctx, &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"notification_type": string(row.Type),
			"user_id":           row.UserID.String(),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish push message: %w", err)
	}
	return nil
}
