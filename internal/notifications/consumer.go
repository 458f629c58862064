package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/outbox"
	"github.com/trademon/trademon-backend/pkg/outbox/payloads"
)

const notificationConsumer = "notification-worker"

type deliverer interface {
	Deliver(ctx context.Context, msg Message)
}

type processedTracker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer turns withdrawal settlements and raised admin alerts from the
// domain topic into notifications.
type Consumer struct {
	notifier     deliverer
	subscription *pubsub.Subscriber
	idempotency  processedTracker
	logg         *logger.Logger
}

// NewConsumer builds a notification consumer.
func NewConsumer(notifier deliverer, subscription *pubsub.Subscriber, tracker processedTracker, logg *logger.Logger) (*Consumer, error) {
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		notifier:     notifier,
		subscription: subscription,
		idempotency:  tracker,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != enums.EventWithdrawalSettled && eventType != enums.EventAdminAlertRaised {
		c.logg.Debug(logCtx, "skipping event without notifications")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithField(logCtx, "event_id", eventID)

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, notificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	message, err := messageFor(eventType, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		_ = c.idempotency.Delete(ctx, notificationConsumer, eventID)
		return processResult{nack: true}
	}

	c.notifier.Deliver(logCtx, message)
	c.logg.Info(logCtx, "notification delivered from domain event")
	return processResult{ack: true}
}

func messageFor(eventType enums.OutboxEventType, data json.RawMessage) (Message, error) {
	switch eventType {
	case enums.EventWithdrawalSettled:
		var payload payloads.WithdrawalSettledEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return Message{}, err
		}
		if payload.AccountID == uuid.Nil {
			return Message{}, fmt.Errorf("account id missing")
		}
		return WithdrawalSettled(payload), nil
	case enums.EventAdminAlertRaised:
		var payload payloads.AdminAlertRaisedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return Message{}, err
		}
		if strings.TrimSpace(payload.DedupKey) == "" {
			return Message{}, fmt.Errorf("alert dedup key missing")
		}
		title := payload.Kind
		if title == "" {
			title = "Back-office alert"
		}
		return AdminAlert(title, payload.Message, payload.DedupKey), nil
	}
	return Message{}, fmt.Errorf("unsupported event type %q", eventType)
}

// WithdrawalSettled tells the account holder how their withdrawal was settled.
func WithdrawalSettled(payload payloads.WithdrawalSettledEvent) Message {
	title := "Withdrawal paid"
	body := fmt.Sprintf("Your withdrawal of %d has been paid out.", payload.Amount)
	if payload.Status == enums.WithdrawalStatusRejected {
		title = "Withdrawal rejected"
		body = fmt.Sprintf("Your withdrawal of %d was rejected and the funds are available again.", payload.Amount)
	}
	return Message{
		UserID:   payload.AccountID,
		Audience: enums.NotificationAudienceUser,
		Type:     enums.NotificationTypeWithdrawalUpdate,
		Title:    title,
		Body:     body,
		Link:     "/wallet/withdrawals/" + payload.WithdrawalID.String(),
		DedupKey: fmt.Sprintf("withdrawal:%s:%s", payload.WithdrawalID, payload.Status),
	}
}
