package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/internal/analytics/types"
	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/outbox"
)

const (
	consumerName = "analytics"

	// DefaultMaxDeliveries bounds redeliveries of a message the sink keeps
	// failing on. Pub/Sub only reports attempts when a dead letter policy
	// is attached to the subscription.
	DefaultMaxDeliveries = 20
)

// Handler writes one decoded envelope to the audit sink.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

// HandlerFunc adapts functions to the Handler interface.
type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type dispositionObserver interface {
	ObserveDisposition(disposition string)
}

type disposition string

const (
	dispositionAck     disposition = "ack"
	dispositionNack    disposition = "nack"
	dispositionDropped disposition = "dropped"
)

type Params struct {
	Subscription  receiver
	Handler       Handler
	Idempotency   idempotencyChecker
	Metrics       dispositionObserver
	Logger        *logger.Logger
	MaxDeliveries int
}

// Service feeds domain events from the analytics subscription into the
// BigQuery audit tables. Event ids are marked in Redis before the write so a
// redelivered message is acknowledged without a second insert.
type Service struct {
	sub           receiver
	handler       Handler
	idem          idempotencyChecker
	metrics       dispositionObserver
	logg          *logger.Logger
	maxDeliveries int
}

func NewService(params Params) (*Service, error) {
	if params.Subscription == nil {
		return nil, errors.New("analytics subscription is required")
	}
	if params.Handler == nil {
		return nil, errors.New("analytics handler is required")
	}
	if params.Idempotency == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	maxDeliveries := params.MaxDeliveries
	if maxDeliveries <= 0 {
		maxDeliveries = DefaultMaxDeliveries
	}
	return &Service{
		sub:           params.Subscription,
		handler:       params.Handler,
		idem:          params.Idempotency,
		metrics:       params.Metrics,
		logg:          params.Logger,
		maxDeliveries: maxDeliveries,
	}, nil
}

// Run blocks until ctx is canceled or the subscription fails.
func (s *Service) Run(ctx context.Context) error {
	return s.sub.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		d := s.process(msgCtx, msg)
		if s.metrics != nil {
			s.metrics.ObserveDisposition(string(d))
		}
		if d == dispositionNack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) disposition {
	logCtx := s.logg.WithField(ctx, "message_id", msg.ID)

	envelope, err := decodeEnvelope(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "dropping undecodable analytics message")
		return dispositionDropped
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_id":     envelope.EventID,
		"event_type":   envelope.EventType,
		"aggregate_id": envelope.AggregateID,
	})

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.logg.Warn(logCtx, "dropping analytics message with non-uuid event id")
		return dispositionDropped
	}

	seen, err := s.idem.CheckAndMarkProcessed(logCtx, consumerName, eventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency check failed", err)
		return dispositionNack
	}
	if seen {
		s.logg.Debug(logCtx, "analytics event already recorded")
		return dispositionAck
	}

	err = s.handler.Handle(logCtx, *envelope)
	switch {
	case err == nil:
		s.logg.Debug(logCtx, "analytics event recorded")
		return dispositionAck
	case errors.Is(err, types.ErrUnsupportedEvent):
		return dispositionAck
	}

	if delErr := s.idem.Delete(logCtx, consumerName, eventID); delErr != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", delErr.Error()), "failed to release idempotency mark")
	}
	if attempts := deliveryAttempt(msg); attempts >= s.maxDeliveries {
		s.logg.Error(s.logg.WithField(logCtx, "delivery_attempt", attempts), "giving up on analytics event", err)
		return dispositionDropped
	}
	s.logg.Error(logCtx, "analytics sink failed", err)
	return dispositionNack
}

func deliveryAttempt(msg *gcppubsub.Message) int {
	if msg.DeliveryAttempt == nil {
		return 0
	}
	return *msg.DeliveryAttempt
}

// decodeEnvelope combines the outbox payload envelope in the message body
// with the routing attributes the outbox publisher sets.
func decodeEnvelope(msg *gcppubsub.Message) (*types.Envelope, error) {
	var body outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}
	attr := func(key string) string { return strings.TrimSpace(msg.Attributes[key]) }

	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return nil, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := attr("aggregate_id")
	if aggregateID == "" {
		return nil, errors.New("aggregate_id missing")
	}

	eventID := strings.TrimSpace(body.EventID)
	if eventID == "" {
		eventID = attr("event_id")
	}
	if eventID == "" {
		return nil, errors.New("event_id missing")
	}

	occurredAt := body.OccurredAt
	if occurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, attr("created_at")); err == nil {
			occurredAt = parsed
		}
	}
	if occurredAt.IsZero() {
		occurredAt = msg.PublishTime
	}

	return &types.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		Actor:         body.Actor,
		Payload:       body.Data,
	}, nil
}
