package types

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/outbox"
)

// ErrUnsupportedEvent marks events the analytics sink does not record. The
// worker acks them.
var ErrUnsupportedEvent = errors.New("unsupported analytics event type")

// Envelope is a domain event as received from the Pub/Sub topic.
type Envelope struct {
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Actor         *outbox.ActorRef          `json:"actor,omitempty"`
	Payload       json.RawMessage           `json:"payload"`
}
