package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/logger"
)

const relayChannel = "notifications"

type relayBroker interface {
	ChannelKey(name string) string
	Publish(ctx context.Context, channel string, payload any) error
	Subscribe(ctx context.Context, channels ...string) (*goredis.PubSub, error)
}

// Relay fans realtime notifications out through Redis so every API instance
// delivers to the websocket clients it holds.
type Relay struct {
	hub     *Hub
	broker  relayBroker
	channel string
	logg    *logger.Logger
}

// NewRelay binds hub to the Redis notification channel.
func NewRelay(hub *Hub, broker relayBroker, logg *logger.Logger) (*Relay, error) {
	if hub == nil {
		return nil, fmt.Errorf("realtime hub required")
	}
	if broker == nil {
		return nil, fmt.Errorf("redis broker required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Relay{hub: hub, broker: broker, channel: broker.ChannelKey(relayChannel), logg: logg}, nil
}

// Name implements Channel.
func (r *Relay) Name() string { return "realtime" }

// Deliver publishes row on the shared channel.
func (r *Relay) Deliver(ctx context.Context, row models.Notification) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal relay payload: %w", err)
	}
	return r.broker.Publish(ctx, r.channel, payload)
}

// Run forwards every relayed notification to the local hub until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub, err := r.broker.Subscribe(ctx, r.channel)
	if err != nil {
		return err
	}
	defer sub.Close()

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload string) {
	var row models.Notification
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		r.logg.Error(ctx, "invalid relayed notification", err)
		return
	}
	if err := r.hub.Deliver(ctx, row); err != nil {
		r.logg.Error(r.logg.WithField(ctx, "notification_id", row.ID), "relay delivery failed", err)
	}
}
