package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL matches the longest Pub/Sub retention window; a redelivery can
// never outlive its marker.
const DefaultTTL = 30 * 24 * time.Hour

type markerStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Manager records which outbox events each Pub/Sub consumer has handled.
// Markers live at tm:idempotency:evt:processed:<consumer>:<event_id> and
// hold the time the event was first claimed.
type Manager struct {
	store markerStore
	ttl   time.Duration
	now   func() time.Time
}

// NewManager builds a Manager; a zero ttl falls back to DefaultTTL.
func NewManager(store markerStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

// CheckAndMarkProcessed claims eventID for consumer. It reports true when an
// earlier delivery already claimed it, in which case the caller acks and
// skips the event.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := m.markerKey(consumer, eventID)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s for %s: %w", eventID, consumer, err)
	}
	return !claimed, nil
}

// Delete drops the claim after a failed handler so the redelivery runs again.
func (m *Manager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.markerKey(consumer, eventID)
	if err != nil {
		return err
	}
	if err := m.store.Del(ctx, key); err != nil {
		return fmt.Errorf("release %s for %s: %w", eventID, consumer, err)
	}
	return nil
}

func (m *Manager) markerKey(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:processed:"+consumer, eventID.String()), nil
}
