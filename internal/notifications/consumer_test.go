package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/outbox"
	"github.com/trademon/trademon-backend/pkg/outbox/payloads"
)

type captureNotifier struct {
	msgs []Message
}

func (c *captureNotifier) Deliver(_ context.Context, msg Message) {
	c.msgs = append(c.msgs, msg)
}

type memoryTracker struct {
	seen    map[uuid.UUID]bool
	err     error
	deleted []uuid.UUID
}

func (m *memoryTracker) CheckAndMarkProcessed(_ context.Context, _ string, eventID uuid.UUID) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.seen == nil {
		m.seen = map[uuid.UUID]bool{}
	}
	already := m.seen[eventID]
	m.seen[eventID] = true
	return already, nil
}

func (m *memoryTracker) Delete(_ context.Context, _ string, eventID uuid.UUID) error {
	delete(m.seen, eventID)
	m.deleted = append(m.deleted, eventID)
	return nil
}

func newTestConsumer(notifier *captureNotifier, tracker *memoryTracker) *Consumer {
	return &Consumer{notifier: notifier, idempotency: tracker, logg: logger.Nop()}
}

func domainMessage(t *testing.T, eventType enums.OutboxEventType, eventID uuid.UUID, data any) *pubsub.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		ID:         "msg-" + eventID.String(),
		Data:       envelope,
		Attributes: map[string]string{"event_type": string(eventType)},
	}
}

func TestConsumerNotifiesWithdrawalOwnerOnce(t *testing.T) {
	notifier := &captureNotifier{}
	consumer := newTestConsumer(notifier, &memoryTracker{})
	account := uuid.New()
	withdrawal := uuid.New()
	msg := domainMessage(t, enums.EventWithdrawalSettled, uuid.New(), payloads.WithdrawalSettledEvent{
		WithdrawalID: withdrawal,
		AccountID:    account,
		Amount:       3000,
		Status:       enums.WithdrawalStatusRejected,
	})

	for i := 0; i < 2; i++ {
		if !consumer.process(context.Background(), msg).ack {
			t.Fatalf("delivery %d not acked", i+1)
		}
	}

	if len(notifier.msgs) != 1 {
		t.Fatalf("expected one notification for a redelivered event, got %d", len(notifier.msgs))
	}
	got := notifier.msgs[0]
	if got.UserID != account || got.Type != enums.NotificationTypeWithdrawalUpdate || got.Title != "Withdrawal rejected" {
		t.Fatalf("unexpected notification %+v", got)
	}
	if want := "withdrawal:" + withdrawal.String() + ":rejected"; got.DedupKey != want {
		t.Fatalf("dedup key = %q, want %q", got.DedupKey, want)
	}
}

func TestConsumerRaisesAdminAlerts(t *testing.T) {
	notifier := &captureNotifier{}
	consumer := newTestConsumer(notifier, &memoryTracker{})
	msg := domainMessage(t, enums.EventAdminAlertRaised, uuid.New(), payloads.AdminAlertRaisedEvent{
		Kind:     "Ledger drift",
		Message:  "wallet 1 drifted",
		DedupKey: "ledger_drift:1",
	})

	if !consumer.process(context.Background(), msg).ack {
		t.Fatal("expected ack")
	}
	if len(notifier.msgs) != 1 {
		t.Fatalf("expected one alert, got %d", len(notifier.msgs))
	}
	if !notifier.msgs[0].IsAdmin() || notifier.msgs[0].DedupKey != "ledger_drift:1" {
		t.Fatalf("unexpected alert %+v", notifier.msgs[0])
	}
}

func TestConsumerSkipsOtherEvents(t *testing.T) {
	notifier := &captureNotifier{}
	consumer := newTestConsumer(notifier, &memoryTracker{})
	msg := domainMessage(t, enums.EventPaymentReconciled, uuid.New(), map[string]string{})
	if !consumer.process(context.Background(), msg).ack {
		t.Fatal("expected ack")
	}
	if len(notifier.msgs) != 0 {
		t.Fatalf("expected no notifications, got %d", len(notifier.msgs))
	}
}

func TestConsumerNacksAndReleasesOnBadPayload(t *testing.T) {
	tracker := &memoryTracker{}
	consumer := newTestConsumer(&captureNotifier{}, tracker)
	eventID := uuid.New()
	msg := domainMessage(t, enums.EventWithdrawalSettled, eventID, payloads.WithdrawalSettledEvent{})

	if !consumer.process(context.Background(), msg).nack {
		t.Fatal("expected nack")
	}
	if len(tracker.deleted) != 1 || tracker.deleted[0] != eventID {
		t.Fatalf("expected %s released, got %v", eventID, tracker.deleted)
	}
}

func TestConsumerNacksWhenIdempotencyStoreFails(t *testing.T) {
	consumer := newTestConsumer(&captureNotifier{}, &memoryTracker{err: errors.New("redis down")})
	msg := domainMessage(t, enums.EventAdminAlertRaised, uuid.New(), payloads.AdminAlertRaisedEvent{DedupKey: "k"})
	if !consumer.process(context.Background(), msg).nack {
		t.Fatal("expected nack")
	}
}

func TestConsumerAcksUndecodableEnvelope(t *testing.T) {
	consumer := newTestConsumer(&captureNotifier{}, &memoryTracker{})
	msg := &pubsub.Message{Data: []byte("nope"), Attributes: map[string]string{"event_type": string(enums.EventAdminAlertRaised)}}
	if !consumer.process(context.Background(), msg).ack {
		t.Fatal("expected ack")
	}
}
