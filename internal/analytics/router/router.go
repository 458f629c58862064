package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/trademon/trademon-backend/internal/analytics/types"
	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/outbox/payloads"
)

// Writer delivers BigQuery rows produced by analytics handlers.
type Writer interface {
	InsertPaymentEvent(ctx context.Context, row types.PaymentEventRow) error
	InsertOrderEvent(ctx context.Context, row types.OrderEventRow) error
}

// Handler receives an envelope plus its decoded payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type handlerEntry struct {
	factory func() any
	handler Handler
}

// Router dispatches analytics envelopes to the handler registered for their
// event type.
type Router struct {
	handlers map[enums.OutboxEventType]handlerEntry
	logg     *logger.Logger
}

// NewRouter wires the default handlers. overrides replaces the handler of an
// already known event type and is meant for tests.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	entries := map[enums.OutboxEventType]handlerEntry{
		enums.EventPaymentReconciled: {
			factory: func() any { return &payloads.PaymentReconciledEvent{} },
			handler: &paymentReconciledHandler{writer: writer, logg: logg},
		},
		enums.EventLedgerEntryAppended: {
			factory: func() any { return &payloads.LedgerEntryAppendedEvent{} },
			handler: &ledgerEntryHandler{writer: writer, logg: logg},
		},
		enums.EventWithdrawalRequested: {
			factory: func() any { return &payloads.WithdrawalRequestedEvent{} },
			handler: &withdrawalRequestedHandler{writer: writer, logg: logg},
		},
		enums.EventWithdrawalSettled: {
			factory: func() any { return &payloads.WithdrawalSettledEvent{} },
			handler: &withdrawalSettledHandler{writer: writer, logg: logg},
		},
		enums.EventOrderCreated: {
			factory: func() any { return &payloads.OrderCreatedEvent{} },
			handler: &orderCreatedHandler{writer: writer, logg: logg},
		},
		enums.EventOrderStateChanged: {
			factory: func() any { return &payloads.OrderStateChangedEvent{} },
			handler: &orderStateChangedHandler{writer: writer, logg: logg},
		},
	}

	for event, custom := range overrides {
		entry, ok := entries[event]
		if !ok || custom == nil {
			continue
		}
		entry.handler = custom
		entries[event] = entry
	}

	return &Router{handlers: entries, logg: logg}, nil
}

// Handle decodes the payload for the envelope's event type and hands it to
// the matching handler.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	entry, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnsupportedEvent, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	payload := entry.factory()
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}
	return entry.handler.Handle(ctx, envelope, payload)
}
