package router

import (
	"context"

	"github.com/trademon/trademon-backend/internal/analytics/types"
	"github.com/trademon/trademon-backend/internal/analytics/writer"
	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/outbox/payloads"
)

type orderCreatedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func (h *orderCreatedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderCreatedEvent)
	if !ok {
		return wrongPayload(envelope.EventType)
	}
	logCtx := h.logg.WithField(ctx, "order_id", event.OrderID)
	encoded, err := writer.EncodeJSON(event)
	if err != nil {
		return err
	}
	actorID, actorRole := actorFields(envelope)
	row := types.OrderEventRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		OccurredAt: envelope.OccurredAt,
		OrderID:    event.OrderID.String(),
		BuyerID:    uuidPtr(event.BuyerID),
		SellerID:   uuidPtr(event.SellerID),
		ToState:    string(enums.OrderStatePendingPayment),
		Amount:     event.Amount,
		Currency:   string(event.Currency),
		ActorID:    actorID,
		ActorRole:  actorRole,
		Payload:    encoded,
	}
	if err := h.writer.InsertOrderEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert order row", err)
		return err
	}
	return nil
}

type orderStateChangedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func (h *orderStateChangedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderStateChangedEvent)
	if !ok {
		return wrongPayload(envelope.EventType)
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"order_id":   event.OrderID,
		"from_state": event.From,
		"to_state":   event.To,
	})
	encoded, err := writer.EncodeJSON(event)
	if err != nil {
		return err
	}
	actorID, actorRole := actorFields(envelope)
	row := types.OrderEventRow{
		EventID:           envelope.EventID,
		EventType:         string(envelope.EventType),
		OccurredAt:        envelope.OccurredAt,
		OrderID:           event.OrderID.String(),
		BuyerID:           uuidPtr(event.BuyerID),
		SellerID:          uuidPtr(event.SellerID),
		Event:             strPtr(string(event.Event)),
		FromState:         strPtr(string(event.From)),
		ToState:           string(event.To),
		Amount:            event.Amount,
		Currency:          string(event.Currency),
		PlatformFee:       event.PlatformFee,
		ExternalPaymentID: event.ExternalPaymentID,
		ActorID:           actorID,
		ActorRole:         actorRole,
		Payload:           encoded,
	}
	if err := h.writer.InsertOrderEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert order row", err)
		return err
	}
	return nil
}
