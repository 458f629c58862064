package router

import (
	"context"

	"github.com/trademon/trademon-backend/internal/analytics/types"
	"github.com/trademon/trademon-backend/internal/analytics/writer"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/outbox/payloads"
)

type paymentReconciledHandler struct {
	writer Writer
	logg   *logger.Logger
}

func (h *paymentReconciledHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.PaymentReconciledEvent)
	if !ok {
		return wrongPayload(envelope.EventType)
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"payment_id": event.ExternalPaymentID,
		"outcome":    event.Outcome,
	})
	row, err := paymentRow(envelope, event)
	if err != nil {
		return err
	}
	row.ExternalPaymentID = strPtr(event.ExternalPaymentID)
	row.OrderID = strPtr(event.OrderReference)
	row.Outcome = strPtr(string(event.Outcome))
	row.Status = strPtr(string(event.Status))
	row.Amount = int64Ptr(event.ObservedAmount)
	if err := h.writer.InsertPaymentEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert payment event row", err)
		return err
	}
	h.logg.Debug(logCtx, "payment_reconciled row inserted")
	return nil
}

type ledgerEntryHandler struct {
	writer Writer
	logg   *logger.Logger
}

func (h *ledgerEntryHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.LedgerEntryAppendedEvent)
	if !ok {
		return wrongPayload(envelope.EventType)
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"account_id": event.AccountID,
		"sequence":   event.Sequence,
	})
	row, err := paymentRow(envelope, event)
	if err != nil {
		return err
	}
	row.AccountID = uuidPtr(event.AccountID)
	row.Amount = int64Ptr(event.Amount)
	row.Bucket = strPtr(string(event.Bucket))
	row.EntryType = strPtr(string(event.Type))
	row.Status = strPtr(string(event.Status))
	row.Sequence = int64Ptr(event.Sequence)
	row.BalanceAfter = int64Ptr(event.BalanceAfter)
	switch event.ReferenceType {
	case "order":
		row.OrderID = uuidPtr(event.ReferenceID)
	case "withdrawal":
		row.WithdrawalID = uuidPtr(event.ReferenceID)
	}
	if err := h.writer.InsertPaymentEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert ledger entry row", err)
		return err
	}
	return nil
}

type withdrawalRequestedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func (h *withdrawalRequestedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.WithdrawalRequestedEvent)
	if !ok {
		return wrongPayload(envelope.EventType)
	}
	logCtx := h.logg.WithField(ctx, "withdrawal_id", event.WithdrawalID)
	row, err := paymentRow(envelope, event)
	if err != nil {
		return err
	}
	row.AccountID = uuidPtr(event.AccountID)
	row.WithdrawalID = uuidPtr(event.WithdrawalID)
	row.Amount = int64Ptr(event.Amount)
	row.Status = strPtr("requested")
	if err := h.writer.InsertPaymentEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert withdrawal row", err)
		return err
	}
	return nil
}

type withdrawalSettledHandler struct {
	writer Writer
	logg   *logger.Logger
}

func (h *withdrawalSettledHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.WithdrawalSettledEvent)
	if !ok {
		return wrongPayload(envelope.EventType)
	}
	logCtx := h.logg.WithField(ctx, "withdrawal_id", event.WithdrawalID)
	row, err := paymentRow(envelope, event)
	if err != nil {
		return err
	}
	row.AccountID = uuidPtr(event.AccountID)
	row.WithdrawalID = uuidPtr(event.WithdrawalID)
	row.Amount = int64Ptr(event.Amount)
	row.Status = strPtr(string(event.Status))
	if err := h.writer.InsertPaymentEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert withdrawal row", err)
		return err
	}
	return nil
}

func paymentRow(envelope types.Envelope, event any) (types.PaymentEventRow, error) {
	payload, err := writer.EncodeJSON(event)
	if err != nil {
		return types.PaymentEventRow{}, err
	}
	return types.PaymentEventRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		OccurredAt: envelope.OccurredAt,
		Payload:    payload,
	}, nil
}
