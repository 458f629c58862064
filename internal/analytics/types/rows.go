package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// PaymentEventRow is one row of the money audit trail: reconciled payment
// notifications, ledger entries and withdrawal lifecycle events.
type PaymentEventRow struct {
	EventID           string             `bigquery:"event_id"`
	EventType         string             `bigquery:"event_type"`
	OccurredAt        time.Time          `bigquery:"occurred_at"`
	ExternalPaymentID *string            `bigquery:"external_payment_id"`
	OrderID           *string            `bigquery:"order_id"`
	AccountID         *string            `bigquery:"account_id"`
	WithdrawalID      *string            `bigquery:"withdrawal_id"`
	Outcome           *string            `bigquery:"outcome"`
	Status            *string            `bigquery:"status"`
	Amount            *int64             `bigquery:"amount"`
	Bucket            *string            `bigquery:"bucket"`
	EntryType         *string            `bigquery:"entry_type"`
	Sequence          *int64             `bigquery:"sequence"`
	BalanceAfter      *int64             `bigquery:"balance_after"`
	Payload           cbigquery.NullJSON `bigquery:"payload"`
}

// OrderEventRow records order creation and every accepted state transition.
type OrderEventRow struct {
	EventID           string             `bigquery:"event_id"`
	EventType         string             `bigquery:"event_type"`
	OccurredAt        time.Time          `bigquery:"occurred_at"`
	OrderID           string             `bigquery:"order_id"`
	BuyerID           *string            `bigquery:"buyer_id"`
	SellerID          *string            `bigquery:"seller_id"`
	Event             *string            `bigquery:"event"`
	FromState         *string            `bigquery:"from_state"`
	ToState           string             `bigquery:"to_state"`
	Amount            int64              `bigquery:"amount"`
	Currency          string             `bigquery:"currency"`
	PlatformFee       *int64             `bigquery:"platform_fee"`
	ExternalPaymentID *string            `bigquery:"external_payment_id"`
	ActorID           *string            `bigquery:"actor_id"`
	ActorRole         *string            `bigquery:"actor_role"`
	Payload           cbigquery.NullJSON `bigquery:"payload"`
}
