package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/pkg/enums"
)

// OrderCreatedEvent is emitted when checkout opens an order in PENDING_PAYMENT.
type OrderCreatedEvent struct {
	OrderID   uuid.UUID      `json:"order_id"`
	BuyerID   uuid.UUID      `json:"buyer_id"`
	SellerID  uuid.UUID      `json:"seller_id"`
	ListingID uuid.UUID      `json:"listing_id"`
	Amount    int64          `json:"amount"`
	Currency  enums.Currency `json:"currency"`
	CreatedAt time.Time      `json:"created_at"`
}

// OrderStateChangedEvent records one accepted state machine transition.
type OrderStateChangedEvent struct {
	OrderID           uuid.UUID        `json:"order_id"`
	BuyerID           uuid.UUID        `json:"buyer_id"`
	SellerID          uuid.UUID        `json:"seller_id"`
	Event             enums.OrderEvent `json:"event"`
	From              enums.OrderState `json:"from"`
	To                enums.OrderState `json:"to"`
	Amount            int64            `json:"amount"`
	Currency          enums.Currency   `json:"currency"`
	PlatformFee       *int64           `json:"platform_fee,omitempty"`
	ExternalPaymentID *string          `json:"external_payment_id,omitempty"`
	ChangedAt         time.Time        `json:"changed_at"`
}

// PaymentReconciledEvent is the audit record of one admitted payment notification.
type PaymentReconciledEvent struct {
	ExternalPaymentID string                      `json:"external_payment_id"`
	OrderReference    string                      `json:"order_reference"`
	Status            enums.PaymentStatus         `json:"status"`
	Outcome           enums.ReconciliationOutcome `json:"outcome"`
	ObservedAmount    int64                       `json:"observed_amount"`
	OrderAmount       *int64                      `json:"order_amount,omitempty"`
	FromState         *enums.OrderState           `json:"from_state,omitempty"`
	ToState           *enums.OrderState           `json:"to_state,omitempty"`
	ReconciledAt      time.Time                   `json:"reconciled_at"`
}

// LedgerEntryAppendedEvent mirrors a committed ledger entry.
type LedgerEntryAppendedEvent struct {
	EntryID       uuid.UUID               `json:"entry_id"`
	AccountID     uuid.UUID               `json:"account_id"`
	Sequence      int64                   `json:"sequence"`
	Bucket        enums.LedgerBucket      `json:"bucket"`
	Amount        int64                   `json:"amount"`
	BalanceAfter  int64                   `json:"balance_after"`
	Type          enums.LedgerEntryType   `json:"type"`
	Status        enums.LedgerEntryStatus `json:"status"`
	ReferenceType string                  `json:"reference_type"`
	ReferenceID   uuid.UUID               `json:"reference_id"`
}

// WithdrawalRequestedEvent is emitted when funds are reserved for a payout.
type WithdrawalRequestedEvent struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
	AccountID    uuid.UUID `json:"account_id"`
	Amount       int64     `json:"amount"`
	RequestedAt  time.Time `json:"requested_at"`
}

// WithdrawalSettledEvent is emitted when an admin pays or rejects a withdrawal.
type WithdrawalSettledEvent struct {
	WithdrawalID uuid.UUID              `json:"withdrawal_id"`
	AccountID    uuid.UUID              `json:"account_id"`
	Amount       int64                  `json:"amount"`
	Status       enums.WithdrawalStatus `json:"status"`
	ProcessedBy  uuid.UUID              `json:"processed_by"`
	ProcessedAt  time.Time              `json:"processed_at"`
}

// AdminAlertRaisedEvent carries back-office alerts to downstream consumers.
type AdminAlertRaisedEvent struct {
	Kind     string         `json:"kind"`
	Message  string         `json:"message"`
	DedupKey string         `json:"dedup_key"`
	Context  map[string]any `json:"context,omitempty"`
	RaisedAt time.Time      `json:"raised_at"`
}
