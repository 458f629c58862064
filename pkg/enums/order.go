package enums

import "fmt"

// OrderState maps to the order_state enum in Postgres.
type OrderState string

const (
	OrderStatePendingPayment    OrderState = "PENDING_PAYMENT"
	OrderStateAwaitingSeller    OrderState = "AWAITING_SELLER"
	OrderStateSellerAccepted    OrderState = "SELLER_ACCEPTED"
	OrderStateDeliverySubmitted OrderState = "DELIVERY_SUBMITTED"
	OrderStateInReview          OrderState = "IN_REVIEW"
	OrderStateDispute           OrderState = "DISPUTE"
	OrderStateCompleted         OrderState = "COMPLETED"
	OrderStateCancelled         OrderState = "CANCELLED"
	OrderStateRefunded          OrderState = "REFUNDED"
)

var validOrderStates = []OrderState{
	OrderStatePendingPayment,
	OrderStateAwaitingSeller,
	OrderStateSellerAccepted,
	OrderStateDeliverySubmitted,
	OrderStateInReview,
	OrderStateDispute,
	OrderStateCompleted,
	OrderStateCancelled,
	OrderStateRefunded,
}

// OrderStates returns every state in lifecycle order.
func OrderStates() []OrderState {
	out := make([]OrderState, len(validOrderStates))
	copy(out, validOrderStates)
	return out
}

// String implements fmt.Stringer.
func (s OrderState) String() string {
	return string(s)
}

// IsValid reports whether the value matches the canonical order_state enum.
func (s OrderState) IsValid() bool {
	for _, candidate := range validOrderStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition may leave the state.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateCompleted, OrderStateCancelled, OrderStateRefunded:
		return true
	}
	return false
}

// IsPaid reports whether the state is only reachable after an approved payment.
func (s OrderState) IsPaid() bool {
	switch s {
	case OrderStateAwaitingSeller, OrderStateSellerAccepted, OrderStateDeliverySubmitted,
		OrderStateInReview, OrderStateDispute:
		return true
	}
	return false
}

// ParseOrderState converts raw input into an OrderState.
func ParseOrderState(value string) (OrderState, error) {
	for _, candidate := range validOrderStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order state %q", value)
}

// OrderEvent names an input to the order state machine.
type OrderEvent string

const (
	OrderEventPaymentApproved       OrderEvent = "payment_approved"
	OrderEventPaymentCancelled      OrderEvent = "payment_cancelled"
	OrderEventSellerAccepted        OrderEvent = "seller_accepted"
	OrderEventDeliverySubmitted     OrderEvent = "delivery_submitted"
	OrderEventDeliveryConfirmed     OrderEvent = "delivery_confirmed"
	OrderEventReviewApproved        OrderEvent = "review_approved"
	OrderEventDisputeOpened         OrderEvent = "dispute_opened"
	OrderEventAmountMismatch        OrderEvent = "amount_mismatch"
	OrderEventDisputeResolvedSeller OrderEvent = "dispute_resolved_seller"
	OrderEventCancel                OrderEvent = "cancel"
	OrderEventRefund                OrderEvent = "refund"
)

var validOrderEvents = []OrderEvent{
	OrderEventPaymentApproved,
	OrderEventPaymentCancelled,
	OrderEventSellerAccepted,
	OrderEventDeliverySubmitted,
	OrderEventDeliveryConfirmed,
	OrderEventReviewApproved,
	OrderEventDisputeOpened,
	OrderEventAmountMismatch,
	OrderEventDisputeResolvedSeller,
	OrderEventCancel,
	OrderEventRefund,
}

// OrderEvents returns every known event.
func OrderEvents() []OrderEvent {
	out := make([]OrderEvent, len(validOrderEvents))
	copy(out, validOrderEvents)
	return out
}

// String implements fmt.Stringer.
func (e OrderEvent) String() string {
	return string(e)
}

// IsValid reports whether the value is a known OrderEvent.
func (e OrderEvent) IsValid() bool {
	for _, candidate := range validOrderEvents {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOrderEvent converts raw input into an OrderEvent.
func ParseOrderEvent(value string) (OrderEvent, error) {
	for _, candidate := range validOrderEvents {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order event %q", value)
}
