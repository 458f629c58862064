package orders

import (
	"fmt"

	"github.com/trademon/trademon-backend/pkg/enums"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
)

// StepKind classifies the result of feeding an event to the state machine.
type StepKind int

const (
	StepNext StepKind = iota + 1
	StepAlreadyInState
	StepInvalid
)

func (k StepKind) String() string {
	switch k {
	case StepNext:
		return "next"
	case StepAlreadyInState:
		return "already_in_state"
	case StepInvalid:
		return "invalid"
	}
	return fmt.Sprintf("StepKind(%d)", int(k))
}

// Step is one evaluated (state, event) pair.
type Step struct {
	From  enums.OrderState
	Event enums.OrderEvent
	To    enums.OrderState
	Kind  StepKind
}

// Changed reports whether applying the step moves the order.
func (s Step) Changed() bool {
	return s.Kind == StepNext
}

type rule struct {
	from []enums.OrderState
	to   enums.OrderState
}

var (
	paidStates = []enums.OrderState{
		enums.OrderStateAwaitingSeller,
		enums.OrderStateSellerAccepted,
		enums.OrderStateDeliverySubmitted,
		enums.OrderStateInReview,
	}

	transitions = map[enums.OrderEvent]rule{
		enums.OrderEventPaymentApproved:   {from: states(enums.OrderStatePendingPayment), to: enums.OrderStateAwaitingSeller},
		enums.OrderEventPaymentCancelled:  {from: states(enums.OrderStatePendingPayment), to: enums.OrderStateCancelled},
		enums.OrderEventSellerAccepted:    {from: states(enums.OrderStateAwaitingSeller), to: enums.OrderStateSellerAccepted},
		enums.OrderEventDeliverySubmitted: {from: states(enums.OrderStateSellerAccepted), to: enums.OrderStateDeliverySubmitted},
		enums.OrderEventDeliveryConfirmed: {from: states(enums.OrderStateDeliverySubmitted), to: enums.OrderStateInReview},
		enums.OrderEventReviewApproved:    {from: states(enums.OrderStateInReview), to: enums.OrderStateCompleted},
		enums.OrderEventDisputeOpened:     {from: paidStates, to: enums.OrderStateDispute},
		enums.OrderEventAmountMismatch: {
			from: append(states(enums.OrderStatePendingPayment), paidStates...),
			to:   enums.OrderStateDispute,
		},
		enums.OrderEventDisputeResolvedSeller: {from: states(enums.OrderStateDispute), to: enums.OrderStateCompleted},
		enums.OrderEventCancel: {
			from: append(append(states(enums.OrderStatePendingPayment), paidStates...), enums.OrderStateDispute),
			to:   enums.OrderStateCancelled,
		},
		enums.OrderEventRefund: {
			from: append(states(paidStates...), enums.OrderStateDispute),
			to:   enums.OrderStateRefunded,
		},
	}
)

func states(s ...enums.OrderState) []enums.OrderState {
	out := make([]enums.OrderState, len(s))
	copy(out, s)
	return out
}

// Evaluate classifies (state, event) against the transition table. It is
// total: every pair yields exactly one StepKind.
func Evaluate(state enums.OrderState, event enums.OrderEvent) Step {
	step := Step{From: state, Event: event, To: state, Kind: StepInvalid}
	r, ok := transitions[event]
	if !ok || !state.IsValid() {
		return step
	}
	if r.to == state {
		step.Kind = StepAlreadyInState
		return step
	}
	if state.IsTerminal() {
		return step
	}
	for _, from := range r.from {
		if from == state {
			step.To = r.to
			step.Kind = StepNext
			return step
		}
	}
	return step
}

// Transition evaluates the pair and turns StepInvalid into an
// INVALID_TRANSITION error carrying the offending pair.
func Transition(state enums.OrderState, event enums.OrderEvent) (Step, error) {
	step := Evaluate(state, event)
	if step.Kind == StepInvalid {
		return step, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("event %s is not allowed in state %s", event, state)).
			WithDetails(map[string]any{
				"state": state,
				"event": event,
			})
	}
	return step, nil
}

// Target returns the state an event leads to.
func Target(event enums.OrderEvent) (enums.OrderState, bool) {
	r, ok := transitions[event]
	return r.to, ok
}

// AllowedEvents lists the events that move an order out of state, in the
// canonical event order.
func AllowedEvents(state enums.OrderState) []enums.OrderEvent {
	var out []enums.OrderEvent
	for _, event := range enums.OrderEvents() {
		if Evaluate(state, event).Kind == StepNext {
			out = append(out, event)
		}
	}
	return out
}
