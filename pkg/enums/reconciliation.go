package enums

import "fmt"

// ReconciliationOutcome is the result of applying one payment event.
type ReconciliationOutcome string

const (
	OutcomeApplied        ReconciliationOutcome = "applied"
	OutcomeDuplicate      ReconciliationOutcome = "duplicate"
	OutcomePending        ReconciliationOutcome = "pending"
	OutcomeUnknownOrder   ReconciliationOutcome = "unknown_order"
	OutcomeAmountMismatch ReconciliationOutcome = "amount_mismatch"
	OutcomeRejected       ReconciliationOutcome = "rejected_transition"
	OutcomeUnsupported    ReconciliationOutcome = "unsupported"
)

var validReconciliationOutcomes = []ReconciliationOutcome{
	OutcomeApplied,
	OutcomeDuplicate,
	OutcomePending,
	OutcomeUnknownOrder,
	OutcomeAmountMismatch,
	OutcomeRejected,
	OutcomeUnsupported,
}

// ReconciliationOutcomes lists every outcome, used to pre-register metric labels.
func ReconciliationOutcomes() []ReconciliationOutcome {
	out := make([]ReconciliationOutcome, len(validReconciliationOutcomes))
	copy(out, validReconciliationOutcomes)
	return out
}

func (o ReconciliationOutcome) String() string {
	return string(o)
}

func (o ReconciliationOutcome) IsValid() bool {
	for _, candidate := range validReconciliationOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

func ParseReconciliationOutcome(value string) (ReconciliationOutcome, error) {
	for _, candidate := range validReconciliationOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reconciliation outcome %q", value)
}
