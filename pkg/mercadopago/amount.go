package mercadopago

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ToMinorUnits converts a gateway decimal amount to integer minor units for a
// currency with the given exponent. Amounts with extra precision or outside
// int64 are rejected rather than rounded.
func ToMinorUnits(amount decimal.Decimal, exponent int32) (int64, error) {
	shifted := amount.Shift(exponent)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", amount.String(), exponent)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s out of range", amount.String())
	}
	return shifted.IntPart(), nil
}

// FromMinorUnits renders minor units as the decimal the gateway expects.
func FromMinorUnits(amount int64, exponent int32) decimal.Decimal {
	return decimal.New(amount, -exponent)
}
