package reconciliation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/trademon/trademon-backend/pkg/config"
)

var basisPointsDivisor = decimal.NewFromInt(10000)

// DefaultFeeTiers is 10% below 10000, 8% up to 50000 and 5% from there on.
var DefaultFeeTiers = []config.FeeTier{
	{MinAmount: 0, BasisPoints: 1000},
	{MinAmount: 10000, BasisPoints: 800},
	{MinAmount: 50000, BasisPoints: 500},
}

// FeeSchedule computes the platform fee charged on an order.
type FeeSchedule struct {
	tiers []config.FeeTier
}

// NewFeeSchedule validates tiers (ascending thresholds, 0..10000 bps). An
// empty slice falls back to DefaultFeeTiers.
func NewFeeSchedule(tiers []config.FeeTier) (*FeeSchedule, error) {
	if len(tiers) == 0 {
		tiers = DefaultFeeTiers
	}
	for i, tier := range tiers {
		if tier.BasisPoints < 0 || tier.BasisPoints > 10000 {
			return nil, fmt.Errorf("fee tier %d: basis points %d out of range", i, tier.BasisPoints)
		}
		if i > 0 && tier.MinAmount <= tiers[i-1].MinAmount {
			return nil, fmt.Errorf("fee tier %d: thresholds must be ascending", i)
		}
	}
	out := make([]config.FeeTier, len(tiers))
	copy(out, tiers)
	return &FeeSchedule{tiers: out}, nil
}

// PlatformFee returns the fee for amount minor units, rounded half-up and
// clamped to [0, amount].
func (f *FeeSchedule) PlatformFee(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	var bps int64
	for _, tier := range f.tiers {
		if amount < tier.MinAmount {
			break
		}
		bps = tier.BasisPoints
	}
	fee := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(bps)).
		Div(basisPointsDivisor).
		Round(0).
		IntPart()
	switch {
	case fee < 0:
		return 0
	case fee > amount:
		return amount
	}
	return fee
}
