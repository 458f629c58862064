package reconciliation

import (
	"testing"

	"github.com/trademon/trademon-backend/pkg/config"
)

func mustFees(t *testing.T, tiers []config.FeeTier) *FeeSchedule {
	t.Helper()
	fees, err := NewFeeSchedule(tiers)
	if err != nil {
		t.Fatalf("NewFeeSchedule: %v", err)
	}
	return fees
}

func TestPlatformFeeDefaultTiers(t *testing.T) {
	fees := mustFees(t, nil)

	cases := map[int64]int64{
		0:      0,
		-5:     0,
		1:      0,
		5:      1,
		9999:   1000,
		10000:  800,
		15000:  1200,
		49999:  4000,
		50000:  2500,
		123457: 6173,
	}
	for amount, want := range cases {
		if got := fees.PlatformFee(amount); got != want {
			t.Errorf("PlatformFee(%d) = %d, want %d", amount, got, want)
		}
	}
}

func TestPlatformFeeHalfUpRounding(t *testing.T) {
	fees := mustFees(t, []config.FeeTier{{MinAmount: 0, BasisPoints: 250}})
	if got := fees.PlatformFee(20); got != 1 {
		t.Fatalf("PlatformFee(20) = %d, want 1", got)
	}
	if got := fees.PlatformFee(19); got != 0 {
		t.Fatalf("PlatformFee(19) = %d, want 0", got)
	}
}

func TestPlatformFeeBelowFirstThreshold(t *testing.T) {
	fees := mustFees(t, []config.FeeTier{{MinAmount: 1000, BasisPoints: 1000}})
	if got := fees.PlatformFee(999); got != 0 {
		t.Fatalf("PlatformFee(999) = %d, want 0", got)
	}
	if got := fees.PlatformFee(1000); got != 100 {
		t.Fatalf("PlatformFee(1000) = %d, want 100", got)
	}
}

func TestPlatformFeeNeverExceedsAmount(t *testing.T) {
	fees := mustFees(t, []config.FeeTier{{MinAmount: 0, BasisPoints: 10000}})
	if got := fees.PlatformFee(77); got != 77 {
		t.Fatalf("PlatformFee(77) = %d, want 77", got)
	}
}

func TestNewFeeScheduleValidates(t *testing.T) {
	if _, err := NewFeeSchedule([]config.FeeTier{{MinAmount: 0, BasisPoints: 10001}}); err == nil {
		t.Fatal("expected error for basis points above 10000")
	}
	if _, err := NewFeeSchedule([]config.FeeTier{{MinAmount: 100, BasisPoints: 1}, {MinAmount: 100, BasisPoints: 2}}); err == nil {
		t.Fatal("expected error for duplicate thresholds")
	}
}
