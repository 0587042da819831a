package order

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFundsInvariantHoldsAtRest(t *testing.T) {
	f := Funds{
		Capital:          decimal.NewFromInt(10_000_000),
		Available:        decimal.NewFromInt(9_950_000),
		UsedMargin:       decimal.NewFromInt(50_000),
		RealizedPnLToday: decimal.Zero,
	}
	if !f.Invariant() {
		t.Fatalf("expected invariant to hold: %+v", f)
	}
}

func TestFundsInvariantDetectsDrift(t *testing.T) {
	f := Funds{
		Capital:          decimal.NewFromInt(10_000_000),
		Available:        decimal.NewFromInt(9_950_000),
		UsedMargin:       decimal.NewFromInt(49_999),
		RealizedPnLToday: decimal.Zero,
	}
	if f.Invariant() {
		t.Fatal("expected invariant violation to be detected")
	}
}

func TestFundsInvariantToleratesPaiseRounding(t *testing.T) {
	f := Funds{
		Capital:          decimal.NewFromFloat(10_000_000.001),
		Available:        decimal.NewFromFloat(9_950_000.0005),
		UsedMargin:       decimal.NewFromFloat(50_000.0005),
		RealizedPnLToday: decimal.Zero,
	}
	if !f.Invariant() {
		t.Fatalf("expected sub-paise rounding to be tolerated: %+v", f)
	}
}
