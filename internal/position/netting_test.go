package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/order"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestApplyFillOpensFreshPosition(t *testing.T) {
	res := ApplyFill(order.Position{}, broker.Buy, 100, dec(2500), time.Now())
	if res.Position.Quantity != 100 {
		t.Fatalf("expected quantity 100, got %d", res.Position.Quantity)
	}
	if !res.Position.AvgPrice.Equal(dec(2500)) {
		t.Fatalf("expected avg 2500, got %s", res.Position.AvgPrice)
	}
	if res.OpenedQty != 100 || res.ClosedQty != 0 {
		t.Fatalf("expected opened=100 closed=0, got %+v", res)
	}
}

func TestApplyFillAddsSameSideWeightedAverage(t *testing.T) {
	pos := order.Position{Quantity: 100, AvgPrice: dec(2500)}
	res := ApplyFill(pos, broker.Buy, 100, dec(2600), time.Now())
	if res.Position.Quantity != 200 {
		t.Fatalf("expected quantity 200, got %d", res.Position.Quantity)
	}
	want := dec(2550) // (2500*100 + 2600*100)/200
	if !res.Position.AvgPrice.Equal(want) {
		t.Fatalf("expected avg %s, got %s", want, res.Position.AvgPrice)
	}
}

// TestApplyFillSLTriggerExample mirrors spec.md §8 example 4: long 50 @
// 1000, SL SELL 50 fills at 989. Realized P&L = (989-1000)*50 = -550.
func TestApplyFillSLTriggerExample(t *testing.T) {
	pos := order.Position{Quantity: 50, AvgPrice: dec(1000)}
	res := ApplyFill(pos, broker.Sell, 50, dec(989), time.Now())
	if res.Position.Quantity != 0 {
		t.Fatalf("expected flat position, got qty %d", res.Position.Quantity)
	}
	want := dec(-550)
	if !res.RealizedDelta.Equal(want) {
		t.Fatalf("expected realized %s, got %s", want, res.RealizedDelta)
	}
	if res.ClosedQty != 50 {
		t.Fatalf("expected closed qty 50, got %d", res.ClosedQty)
	}
}

func TestApplyFillPartialReduceKeepsAvgPrice(t *testing.T) {
	pos := order.Position{Quantity: 100, AvgPrice: dec(2500)}
	res := ApplyFill(pos, broker.Sell, 40, dec(2600), time.Now())
	if res.Position.Quantity != 60 {
		t.Fatalf("expected quantity 60, got %d", res.Position.Quantity)
	}
	if !res.Position.AvgPrice.Equal(dec(2500)) {
		t.Fatalf("expected avg price unchanged at 2500, got %s", res.Position.AvgPrice)
	}
	want := dec(2600).Sub(dec(2500)).Mul(decimal.NewFromInt(40))
	if !res.RealizedDelta.Equal(want) {
		t.Fatalf("expected realized %s, got %s", want, res.RealizedDelta)
	}
}

func TestApplyFillOpenThenCloseAtSamePriceRealizesZero(t *testing.T) {
	pos := order.Position{Quantity: 100, AvgPrice: dec(2500)}
	res := ApplyFill(pos, broker.Sell, 100, dec(2500), time.Now())
	if !res.RealizedDelta.IsZero() {
		t.Fatalf("expected zero realized P&L, got %s", res.RealizedDelta)
	}
	if res.Position.Quantity != 0 {
		t.Fatalf("expected flat position, got %d", res.Position.Quantity)
	}
}

func TestApplyFillCrossingSplitsIntoCloseAndOpen(t *testing.T) {
	pos := order.Position{Quantity: 50, AvgPrice: dec(1000)}
	res := ApplyFill(pos, broker.Sell, 80, dec(990), time.Now())

	if res.ClosedQty != 50 {
		t.Fatalf("expected closed 50, got %d", res.ClosedQty)
	}
	if res.OpenedQty != 30 {
		t.Fatalf("expected opened 30, got %d", res.OpenedQty)
	}
	if res.Position.Quantity != -30 {
		t.Fatalf("expected short 30 after flip, got %d", res.Position.Quantity)
	}
	if !res.Position.AvgPrice.Equal(dec(990)) {
		t.Fatalf("expected new short avg 990, got %s", res.Position.AvgPrice)
	}
	wantRealized := dec(990).Sub(dec(1000)).Mul(decimal.NewFromInt(50))
	if !res.RealizedDelta.Equal(wantRealized) {
		t.Fatalf("expected realized %s, got %s", wantRealized, res.RealizedDelta)
	}
}

func TestMTMSignAwareForShort(t *testing.T) {
	pos := order.Position{Quantity: -30, AvgPrice: dec(990)}
	mtm := MTM(pos, dec(980))
	want := dec(980).Sub(dec(990)).Mul(decimal.NewFromInt(-30))
	if !mtm.Equal(want) {
		t.Fatalf("expected mtm %s, got %s", want, mtm)
	}
	if !mtm.IsPositive() {
		t.Fatalf("expected short position to profit as price falls, got %s", mtm)
	}
}
