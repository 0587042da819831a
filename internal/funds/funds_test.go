package funds

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/order"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// TestMarginMarketFillExample mirrors spec.md §8 example 3: BUY 100
// RELIANCE MARKET, MIS, equity_leverage=5, ask=2500 → margin=50000.
func TestMarginMarketFillExample(t *testing.T) {
	cfg := DefaultLeverageConfig()
	m := Margin(Equity, broker.MIS, broker.Buy, 100, dec(2500), 1, cfg)
	if !m.Equal(dec(50000)) {
		t.Fatalf("expected margin 50000, got %s", m)
	}
}

func TestMarginEquityCNCIsFullNotional(t *testing.T) {
	cfg := DefaultLeverageConfig()
	m := Margin(Equity, broker.CNC, broker.Buy, 10, dec(1500), 1, cfg)
	if !m.Equal(dec(15000)) {
		t.Fatalf("expected full notional 15000, got %s", m)
	}
}

func TestMarginOptionBuyIsPremiumTimesLot(t *testing.T) {
	cfg := DefaultLeverageConfig()
	m := Margin(Option, broker.NRML, broker.Buy, 2, dec(120), 50, cfg)
	want := dec(120).Mul(decimal.NewFromInt(2)).Mul(decimal.NewFromInt(50))
	if !m.Equal(want) {
		t.Fatalf("expected %s, got %s", want, m)
	}
}

func TestBlockRejectsWhenAvailableWouldGoNegative(t *testing.T) {
	f := order.Funds{Capital: dec(10000), Available: dec(5000), UsedMargin: dec(5000)}
	_, err := Block(f, dec(6000))
	if err == nil {
		t.Fatal("expected INSUFFICIENT_FUNDS error")
	}
}

func TestBlockPreservesInvariant(t *testing.T) {
	f := order.Funds{Capital: dec(10_000_000), Available: dec(10_000_000)}
	after, err := Block(f, dec(50000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !after.Invariant() {
		t.Fatalf("invariant violated after block: %+v", after)
	}
	if !after.Available.Equal(dec(9_950_000)) {
		t.Fatalf("expected available 9950000, got %s", after.Available)
	}
}

func TestBlockThenReleaseRoundTripsToPlaceCancel(t *testing.T) {
	// Place-then-cancel (before fill) restores funds with no position
	// change (spec.md §8 boundary condition).
	f := order.Funds{Capital: dec(10_000_000), Available: dec(10_000_000)}
	blocked, err := Block(f, dec(50000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	restored := Release(blocked, dec(50000))
	if !restored.Available.Equal(f.Available) || !restored.UsedMargin.Equal(f.UsedMargin) {
		t.Fatalf("expected funds restored to original, got %+v", restored)
	}
	if !restored.Invariant() {
		t.Fatalf("invariant violated after release: %+v", restored)
	}
}

func TestApplyRealizedPreservesInvariant(t *testing.T) {
	f := order.Funds{Capital: dec(10_000_000), Available: dec(9_950_000), UsedMargin: dec(50000)}
	after := ApplyRealized(f, dec(-550))
	if !after.Invariant() {
		t.Fatalf("invariant violated after realized P&L: %+v", after)
	}
	if !after.RealizedPnLToday.Equal(dec(-550)) {
		t.Fatalf("expected realized_pnl_today -550, got %s", after.RealizedPnLToday)
	}
}

func TestClassifyInstrument(t *testing.T) {
	cases := []struct {
		brokerExchange, symbol string
		want                   InstrumentClass
	}{
		{"NSE_EQ", "RELIANCE", Equity},
		{"NSE_FO", "NIFTY24DECFUT", Future},
		{"NSE_FO", "NIFTY24DEC22000CE", Option},
		{"NSE_FO", "NIFTY24DEC22000PE", Option},
	}
	for _, c := range cases {
		got := ClassifyInstrument(c.brokerExchange, c.symbol)
		if got != c.want {
			t.Fatalf("ClassifyInstrument(%s,%s) = %s, want %s", c.brokerExchange, c.symbol, got, c.want)
		}
	}
}
