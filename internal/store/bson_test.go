package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/order"
)

// No live MongoDB connection is exercised by this package's tests — only
// the bson round-trip of the documents CommitFill and the read paths
// produce, matching spec.md's no-live-database testing policy.

func TestSimOrderBSONRoundTrip(t *testing.T) {
	want := order.SimOrder{
		ID: "ord-1", UserID: "alice", Symbol: "RELIANCE", Exchange: "NSE",
		Action: broker.Buy, Quantity: 100, Product: broker.MIS, PriceType: broker.Market,
		Price: decimal.NewFromInt(2500), TriggerPrice: decimal.Zero,
		Status: order.Open, CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	raw, err := bson.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got order.SimOrder
	if err := bson.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != want.ID || got.Symbol != want.Symbol || got.Action != want.Action {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if !got.Price.Equal(want.Price) {
		t.Fatalf("price round trip mismatch: got %s, want %s", got.Price, want.Price)
	}
}

func TestPositionBSONRoundTripPreservesSignedQuantity(t *testing.T) {
	want := order.Position{
		UserID: "bob", Symbol: "INFY", Exchange: "NSE", Product: broker.NRML,
		Quantity: -50, AvgPrice: decimal.NewFromFloat(1500.25),
		RealizedPnL: decimal.NewFromInt(-100),
	}
	raw, err := bson.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got order.Position
	if err := bson.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Quantity != -50 {
		t.Fatalf("expected short quantity to survive round trip, got %d", got.Quantity)
	}
	if !got.AvgPrice.Equal(want.AvgPrice) {
		t.Fatalf("avg_price mismatch: got %s, want %s", got.AvgPrice, want.AvgPrice)
	}
}

func TestFundsBSONRoundTripSatisfiesInvariant(t *testing.T) {
	want := order.Funds{
		UserID: "alice", Capital: decimal.NewFromInt(10_000_000),
		Available: decimal.NewFromInt(9_950_000), UsedMargin: decimal.NewFromInt(50_000),
		RealizedPnLToday: decimal.Zero,
	}
	raw, err := bson.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got order.Funds
	if err := bson.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Invariant() {
		t.Fatalf("expected round-tripped funds to satisfy invariant: %+v", got)
	}
}

func TestPositionFilterExcludesClosedRows(t *testing.T) {
	k := order.Key{UserID: "alice", Symbol: "RELIANCE", Exchange: "NSE", Product: broker.MIS}
	f := positionFilter(k)
	qtyFilter, ok := f["quantity"].(bson.M)
	if !ok {
		t.Fatalf("expected quantity filter clause, got %T", f["quantity"])
	}
	if qtyFilter["$ne"] != 0 {
		t.Fatalf("expected quantity filter to exclude zero, got %v", qtyFilter)
	}
}
