package simulated

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/gwerrors"
	"github.com/ndrandal/marketgateway/internal/symbol"
	"github.com/ndrandal/marketgateway/internal/tick"
)

func newTestClient() *Client {
	contracts := symbol.DemoContracts()
	resolver := symbol.NewResolver(contracts)
	return New(resolver, contracts, Config{Seed: 1, TickInterval: 5 * time.Millisecond}, zerolog.Nop())
}

func TestQuoteResolvesAndReturnsSpread(t *testing.T) {
	c := newTestClient()
	q, err := c.Quote(context.Background(), "RELIANCE", "NSE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.LTP <= 0 {
		t.Fatalf("expected positive LTP, got %f", q.LTP)
	}
	if q.Bid >= q.LTP || q.Ask <= q.LTP {
		t.Fatalf("expected bid < ltp < ask, got bid=%f ltp=%f ask=%f", q.Bid, q.LTP, q.Ask)
	}
}

func TestQuoteUnknownSymbol(t *testing.T) {
	c := newTestClient()
	_, err := c.Quote(context.Background(), "NOSUCH", "NSE")
	if !gwerrors_Is(err, gwerrors.SymbolNotFound) {
		t.Fatalf("expected SYMBOL_NOT_FOUND, got %v", err)
	}
}

func TestSubscribePublishesTicks(t *testing.T) {
	c := newTestClient()
	res, err := c.Subscribe(context.Background(), broker.SubscribeRequest{Symbol: "RELIANCE", Exchange: "NSE", Mode: tick.LTP})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.BrokerSupported && res.ActualDepth != 0 {
		t.Fatalf("LTP mode should not report depth truncation, got %+v", res)
	}

	select {
	case tk := <-c.Ticks():
		if tk.Symbol != "RELIANCE" {
			t.Fatalf("expected RELIANCE tick, got %s", tk.Symbol)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func TestSubscribeDepthBeyondCapFallsBackAndFlags(t *testing.T) {
	c := newTestClient()
	res, err := c.Subscribe(context.Background(), broker.SubscribeRequest{Symbol: "RELIANCE", Exchange: "NSE", Mode: tick.DEPTH, DepthLevel: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.BrokerSupported {
		t.Fatal("expected broker_supported=false for unsupported depth level")
	}
	if res.ActualDepth != 5 {
		t.Fatalf("expected fallback to 5 levels, got %d", res.ActualDepth)
	}
}

func TestUnsubscribeRemovesSubscription(t *testing.T) {
	c := newTestClient()
	_, err := c.Subscribe(context.Background(), broker.SubscribeRequest{Symbol: "RELIANCE", Exchange: "NSE", Mode: tick.LTP})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Unsubscribe(context.Background(), "RELIANCE", "NSE", tick.LTP); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.mu.Lock()
	_, stillSubscribed := c.subs[subKey{symbol: "RELIANCE", exchange: "NSE", mode: tick.LTP}]
	c.mu.Unlock()
	if stillSubscribed {
		t.Fatal("expected subscription to be removed")
	}
}

func TestCapabilitiesReportRupeesAndDepth5(t *testing.T) {
	c := newTestClient()
	caps := c.Capabilities()
	if caps.PriceInPaise {
		t.Fatal("simulated broker quotes in rupees, not paise")
	}
	if !caps.SupportsDepths[5] {
		t.Fatal("expected 5-level depth support")
	}
}

// gwerrors_Is is a tiny local helper so the test doesn't need to import
// errors just for this one comparison.
func gwerrors_Is(err error, code gwerrors.Code) bool {
	ge, ok := err.(*gwerrors.GatewayError)
	if !ok {
		return false
	}
	return ge.Code == code
}
