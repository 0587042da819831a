package feed

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/bus"
	simulatedbroker "github.com/ndrandal/marketgateway/internal/broker/simulated"
	"github.com/ndrandal/marketgateway/internal/symbol"
	"github.com/ndrandal/marketgateway/internal/tick"
)

func testFactory() broker.Factory {
	contracts := symbol.DemoContracts()
	resolver := symbol.NewResolver(contracts)
	return func(ctx context.Context, userID, brokerName string) (broker.Client, error) {
		return simulatedbroker.New(resolver, contracts, simulatedbroker.Config{Seed: 1, TickInterval: 5 * time.Millisecond}, zerolog.Nop()), nil
	}
}

func TestSubscribePublishesToBus(t *testing.T) {
	b := bus.New(16)
	sub := b.Subscribe("")

	a, err := New(context.Background(), "user1", "simulated", testFactory(), b, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Disconnect(context.Background())

	res, err := a.Subscribe(context.Background(), "RELIANCE", "NSE", tick.LTP, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = res

	select {
	case env := <-sub.Receive():
		tk, ok := env.Payload.(tick.Tick)
		if !ok {
			t.Fatalf("expected tick.Tick payload, got %T", env.Payload)
		}
		if tk.Symbol != "RELIANCE" {
			t.Fatalf("expected RELIANCE, got %s", tk.Symbol)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published tick")
	}
}

func TestUnsubscribeRemovesRecord(t *testing.T) {
	b := bus.New(16)
	a, err := New(context.Background(), "user1", "simulated", testFactory(), b, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Disconnect(context.Background())

	if _, err := a.Subscribe(context.Background(), "RELIANCE", "NSE", tick.LTP, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Unsubscribe(context.Background(), "RELIANCE", "NSE", tick.LTP); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a.mu.Lock()
	_, exists := a.subs[subKey{symbol: "RELIANCE", exchange: "NSE", mode: tick.LTP}]
	a.mu.Unlock()
	if exists {
		t.Fatal("expected subscription record to be removed")
	}
}

func TestPoolSlotIsStableForKey(t *testing.T) {
	first := poolSlot("RELIANCE", "NSE", 8)
	second := poolSlot("RELIANCE", "NSE", 8)
	if first != second {
		t.Fatalf("expected stable pool routing, got %d then %d", first, second)
	}
}

func TestDisconnectIsIdempotentSafe(t *testing.T) {
	b := bus.New(16)
	a, err := New(context.Background(), "user1", "simulated", testFactory(), b, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Disconnect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Disconnect(context.Background()); err != nil {
		t.Fatalf("unexpected error on second disconnect: %v", err)
	}
}
