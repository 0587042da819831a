package proxy

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	simulatedbroker "github.com/ndrandal/marketgateway/internal/broker/simulated"
	"github.com/ndrandal/marketgateway/internal/authport"
	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/bus"
	"github.com/ndrandal/marketgateway/internal/symbol"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	contracts := symbol.DemoContracts()
	resolver := symbol.NewResolver(contracts)
	factory := broker.Factory(func(ctx context.Context, userID, brokerName string) (broker.Client, error) {
		return simulatedbroker.New(resolver, contracts, simulatedbroker.Config{Seed: 1, TickInterval: 5 * time.Millisecond}, zerolog.Nop()), nil
	})
	auth := authport.NewStaticPort(map[string]authport.Identity{
		"key-alice": {UserID: "alice", BrokerName: "simulated"},
		"key-bob":   {UserID: "bob", BrokerName: "simulated"},
	})
	b := bus.New(64)
	s := New(context.Background(), auth, factory, b, Config{OutboxCapacity: 64}, zerolog.Nop())

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Shutdown()
	})
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, into any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		t.Fatalf("unmarshal failed: %v (%s)", err, raw)
	}
}

func TestAuthenticateThenSubscribeSucceeds(t *testing.T) {
	_, srv := testServer(t)
	conn := dial(t, srv)

	conn.WriteJSON(clientMessage{Action: "authenticate", APIKey: "key-alice"})
	var ack authAck
	readFrame(t, conn, &ack)
	if ack.Status != "authenticated" {
		t.Fatalf("expected authenticated, got %+v", ack)
	}

	conn.WriteJSON(clientMessage{Action: "subscribe", Symbols: []symbolSpec{{Symbol: "RELIANCE", Exchange: "NSE"}}, Mode: 1})
	var subAck subscribeAckFrame
	readFrame(t, conn, &subAck)
	if len(subAck.Results) != 1 || subAck.Results[0].Status != "subscribed" {
		t.Fatalf("expected subscribed, got %+v", subAck)
	}
}

func TestSubscribeWithoutAuthRejected(t *testing.T) {
	_, srv := testServer(t)
	conn := dial(t, srv)

	conn.WriteJSON(clientMessage{Action: "subscribe", Symbols: []symbolSpec{{Symbol: "RELIANCE", Exchange: "NSE"}}, Mode: 1})
	var errFrame errorFrame
	readFrame(t, conn, &errFrame)
	if errFrame.Code != "NOT_AUTHENTICATED" {
		t.Fatalf("expected NOT_AUTHENTICATED, got %+v", errFrame)
	}
}

func TestSharedSubscriptionRefCounting(t *testing.T) {
	s, srv := testServer(t)
	c1 := dial(t, srv)
	c2 := dial(t, srv)

	c1.WriteJSON(clientMessage{Action: "authenticate", APIKey: "key-alice"})
	var ack authAck
	readFrame(t, c1, &ack)

	c2.WriteJSON(clientMessage{Action: "authenticate", APIKey: "key-alice"})
	readFrame(t, c2, &ack)

	c1.WriteJSON(clientMessage{Action: "subscribe", Symbols: []symbolSpec{{Symbol: "RELIANCE", Exchange: "NSE"}}, Mode: 1})
	var subAck subscribeAckFrame
	readFrame(t, c1, &subAck)
	if subAck.Results[0].Status != "subscribed" {
		t.Fatalf("expected first subscribe to be subscribed, got %+v", subAck)
	}

	c2.WriteJSON(clientMessage{Action: "subscribe", Symbols: []symbolSpec{{Symbol: "RELIANCE", Exchange: "NSE"}}, Mode: 1})
	readFrame(t, c2, &subAck)
	if subAck.Results[0].Message != "shared with other clients" {
		t.Fatalf("expected shared message, got %+v", subAck)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.RefCount(Key{UserID: "alice", Symbol: "RELIANCE", Exchange: "NSE", Mode: 1}) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected ref count of 2 for shared subscription")
}

func TestDuplicateSubscribeReturnsWarning(t *testing.T) {
	_, srv := testServer(t)
	conn := dial(t, srv)

	conn.WriteJSON(clientMessage{Action: "authenticate", APIKey: "key-alice"})
	var ack authAck
	readFrame(t, conn, &ack)

	conn.WriteJSON(clientMessage{Action: "subscribe", Symbols: []symbolSpec{{Symbol: "RELIANCE", Exchange: "NSE"}}, Mode: 1})
	var subAck subscribeAckFrame
	readFrame(t, conn, &subAck)

	conn.WriteJSON(clientMessage{Action: "subscribe", Symbols: []symbolSpec{{Symbol: "RELIANCE", Exchange: "NSE"}}, Mode: 1})
	readFrame(t, conn, &subAck)
	if subAck.Results[0].Status != "warning" {
		t.Fatalf("expected warning status for duplicate subscribe, got %+v", subAck)
	}
}

func TestUnsubscribeUnknownReturnsError(t *testing.T) {
	_, srv := testServer(t)
	conn := dial(t, srv)

	conn.WriteJSON(clientMessage{Action: "authenticate", APIKey: "key-bob"})
	var ack authAck
	readFrame(t, conn, &ack)

	conn.WriteJSON(clientMessage{Action: "unsubscribe", Symbols: []symbolSpec{{Symbol: "RELIANCE", Exchange: "NSE"}}, Mode: 1})
	var unsubAck unsubscribeAckFrame
	readFrame(t, conn, &unsubAck)
	if unsubAck.Results[0].Status != "error" {
		t.Fatalf("expected error for unknown subscription, got %+v", unsubAck)
	}
}

func TestMarketDataFlowsAfterSubscribe(t *testing.T) {
	_, srv := testServer(t)
	conn := dial(t, srv)

	conn.WriteJSON(clientMessage{Action: "authenticate", APIKey: "key-alice"})
	var ack authAck
	readFrame(t, conn, &ack)

	conn.WriteJSON(clientMessage{Action: "subscribe", Symbols: []symbolSpec{{Symbol: "RELIANCE", Exchange: "NSE"}}, Mode: 1})
	var subAck subscribeAckFrame
	readFrame(t, conn, &subAck)

	var frame marketDataFrame
	readFrame(t, conn, &frame)
	if frame.Type != "market_data" || frame.Symbol != "RELIANCE" {
		t.Fatalf("expected RELIANCE market_data frame, got %+v", frame)
	}
}
