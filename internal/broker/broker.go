// Package broker defines the narrow BrokerClient port the core depends on.
// Concrete brokers (real or simulated) implement this interface; the core
// never imports a specific broker package directly.
package broker

import (
	"context"
	"time"

	"github.com/ndrandal/marketgateway/internal/tick"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Product is the margin/settlement product type.
type Product string

const (
	MIS  Product = "MIS"
	NRML Product = "NRML"
	CNC  Product = "CNC"
)

// PriceType selects the order's trigger behavior.
type PriceType string

const (
	Market PriceType = "MARKET"
	Limit  PriceType = "LIMIT"
	SL     PriceType = "SL"
	SLM    PriceType = "SL-M"
)

// SubscribeRequest is one (symbol, exchange, mode) the adapter wants from
// the broker feed.
type SubscribeRequest struct {
	Symbol     string
	Exchange   string
	Mode       tick.Mode
	DepthLevel int
}

// SubscribeResult reports what the broker actually granted, per spec.md §4.2.
type SubscribeResult struct {
	ActualDepth     int
	BrokerSupported bool
}

// Quote is a point-in-time price snapshot used by the execution engine.
type Quote struct {
	LTP float64
	Bid float64
	Ask float64
}

// OrderRequest is a real (non-simulated) order placed through the broker's
// own order-management API. Nothing in the core places orders through it:
// simulated orders, including square-off's synthetic orders, are filled by
// internal/execengine and never reach a BrokerClient.
type OrderRequest struct {
	Symbol       string
	Exchange     string
	Side         Side
	Quantity     int64
	Product      Product
	PriceType    PriceType
	Price        float64
	TriggerPrice float64
}

// OrderAck is the broker's acknowledgement of an order action.
type OrderAck struct {
	BrokerOrderID string
	Status        string
}

// Capabilities describes what a broker connection supports, per spec.md §6.
type Capabilities struct {
	MaxSymbolsPerConn    int
	PoolSize             int
	RetainSessionOnEmpty bool
	SupportsDepths       map[int]bool
	PriceInPaise         bool
	UnitConversionFactor float64
	HeartbeatTimeout     time.Duration
}

// Client is the per-(user, broker) port the FeedAdapter and ExecutionEngine
// drive. A Client owns no connection state of its own in this interface;
// implementations manage their own connection pool internally.
type Client interface {
	Name() string
	Capabilities() Capabilities

	Subscribe(ctx context.Context, req SubscribeRequest) (SubscribeResult, error)
	Unsubscribe(ctx context.Context, symbol, exchange string, mode tick.Mode) error
	UnsubscribeAll(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Ticks returns the channel ticks are published on after normalization.
	// The channel is closed when Disconnect completes.
	Ticks() <-chan tick.Tick

	Quote(ctx context.Context, symbol, exchange string) (Quote, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	ModifyOrder(ctx context.Context, brokerOrderID string, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
}

// Factory constructs a Client for a given user against a named broker. The
// proxy calls it when it creates a user's adapter, under its
// adapter-creation lock (spec.md §4.4 invariant 4); feed.Adapter calls it
// again on each reconnect, and execengine.QuoteGateway builds its own
// per-user Client with it.
type Factory func(ctx context.Context, userID, brokerName string) (Client, error)
