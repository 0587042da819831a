// Package order defines the durable domain types shared by the OrderStore,
// ExecutionEngine, FundsManager, and PositionManager (spec.md §3). These are
// the documents the store layer reads and writes; the engine never invents
// a parallel in-memory representation of them (spec.md §4.5 Idempotency &
// recovery).
package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/marketgateway/internal/broker"
)

// Status is the lifecycle state of a SimOrder.
type Status string

const (
	Open      Status = "open"
	Completed Status = "completed"
	Cancelled Status = "cancelled"
	Rejected  Status = "rejected"
)

// SimOrder is a simulated order, per spec.md §3.
type SimOrder struct {
	ID           string          `bson:"id"            json:"id"`
	UserID       string          `bson:"user_id"       json:"user_id"`
	Symbol       string          `bson:"symbol"        json:"symbol"`
	Exchange     string          `bson:"exchange"      json:"exchange"`
	Action       broker.Side     `bson:"action"        json:"action"`
	Quantity     int64           `bson:"quantity"      json:"quantity"`
	Product      broker.Product  `bson:"product"       json:"product"`
	PriceType    broker.PriceType `bson:"pricetype"    json:"pricetype"`
	Price        decimal.Decimal `bson:"price"         json:"price"`
	TriggerPrice decimal.Decimal `bson:"trigger_price" json:"trigger_price"`
	Status       Status          `bson:"status"        json:"status"`
	CreatedAt    time.Time       `bson:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `bson:"updated_at"    json:"updated_at"`
	FillPrice    decimal.Decimal `bson:"fill_price,omitempty" json:"fill_price,omitempty"`
	FillTS       *time.Time      `bson:"fill_ts,omitempty"    json:"fill_ts,omitempty"`

	// armed is set once an SL/SL-M order's trigger has fired; it is not
	// part of the spec's documented field list but must survive a restart
	// for the engine's evaluation to remain idempotent (spec.md §4.5), so
	// it is persisted alongside the order rather than held in memory.
	Armed bool `bson:"armed" json:"armed"`

	// SquareOff marks an order synthesized by the scheduler's square-off
	// job rather than submitted by a client, so trade/audit readers can
	// tell the two apart.
	SquareOff bool `bson:"square_off,omitempty" json:"square_off,omitempty"`
}

// SimTrade is created on every fill, per spec.md §3.
type SimTrade struct {
	ID       string          `bson:"id"        json:"id"`
	OrderID  string          `bson:"order_id"  json:"order_id"`
	UserID   string          `bson:"user_id"   json:"user_id"`
	Symbol   string          `bson:"symbol"    json:"symbol"`
	Exchange string          `bson:"exchange"  json:"exchange"`
	Action   broker.Side     `bson:"action"    json:"action"`
	Quantity int64           `bson:"quantity"  json:"quantity"`
	Price    decimal.Decimal `bson:"price"     json:"price"`
	TS       time.Time       `bson:"ts"        json:"ts"`
}

// Position is the per-(user, symbol, exchange, product) netted position,
// per spec.md §3. Quantity is signed: long>0, short<0.
type Position struct {
	UserID      string          `bson:"user_id"      json:"user_id"`
	Symbol      string          `bson:"symbol"       json:"symbol"`
	Exchange    string          `bson:"exchange"     json:"exchange"`
	Product     broker.Product  `bson:"product"      json:"product"`
	Quantity    int64           `bson:"quantity"     json:"quantity"`
	AvgPrice    decimal.Decimal `bson:"avg_price"    json:"avg_price"`
	RealizedPnL decimal.Decimal `bson:"realized_pnl" json:"realized_pnl"`
	LTP         decimal.Decimal `bson:"ltp"          json:"ltp"`
	MTM         decimal.Decimal `bson:"mtm"          json:"mtm"`
	CreatedAt   time.Time       `bson:"created_at"   json:"created_at"`
	UpdatedAt   time.Time       `bson:"updated_at"   json:"updated_at"`
}

// Key identifies a position row independent of quantity/price state.
type Key struct {
	UserID   string
	Symbol   string
	Exchange string
	Product  broker.Product
}

// Holding is a CNC position migrated by T+1 settlement, per spec.md §3.
type Holding struct {
	UserID    string          `bson:"user_id"    json:"user_id"`
	Symbol    string          `bson:"symbol"     json:"symbol"`
	Exchange  string          `bson:"exchange"   json:"exchange"`
	Quantity  int64           `bson:"quantity"   json:"quantity"`
	AvgPrice  decimal.Decimal `bson:"avg_price"  json:"avg_price"`
	SettledAt time.Time       `bson:"settled_at" json:"settled_at"`
}

// Funds is the per-user account ledger, per spec.md §3. Invariant:
// Available + UsedMargin == Capital + RealizedPnLToday (rounded to paise)
// at rest.
type Funds struct {
	UserID            string          `bson:"user_id"             json:"user_id"`
	Capital           decimal.Decimal `bson:"capital"             json:"capital"`
	Available         decimal.Decimal `bson:"available"           json:"available"`
	UsedMargin        decimal.Decimal `bson:"used_margin"         json:"used_margin"`
	RealizedPnLToday  decimal.Decimal `bson:"realized_pnl_today"  json:"realized_pnl_today"`
	UnrealizedPnL     decimal.Decimal `bson:"unrealized_pnl"      json:"unrealized_pnl"`
	StartingCapital   decimal.Decimal `bson:"starting_capital"    json:"starting_capital"`
	UpdatedAt         time.Time       `bson:"updated_at"          json:"updated_at"`
}

// Invariant reports whether the funds row satisfies spec.md §3's at-rest
// equality, rounded to paise (2 decimal places).
func (f Funds) Invariant() bool {
	lhs := f.Available.Add(f.UsedMargin).Round(2)
	rhs := f.Capital.Add(f.RealizedPnLToday).Round(2)
	return lhs.Equal(rhs)
}
