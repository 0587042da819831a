// Package symbol implements the SymbolResolver: translation of user-facing
// (symbol, exchange) pairs into broker-specific contract metadata, backed by
// a read-mostly master-contract table.
package symbol

import "fmt"

// Exchange identifies a trading venue.
type Exchange string

const (
	NSE   Exchange = "NSE"
	BSE   Exchange = "BSE"
	CDS   Exchange = "CDS"
	BCD   Exchange = "BCD"
	MCX   Exchange = "MCX"
	NCDEX Exchange = "NCDEX"
)

// Contract is one row of the master-contract table: everything a FeedAdapter
// or the execution engine needs to talk to a broker about an instrument.
type Contract struct {
	Symbol         string
	Exchange       Exchange
	BrokerToken    string
	BrokerExchange string
	LotSize        int32
	TickSize       float64
}

// Key uniquely identifies a contract in the resolver's table.
type Key struct {
	Symbol   string
	Exchange Exchange
}

// ErrNotFound is returned by Resolve when no contract matches.
var ErrNotFound = fmt.Errorf("symbol: contract not found")

// DemoContracts returns a small built-in master-contract table covering the
// handful of NSE/MCX instruments the simulated broker and the test suite
// exercise. A production deployment reloads this from a real master-contract
// feed via Reload; this set exists so the gateway has something to resolve
// against out of the box.
func DemoContracts() []Contract {
	return []Contract{
		{"RELIANCE", NSE, "2885", "NSE_EQ", 1, 0.05},
		{"SBIN", NSE, "3045", "NSE_EQ", 1, 0.05},
		{"INFY", NSE, "1594", "NSE_EQ", 1, 0.05},
		{"TCS", NSE, "11536", "NSE_EQ", 1, 0.05},
		{"NIFTY24DECFUT", NSE, "53216", "NSE_FO", 50, 0.05},
		{"BANKNIFTY24DECFUT", NSE, "53217", "NSE_FO", 15, 0.05},
		{"CRUDEOIL24DECFUT", MCX, "430065", "MCX_FO", 100, 1.0},
		{"GOLD24DECFUT", MCX, "430066", "MCX_FO", 100, 1.0},
	}
}
