// Package tick defines the normalized wire representation ticks take between
// a FeedAdapter and the Bus/ProxyServer, per spec.md §3 and §6.
package tick

import (
	"strings"
	"time"
)

// Mode is the subscription tier requested by a client.
type Mode int

const (
	LTP   Mode = 1
	QUOTE Mode = 2
	DEPTH Mode = 4
)

// String renders the mode the way the wire protocol and topic strings want it.
func (m Mode) String() string {
	switch m {
	case LTP:
		return "LTP"
	case QUOTE:
		return "QUOTE"
	case DEPTH:
		return "DEPTH"
	default:
		return "UNKNOWN"
	}
}

// Level is a single price/quantity/order-count entry in a depth side.
type Level struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Orders   int32   `json:"orders"`
}

// Depth is the two-sided order book snapshot for DEPTH-mode ticks.
type Depth struct {
	Buy  []Level `json:"buy"`
	Sell []Level `json:"sell"`
}

// Tick is the normalized representation every FeedAdapter publishes,
// regardless of source broker wire format. Prices on the Bus are always
// rupees; the FeedAdapter converts a paise-priced Tick to rupees before
// publishing it (spec.md §3, §9).
type Tick struct {
	Symbol   string
	Exchange string
	Mode     Mode

	LTP    float64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	Bid    float64
	Ask    float64
	Depth  *Depth

	// ActualDepth/BrokerSupported describe a DEPTH tick that was served at
	// fewer levels than requested because the broker doesn't support more
	// (spec.md §3, boundary behavior in §8).
	ActualDepth    int
	BrokerSupported bool

	TimestampMs int64

	// Broker is not set by the adapter; the proxy stamps the broker name on
	// the outgoing wire frame rather than on this field (spec.md §6).
	Broker string
}

// Topic returns the bus topic string for this tick: EXCHANGE|SYMBOL|MODE.
func (t Tick) Topic() string {
	return Topic(t.Exchange, t.Symbol, t.Mode)
}

// Topic builds a bus topic string from its parts.
func Topic(exchange, symbol string, mode Mode) string {
	var b strings.Builder
	b.WriteString(exchange)
	b.WriteByte('|')
	b.WriteString(symbol)
	b.WriteByte('|')
	b.WriteString(mode.String())
	return b.String()
}

// NowMs returns the current time as Unix milliseconds UTC, the adapter's
// ingestion-time fallback when a broker omits a timestamp (spec.md §4.2).
func NowMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// ChangePercent computes the QUOTE-mode change/change_percent pair from LTP
// and the previous close.
func ChangePercent(ltp, prevClose float64) (change, pct float64) {
	if prevClose == 0 {
		return 0, 0
	}
	change = ltp - prevClose
	pct = (change / prevClose) * 100
	return
}
