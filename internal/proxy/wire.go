package proxy

import "github.com/ndrandal/marketgateway/internal/tick"

// clientMessage is the envelope for every client→server frame, per spec.md §4.4.
type clientMessage struct {
	Action     string       `json:"action"`
	APIKey     string       `json:"api_key,omitempty"`
	Symbols    []symbolSpec `json:"symbols,omitempty"`
	Mode       int          `json:"mode,omitempty"`
	DepthLevel int          `json:"depth_level,omitempty"`
}

type symbolSpec struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

// authAck acknowledges a successful authenticate action.
type authAck struct {
	Status string `json:"status"`
}

// errorFrame is the uniform server→client error shape, per spec.md §4.4.
type errorFrame struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// subscribeResultFrame reports the per-symbol outcome of a subscribe action.
type subscribeResultFrame struct {
	Symbol          string `json:"symbol"`
	Exchange        string `json:"exchange"`
	Mode            int    `json:"mode"`
	Status          string `json:"status"`
	Message         string `json:"message,omitempty"`
	ActualDepth     int    `json:"actual_depth,omitempty"`
	BrokerSupported bool   `json:"broker_supported,omitempty"`
}

type subscribeAckFrame struct {
	Status  string                 `json:"status"`
	Results []subscribeResultFrame `json:"results"`
}

type unsubscribeResultFrame struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Mode     int    `json:"mode"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

type unsubscribeAckFrame struct {
	Status  string                    `json:"status"`
	Results []unsubscribeResultFrame `json:"results"`
}

// marketDataFrame is the server→client tick delivery shape, per spec.md §6.
type marketDataFrame struct {
	Type     string       `json:"type"`
	Mode     int          `json:"mode"`
	Symbol   string       `json:"symbol"`
	Exchange string       `json:"exchange"`
	Broker   string       `json:"broker"`
	Data     tickDataBody `json:"data"`
}

// tickDataBody shapes the wire payload per mode, per spec.md §6: LTP carries
// the minimum fields, QUOTE adds OHLCV/bid-ask/change, DEPTH adds the book.
type tickDataBody struct {
	LTP             float64     `json:"ltp"`
	Timestamp       int64       `json:"timestamp"`
	Open            float64     `json:"open,omitempty"`
	High            float64     `json:"high,omitempty"`
	Low             float64     `json:"low,omitempty"`
	Close           float64     `json:"close,omitempty"`
	Volume          int64       `json:"volume,omitempty"`
	Change          float64     `json:"change,omitempty"`
	ChangePercent   float64     `json:"change_percent,omitempty"`
	Bid             float64     `json:"bid,omitempty"`
	Ask             float64     `json:"ask,omitempty"`
	Depth           *tick.Depth `json:"depth,omitempty"`
	ActualDepth     int         `json:"actual_depth,omitempty"`
	BrokerSupported bool        `json:"broker_supported,omitempty"`
}

// toFrame renders a normalized Tick into the wire shape for the mode it was
// published under. broker identifies the fan-out adapter, stamped here
// rather than by the adapter itself per spec.md §6.
func toFrame(t tick.Tick, brokerName string) marketDataFrame {
	body := tickDataBody{LTP: t.LTP, Timestamp: t.TimestampMs}
	if t.Mode >= tick.QUOTE {
		change, pct := tick.ChangePercent(t.LTP, t.Close)
		body.Open, body.High, body.Low, body.Close, body.Volume = t.Open, t.High, t.Low, t.Close, t.Volume
		body.Change, body.ChangePercent = change, pct
		body.Bid, body.Ask = t.Bid, t.Ask
	}
	if t.Mode == tick.DEPTH {
		body.Depth = t.Depth
		body.ActualDepth = t.ActualDepth
		body.BrokerSupported = t.BrokerSupported
	}
	return marketDataFrame{
		Type:     "market_data",
		Mode:     int(t.Mode),
		Symbol:   t.Symbol,
		Exchange: t.Exchange,
		Broker:   brokerName,
		Data:     body,
	}
}
