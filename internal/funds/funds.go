// Package funds implements the FundsManager: margin calculation and the
// invariant-preserving funds mutators ExecutionEngine and the order
// acceptance path share (spec.md §4.5), grounded on the paper broker's
// cash/equity bookkeeping (GetAccountSummary, realizePositionPnL) adapted
// from a single-account futures model to the multi-leverage margin table
// spec.md §4.5 specifies.
package funds

import (
	"github.com/shopspring/decimal"

	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/gwerrors"
	"github.com/ndrandal/marketgateway/internal/order"
)

// InstrumentClass distinguishes the margin rule an instrument falls under.
type InstrumentClass string

const (
	Equity InstrumentClass = "EQUITY"
	Future InstrumentClass = "FUTURE"
	Option InstrumentClass = "OPTION"
)

// LeverageConfig holds the configurable leverage/lot parameters spec.md
// §4.5's margin table references.
type LeverageConfig struct {
	EquityLeverage     decimal.Decimal
	FuturesLeverage    decimal.Decimal
	OptionSellLeverage decimal.Decimal
}

// DefaultLeverageConfig returns the leverage values used in spec.md §8's
// worked examples (equity_leverage=5).
func DefaultLeverageConfig() LeverageConfig {
	return LeverageConfig{
		EquityLeverage:     decimal.NewFromInt(5),
		FuturesLeverage:    decimal.NewFromInt(10),
		OptionSellLeverage: decimal.NewFromInt(5),
	}
}

// Margin computes the margin required for a fill, per spec.md §4.5:
//   - Equity CNC: N
//   - Equity MIS/NRML: N / equity_leverage
//   - Futures MIS/NRML: N / futures_leverage
//   - Option BUY: premium × quantity × lot_size
//   - Option SELL: N / option_sell_leverage
//
// refPrice is the LIMIT price if available, else LTP; N = quantity × refPrice.
func Margin(class InstrumentClass, product broker.Product, side broker.Side, quantity int64, refPrice decimal.Decimal, lotSize int64, cfg LeverageConfig) decimal.Decimal {
	qty := decimal.NewFromInt(quantity)
	notional := refPrice.Mul(qty)

	switch class {
	case Option:
		if side == broker.Buy {
			return refPrice.Mul(qty).Mul(decimal.NewFromInt(lotSize))
		}
		return notional.Div(cfg.OptionSellLeverage)
	case Future:
		return notional.Div(cfg.FuturesLeverage)
	default: // Equity
		if product == broker.CNC {
			return notional
		}
		return notional.Div(cfg.EquityLeverage)
	}
}

// Block reserves marginDelta out of available funds. It rejects with
// INSUFFICIENT_FUNDS without mutating funds if that would drive available
// negative (spec.md §4.5 Rejection rule).
func Block(f order.Funds, marginDelta decimal.Decimal) (order.Funds, error) {
	newAvailable := f.Available.Sub(marginDelta)
	if newAvailable.IsNegative() {
		return f, gwerrors.New(gwerrors.InsufficientFunds, "margin block would drive available funds negative")
	}
	f.Available = newAvailable
	f.UsedMargin = f.UsedMargin.Add(marginDelta)
	return f, nil
}

// Release returns margin to available funds, e.g. on cancel or on a
// reducing/closing fill (spec.md §4.5).
func Release(f order.Funds, amount decimal.Decimal) order.Funds {
	f.UsedMargin = f.UsedMargin.Sub(amount)
	f.Available = f.Available.Add(amount)
	return f
}

// ApplyRealized books a realized P&L delta into both available funds and
// today's realized P&L tally, preserving the
// available+used_margin=capital+realized_pnl_today invariant.
func ApplyRealized(f order.Funds, delta decimal.Decimal) order.Funds {
	f.RealizedPnLToday = f.RealizedPnLToday.Add(delta)
	f.Available = f.Available.Add(delta)
	return f
}

// ClassifyInstrument infers an InstrumentClass from the broker-exchange
// segment and symbol naming convention. Options are identified by a CE/PE
// suffix since the demo master-contract table (spec.md §3) carries no
// dedicated instrument-class field; a production master-contract feed
// would supply this directly.
func ClassifyInstrument(brokerExchange, symbol string) InstrumentClass {
	switch {
	case hasSuffix(brokerExchange, "_EQ"):
		return Equity
	case hasSuffix(symbol, "CE") || hasSuffix(symbol, "PE"):
		return Option
	default:
		return Future
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
