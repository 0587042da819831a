// Package execengine implements the ExecutionEngine: the single cooperative
// poll loop that evaluates pending SimOrders against live quotes, commits
// fills atomically, and periodically sweeps open positions for
// mark-to-market (spec.md §4.5).
//
// Grounded on the feed simulator's symbolRunner fixed-interval ticker loop
// (cmd/feedsim/main.go) for the poll/MTM scheduling shape, and on the paper
// broker's simulateFill/updatePosition/realizePositionPnL for the
// fill-then-net-then-book sequence — adapted from paper.go's fixed-slippage
// model to spec.md's exact deterministic MARKET/LIMIT/SL/SL-M rules.
package execengine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/funds"
	"github.com/ndrandal/marketgateway/internal/gwerrors"
	"github.com/ndrandal/marketgateway/internal/metrics"
	"github.com/ndrandal/marketgateway/internal/order"
	"github.com/ndrandal/marketgateway/internal/position"
	"github.com/ndrandal/marketgateway/internal/store"
	"github.com/ndrandal/marketgateway/internal/symbol"
)

// Quoter is the narrow port the engine needs for live prices; QuoteGateway
// is the concrete implementation.
type Quoter interface {
	Quote(ctx context.Context, userID, symbol, exchange string) (broker.Quote, error)
}

// Config holds the engine's scheduling and margin parameters, per spec.md
// §4.5.
type Config struct {
	CheckIntervalMs int
	MTMIntervalMs   int
	Leverage        funds.LeverageConfig
}

// DefaultConfig matches spec.md §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{CheckIntervalMs: 5000, MTMIntervalMs: 5000, Leverage: funds.DefaultLeverageConfig()}
}

// Engine is the single-process ExecutionEngine.
type Engine struct {
	store    *store.Store
	quoter   Quoter
	resolver *symbol.Resolver
	cfg      Config
	log      zerolog.Logger
}

// New constructs an Engine.
func New(st *store.Store, quoter Quoter, resolver *symbol.Resolver, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		store:    st,
		quoter:   quoter,
		resolver: resolver,
		cfg:      cfg,
		log:      log.With().Str("component", "execengine").Logger(),
	}
}

// Run blocks, driving the poll cycle and MTM sweep on their own intervals
// until ctx is cancelled (spec.md §4.5 Scheduling, §5 task 3).
func (e *Engine) Run(ctx context.Context) {
	pollTicker := time.NewTicker(time.Duration(e.cfg.CheckIntervalMs) * time.Millisecond)
	defer pollTicker.Stop()
	mtmTicker := time.NewTicker(time.Duration(e.cfg.MTMIntervalMs) * time.Millisecond)
	defer mtmTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			started := time.Now()
			if err := e.RunCycle(ctx); err != nil {
				e.log.Error().Err(err).Msg("poll cycle failed")
			}
			metrics.EngineCycleSeconds.Observe(time.Since(started).Seconds())
		case <-mtmTicker.C:
			if err := e.SweepMTM(ctx); err != nil {
				e.log.Error().Err(err).Msg("mtm sweep failed")
			}
		}
	}
}

// RunCycle executes one poll cycle: load open orders grouped by
// (symbol, exchange), fetch one quote per user per group, and evaluate
// each order against it (spec.md §4.5 steps 1-4).
func (e *Engine) RunCycle(ctx context.Context) error {
	groups, err := e.store.OpenOrdersGrouped(ctx)
	if err != nil {
		return err
	}

	for key, orders := range groups {
		quoteCache := make(map[string]broker.Quote, 1)
		for _, o := range orders {
			q, ok := quoteCache[o.UserID]
			if !ok {
				fetched, err := e.quoter.Quote(ctx, o.UserID, key.Symbol, key.Exchange)
				if err != nil {
					e.log.Warn().Err(err).Str("user_id", o.UserID).Str("symbol", key.Symbol).Msg("quote fetch failed, order remains open")
					continue
				}
				quoteCache[o.UserID] = fetched
				q = fetched
			}
			e.evaluateOrder(ctx, o, q)
		}
	}
	return nil
}

// evaluateOrder applies spec.md §4.5 step 3's trigger rules to a single
// order against the current quote, filling it if triggered.
func (e *Engine) evaluateOrder(ctx context.Context, o order.SimOrder, q broker.Quote) {
	if (o.PriceType == broker.SL || o.PriceType == broker.SLM) && !o.Armed {
		if e.armIfTriggered(ctx, o, q) {
			o.Armed = true
		}
	}
	fillPrice, fire := evaluate(o, q)
	if !fire {
		return
	}
	if err := e.fill(ctx, o, fillPrice); err != nil {
		e.log.Warn().Err(err).Str("order_id", o.ID).Msg("fill commit failed, order remains open")
	}
}

// armIfTriggered persists the SL/SL-M armed flag once the trigger price is
// crossed and reports whether it did, so the caller can re-evaluate the
// same quote against the now-armed order in this cycle instead of waiting
// for the next poll (spec.md §8 example 4: arm and fill happen on the same
// tick). An order armed before a restart is loaded with Armed already set
// and does not pass through here.
func (e *Engine) armIfTriggered(ctx context.Context, o order.SimOrder, q broker.Quote) bool {
	if !slTriggered(o, q) {
		return false
	}
	if err := e.store.SetArmed(ctx, o.ID, true); err != nil {
		e.log.Warn().Err(err).Str("order_id", o.ID).Msg("failed to persist armed flag")
		return false
	}
	return true
}

// slTriggered reports whether an SL/SL-M order's trigger price has been
// crossed by q (spec.md §4.5 step 3).
func slTriggered(o order.SimOrder, q broker.Quote) bool {
	if o.Action == broker.Buy {
		return q.LTP >= o.TriggerPrice.InexactFloat64()
	}
	return q.LTP <= o.TriggerPrice.InexactFloat64()
}

// evaluate implements spec.md §4.5 step 3's per-pricetype fill rules. It
// returns the fill price and whether the order fires this cycle.
func evaluate(o order.SimOrder, q broker.Quote) (decimal.Decimal, bool) {
	ltp := decimal.NewFromFloat(q.LTP)
	bid := decimal.NewFromFloat(q.Bid)
	ask := decimal.NewFromFloat(q.Ask)

	switch o.PriceType {
	case broker.Market:
		return marketFillPrice(o.Action, ltp, bid, ask), true

	case broker.Limit:
		if o.Action == broker.Buy {
			if ltp.LessThanOrEqual(o.Price) {
				return decimal.Min(o.Price, ltp), true
			}
			return decimal.Zero, false
		}
		if ltp.GreaterThanOrEqual(o.Price) {
			return decimal.Max(o.Price, ltp), true
		}
		return decimal.Zero, false

	case broker.SL:
		if !o.Armed {
			return decimal.Zero, false
		}
		// Armed SL behaves as LIMIT at Price.
		if o.Action == broker.Buy {
			if ltp.LessThanOrEqual(o.Price) {
				return decimal.Min(o.Price, ltp), true
			}
			return decimal.Zero, false
		}
		if ltp.GreaterThanOrEqual(o.Price) {
			return decimal.Max(o.Price, ltp), true
		}
		return decimal.Zero, false

	case broker.SLM:
		if !o.Armed {
			return decimal.Zero, false
		}
		// Armed SL-M behaves as MARKET.
		return marketFillPrice(o.Action, ltp, bid, ask), true
	}
	return decimal.Zero, false
}

func marketFillPrice(side broker.Side, ltp, bid, ask decimal.Decimal) decimal.Decimal {
	if side == broker.Buy {
		if ask.IsZero() {
			return ltp
		}
		return ask
	}
	if bid.IsZero() {
		return ltp
	}
	return bid
}

// fill commits a triggered order: netting, margin release/re-block, and
// realized P&L update, all inside CommitFill's single transaction
// (spec.md §4.5 step 4, §4.7).
func (e *Engine) fill(ctx context.Context, o order.SimOrder, fillPrice decimal.Decimal) error {
	contract, err := e.resolver.Resolve(o.Symbol, symbol.Exchange(o.Exchange))
	if err != nil {
		_ = e.store.RejectOrder(ctx, o.ID)
		return gwerrors.Wrap(gwerrors.SymbolNotFound, "symbol not found at fill time", err)
	}

	key := order.Key{UserID: o.UserID, Symbol: o.Symbol, Exchange: o.Exchange, Product: o.Product}
	pos, err := e.store.GetOpenPosition(ctx, key)
	if err != nil {
		return err
	}
	var existing order.Position
	if pos != nil {
		existing = *pos
	} else {
		existing = order.Position{UserID: o.UserID, Symbol: o.Symbol, Exchange: o.Exchange, Product: o.Product}
	}

	f, err := e.store.GetFunds(ctx, o.UserID)
	if err != nil {
		return err
	}
	if f == nil {
		return gwerrors.New(gwerrors.ServerError, "no funds row for user "+o.UserID)
	}

	res := position.ApplyFill(existing, o.Action, o.Quantity, fillPrice, time.Now().UTC())
	res.Position.LTP = fillPrice

	class := funds.ClassifyInstrument(contract.BrokerExchange, o.Symbol)
	newFunds := *f
	if res.ClosedQty > 0 {
		released := proportionalMargin(class, o.Product, existing, res.ClosedQty, int64(contract.LotSize), e.cfg.Leverage)
		newFunds = funds.Release(newFunds, released)
		newFunds = funds.ApplyRealized(newFunds, res.RealizedDelta)
	}
	if res.OpenedQty > 0 {
		opened := funds.Margin(class, o.Product, o.Action, res.OpenedQty, fillPrice, int64(contract.LotSize), e.cfg.Leverage)
		blocked, err := funds.Block(newFunds, opened)
		if err != nil {
			// Margin was already committed at acceptance for the full
			// requested quantity; a crossing fill that needs more margin
			// than remains available still completes (the position is
			// real), but the shortfall is logged for operator attention.
			e.log.Warn().Str("order_id", o.ID).Msg("crossing fill exceeded available margin, funds invariant may be tight")
		} else {
			newFunds = blocked
		}
	}

	if err := e.store.CommitFill(ctx, store.Fill{
		Order:    o,
		Trade:    order.SimTrade{OrderID: o.ID, UserID: o.UserID, Symbol: o.Symbol, Exchange: o.Exchange, Action: o.Action, Quantity: o.Quantity, Price: fillPrice},
		Position: res.Position,
		Funds:    newFunds,
	}); err != nil {
		return err
	}
	metrics.FillsTotal.WithLabelValues(string(o.PriceType)).Inc()
	metrics.CheckFundsInvariant(o.UserID, newFunds.Invariant())
	return nil
}

// proportionalMargin releases margin in proportion to the fraction of the
// existing position being closed, per spec.md §4.5 ("margin released
// proportionally").
func proportionalMargin(class funds.InstrumentClass, product broker.Product, existing order.Position, closedQty, lotSize int64, cfg funds.LeverageConfig) decimal.Decimal {
	if existing.Quantity == 0 {
		return decimal.Zero
	}
	totalQty := abs64(existing.Quantity)
	total := funds.Margin(class, product, sideFor(existing.Quantity), totalQty, existing.AvgPrice, lotSize, cfg)
	frac := decimal.NewFromInt(closedQty).Div(decimal.NewFromInt(totalQty))
	return total.Mul(frac)
}

func sideFor(signedQty int64) broker.Side {
	if signedQty >= 0 {
		return broker.Buy
	}
	return broker.Sell
}

func abs64(a int64) int64 {
	if a < 0 {
		return -a
	}
	return a
}
