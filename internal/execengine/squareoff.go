package execengine

import (
	"context"
	"time"

	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/metrics"
	"github.com/ndrandal/marketgateway/internal/order"
)

// SquareOffExchange cancels every open MIS order and force-closes every
// open MIS position for an exchange via synthetic market fills executed
// through the engine's own fill path, per spec.md §4.6. Callers (the
// scheduler) are responsible for idempotency markers and for the
// blockUntil window this sets on the way out.
func (e *Engine) SquareOffExchange(ctx context.Context, exchange string, blockUntil time.Time) error {
	orders, err := e.store.OpenMISOrders(ctx, exchange)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if err := e.store.CancelOrder(ctx, o.ID); err != nil {
			e.log.Warn().Err(err).Str("order_id", o.ID).Msg("square-off cancel failed")
		}
	}

	positions, err := e.store.OpenMISPositions(ctx, exchange)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if err := e.synthesizeCloseFill(ctx, p); err != nil {
			e.log.Error().Err(err).Str("user_id", p.UserID).Str("symbol", p.Symbol).Msg("square-off synthetic fill failed")
			continue
		}
		metrics.SquareOffPositionsClosed.WithLabelValues(exchange).Inc()
	}

	return e.store.SetMISBlockedUntil(ctx, exchange, blockUntil)
}

// synthesizeCloseFill builds a synthetic MARKET order that exactly closes
// an open MIS position and runs it through the normal fill path, so
// position netting and margin release follow the same code every other
// fill does.
func (e *Engine) synthesizeCloseFill(ctx context.Context, p order.Position) error {
	q, err := e.quoter.Quote(ctx, p.UserID, p.Symbol, p.Exchange)
	if err != nil {
		return err
	}

	side := broker.Sell
	qty := p.Quantity
	if p.Quantity < 0 {
		side = broker.Buy
		qty = -p.Quantity
	}

	synthetic := order.SimOrder{
		UserID: p.UserID, Symbol: p.Symbol, Exchange: p.Exchange,
		Action: side, Quantity: qty, Product: broker.MIS, PriceType: broker.Market,
		SquareOff: true,
	}
	if err := e.store.CreateOrder(ctx, &synthetic); err != nil {
		return err
	}

	fillPrice, _ := evaluate(synthetic, q)
	return e.fill(ctx, synthetic, fillPrice)
}
