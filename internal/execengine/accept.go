package execengine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/funds"
	"github.com/ndrandal/marketgateway/internal/gwerrors"
	"github.com/ndrandal/marketgateway/internal/order"
	"github.com/ndrandal/marketgateway/internal/symbol"
)

// AcceptOrder validates and persists a new SimOrder, blocking margin against
// the user's funds in the same transaction (spec.md §4.5 Margin,
// §4.7 atomicity). It is the "REST handler → OrderStore (open)" leg of the
// control flow in spec.md §2; the poll cycle picks the order up from there.
func (e *Engine) AcceptOrder(ctx context.Context, o order.SimOrder) (order.SimOrder, error) {
	contract, err := e.resolver.Resolve(o.Symbol, symbol.Exchange(o.Exchange))
	if err != nil {
		return order.SimOrder{}, gwerrors.Wrap(gwerrors.SymbolNotFound, "symbol not found", err)
	}
	if contract.LotSize > 0 && o.Quantity%int64(contract.LotSize) != 0 {
		return order.SimOrder{}, gwerrors.New(gwerrors.QuantityNotMultipleOfLot, "quantity is not a multiple of the lot size")
	}

	if o.Product == broker.MIS {
		blockedUntil, err := e.store.MISBlockedUntil(ctx, o.Exchange)
		if err != nil {
			return order.SimOrder{}, err
		}
		if time.Now().Before(blockedUntil) {
			return order.SimOrder{}, gwerrors.New(gwerrors.MISBlockedAfterSquareoff, "MIS orders for "+o.Exchange+" are blocked until "+blockedUntil.Format(time.RFC3339))
		}
	}

	f, err := e.store.GetFunds(ctx, o.UserID)
	if err != nil {
		return order.SimOrder{}, err
	}
	if f == nil {
		return order.SimOrder{}, gwerrors.New(gwerrors.ServerError, "no funds row for user "+o.UserID)
	}

	refPrice, err := e.refPrice(ctx, o)
	if err != nil {
		return order.SimOrder{}, err
	}

	class := funds.ClassifyInstrument(contract.BrokerExchange, o.Symbol)
	margin := funds.Margin(class, o.Product, o.Action, o.Quantity, refPrice, int64(contract.LotSize), e.cfg.Leverage)

	blocked, err := funds.Block(*f, margin)
	if err != nil {
		// Rejection leaves funds and the orderbook unchanged (spec.md §8):
		// the order is never persisted.
		return order.SimOrder{}, err
	}

	if err := e.store.AcceptOrder(ctx, o, blocked); err != nil {
		return order.SimOrder{}, err
	}
	return o, nil
}

// refPrice is the LIMIT price if the order specifies one, else a fresh
// quote's LTP (spec.md §4.5 Margin: "ref_price = LIMIT price if available
// else LTP").
func (e *Engine) refPrice(ctx context.Context, o order.SimOrder) (decimal.Decimal, error) {
	if o.PriceType == broker.Limit && !o.Price.IsZero() {
		return o.Price, nil
	}
	q, err := e.quoter.Quote(ctx, o.UserID, o.Symbol, o.Exchange)
	if err != nil {
		return decimal.Zero, gwerrors.Wrap(gwerrors.BrokerError, "quote fetch failed for margin calc", err)
	}
	return decimal.NewFromFloat(q.LTP), nil
}
