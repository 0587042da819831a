package execengine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/marketgateway/internal/metrics"
	"github.com/ndrandal/marketgateway/internal/order"
	"github.com/ndrandal/marketgateway/internal/position"
)

// SweepMTM recomputes mark-to-market for every open position, writes each
// position's ltp/mtm, and records each user's total as unrealized_pnl;
// available and used_margin are left unchanged. It runs on
// its own interval outside the per-fill transaction: MTM is a derived
// snapshot, not a write path the fill-atomicity guarantee covers.
func (e *Engine) SweepMTM(ctx context.Context) error {
	positions, err := e.store.ListOpenPositions(ctx)
	if err != nil {
		return err
	}

	byUser := make(map[string]decimal.Decimal)
	for _, p := range positions {
		q, err := e.quoter.Quote(ctx, p.UserID, p.Symbol, p.Exchange)
		if err != nil {
			e.log.Warn().Err(err).Str("user_id", p.UserID).Str("symbol", p.Symbol).Msg("mtm quote fetch failed")
			continue
		}
		ltp := decimal.NewFromFloat(q.LTP)
		mtm := position.MTM(p, ltp)

		if err := e.store.UpdateLTP(ctx, order.Key{UserID: p.UserID, Symbol: p.Symbol, Exchange: p.Exchange, Product: p.Product}, ltp, mtm); err != nil {
			e.log.Warn().Err(err).Str("user_id", p.UserID).Msg("mtm position update failed")
			continue
		}
		byUser[p.UserID] = byUser[p.UserID].Add(mtm)
	}

	for userID, totalMTM := range byUser {
		f, err := e.store.GetFunds(ctx, userID)
		if err != nil || f == nil {
			continue
		}
		metrics.CheckFundsInvariant(userID, f.Invariant())
		// available tracks capital + realized - used_margin, independent
		// of the unrealized snapshot; only unrealized_pnl is replaced
		// here, matching spec.md's invariant (which excludes
		// unrealized_pnl from the at-rest equality).
		if err := e.store.UpdateUnrealized(ctx, userID, totalMTM, f.Available); err != nil {
			e.log.Warn().Err(err).Str("user_id", userID).Msg("funds unrealized update failed")
		}
	}
	return nil
}
