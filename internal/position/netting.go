// Package position implements the PositionManager netting rules ExecutionEngine
// applies to every fill (spec.md §4.5), grounded on the paper broker's
// updatePosition/realizePositionPnL weighted-average-price and
// realize-then-flip logic, generalized from that broker's unsigned
// side+contracts model to spec.md's signed-quantity Position row.
package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/order"
)

// Result is what applying one fill to a position produces: the new
// position row plus the quantities FundsManager needs to release or block
// margin for.
type Result struct {
	Position      order.Position
	ClosedQty     int64 // magnitude of the old position closed by this fill
	OpenedQty     int64 // magnitude of new exposure opened by this fill
	RealizedDelta decimal.Decimal
}

// ApplyFill nets a new fill into an existing position row per spec.md
// §4.5's three cases: opening/adding, reducing, and crossing.
func ApplyFill(pos order.Position, side broker.Side, qty int64, fillPrice decimal.Decimal, now time.Time) Result {
	delta := qty
	if side == broker.Sell {
		delta = -qty
	}

	if pos.Quantity == 0 || sameSign(pos.Quantity, delta) {
		return applyOpen(pos, delta, fillPrice, now)
	}

	oldAbs := abs(pos.Quantity)
	deltaAbs := abs(delta)
	if deltaAbs <= oldAbs {
		return applyReduce(pos, delta, fillPrice, now)
	}
	return applyCross(pos, delta, fillPrice, now)
}

// applyOpen handles a fresh position or one being added to on the same
// side: new_qty = old_qty + Δ; new_avg = (old_avg·old_qty + price·Δ)/new_qty.
func applyOpen(pos order.Position, delta int64, fillPrice decimal.Decimal, now time.Time) Result {
	newQty := pos.Quantity + delta

	newAvg := fillPrice
	if pos.Quantity != 0 {
		totalCost := pos.AvgPrice.Mul(decimal.NewFromInt(pos.Quantity))
		addCost := fillPrice.Mul(decimal.NewFromInt(delta))
		newAvg = totalCost.Add(addCost).Div(decimal.NewFromInt(newQty))
	}

	out := pos
	out.Quantity = newQty
	out.AvgPrice = newAvg
	out.UpdatedAt = now
	if pos.Quantity == 0 {
		out.CreatedAt = now
	}
	return Result{Position: out, OpenedQty: abs(delta)}
}

// applyReduce handles a fill on the opposite side that doesn't fully close
// the position: realized += (price − old_avg)·Δ_effective, sign-aware;
// new_qty = old_qty − Δ_effective; avg unchanged; margin released
// proportionally (left to the caller via ClosedQty).
func applyReduce(pos order.Position, delta int64, fillPrice decimal.Decimal, now time.Time) Result {
	realized := fillPrice.Sub(pos.AvgPrice).Mul(decimal.NewFromInt(-delta))

	out := pos
	out.Quantity = pos.Quantity + delta
	out.RealizedPnL = pos.RealizedPnL.Add(realized)
	out.UpdatedAt = now

	return Result{Position: out, ClosedQty: abs(delta), RealizedDelta: realized}
}

// applyCross handles a fill larger than the existing position: a reducing
// step that closes the old side to zero, then an opening step for the
// residual on the new side.
func applyCross(pos order.Position, delta int64, fillPrice decimal.Decimal, now time.Time) Result {
	closingDelta := -pos.Quantity
	realized := fillPrice.Sub(pos.AvgPrice).Mul(decimal.NewFromInt(-closingDelta))
	residual := delta - closingDelta

	out := pos
	out.Quantity = residual
	out.AvgPrice = fillPrice
	out.RealizedPnL = pos.RealizedPnL.Add(realized)
	out.UpdatedAt = now
	out.CreatedAt = now

	return Result{
		Position:      out,
		ClosedQty:     abs(pos.Quantity),
		OpenedQty:     abs(residual),
		RealizedDelta: realized,
	}
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(a int64) int64 {
	if a < 0 {
		return -a
	}
	return a
}

// MTM computes sign-aware mark-to-market for an open position, per spec.md
// §4.5 step 5: mtm = (ltp − avg_price) × quantity.
func MTM(pos order.Position, ltp decimal.Decimal) decimal.Decimal {
	return ltp.Sub(pos.AvgPrice).Mul(decimal.NewFromInt(pos.Quantity))
}
