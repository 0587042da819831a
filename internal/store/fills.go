package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/ndrandal/marketgateway/internal/order"
)

// Fill bundles everything one fill event produces: the order is marked
// completed, a trade is recorded, the position is replaced with its
// post-netting state, and funds reflect the released/re-blocked margin and
// realized P&L delta. CommitFill writes all four atomically (spec.md §4.5
// step 4, §4.7).
type Fill struct {
	Order    order.SimOrder
	Trade    order.SimTrade
	Position order.Position
	Funds    order.Funds
}

// CommitFill writes an order completion, its trade, the resulting
// position, and the updated funds row in a single MongoDB transaction,
// grounded on persist.Snapshotter.Save's session.WithTransaction shape.
// On success it publishes funds/position change notifications per spec.md
// §4.7; a failed transaction leaves every collection untouched, satisfying
// spec.md §8's "fill-path errors roll back the transaction" requirement.
func (s *Store) CommitFill(ctx context.Context, f Fill) error {
	if f.Trade.ID == "" {
		f.Trade.ID = uuid.NewString()
	}
	if f.Trade.TS.IsZero() {
		f.Trade.TS = time.Now().UTC()
	}
	f.Order.Status = order.Completed
	f.Order.UpdatedAt = time.Now().UTC()
	fillTS := f.Trade.TS
	f.Order.FillTS = &fillTS
	f.Order.FillPrice = f.Trade.Price

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc context.Context) (any, error) {
		res, err := s.db.Collection(collOrders).UpdateOne(sc,
			bson.M{"id": f.Order.ID, "status": order.Open},
			bson.M{"$set": bson.M{
				"status": f.Order.Status, "updated_at": f.Order.UpdatedAt,
				"fill_price": f.Order.FillPrice, "fill_ts": f.Order.FillTS,
			}},
		)
		if err != nil {
			return nil, fmt.Errorf("complete order: %w", err)
		}
		if res.MatchedCount == 0 {
			return nil, fmt.Errorf("order %s is no longer open", f.Order.ID)
		}

		if _, err := s.db.Collection(collTrades).InsertOne(sc, f.Trade); err != nil {
			return nil, fmt.Errorf("insert trade: %w", err)
		}

		if err := upsertPositionTx(sc, s.db, f.Position); err != nil {
			return nil, fmt.Errorf("upsert position: %w", err)
		}

		if err := upsertFundsTx(sc, s.db, f.Funds); err != nil {
			return nil, fmt.Errorf("upsert funds: %w", err)
		}

		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("fill transaction: %w", err)
	}

	s.notify("position", f.Position.UserID, f.Position)
	s.notify("funds", f.Funds.UserID, f.Funds)
	return nil
}
