package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/marketgateway/internal/order"
)

func positionFilter(k order.Key) bson.M {
	return bson.M{
		"user_id":  k.UserID,
		"symbol":   k.Symbol,
		"exchange": k.Exchange,
		"product":  k.Product,
		"quantity": bson.M{"$ne": 0},
	}
}

// GetOpenPosition returns the open (quantity != 0) position row for a key,
// or nil if there is none — a fresh key has no row rather than a zero one.
func (s *Store) GetOpenPosition(ctx context.Context, k order.Key) (*order.Position, error) {
	var p order.Position
	err := s.db.Collection(collPositions).FindOne(ctx, positionFilter(k)).Decode(&p)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	return &p, nil
}

// ListOpenPositions returns every open position, for the MTM sweep
// (spec.md §4.5 step 5).
func (s *Store) ListOpenPositions(ctx context.Context) ([]order.Position, error) {
	cur, err := s.db.Collection(collPositions).Find(ctx, bson.M{"quantity": bson.M{"$ne": 0}})
	if err != nil {
		return nil, fmt.Errorf("find open positions: %w", err)
	}
	defer cur.Close(ctx)

	var out []order.Position
	for cur.Next(ctx) {
		var p order.Position
		if err := cur.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		out = append(out, p)
	}
	return out, cur.Err()
}

// OpenMISPositions lists open MIS positions for an exchange, for the
// scheduler's square-off job.
func (s *Store) OpenMISPositions(ctx context.Context, exchange string) ([]order.Position, error) {
	cur, err := s.db.Collection(collPositions).Find(ctx, bson.M{
		"quantity": bson.M{"$ne": 0},
		"exchange": exchange,
		"product":  "MIS",
	})
	if err != nil {
		return nil, fmt.Errorf("find open MIS positions: %w", err)
	}
	defer cur.Close(ctx)

	var out []order.Position
	for cur.Next(ctx) {
		var p order.Position
		if err := cur.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		out = append(out, p)
	}
	return out, cur.Err()
}

// SettleableCNCPositions lists open CNC positions created at or before
// cutoff, for T+1 / catch-up settlement (spec.md §4.6).
func (s *Store) SettleableCNCPositions(ctx context.Context, cutoff time.Time) ([]order.Position, error) {
	cur, err := s.db.Collection(collPositions).Find(ctx, bson.M{
		"quantity":   bson.M{"$ne": 0},
		"product":    "CNC",
		"created_at": bson.M{"$lte": cutoff},
	})
	if err != nil {
		return nil, fmt.Errorf("find settleable positions: %w", err)
	}
	defer cur.Close(ctx)

	var out []order.Position
	for cur.Next(ctx) {
		var p order.Position
		if err := cur.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		out = append(out, p)
	}
	return out, cur.Err()
}

// UpdateLTP writes the MTM sweep's ltp and mtm snapshot onto an open
// position row without touching quantity/avg_price/realized_pnl.
func (s *Store) UpdateLTP(ctx context.Context, k order.Key, ltp, mtm decimal.Decimal) error {
	_, err := s.db.Collection(collPositions).UpdateOne(ctx, positionFilter(k), bson.M{
		"$set": bson.M{"ltp": ltp, "mtm": mtm, "updated_at": time.Now().UTC()},
	})
	return err
}

// upsertPositionTx writes a position row inside a transaction. A
// zero-quantity result is written too (spec.md §3: closed rows are
// retained for per-day accumulated P&L): the open row is closed in place
// with quantity 0, which takes it out of the partial-unique index on
// quantity!=0.
func upsertPositionTx(sc context.Context, db *mongo.Database, p order.Position) error {
	filter := bson.M{
		"user_id":  p.UserID,
		"symbol":   p.Symbol,
		"exchange": p.Exchange,
		"product":  p.Product,
		"quantity": bson.M{"$ne": 0},
	}
	p.UpdatedAt = time.Now().UTC()

	if p.Quantity == 0 {
		// Closing this row: clear the previously-open row's quantity in
		// place rather than inserting a second "closed" document; the
		// updated row is the retained historical record.
		_, err := db.Collection(collPositions).UpdateOne(sc, filter, bson.M{"$set": bson.M{
			"quantity": 0, "avg_price": p.AvgPrice, "realized_pnl": p.RealizedPnL,
			"ltp": p.LTP, "mtm": p.MTM, "updated_at": p.UpdatedAt,
		}})
		return err
	}

	_, err := db.Collection(collPositions).UpdateOne(sc, filter, bson.M{
		"$set": bson.M{
			"user_id": p.UserID, "symbol": p.Symbol, "exchange": p.Exchange, "product": p.Product,
			"quantity": p.Quantity, "avg_price": p.AvgPrice, "realized_pnl": p.RealizedPnL,
			"ltp": p.LTP, "mtm": p.MTM, "updated_at": p.UpdatedAt,
		},
		"$setOnInsert": bson.M{"created_at": p.CreatedAt},
	}, options.UpdateOne().SetUpsert(true))
	return err
}

// DeletePosition removes a position row outright, used once a CNC position
// has been migrated to Holdings.
func DeletePosition(sc context.Context, db *mongo.Database, k order.Key) error {
	_, err := db.Collection(collPositions).DeleteOne(sc, positionFilter(k))
	return err
}
