package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/marketgateway/internal/order"
)

// SettlePosition migrates an open CNC position to a Holding and removes
// the Position row, in a single transaction (spec.md §4.6 T+1 settlement
// and catch-up settlement).
func (s *Store) SettlePosition(ctx context.Context, p order.Position) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	h := order.Holding{
		UserID: p.UserID, Symbol: p.Symbol, Exchange: p.Exchange,
		Quantity: p.Quantity, AvgPrice: p.AvgPrice, SettledAt: time.Now().UTC(),
	}

	_, err = session.WithTransaction(ctx, func(sc context.Context) (any, error) {
		_, err := s.db.Collection(collHoldings).UpdateOne(sc,
			bson.M{"user_id": h.UserID, "symbol": h.Symbol, "exchange": h.Exchange},
			bson.M{"$set": h},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return nil, fmt.Errorf("upsert holding: %w", err)
		}

		k := order.Key{UserID: p.UserID, Symbol: p.Symbol, Exchange: p.Exchange, Product: p.Product}
		if err := DeletePosition(sc, s.db, k); err != nil {
			return nil, fmt.Errorf("delete settled position: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("settlement transaction: %w", err)
	}
	s.notify("holding", p.UserID, h)
	return nil
}

// ListHoldings returns every holding for a user.
func (s *Store) ListHoldings(ctx context.Context, userID string) ([]order.Holding, error) {
	cur, err := s.db.Collection(collHoldings).Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("find holdings: %w", err)
	}
	defer cur.Close(ctx)

	var out []order.Holding
	for cur.Next(ctx) {
		var h order.Holding
		if err := cur.Decode(&h); err != nil {
			return nil, fmt.Errorf("decode holding: %w", err)
		}
		out = append(out, h)
	}
	return out, cur.Err()
}
