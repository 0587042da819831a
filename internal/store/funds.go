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

// GetFunds fetches a user's funds row.
func (s *Store) GetFunds(ctx context.Context, userID string) (*order.Funds, error) {
	var f order.Funds
	err := s.db.Collection(collFunds).FindOne(ctx, bson.M{"user_id": userID}).Decode(&f)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get funds: %w", err)
	}
	return &f, nil
}

// InitFunds creates a user's funds row if one doesn't already exist,
// seeded with startingCapital fully available.
func (s *Store) InitFunds(ctx context.Context, userID string, startingCapital order.Funds) error {
	startingCapital.UserID = userID
	startingCapital.UpdatedAt = time.Now().UTC()
	_, err := s.db.Collection(collFunds).UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$setOnInsert": startingCapital},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

// ListFundsUserIDs returns every user with a funds row, for the weekly
// capital-reset job to iterate (spec.md §4.6).
func (s *Store) ListFundsUserIDs(ctx context.Context) ([]string, error) {
	cur, err := s.db.Collection(collFunds).Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"user_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("list funds users: %w", err)
	}
	defer cur.Close(ctx)
	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			UserID string `bson:"user_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.UserID)
	}
	return ids, cur.Err()
}

// ResetCapital restores a user's funds row to a clean starting state,
// preserving nothing of the trading day (spec.md §4.6: "set capital =
// starting_capital, clear used_margin and daily P&L, preserve Holdings").
func (s *Store) ResetCapital(ctx context.Context, userID string, startingCapital decimal.Decimal) error {
	_, err := s.db.Collection(collFunds).UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{
			"capital":            startingCapital,
			"available":          startingCapital,
			"used_margin":        decimal.Zero,
			"realized_pnl_today": decimal.Zero,
			"unrealized_pnl":     decimal.Zero,
			"starting_capital":   startingCapital,
			"updated_at":         time.Now().UTC(),
		}},
	)
	return err
}

func upsertFundsTx(sc context.Context, db *mongo.Database, f order.Funds) error {
	f.UpdatedAt = time.Now().UTC()
	_, err := db.Collection(collFunds).UpdateOne(sc,
		bson.M{"user_id": f.UserID},
		bson.M{"$set": f},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

// UpdateUnrealized sets the MTM-sweep-derived unrealized P&L and available
// balance for a user outside the per-fill transaction (spec.md §4.5 step 5
// runs on its own interval, not per-fill).
func (s *Store) UpdateUnrealized(ctx context.Context, userID string, unrealizedPnL, available decimal.Decimal) error {
	_, err := s.db.Collection(collFunds).UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{
			"unrealized_pnl": unrealizedPnL,
			"available":      available,
			"updated_at":     time.Now().UTC(),
		}},
	)
	return err
}
