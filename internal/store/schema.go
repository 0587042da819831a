package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// EnsureIndexes creates idempotent indexes on all collections this facade
// owns, the same way persist.EnsureIndexes does for the feed simulator.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	type idx struct {
		collection string
		model      mongo.IndexModel
	}

	indexes := []idx{
		{collOrders, mongo.IndexModel{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{collOrders, mongo.IndexModel{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "symbol", Value: 1}, {Key: "exchange", Value: 1}},
		}},
		{collOrders, mongo.IndexModel{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}},
		}},
		{collTrades, mongo.IndexModel{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{collTrades, mongo.IndexModel{
			Keys: bson.D{{Key: "order_id", Value: 1}},
		}},
		{collPositions, mongo.IndexModel{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "symbol", Value: 1},
				{Key: "exchange", Value: 1},
				{Key: "product", Value: 1},
			},
			// Partial unique index: spec.md §3 only requires uniqueness
			// among *open* (quantity != 0) rows for a given key; closed
			// historical rows may repeat it.
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(
				bson.D{{Key: "quantity", Value: bson.D{{Key: "$ne", Value: 0}}}},
			),
		}},
		{collHoldings, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "symbol", Value: 1}, {Key: "exchange", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{collFunds, mongo.IndexModel{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{collConfig, mongo.IndexModel{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
	}

	for _, i := range indexes {
		if _, err := db.Collection(i.collection).Indexes().CreateOne(ctx, i.model); err != nil {
			return fmt.Errorf("create index on %s: %w", i.collection, err)
		}
	}
	return nil
}
