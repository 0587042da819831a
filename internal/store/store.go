// Package store is the OrderStore/FundsManager/PositionManager persistence
// facade (spec.md §4.7): thin typed wrappers over MongoDB collections for
// orders, trades, positions, holdings, funds, and scheduler config, plus the
// one-transaction-per-fill write path the execution engine depends on.
//
// Grounded on the teacher's internal/persist package: Store wraps a single
// mongo.Client/mongo.Database pair the way persist.Store does, and the fill
// commit below follows persist.Snapshotter.Save's session.WithTransaction
// shape.
package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/marketgateway/internal/bus"
)

const (
	collOrders    = "orders"
	collTrades    = "trades"
	collPositions = "positions"
	collHoldings  = "holdings"
	collFunds     = "funds"
	collConfig    = "config"
)

// Store wraps the MongoDB client/database pair and the internal bus used
// for the cache-invalidation notifications spec.md §4.7 requires.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	bus    *bus.Bus
	log    zerolog.Logger
}

// New connects to MongoDB and returns a Store. The URI should include the
// database name (e.g. mongodb://localhost:27017/marketgateway); if absent,
// "marketgateway" is used. b receives funds/position change notifications
// (spec.md §4.7); it may be nil if the caller has no interested consumers.
func New(ctx context.Context, uri string, b *bus.Bus, log zerolog.Logger) (*Store, error) {
	clientOpts := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	dbName := "marketgateway"
	if u, err := url.Parse(uri); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			dbName = name
		}
	}

	s := &Store{
		client: client,
		db:     client.Database(dbName),
		bus:    b,
		log:    log.With().Str("component", "store").Logger(),
	}
	s.log.Info().Str("db", dbName).Msg("connected to MongoDB")
	return s, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// DB returns the underlying mongo.Database, for callers that need to reach
// a collection this facade doesn't wrap.
func (s *Store) DB() *mongo.Database {
	return s.db
}

// Migrate creates indexes for every collection this facade owns.
func (s *Store) Migrate(ctx context.Context) error {
	return EnsureIndexes(ctx, s.db)
}

// notify publishes a cache-invalidation envelope onto the bus under a
// namespace distinct from market-data topics. The core never depends on a
// subscriber actually existing (spec.md §4.7) — Publish is fire-and-forget
// and non-blocking by construction (internal/bus's drop-oldest policy).
func (s *Store) notify(kind, userID string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.PublishAs("STORE|"+kind, userID, payload)
}
