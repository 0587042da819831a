package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/ndrandal/marketgateway/internal/gwerrors"
	"github.com/ndrandal/marketgateway/internal/order"
)

// GroupKey identifies the (symbol, exchange) a batch of open orders shares,
// so the execution engine can fetch one quote per group rather than one per
// order (spec.md §4.5 step 1).
type GroupKey struct {
	Symbol   string
	Exchange string
}

// CreateOrder inserts a new SimOrder with status "open". id is assigned if
// empty.
func (s *Store) CreateOrder(ctx context.Context, o *order.SimOrder) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	o.Status = order.Open
	o.CreatedAt = now
	o.UpdatedAt = now
	_, err := s.db.Collection(collOrders).InsertOne(ctx, o)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder fetches a single order by id.
func (s *Store) GetOrder(ctx context.Context, id string) (*order.SimOrder, error) {
	var o order.SimOrder
	err := s.db.Collection(collOrders).FindOne(ctx, bson.M{"id": id}).Decode(&o)
	if err == mongo.ErrNoDocuments {
		return nil, gwerrors.New(gwerrors.OrderNotFound, "order not found: "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

// OpenOrdersGrouped loads every open order, grouped by (symbol, exchange)
// for quote reuse, per spec.md §4.5 step 1.
func (s *Store) OpenOrdersGrouped(ctx context.Context) (map[GroupKey][]order.SimOrder, error) {
	cur, err := s.db.Collection(collOrders).Find(ctx, bson.M{"status": order.Open})
	if err != nil {
		return nil, fmt.Errorf("find open orders: %w", err)
	}
	defer cur.Close(ctx)

	groups := make(map[GroupKey][]order.SimOrder)
	for cur.Next(ctx) {
		var o order.SimOrder
		if err := cur.Decode(&o); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		k := GroupKey{Symbol: o.Symbol, Exchange: o.Exchange}
		groups[k] = append(groups[k], o)
	}
	return groups, cur.Err()
}

// OpenMISOrders lists open MIS orders for an exchange, used by the
// scheduler's square-off job (spec.md §4.6).
func (s *Store) OpenMISOrders(ctx context.Context, exchange string) ([]order.SimOrder, error) {
	cur, err := s.db.Collection(collOrders).Find(ctx, bson.M{
		"status":   order.Open,
		"exchange": exchange,
		"product":  "MIS",
	})
	if err != nil {
		return nil, fmt.Errorf("find open MIS orders: %w", err)
	}
	defer cur.Close(ctx)

	var out []order.SimOrder
	for cur.Next(ctx) {
		var o order.SimOrder
		if err := cur.Decode(&o); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		out = append(out, o)
	}
	return out, cur.Err()
}

// SetArmed persists the SL/SL-M armed flag so it survives a restart
// (spec.md §4.5 Idempotency & recovery).
func (s *Store) SetArmed(ctx context.Context, id string, armed bool) error {
	_, err := s.db.Collection(collOrders).UpdateOne(ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{"armed": armed, "updated_at": time.Now().UTC()}},
	)
	return err
}

// CancelOrder transitions an open order to "cancelled". It is a no-op
// error if the order is not open (terminal rows are immutable).
func (s *Store) CancelOrder(ctx context.Context, id string) error {
	res, err := s.db.Collection(collOrders).UpdateOne(ctx,
		bson.M{"id": id, "status": order.Open},
		bson.M{"$set": bson.M{"status": order.Cancelled, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if res.MatchedCount == 0 {
		return gwerrors.New(gwerrors.OrderNotFound, "order not open or not found: "+id)
	}
	return nil
}

// RejectOrder transitions an open order straight to "rejected", used when
// the fill path cannot resolve the order's symbol (SYMBOL_NOT_FOUND).
// Orders failing acceptance checks are never stored, so they never reach
// this.
func (s *Store) RejectOrder(ctx context.Context, id string) error {
	_, err := s.db.Collection(collOrders).UpdateOne(ctx,
		bson.M{"id": id, "status": order.Open},
		bson.M{"$set": bson.M{"status": order.Rejected, "updated_at": time.Now().UTC()}},
	)
	return err
}
