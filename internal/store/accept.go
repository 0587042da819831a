package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ndrandal/marketgateway/internal/order"
)

// AcceptOrder persists a newly-accepted order alongside its margin-blocked
// funds row in a single transaction, so a crash between the two writes
// never leaves funds blocked against an order that was never recorded (or
// vice versa) — spec.md §4.7's atomicity requirement applies to order
// acceptance the same way it applies to fill commit.
func (s *Store) AcceptOrder(ctx context.Context, o order.SimOrder, f order.Funds) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	o.Status = order.Open
	o.CreatedAt = now
	o.UpdatedAt = now

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc context.Context) (any, error) {
		if _, err := s.db.Collection(collOrders).InsertOne(sc, o); err != nil {
			return nil, fmt.Errorf("insert order: %w", err)
		}
		if err := upsertFundsTx(sc, s.db, f); err != nil {
			return nil, fmt.Errorf("upsert funds: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("accept order transaction: %w", err)
	}

	s.notify("funds", f.UserID, f)
	return nil
}
