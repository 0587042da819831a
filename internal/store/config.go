package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/marketgateway/internal/gwconfig"
)

const gatewayConfigKey = "gateway_config"

// gatewayConfigDoc is gwconfig.Config's bson-tagged wire shape; kept
// separate from gwconfig.Config so the config package stays free of a
// mongo-driver import.
type gatewayConfigDoc struct {
	Key                string            `bson:"key"`
	StartingCapital    string            `bson:"starting_capital"`
	ResetWeekday       int               `bson:"reset_weekday"`
	ResetTime          string            `bson:"reset_time"`
	EquityLeverage     string            `bson:"equity_leverage"`
	FuturesLeverage    string            `bson:"futures_leverage"`
	OptionBuyLeverage  string            `bson:"option_buy_leverage"`
	OptionSellLeverage string            `bson:"option_sell_leverage"`
	CheckIntervalMs    int               `bson:"check_interval_ms"`
	MTMIntervalMs      int               `bson:"mtm_interval_ms"`
	SquareOffTimes     map[string]string `bson:"square_off_times"`
}

func toDoc(c gwconfig.Config) gatewayConfigDoc {
	return gatewayConfigDoc{
		Key:                gatewayConfigKey,
		StartingCapital:    c.StartingCapital.String(),
		ResetWeekday:       int(c.ResetWeekday),
		ResetTime:          c.ResetTime,
		EquityLeverage:     c.EquityLeverage.String(),
		FuturesLeverage:    c.FuturesLeverage.String(),
		OptionBuyLeverage:  c.OptionBuyLeverage.String(),
		OptionSellLeverage: c.OptionSellLeverage.String(),
		CheckIntervalMs:    c.CheckIntervalMs,
		MTMIntervalMs:      c.MTMIntervalMs,
		SquareOffTimes:     c.SquareOffTimes,
	}
}

func fromDoc(d gatewayConfigDoc) (gwconfig.Config, error) {
	c := gwconfig.Default()
	c.ResetWeekday = time.Weekday(d.ResetWeekday)
	c.ResetTime = d.ResetTime
	c.CheckIntervalMs = d.CheckIntervalMs
	c.MTMIntervalMs = d.MTMIntervalMs
	if d.SquareOffTimes != nil {
		c.SquareOffTimes = d.SquareOffTimes
	}
	var err error
	if c.StartingCapital, err = decimalOrDefault(d.StartingCapital, c.StartingCapital); err != nil {
		return gwconfig.Config{}, err
	}
	if c.EquityLeverage, err = decimalOrDefault(d.EquityLeverage, c.EquityLeverage); err != nil {
		return gwconfig.Config{}, err
	}
	if c.FuturesLeverage, err = decimalOrDefault(d.FuturesLeverage, c.FuturesLeverage); err != nil {
		return gwconfig.Config{}, err
	}
	if c.OptionBuyLeverage, err = decimalOrDefault(d.OptionBuyLeverage, c.OptionBuyLeverage); err != nil {
		return gwconfig.Config{}, err
	}
	if c.OptionSellLeverage, err = decimalOrDefault(d.OptionSellLeverage, c.OptionSellLeverage); err != nil {
		return gwconfig.Config{}, err
	}
	return c, nil
}

// configDoc is a single keyed marker/value row, the store-layer equivalent
// of the teacher's sim_state collection (persist.Snapshotter uses the same
// key/value-row shape for PRNG and counter state).
type configDoc struct {
	Key       string    `bson:"key"`
	Done      bool      `bson:"done"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// JobDone reports whether a scheduler job's per-day/per-week marker is
// already set (spec.md §4.6: "Jobs are idempotent").
func (s *Store) JobDone(ctx context.Context, key string) (bool, error) {
	var doc configDoc
	err := s.db.Collection(collConfig).FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get job marker: %w", err)
	}
	return doc.Done, nil
}

// MarkJobDone sets a scheduler job's marker, keyed per-day or per-week by
// the caller (e.g. "squareoff:NSE:2026-08-01").
func (s *Store) MarkJobDone(ctx context.Context, key string) error {
	_, err := s.db.Collection(collConfig).UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": configDoc{Key: key, Done: true, UpdatedAt: time.Now().UTC()}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

// misBlockDoc records the per-exchange square-off block window: new MIS
// orders for the exchange are rejected until BlockedUntil (spec.md §4.6:
// "blocking new MIS orders for that exchange until 09:00 next day").
type misBlockDoc struct {
	Key          string    `bson:"key"`
	BlockedUntil time.Time `bson:"blocked_until"`
}

func misBlockKey(exchange string) string { return "mis_blocked:" + exchange }

// SetMISBlockedUntil records that new MIS orders for exchange are rejected
// until the given time.
func (s *Store) SetMISBlockedUntil(ctx context.Context, exchange string, until time.Time) error {
	_, err := s.db.Collection(collConfig).UpdateOne(ctx,
		bson.M{"key": misBlockKey(exchange)},
		bson.M{"$set": misBlockDoc{Key: misBlockKey(exchange), BlockedUntil: until}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

// MISBlockedUntil returns the time new MIS orders for exchange are blocked
// until, or the zero time if no block is in effect.
func (s *Store) MISBlockedUntil(ctx context.Context, exchange string) (time.Time, error) {
	var doc misBlockDoc
	err := s.db.Collection(collConfig).FindOne(ctx, bson.M{"key": misBlockKey(exchange)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get mis block: %w", err)
	}
	return doc.BlockedUntil, nil
}

// GetConfig loads the process-wide gateway Config row, falling back to
// gwconfig.Default() if none has been saved yet.
func (s *Store) GetConfig(ctx context.Context) (gwconfig.Config, error) {
	var doc gatewayConfigDoc
	err := s.db.Collection(collConfig).FindOne(ctx, bson.M{"key": gatewayConfigKey}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return gwconfig.Default(), nil
	}
	if err != nil {
		return gwconfig.Config{}, fmt.Errorf("get gateway config: %w", err)
	}
	return fromDoc(doc)
}

// SaveConfig persists the process-wide gateway Config row.
func (s *Store) SaveConfig(ctx context.Context, c gwconfig.Config) error {
	_, err := s.db.Collection(collConfig).UpdateOne(ctx,
		bson.M{"key": gatewayConfigKey},
		bson.M{"$set": toDoc(c)},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func decimalOrDefault(s string, def decimal.Decimal) (decimal.Decimal, error) {
	if s == "" {
		return def, nil
	}
	return decimal.NewFromString(s)
}
