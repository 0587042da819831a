// Package simulated implements a reference broker.Client backed by a
// synthetic GBM price generator instead of a real broker connection. It
// exists so the gateway (and its tests) run end-to-end without network
// access to a real broker, and so paper trading has live-looking quotes to
// trigger against.
package simulated

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/gwerrors"
	"github.com/ndrandal/marketgateway/internal/symbol"
	"github.com/ndrandal/marketgateway/internal/tick"
)

// Config tunes the synthetic feed a Client produces.
type Config struct {
	Seed             int64
	TickInterval     time.Duration
	MaxSymbolsPerConn int
	PoolSize         int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 250 * time.Millisecond
	}
	if c.MaxSymbolsPerConn <= 0 {
		c.MaxSymbolsPerConn = 200
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 1
	}
	return c
}

// Client is a simulated broker.Client. One instance is created per
// (user, broker) by the proxy, matching spec.md §4.4 invariant 4.
type Client struct {
	cfg      Config
	resolver *symbol.Resolver
	market   *market
	log      zerolog.Logger

	out chan tick.Tick

	mu   sync.Mutex
	subs map[subKey]*subscription
}

type subKey struct {
	symbol   string
	exchange string
	mode     tick.Mode
}

type subscription struct {
	contract   symbol.Contract
	mode       tick.Mode
	depthLevel int
	supported  bool
	stop       chan struct{}
}

// New builds a simulated Client over the given master-contract resolver.
func New(resolver *symbol.Resolver, contracts []symbol.Contract, cfg Config, log zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:      cfg,
		resolver: resolver,
		market:   newMarket(cfg.Seed, contracts),
		log:      log.With().Str("component", "simulated_broker").Logger(),
		out:      make(chan tick.Tick, 1024),
		subs:     make(map[subKey]*subscription),
	}
}

func (c *Client) Name() string { return "simulated" }

func (c *Client) Capabilities() broker.Capabilities {
	return broker.Capabilities{
		MaxSymbolsPerConn:    c.cfg.MaxSymbolsPerConn,
		PoolSize:             c.cfg.PoolSize,
		RetainSessionOnEmpty: false,
		SupportsDepths:       map[int]bool{5: true, 20: true},
		PriceInPaise:         false,
		UnitConversionFactor: 1,
		HeartbeatTimeout:     30 * time.Second,
	}
}

func (c *Client) Ticks() <-chan tick.Tick { return c.out }

// Subscribe resolves the symbol against the master-contract table and
// starts a per-subscription tick generator goroutine.
func (c *Client) Subscribe(ctx context.Context, req broker.SubscribeRequest) (broker.SubscribeResult, error) {
	contract, err := c.resolver.Resolve(req.Symbol, symbol.Exchange(req.Exchange))
	if err != nil {
		return broker.SubscribeResult{}, gwerrors.Wrap(gwerrors.SymbolNotFound, "resolve failed", err)
	}

	key := subKey{symbol: req.Symbol, exchange: req.Exchange, mode: req.Mode}

	actualDepth := req.DepthLevel
	supported := true
	if req.Mode == tick.DEPTH {
		caps := c.Capabilities().SupportsDepths
		if !caps[req.DepthLevel] {
			actualDepth = 5
			supported = false
		}
	}

	c.mu.Lock()
	if existing, ok := c.subs[key]; ok {
		close(existing.stop)
	}
	if len(c.subs) >= c.cfg.MaxSymbolsPerConn {
		c.mu.Unlock()
		return broker.SubscribeResult{}, gwerrors.New(gwerrors.LimitExceeded, "simulated broker connection full")
	}
	sub := &subscription{contract: contract, mode: req.Mode, depthLevel: actualDepth, supported: supported, stop: make(chan struct{})}
	c.subs[key] = sub
	c.mu.Unlock()

	go c.run(sub)

	return broker.SubscribeResult{ActualDepth: actualDepth, BrokerSupported: supported}, nil
}

func (c *Client) Unsubscribe(ctx context.Context, sym, exchange string, mode tick.Mode) error {
	key := subKey{symbol: sym, exchange: exchange, mode: mode}
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[key]
	if !ok {
		return nil
	}
	close(sub.stop)
	delete(c.subs, key)
	return nil
}

func (c *Client) UnsubscribeAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, sub := range c.subs {
		close(sub.stop)
		delete(c.subs, k)
	}
	return nil
}

// Disconnect stops every subscription's generator. It does not close the
// Ticks channel.
func (c *Client) Disconnect(ctx context.Context) error {
	if err := c.UnsubscribeAll(ctx); err != nil {
		return err
	}
	return nil
}

// Quote returns the current synthetic LTP/bid/ask for a resolved instrument,
// used directly by the execution engine (spec.md §4.5) without requiring an
// active subscription.
func (c *Client) Quote(ctx context.Context, sym, exchange string) (broker.Quote, error) {
	contract, err := c.resolver.Resolve(sym, symbol.Exchange(exchange))
	if err != nil {
		return broker.Quote{}, gwerrors.Wrap(gwerrors.SymbolNotFound, "resolve failed", err)
	}
	k := symbol.Key{Symbol: contract.Symbol, Exchange: contract.Exchange}
	ltp := c.market.price(k)
	if ltp == 0 {
		c.market.generateShocks()
		ltp = c.market.step(k)
	}
	spread := contract.TickSize
	if spread <= 0 {
		spread = 0.05
	}
	return broker.Quote{LTP: ltp, Bid: ltp - spread, Ask: ltp + spread}, nil
}

// PlaceOrder, ModifyOrder, CancelOrder are stubs: simulated trading does not
// route SimOrders through a broker order-management API, it evaluates them
// directly against market quotes in internal/execengine. These exist only
// to satisfy broker.Client for callers that need a uniform interface (e.g.
// a future live square-off integration).
func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error) {
	return broker.OrderAck{BrokerOrderID: fmt.Sprintf("SIM-%d", time.Now().UnixNano()), Status: "COMPLETE"}, nil
}

func (c *Client) ModifyOrder(ctx context.Context, brokerOrderID string, req broker.OrderRequest) (broker.OrderAck, error) {
	return broker.OrderAck{BrokerOrderID: brokerOrderID, Status: "COMPLETE"}, nil
}

func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return nil
}

// run ticks a single subscription until stopped, publishing normalized
// Tick values onto the shared output channel.
func (c *Client) run(sub *subscription) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	k := symbol.Key{Symbol: sub.contract.Symbol, Exchange: sub.contract.Exchange}
	prevClose := c.market.price(k)

	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
			c.market.generateShocks()
			ltp := c.market.step(k)
			t := c.buildTick(sub, ltp, prevClose)
			select {
			case c.out <- t:
			default:
				c.log.Warn().Str("symbol", sub.contract.Symbol).Msg("output channel full, dropping tick")
			}
		}
	}
}

func (c *Client) buildTick(sub *subscription, ltp, prevClose float64) tick.Tick {
	spread := sub.contract.TickSize
	if spread <= 0 {
		spread = 0.05
	}
	t := tick.Tick{
		Symbol:      sub.contract.Symbol,
		Exchange:    string(sub.contract.Exchange),
		Mode:        sub.mode,
		LTP:         ltp,
		Bid:         ltp - spread,
		Ask:         ltp + spread,
		TimestampMs: tick.NowMs(),
	}
	if sub.mode >= tick.QUOTE {
		t.Open = prevClose
		t.Close = prevClose
		t.High = ltp
		t.Low = ltp
		t.Volume = 0
	}
	if sub.mode == tick.DEPTH {
		t.Depth = c.syntheticDepth(ltp, spread, sub.depthLevel)
		t.ActualDepth = sub.depthLevel
		t.BrokerSupported = sub.supported
	}
	return t
}

// syntheticDepth fabricates a plausible N-level book around the current
// LTP, evenly spaced by tick size with decaying synthetic size.
func (c *Client) syntheticDepth(ltp, spread float64, levels int) *tick.Depth {
	d := &tick.Depth{Buy: make([]tick.Level, levels), Sell: make([]tick.Level, levels)}
	for i := 0; i < levels; i++ {
		qty := int64(100 * (levels - i))
		d.Buy[i] = tick.Level{Price: ltp - spread*float64(i+1), Quantity: qty, Orders: int32(i + 1)}
		d.Sell[i] = tick.Level{Price: ltp + spread*float64(i+1), Quantity: qty, Orders: int32(i + 1)}
	}
	return d
}
