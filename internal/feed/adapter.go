// Package feed implements the FeedAdapter: one instance per (user, broker),
// owning a broker.Client, normalizing its ticks, and republishing them onto
// the Bus. It generalizes the feed simulator's per-symbol runner-loop shape
// (cmd/feedsim/main.go's symbolRunner goroutines feeding a session.Manager)
// into a consumer of an arbitrary broker.Client's tick channel feeding a
// topic bus, plus the pooling/reconnect bookkeeping spec.md §4.2 assigns to
// the adapter rather than to the broker port itself.
package feed

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/bus"
	"github.com/ndrandal/marketgateway/internal/gwerrors"
	"github.com/ndrandal/marketgateway/internal/tick"
)

// SubscribeResult mirrors broker.SubscribeResult at the adapter boundary;
// kept distinct so callers (the proxy) don't need to import internal/broker.
type SubscribeResult struct {
	ActualDepth     int
	BrokerSupported bool
}

type subKey struct {
	symbol   string
	exchange string
	mode     tick.Mode
}

// record is a recorded subscription, replayed verbatim to a freshly
// reconnected broker.Client.
type record struct {
	req       broker.SubscribeRequest
	poolIndex int
}

// Adapter is the per-(user, broker) FeedAdapter.
type Adapter struct {
	userID     string
	brokerName string
	factory    broker.Factory
	bus        *bus.Bus
	log        zerolog.Logger

	backoff backoffPolicy

	mu      sync.Mutex
	client  broker.Client
	subs    map[subKey]record
	poolCnt []int

	lastTickMu sync.Mutex
	lastTick   time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an Adapter and connects its first broker.Client. The
// caller (ProxyServer, under its adapter-creation lock) owns the Adapter's
// lifetime from here.
func New(ctx context.Context, userID, brokerName string, factory broker.Factory, b *bus.Bus, log zerolog.Logger) (*Adapter, error) {
	client, err := factory(ctx, userID, brokerName)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.BrokerError, "broker connect failed", err)
	}

	a := &Adapter{
		userID:     userID,
		brokerName: brokerName,
		factory:    factory,
		bus:        b,
		log:        log.With().Str("component", "feed_adapter").Str("user_id", userID).Str("broker", brokerName).Logger(),
		client:     client,
		subs:       make(map[subKey]record),
		poolCnt:    make([]int, max(client.Capabilities().PoolSize, 1)),
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.pump(runCtx, client)
	go a.heartbeatMonitor(runCtx)

	return a, nil
}

// Subscribe resolves the pool slot for (symbol, exchange), enforces the
// per-connection symbol cap, forwards to the broker, and records the
// subscription for reconnect replay.
func (a *Adapter) Subscribe(ctx context.Context, symbol, exchange string, mode tick.Mode, depthLevel int) (SubscribeResult, error) {
	a.mu.Lock()
	client := a.client
	caps := client.Capabilities()
	poolIndex := poolSlot(symbol, exchange, len(a.poolCnt))
	key := subKey{symbol: symbol, exchange: exchange, mode: mode}

	if _, exists := a.subs[key]; !exists && a.poolCnt[poolIndex] >= caps.MaxSymbolsPerConn {
		a.mu.Unlock()
		return SubscribeResult{}, gwerrors.New(gwerrors.LimitExceeded, "connection pool slot full")
	}
	a.mu.Unlock()

	res, err := client.Subscribe(ctx, broker.SubscribeRequest{
		Symbol: symbol, Exchange: exchange, Mode: mode, DepthLevel: depthLevel,
	})
	if err != nil {
		return SubscribeResult{}, err
	}

	a.mu.Lock()
	if _, exists := a.subs[key]; !exists {
		a.poolCnt[poolIndex]++
	}
	a.subs[key] = record{req: broker.SubscribeRequest{Symbol: symbol, Exchange: exchange, Mode: mode, DepthLevel: depthLevel}, poolIndex: poolIndex}
	a.mu.Unlock()

	return SubscribeResult{ActualDepth: res.ActualDepth, BrokerSupported: res.BrokerSupported}, nil
}

// Unsubscribe removes the local record and forwards to the broker.
func (a *Adapter) Unsubscribe(ctx context.Context, symbol, exchange string, mode tick.Mode) error {
	key := subKey{symbol: symbol, exchange: exchange, mode: mode}

	a.mu.Lock()
	rec, ok := a.subs[key]
	client := a.client
	a.mu.Unlock()
	if !ok {
		return nil
	}

	if err := client.Unsubscribe(ctx, symbol, exchange, mode); err != nil {
		a.log.Warn().Err(err).Str("symbol", symbol).Msg("broker unsubscribe failed")
	}

	a.mu.Lock()
	delete(a.subs, key)
	if a.poolCnt[rec.poolIndex] > 0 {
		a.poolCnt[rec.poolIndex]--
	}
	a.mu.Unlock()
	return nil
}

// UnsubscribeAll performs a soft reset: it drops all local records without
// tearing down the underlying broker connection, for brokers flagged
// retain_session_on_empty.
func (a *Adapter) UnsubscribeAll(ctx context.Context) error {
	a.mu.Lock()
	client := a.client
	a.subs = make(map[subKey]record)
	for i := range a.poolCnt {
		a.poolCnt[i] = 0
	}
	a.mu.Unlock()
	return client.UnsubscribeAll(ctx)
}

// Capabilities exposes the current broker.Client's capability flags, so the
// proxy can decide between Disconnect and UnsubscribeAll on last-client
// cleanup (spec.md §4.4).
func (a *Adapter) Capabilities() broker.Capabilities {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client.Capabilities()
}

// Quote fetches a point-in-time quote through the underlying broker.Client,
// for the ExecutionEngine's per-cycle price lookups (spec.md §4.5 Inputs:
// "a quotes(user, symbol, exchange) call on the adapter").
func (a *Adapter) Quote(ctx context.Context, symbol, exchange string) (broker.Quote, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	return client.Quote(ctx, symbol, exchange)
}

// Disconnect releases all resources. Idempotent.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	<-a.done

	return client.Disconnect(ctx)
}

// pump consumes the broker.Client's normalized ticks, applies the adapter's
// normalization rules, and republishes onto the bus under this user's topic
// namespace.
func (a *Adapter) pump(ctx context.Context, client broker.Client) {
	defer close(a.done)
	caps := client.Capabilities()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-client.Ticks():
			if !ok {
				return
			}
			a.normalize(&t, caps)
			a.markAlive()
			a.bus.PublishAs(t.Topic(), a.userID, t)
		}
	}
}

// normalize applies the paise→rupee conversion and timestamp fallback rules
// from spec.md §4.2/§9. Depth truncation and mode mapping are the broker
// client's responsibility since only it knows the wire-level caps.
func (a *Adapter) normalize(t *tick.Tick, caps broker.Capabilities) {
	if caps.PriceInPaise {
		factor := caps.UnitConversionFactor
		if factor == 0 {
			factor = 100
		}
		t.LTP /= factor
		t.Open /= factor
		t.High /= factor
		t.Low /= factor
		t.Close /= factor
		t.Bid /= factor
		t.Ask /= factor
		if t.Depth != nil {
			for i := range t.Depth.Buy {
				t.Depth.Buy[i].Price /= factor
			}
			for i := range t.Depth.Sell {
				t.Depth.Sell[i].Price /= factor
			}
		}
	}
	if t.TimestampMs == 0 {
		t.TimestampMs = tick.NowMs()
	}
}

func (a *Adapter) markAlive() {
	a.lastTickMu.Lock()
	a.lastTick = time.Now()
	a.lastTickMu.Unlock()
}

// heartbeatMonitor watches for broker silence beyond the capability-declared
// threshold and reconnects with subscription replay when it fires.
func (a *Adapter) heartbeatMonitor(ctx context.Context) {
	a.mu.Lock()
	timeout := a.client.Capabilities().HeartbeatTimeout
	a.mu.Unlock()
	if timeout <= 0 {
		return
	}

	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.lastTickMu.Lock()
			silent := !a.lastTick.IsZero() && time.Since(a.lastTick) > timeout
			a.lastTickMu.Unlock()
			if silent {
				a.reconnect(ctx)
			}
		}
	}
}

// reconnect closes the current broker.Client, builds a fresh one with
// exponential backoff, and replays every recorded subscription before
// returning. Ticks received mid-reconnect are dropped, not queued, per
// spec.md §4.2 — there is simply no pump goroutine running against the
// stale client while this executes.
func (a *Adapter) reconnect(ctx context.Context) {
	a.mu.Lock()
	old := a.client
	subsSnapshot := make([]broker.SubscribeRequest, 0, len(a.subs))
	for _, rec := range a.subs {
		subsSnapshot = append(subsSnapshot, rec.req)
	}
	a.mu.Unlock()

	_ = old.Disconnect(ctx)

	var client broker.Client
	for attempt := 0; ; attempt++ {
		c, err := a.factory(ctx, a.userID, a.brokerName)
		if err == nil {
			client = c
			break
		}
		a.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed, backing off")
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.backoff.next(attempt)):
		}
	}

	a.mu.Lock()
	a.client = client
	a.mu.Unlock()

	for _, req := range subsSnapshot {
		if _, err := client.Subscribe(ctx, req); err != nil {
			a.log.Warn().Err(err).Str("symbol", req.Symbol).Msg("replay subscribe failed")
		}
	}

	go a.pump(ctx, client)
}

// poolSlot deterministically routes a (symbol, exchange) pair to a pool
// index; the mapping is stable for the lifetime of the adapter as long as
// the pool size doesn't change.
func poolSlot(symbol, exchange string, poolSize int) int {
	if poolSize <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(exchange))
	h.Write([]byte{'|'})
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(poolSize))
}

// backoffPolicy is exponential backoff with a cap, per spec.md §4.2.
type backoffPolicy struct{}

func (backoffPolicy) next(attempt int) time.Duration {
	d := time.Duration(1<<uint(min(attempt, 6))) * 250 * time.Millisecond
	const cap = 30 * time.Second
	if d > cap {
		return cap
	}
	return d
}
