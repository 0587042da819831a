package execengine

import (
	"context"
	"sync"

	"github.com/ndrandal/marketgateway/internal/broker"
)

// QuoteGateway lazily connects one broker.Client per user and serves the
// engine's pull-based Quote calls through it. Unlike feed.Adapter it never
// subscribes to a tick stream or runs a pump goroutine — the engine only
// ever pulls a point-in-time quote, it never consumes a push feed, so the
// heavier per-(user,broker) session machinery in internal/feed would run
// idle goroutines for nothing.
type QuoteGateway struct {
	factory    broker.Factory
	brokerName func(userID string) string

	mu      sync.Mutex
	clients map[string]broker.Client
}

// NewQuoteGateway builds a QuoteGateway. brokerName resolves which broker a
// user's engine-driven quote calls go through; the demo wiring always
// returns "simulated" since the master-contract table has no per-user
// broker assignment concept.
func NewQuoteGateway(factory broker.Factory, brokerName func(userID string) string) *QuoteGateway {
	return &QuoteGateway{
		factory:    factory,
		brokerName: brokerName,
		clients:    make(map[string]broker.Client),
	}
}

// Quote returns a point-in-time quote for (symbol, exchange) through the
// user's broker connection, connecting lazily on first use and reconnecting
// once if the existing connection returns an error.
func (g *QuoteGateway) Quote(ctx context.Context, userID, symbol, exchange string) (broker.Quote, error) {
	client, err := g.clientFor(ctx, userID)
	if err != nil {
		return broker.Quote{}, err
	}

	q, err := client.Quote(ctx, symbol, exchange)
	if err == nil {
		return q, nil
	}

	// One reconnect-and-retry: a stale connection is the common failure
	// mode for a client that otherwise sits idle between poll cycles.
	g.mu.Lock()
	delete(g.clients, userID)
	g.mu.Unlock()

	client, err = g.clientFor(ctx, userID)
	if err != nil {
		return broker.Quote{}, err
	}
	return client.Quote(ctx, symbol, exchange)
}

func (g *QuoteGateway) clientFor(ctx context.Context, userID string) (broker.Client, error) {
	g.mu.Lock()
	if c, ok := g.clients[userID]; ok {
		g.mu.Unlock()
		return c, nil
	}
	g.mu.Unlock()

	client, err := g.factory(ctx, userID, g.brokerName(userID))
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.clients[userID] = client
	g.mu.Unlock()
	return client, nil
}

// Close disconnects every client the gateway opened.
func (g *QuoteGateway) Close(ctx context.Context) {
	g.mu.Lock()
	clients := g.clients
	g.clients = make(map[string]broker.Client)
	g.mu.Unlock()

	for _, c := range clients {
		_ = c.Disconnect(ctx)
	}
}
