// Package proxy implements the ProxyServer: client WebSocket authentication,
// per-client subscription sets, a globally reference-counted subscription
// table, and fan-out from the Bus to subscribed clients, per spec.md §4.4.
// It generalizes the feed simulator's session.Manager (which fanned out a
// fixed ITCH symbol universe to format-selecting clients) into a
// multi-broker, multi-user proxy with true shared-subscription reference
// counting and pre-register/rollback semantics the original never needed.
package proxy

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ndrandal/marketgateway/internal/authport"
	"github.com/ndrandal/marketgateway/internal/broker"
	"github.com/ndrandal/marketgateway/internal/bus"
	"github.com/ndrandal/marketgateway/internal/feed"
	"github.com/ndrandal/marketgateway/internal/gwerrors"
	"github.com/ndrandal/marketgateway/internal/tick"
)

// Key is a global subscription key: a (user, symbol, exchange, mode) tuple.
// This is the unit §4.4's reference counting operates on.
type Key struct {
	UserID   string
	Symbol   string
	Exchange string
	Mode     tick.Mode
}

// Config tunes the proxy's resource limits.
type Config struct {
	OutboxCapacity int
}

func (c Config) withDefaults() Config {
	if c.OutboxCapacity <= 0 {
		c.OutboxCapacity = 256
	}
	return c
}

// Server is the ProxyServer. Lock acquisition order, when more than one is
// needed, is always subMu -> userMu -> adapterMu, per spec.md §5.
type Server struct {
	cfg     Config
	auth    authport.Port
	factory broker.Factory
	bus     *bus.Bus
	log     zerolog.Logger

	clientsMu sync.RWMutex
	clients   map[string]*clientConn

	subMu      sync.Mutex
	clientSubs map[string]map[Key]struct{} // client id -> keys
	globalSubs map[Key]map[string]struct{} // key -> client ids

	userMu      sync.Mutex
	userClients map[string]map[string]struct{} // user id -> client ids

	adapterMu sync.Mutex
	adapters  map[string]*feed.Adapter // user id -> adapter

	fanoutSub *bus.Subscription
	fanoutCancel context.CancelFunc
}

// New constructs a Server and starts its bus fan-out consumer.
func New(ctx context.Context, auth authport.Port, factory broker.Factory, b *bus.Bus, cfg Config, log zerolog.Logger) *Server {
	fanoutCtx, cancel := context.WithCancel(ctx)
	s := &Server{
		cfg:          cfg.withDefaults(),
		auth:         auth,
		factory:      factory,
		bus:          b,
		log:          log.With().Str("component", "proxy").Logger(),
		clients:      make(map[string]*clientConn),
		clientSubs:   make(map[string]map[Key]struct{}),
		globalSubs:   make(map[Key]map[string]struct{}),
		userClients:  make(map[string]map[string]struct{}),
		adapters:     make(map[string]*feed.Adapter),
		fanoutSub:    b.Subscribe(""),
		fanoutCancel: cancel,
	}
	go s.fanoutLoop(fanoutCtx)
	return s
}

// Shutdown stops the fan-out consumer and releases the bus subscription.
func (s *Server) Shutdown() {
	s.fanoutCancel()
	s.bus.Unsubscribe(s.fanoutSub)
}

// RefCount reports the number of clients holding a key, for tests and
// metrics — it is always exactly len(globalSubs[key]), carried here as an
// explicit accessor for the correctness checks spec.md §4.4 invariant 1
// describes.
func (s *Server) RefCount(k Key) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.globalSubs[k])
}

// ClientCount reports the number of currently connected WebSocket clients,
// for the /health endpoint (spec.md's supplemented health reporting).
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// authenticate resolves an API key to an identity and, on a user's first
// successful authentication, creates their FeedAdapter under the
// adapter-creation lock (spec.md §4.4).
func (s *Server) authenticate(ctx context.Context, c *clientConn, apiKey string) error {
	id, err := s.auth.Verify(ctx, apiKey)
	if err != nil {
		return err
	}

	if _, err := s.getOrCreateAdapter(ctx, id.UserID, id.BrokerName); err != nil {
		return err
	}

	c.setIdentity(id.UserID, id.BrokerName)

	s.userMu.Lock()
	if s.userClients[id.UserID] == nil {
		s.userClients[id.UserID] = make(map[string]struct{})
	}
	s.userClients[id.UserID][c.id] = struct{}{}
	s.userMu.Unlock()

	return nil
}

func (s *Server) getOrCreateAdapter(ctx context.Context, userID, brokerName string) (*feed.Adapter, error) {
	s.adapterMu.Lock()
	defer s.adapterMu.Unlock()
	if a, ok := s.adapters[userID]; ok {
		return a, nil
	}
	a, err := feed.New(ctx, userID, brokerName, s.factory, s.bus, s.log)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.BrokerError, "adapter creation failed", err)
	}
	s.adapters[userID] = a
	return a, nil
}

func (s *Server) getAdapter(userID string) *feed.Adapter {
	s.adapterMu.Lock()
	defer s.adapterMu.Unlock()
	return s.adapters[userID]
}

// subscribeOne implements the per-symbol subscribe algorithm of spec.md
// §4.4: pre-register under the subscription lock, call the broker outside
// it, and roll back on failure.
func (s *Server) subscribeOne(ctx context.Context, clientID, userID string, adapter *feed.Adapter, sym, exch string, mode tick.Mode, depth int) subscribeResultFrame {
	key := Key{UserID: userID, Symbol: sym, Exchange: exch, Mode: mode}

	s.subMu.Lock()
	if _, already := s.clientSubs[clientID][key]; already {
		s.subMu.Unlock()
		return subscribeResultFrame{Symbol: sym, Exchange: exch, Mode: int(mode), Status: "warning", Message: "already subscribed"}
	}
	isFirst := s.globalSubs[key] == nil
	if isFirst {
		s.globalSubs[key] = make(map[string]struct{})
	}
	s.globalSubs[key][clientID] = struct{}{}
	s.subMu.Unlock()

	if !isFirst {
		s.subMu.Lock()
		if s.clientSubs[clientID] == nil {
			s.clientSubs[clientID] = make(map[Key]struct{})
		}
		s.clientSubs[clientID][key] = struct{}{}
		s.subMu.Unlock()
		return subscribeResultFrame{Symbol: sym, Exchange: exch, Mode: int(mode), Status: "subscribed", Message: "shared with other clients"}
	}

	res, err := adapter.Subscribe(ctx, sym, exch, mode, depth)
	if err != nil {
		s.subMu.Lock()
		delete(s.globalSubs[key], clientID)
		if len(s.globalSubs[key]) == 0 {
			delete(s.globalSubs, key)
		}
		s.subMu.Unlock()
		code, msg := errorCode(err)
		return subscribeResultFrame{Symbol: sym, Exchange: exch, Mode: int(mode), Status: "error", Message: code + ": " + msg}
	}

	s.subMu.Lock()
	if s.clientSubs[clientID] == nil {
		s.clientSubs[clientID] = make(map[Key]struct{})
	}
	s.clientSubs[clientID][key] = struct{}{}
	s.subMu.Unlock()

	return subscribeResultFrame{
		Symbol: sym, Exchange: exch, Mode: int(mode), Status: "subscribed",
		ActualDepth: res.ActualDepth, BrokerSupported: res.BrokerSupported,
	}
}

// unsubscribeOne implements the unsubscribe algorithm of spec.md §4.4.
func (s *Server) unsubscribeOne(ctx context.Context, clientID, userID string, adapter *feed.Adapter, sym, exch string, mode tick.Mode) unsubscribeResultFrame {
	key := Key{UserID: userID, Symbol: sym, Exchange: exch, Mode: mode}

	s.subMu.Lock()
	if _, ok := s.clientSubs[clientID][key]; !ok {
		s.subMu.Unlock()
		return unsubscribeResultFrame{Symbol: sym, Exchange: exch, Mode: int(mode), Status: "error", Message: string(gwerrors.NotSubscribed)}
	}
	delete(s.clientSubs[clientID], key)
	last := false
	if set, ok := s.globalSubs[key]; ok {
		delete(set, clientID)
		if len(set) == 0 {
			delete(s.globalSubs, key)
			last = true
		}
	}
	s.subMu.Unlock()

	if last && adapter != nil {
		if err := adapter.Unsubscribe(ctx, sym, exch, mode); err != nil {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("broker unsubscribe failed during client unsubscribe")
		}
	}

	return unsubscribeResultFrame{Symbol: sym, Exchange: exch, Mode: int(mode), Status: "unsubscribed"}
}

// cleanup runs on client disconnect: it tears down every subscription the
// client held, then — if it was the user's last connected client — either
// disconnects the adapter or soft-resets it, per spec.md §4.4.
func (s *Server) cleanup(ctx context.Context, c *clientConn) {
	s.clientsMu.Lock()
	delete(s.clients, c.id)
	s.clientsMu.Unlock()

	userID, _, authed := c.identity()
	if !authed {
		return
	}

	adapter := s.getAdapter(userID)

	s.subMu.Lock()
	keys := make([]Key, 0, len(s.clientSubs[c.id]))
	for k := range s.clientSubs[c.id] {
		keys = append(keys, k)
	}
	s.subMu.Unlock()

	for _, key := range keys {
		s.subMu.Lock()
		delete(s.clientSubs[c.id], key)
		last := false
		if set, ok := s.globalSubs[key]; ok {
			delete(set, c.id)
			if len(set) == 0 {
				delete(s.globalSubs, key)
				last = true
			}
		}
		s.subMu.Unlock()

		if last && adapter != nil {
			if err := adapter.Unsubscribe(ctx, key.Symbol, key.Exchange, key.Mode); err != nil {
				s.log.Warn().Err(err).Str("symbol", key.Symbol).Msg("broker unsubscribe failed during cleanup")
			}
		}
	}

	s.subMu.Lock()
	delete(s.clientSubs, c.id)
	s.subMu.Unlock()

	s.userMu.Lock()
	userEmpty := false
	if set, ok := s.userClients[userID]; ok {
		delete(set, c.id)
		if len(set) == 0 {
			delete(s.userClients, userID)
			userEmpty = true
		}
	}
	s.userMu.Unlock()

	if !userEmpty || adapter == nil {
		return
	}

	s.adapterMu.Lock()
	defer s.adapterMu.Unlock()
	if adapter.Capabilities().RetainSessionOnEmpty {
		if err := adapter.UnsubscribeAll(ctx); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("unsubscribe_all failed on empty-user cleanup")
		}
		return
	}
	if err := adapter.Disconnect(ctx); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("adapter disconnect failed on empty-user cleanup")
	}
	delete(s.adapters, userID)
}

// fanoutLoop is the dedicated bus consumer. For each tick it takes a
// snapshot of the tick key's subscriber set in globalSubs under the
// subscription lock, releases the lock,
// then sends to matching clients — message sends never happen with the
// subscription lock held, per spec.md §4.4/§5.
func (s *Server) fanoutLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-s.fanoutSub.Receive():
			if !ok {
				return
			}
			t, ok := env.Payload.(tick.Tick)
			if !ok {
				continue
			}
			s.deliver(env.UserID, t)
		}
	}
}

func (s *Server) deliver(userID string, t tick.Tick) {
	key := Key{UserID: userID, Symbol: t.Symbol, Exchange: t.Exchange, Mode: t.Mode}

	s.subMu.Lock()
	set := s.globalSubs[key]
	recipients := make([]string, 0, len(set))
	for clientID := range set {
		recipients = append(recipients, clientID)
	}
	s.subMu.Unlock()

	if len(recipients) == 0 {
		return
	}

	for _, clientID := range recipients {
		s.clientsMu.RLock()
		c, ok := s.clients[clientID]
		s.clientsMu.RUnlock()
		if !ok {
			continue
		}
		_, brokerName, _ := c.identity()
		frame := toFrame(t, brokerName)
		payload, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		isDepth := t.Mode == tick.DEPTH
		c.outbox.push(outboxKey{symbol: t.Symbol, mode: int(t.Mode)}, payload, isDepth)
	}
}

func errorCode(err error) (code, message string) {
	if ge, ok := err.(*gwerrors.GatewayError); ok {
		return string(ge.Code), ge.Message
	}
	return string(gwerrors.BrokerError), err.Error()
}
