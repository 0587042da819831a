// Package bus implements the in-process topic pub/sub between FeedAdapters
// (publishers) and the ProxyServer's fan-out consumer (subscriber), per
// spec.md §4.3. It generalizes the feed simulator's session.Manager
// broadcast-to-subscribed-clients loop into a topic-filtered, multi-producer
// multi-consumer primitive decoupled from any particular transport.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Envelope is one published message: a topic string of the form
// EXCHANGE|SYMBOL|MODE (spec.md §6) and its payload. UserID is carried
// alongside the topic rather than folded into it, since spec.md §4.4
// describes the fan-out consumer handling "(user_id, symbol, exchange,
// mode)" tuples while keeping the wire topic itself user-agnostic —
// distinct users' FeedAdapters publish on the same topic string with
// different UserID values.
type Envelope struct {
	Topic   string
	UserID  string
	Payload any
}

// Subscription is a live subscriber handle. Receive reads published
// envelopes matching the subscription's topic filter; Unsubscribe detaches
// it from the bus.
type Subscription struct {
	id     uint64
	filter string
	ch     chan Envelope
	bus    *Bus
	dropped atomic.Uint64
}

// Receive returns the channel to read envelopes from.
func (s *Subscription) Receive() <-chan Envelope { return s.ch }

// Dropped returns the number of messages dropped for this subscriber due to
// a full queue (oldest-dropped back-pressure, spec.md §4.3).
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Bus is a non-blocking, topic-filtered, multi-producer multi-consumer pub/sub.
// A slow subscriber never blocks a publisher: Publish drops the oldest queued
// message for that subscriber when its queue is full.
type Bus struct {
	mu          sync.RWMutex
	subs        map[uint64]*Subscription
	nextID      uint64
	queueDepth  int
	publishedCt atomic.Uint64
}

// New creates a Bus whose per-subscriber queues hold queueDepth envelopes.
func New(queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Bus{
		subs:       make(map[uint64]*Subscription),
		queueDepth: queueDepth,
	}
}

// Subscribe registers a new subscriber filtered by topic prefix. An empty
// filter matches every topic — this is how the proxy's fan-out consumer
// subscribes to "all topics" per spec.md §4.3.
func (b *Bus) Subscribe(topicFilter string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{
		id:     b.nextID,
		filter: topicFilter,
		ch:     make(chan Envelope, b.queueDepth),
		bus:    b,
	}
	b.subs[s.id] = s
	return s
}

// Unsubscribe detaches a subscription from the bus. Safe to call more than
// once.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; ok {
		delete(b.subs, s.id)
		close(s.ch)
	}
}

// Publish fans out payload to every subscriber whose filter prefix-matches
// topic. Publish never blocks: a subscriber with a full queue has its oldest
// queued envelope dropped to make room, per spec.md §4.3. Delivery is
// at-most-once; per-(publisher, topic) order is preserved because Publish
// writes to each subscriber's channel in call order and channels are FIFO.
func (b *Bus) Publish(topic string, payload any) {
	b.PublishAs(topic, "", payload)
}

// PublishAs is Publish with an explicit publisher user_id attached to the
// envelope, used by FeedAdapters so the proxy's fan-out consumer can route
// by (user_id, symbol, exchange, mode) even though the topic string itself
// is user-agnostic.
func (b *Bus) PublishAs(topic, userID string, payload any) {
	b.publishedCt.Add(1)
	env := Envelope{Topic: topic, UserID: userID, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(topic, s.filter) {
			continue
		}
		trySend(s, env)
	}
}

func trySend(s *Subscription, env Envelope) {
	select {
	case s.ch <- env:
		return
	default:
	}
	// Queue full: drop the oldest entry, then enqueue the new one. Safe
	// against a concurrent Unsubscribe closing the channel underneath us:
	// Unsubscribe needs the bus's write lock, which this call already holds
	// as a reader for the whole iteration.
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- env:
	default:
	}
}

// SubscriberCount reports the current number of live subscriptions, for
// metrics/health reporting.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// PublishedCount reports the total number of Publish calls made, for metrics.
func (b *Bus) PublishedCount() uint64 {
	return b.publishedCt.Load()
}
