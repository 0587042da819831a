package bus

import (
	"testing"
	"time"
)

func TestSubscribeExactTopicMatch(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("NSE|RELIANCE|LTP")
	b.Publish("NSE|RELIANCE|LTP", 1)
	b.Publish("NSE|SBIN|LTP", 2)

	select {
	case env := <-sub.Receive():
		if env.Payload != 1 {
			t.Fatalf("expected payload 1, got %v", env.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}

	select {
	case env := <-sub.Receive():
		t.Fatalf("unexpected second envelope: %v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeEmptyFilterMatchesAll(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("")
	b.Publish("NSE|RELIANCE|LTP", 1)
	b.Publish("MCX|GOLD24DECFUT|QUOTE", 2)

	for i := 0; i < 2; i++ {
		select {
		case <-sub.Receive():
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for envelope")
		}
	}
}

func TestPublishDoesNotBlockOnFullQueue(t *testing.T) {
	b := New(1)
	sub := b.Subscribe("")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("NSE|RELIANCE|LTP", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}

	if sub.Dropped() == 0 {
		t.Fatal("expected some drops once the queue saturated")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("")
	b.Unsubscribe(sub)

	_, ok := <-sub.Receive()
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("")
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
}

func TestSubscriberCount(t *testing.T) {
	b := New(4)
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount())
	}
	s1 := b.Subscribe("")
	b.Subscribe("NSE|")
	if b.SubscriberCount() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.SubscriberCount())
	}
	b.Unsubscribe(s1)
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.SubscriberCount())
	}
}
