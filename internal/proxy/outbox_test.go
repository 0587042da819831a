package proxy

import "testing"

func TestOutboxCoalescesSameKeyWhenFull(t *testing.T) {
	o := newOutbox(2)
	k := outboxKey{symbol: "RELIANCE", mode: 1}
	o.push(k, []byte("v1"), false)
	o.push(outboxKey{symbol: "SBIN", mode: 1}, []byte("other"), false)
	o.push(k, []byte("v2"), false)

	first, ok := o.pop()
	if !ok {
		t.Fatal("expected a queued frame")
	}
	if string(first) != "v2" {
		t.Fatalf("expected coalesced value v2 in the original slot, got %s", first)
	}

	second, ok := o.pop()
	if !ok {
		t.Fatal("expected second queued frame")
	}
	if string(second) != "other" {
		t.Fatalf("expected coalescing to keep queue order for the untouched key, got %s", second)
	}

	if _, ok := o.pop(); ok {
		t.Fatal("expected queue to be empty")
	}
}

func TestOutboxDropsDepthWhenFullInsteadOfCoalescing(t *testing.T) {
	o := newOutbox(1)
	k := outboxKey{symbol: "RELIANCE", mode: 4}
	o.push(k, []byte("v1"), true)
	o.push(k, []byte("v2"), true)

	got, ok := o.pop()
	if !ok {
		t.Fatal("expected one queued frame")
	}
	if string(got) != "v1" {
		t.Fatalf("expected first depth frame to survive (second dropped), got %s", got)
	}
	if o.Dropped() != 1 {
		t.Fatalf("expected 1 dropped frame, got %d", o.Dropped())
	}
}

func TestOutboxDropsOldestNonDepthWhenFull(t *testing.T) {
	o := newOutbox(1)
	o.push(outboxKey{symbol: "A", mode: 1}, []byte("a"), false)
	o.push(outboxKey{symbol: "B", mode: 1}, []byte("b"), false)

	got, ok := o.pop()
	if !ok {
		t.Fatal("expected one queued frame")
	}
	if string(got) != "b" {
		t.Fatalf("expected oldest (a) dropped and b retained, got %s", got)
	}
}
