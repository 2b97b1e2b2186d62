package events

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type change struct {
	Kind string `json:"kind"`
	ID   int    `json:"id"`
}

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster[change]("test")

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(ch1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.Count())
	}

	b.Unsubscribe(ch2)
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Count())
	}

	// Double unsubscribe must not panic on a closed channel.
	b.Unsubscribe(ch2)
}

func TestBroadcasterPublish(t *testing.T) {
	b := NewBroadcaster[change]("test")
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(change{Kind: "signed_in", ID: 7})

	select {
	case received := <-ch:
		if received.Kind != "signed_in" || received.ID != 7 {
			t.Errorf("unexpected value %+v", received)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
}

func TestBroadcasterMultipleSubscribers(t *testing.T) {
	b := NewBroadcaster[change]("test")
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	defer b.Unsubscribe(ch1)
	defer b.Unsubscribe(ch2)

	b.Publish(change{Kind: "user_updated"})

	for i, ch := range []chan change{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Kind != "user_updated" {
				t.Errorf("subscriber %d: expected user_updated, got %s", i, received.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestBroadcasterDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster[change]("test")
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill the buffer (64) and then some; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(change{ID: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow consumer")
	}

	if len(ch) != 64 {
		t.Errorf("expected full buffer of 64, got %d", len(ch))
	}
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster[change]("test")
	ch := b.Subscribe()
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after Close")
	}

	late := b.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("expected closed channel for subscriber after Close")
	}
	b.Unsubscribe(late)
}

func TestMarshal(t *testing.T) {
	data, err := Marshal(change{Kind: "x", ID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"kind":"x","id":1}` {
		t.Errorf("unexpected encoding %s", data)
	}
}

func subscriberGauge(t *testing.T, topic string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != "casefiles_sse_subscribers" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "topic" && lp.GetValue() == topic {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func TestSubscriberGaugeSharedTopic(t *testing.T) {
	const topic = "shared-batches"
	a := NewBroadcaster[change](topic)
	b := NewBroadcaster[change](topic)

	a.Subscribe()
	a.Subscribe()
	chB := b.Subscribe()
	if got := subscriberGauge(t, topic); got != 3 {
		t.Fatalf("expected 3 subscribers across both broadcasters, got %v", got)
	}

	// Closing one broadcaster leaves the other's subscriber counted.
	a.Close()
	if got := subscriberGauge(t, topic); got != 1 {
		t.Fatalf("expected 1 subscriber after closing a, got %v", got)
	}

	b.Unsubscribe(chB)
	b.Unsubscribe(chB)
	if got := subscriberGauge(t, topic); got != 0 {
		t.Fatalf("expected 0 subscribers, got %v", got)
	}

	// Subscribing to a closed broadcaster does not count.
	a.Subscribe()
	if got := subscriberGauge(t, topic); got != 0 {
		t.Fatalf("expected closed broadcaster to stay uncounted, got %v", got)
	}
}
