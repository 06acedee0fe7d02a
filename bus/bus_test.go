package bus

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evercart/tandem/eventlog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func evt(eventType string) *eventlog.Event {
	return eventlog.NewEvent("ord-1", "order", eventType, json.RawMessage(`{}`), nil)
}

func recv(t *testing.T, sub *Subscriber) *eventlog.Event {
	t.Helper()
	select {
	case e := <-sub.C():
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestPublish_RoutesByType(t *testing.T) {
	b := New(testLogger())
	placed := b.Subscribe("placed", "order_placed")
	reserved := b.Subscribe("reserved", "inventory_reserved")

	if n := b.Publish(evt("order_placed")); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}

	got := recv(t, placed)
	if got.Type != "order_placed" {
		t.Fatalf("type = %q", got.Type)
	}

	select {
	case e := <-reserved.C():
		t.Fatalf("unexpected delivery to reserved topic: %s", e.Type)
	default:
	}
}

func TestPublish_WildcardReceivesEverything(t *testing.T) {
	b := New(testLogger())
	all := b.Subscribe("firehose", TopicAll)

	b.Publish(evt("order_placed"))
	b.Publish(evt("inventory_reserved"))

	if got := recv(t, all); got.Type != "order_placed" {
		t.Fatalf("first type = %q", got.Type)
	}
	if got := recv(t, all); got.Type != "inventory_reserved" {
		t.Fatalf("second type = %q", got.Type)
	}
}

func TestPublish_DedupesAcrossTypeAndWildcard(t *testing.T) {
	b := New(testLogger())
	sub := b.Subscribe("both", "order_placed", TopicAll)

	if n := b.Publish(evt("order_placed")); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	recv(t, sub)
	select {
	case <-sub.C():
		t.Fatal("event delivered twice to one subscriber")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublish_FullBufferDrops(t *testing.T) {
	b := New(testLogger(), WithBufferSize(1))
	sub := b.Subscribe("slow", "order_placed")

	b.Publish(evt("order_placed"))
	if n := b.Publish(evt("order_placed")); n != 0 {
		t.Fatalf("delivered = %d, want 0", n)
	}
	if sub.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", sub.Dropped())
	}
	if b.Stats().TotalDropped != 1 {
		t.Fatalf("bus dropped = %d, want 1", b.Stats().TotalDropped)
	}
}

func TestSubscriber_Filter(t *testing.T) {
	b := New(testLogger())
	sub := b.Subscribe("filtered", TopicAll)
	sub.SetFilter(func(e *eventlog.Event) bool { return e.Type == "order_confirmed" })

	if n := b.Publish(evt("order_placed")); n != 0 {
		t.Fatalf("delivered = %d, want 0", n)
	}
	if n := b.Publish(evt("order_confirmed")); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if got := recv(t, sub); got.Type != "order_confirmed" {
		t.Fatalf("type = %q", got.Type)
	}
}

func TestUnsubscribe_ClosesAndStopsDelivery(t *testing.T) {
	b := New(testLogger())
	sub := b.Subscribe("gone", "order_placed")
	b.Unsubscribe("gone")

	if _, ok := <-sub.C(); ok {
		t.Fatal("channel not closed")
	}
	if n := b.Publish(evt("order_placed")); n != 0 {
		t.Fatalf("delivered = %d, want 0", n)
	}
}

func TestClose_ClosesAllSubscribers(t *testing.T) {
	b := New(testLogger())
	a := b.Subscribe("a", "order_placed")
	c := b.Subscribe("c", TopicAll)

	b.Close()

	if _, ok := <-a.C(); ok {
		t.Fatal("subscriber a not closed")
	}
	if _, ok := <-c.C(); ok {
		t.Fatal("subscriber c not closed")
	}
}

func TestPublish_ConcurrentPublishers(t *testing.T) {
	b := New(testLogger(), WithBufferSize(1024))
	sub := b.Subscribe("firehose", TopicAll)

	const publishers, perPublisher = 8, 50

	var wg sync.WaitGroup
	for range publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perPublisher {
				b.Publish(evt("order_placed"))
			}
		}()
	}
	wg.Wait()

	for range publishers * perPublisher {
		recv(t, sub)
	}
	if sub.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", sub.Dropped())
	}
}
