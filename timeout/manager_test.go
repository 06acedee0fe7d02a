package timeout_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/id"
	"github.com/evercart/tandem/timeout"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collector gathers fired timeout events.
type collector struct {
	mu     sync.Mutex
	events []*eventlog.Event
}

func (c *collector) fire(evt *eventlog.Event) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
}

func (c *collector) snapshot() []*eventlog.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*eventlog.Event(nil), c.events...)
}

func (c *collector) waitFor(t *testing.T, n int, d time.Duration) []*eventlog.Event {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := c.snapshot()
	t.Fatalf("timed out waiting for %d fired events, have %d", n, len(got))
	return got
}

func TestScheduleFires(t *testing.T) {
	c := &collector{}
	m := timeout.NewManager(c.fire, testLogger())
	defer m.Stop()

	sagaID := id.NewSagaID()
	m.Schedule(sagaID, "reserve_inventory", time.Now().Add(20*time.Millisecond))

	events := c.waitFor(t, 1, time.Second)
	evt := events[0]

	if evt.Type != timeout.EventTypeStepTimeout {
		t.Errorf("event type = %q, want %q", evt.Type, timeout.EventTypeStepTimeout)
	}
	if evt.SagaID() != sagaID {
		t.Errorf("saga correlation = %q, want %q", evt.SagaID(), sagaID)
	}

	var p timeout.StepTimeout
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Step != "reserve_inventory" {
		t.Errorf("step = %q, want %q", p.Step, "reserve_inventory")
	}
}

func TestCancelDisarms(t *testing.T) {
	c := &collector{}
	m := timeout.NewManager(c.fire, testLogger())
	defer m.Stop()

	sagaID := id.NewSagaID()
	m.Schedule(sagaID, "process_payment", time.Now().Add(30*time.Millisecond))
	m.Cancel(sagaID, "process_payment")

	time.Sleep(80 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Errorf("fired %d events after cancel, want 0", len(got))
	}
}

func TestRescheduleReplaces(t *testing.T) {
	c := &collector{}
	m := timeout.NewManager(c.fire, testLogger())
	defer m.Stop()

	sagaID := id.NewSagaID()
	m.Schedule(sagaID, "step", time.Now().Add(10*time.Millisecond))
	m.Schedule(sagaID, "step", time.Now().Add(60*time.Millisecond))

	// The first deadline was replaced, so nothing fires early.
	time.Sleep(35 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Fatalf("fired %d events before the replaced deadline, want 0", len(got))
	}

	c.waitFor(t, 1, time.Second)
}

func TestIndependentSteps(t *testing.T) {
	c := &collector{}
	m := timeout.NewManager(c.fire, testLogger())
	defer m.Stop()

	sagaID := id.NewSagaID()
	m.Schedule(sagaID, "a", time.Now().Add(10*time.Millisecond))
	m.Schedule(sagaID, "b", time.Now().Add(10*time.Millisecond))
	m.Cancel(sagaID, "a")

	events := c.waitFor(t, 1, time.Second)
	time.Sleep(30 * time.Millisecond)

	events = c.snapshot()
	if len(events) != 1 {
		t.Fatalf("fired %d events, want 1 (step b only)", len(events))
	}
	var p timeout.StepTimeout
	if err := json.Unmarshal(events[0].Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Step != "b" {
		t.Errorf("fired step = %q, want %q", p.Step, "b")
	}
}

func TestStopDisarmsAll(t *testing.T) {
	c := &collector{}
	m := timeout.NewManager(c.fire, testLogger())

	sagaID := id.NewSagaID()
	m.Schedule(sagaID, "a", time.Now().Add(20*time.Millisecond))
	m.Schedule(sagaID, "b", time.Now().Add(20*time.Millisecond))
	m.Stop()

	time.Sleep(60 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Errorf("fired %d events after Stop, want 0", len(got))
	}

	// Scheduling after Stop is a no-op.
	m.Schedule(sagaID, "c", time.Now().Add(10*time.Millisecond))
	time.Sleep(40 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Errorf("fired %d events scheduled after Stop, want 0", len(got))
	}
}
