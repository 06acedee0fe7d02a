package bus

import (
	"sync/atomic"

	"github.com/evercart/tandem/eventlog"
)

// Subscriber receives events from topics it is subscribed to over a
// buffered channel. Sends are non-blocking; when the buffer is full
// the event is dropped, which is the bus's documented at-most-once
// contract.
type Subscriber struct {
	id string
	ch chan *eventlog.Event

	// filter is an optional predicate. If set, only events matching
	// the filter are delivered.
	filter func(*eventlog.Event) bool

	// closed prevents double-close of the channel.
	closed atomic.Bool

	dropped atomic.Int64
}

func newSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{
		id: id,
		ch: make(chan *eventlog.Event, bufferSize),
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel.
func (s *Subscriber) C() <-chan *eventlog.Event { return s.ch }

// Dropped returns how many events were dropped for this subscriber.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter sets an optional event filter predicate. Must be called
// before the subscriber starts receiving.
func (s *Subscriber) SetFilter(fn func(*eventlog.Event) bool) {
	s.filter = fn
}

// send attempts to deliver an event to the subscriber.
// Returns false if the event was dropped (closed, filter mismatch, or
// full buffer).
func (s *Subscriber) send(evt *eventlog.Event) bool {
	if s.closed.Load() {
		return false
	}
	if s.filter != nil && !s.filter(evt) {
		return false
	}

	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
