// Package bus provides the in-process event bus used as a low-latency
// notification channel between Tandem components. Delivery is
// at-most-once and fire-and-forget to currently subscribed consumers;
// the bus carries no durability guarantee. Consumers that need
// guaranteed delivery or replay combine bus wakeups with catch-up reads
// from the event log.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/evercart/tandem/eventlog"
)

// TopicAll receives every published event regardless of type.
const TopicAll = "all"

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Bus fans out published domain events to subscribers by event type.
// Each event type is its own topic; TopicAll is the wildcard topic.
// It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
	logger *slog.Logger

	bufferSize int

	totalPublished atomic.Int64
	totalDropped   atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) Option {
	return func(b *Bus) { b.bufferSize = size }
}

// New creates an event bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		topics:     make(map[string]map[string]*Subscriber),
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe creates a subscriber on the given topics. Topic names are
// event types, or TopicAll for the wildcard topic.
func (b *Bus) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := newSubscriber(subscriberID, b.bufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		subs, ok := b.topics[topic]
		if !ok {
			subs = make(map[string]*Subscriber)
			b.topics[topic] = subs
		}
		subs[subscriberID] = sub
	}
	return sub
}

// Unsubscribe removes a subscriber from all topics and closes it.
func (b *Bus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	var closed *Subscriber
	for topic, subs := range b.topics {
		if sub, ok := subs[subscriberID]; ok {
			closed = sub
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
	b.mu.Unlock()

	if closed != nil {
		closed.Close()
	}
}

// Publish delivers the event to subscribers of its type topic and of
// TopicAll. Delivery is non-blocking: a subscriber with a full buffer
// drops the event. Returns the number of subscribers that received it.
func (b *Bus) Publish(evt *eventlog.Event) int {
	b.mu.RLock()
	// Copy targets to avoid holding the lock during send. Dedupe
	// subscribers on both the type topic and the wildcard.
	seen := make(map[string]*Subscriber)
	for id, sub := range b.topics[evt.Type] {
		seen[id] = sub
	}
	for id, sub := range b.topics[TopicAll] {
		seen[id] = sub
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		} else {
			b.totalDropped.Add(1)
		}
	}
	b.totalPublished.Add(int64(delivered))
	return delivered
}

// Stats returns bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	topics := len(b.topics)
	b.mu.RUnlock()
	return Stats{
		TopicCount:     topics,
		TotalPublished: b.totalPublished.Load(),
		TotalDropped:   b.totalDropped.Load(),
	}
}

// Stats contains bus metrics.
type Stats struct {
	TopicCount     int   `json:"topic_count"`
	TotalPublished int64 `json:"total_published"`
	TotalDropped   int64 `json:"total_dropped"`
}

// Close closes every subscriber and clears all topics.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	closed := make(map[string]*Subscriber)
	for _, subs := range b.topics {
		for id, sub := range subs {
			closed[id] = sub
		}
	}
	for _, sub := range closed {
		sub.Close()
	}
	b.topics = make(map[string]map[string]*Subscriber)
}
