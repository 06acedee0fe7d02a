// Package projection materializes read models from the event log. A
// projection names one read model and maps event types to handlers;
// the Manager drives poll-based catch-up with a per-projection
// checkpoint. Delivery is at least once: a crash mid-batch redelivers
// the whole batch, so handlers must be idempotent upserts keyed by
// aggregate ID and version.
package projection

import (
	"context"
	"fmt"

	"github.com/evercart/tandem/eventlog"
)

// Handler applies one event to the read model. It must be idempotent:
// the same event may be delivered more than once.
type Handler func(ctx context.Context, evt *eventlog.Event) error

// Projection is one named read model: a set of event handlers, at most
// one per event type. Events with no handler are skipped silently.
type Projection struct {
	name     string
	handlers map[string]Handler
}

// New creates an empty projection.
func New(name string) *Projection {
	return &Projection{
		name:     name,
		handlers: make(map[string]Handler),
	}
}

// Name returns the projection name, which keys its checkpoint.
func (p *Projection) Name() string { return p.name }

// On registers the handler for an event type. A second handler for the
// same type is a configuration error.
func (p *Projection) On(eventType string, h Handler) error {
	if _, exists := p.handlers[eventType]; exists {
		return fmt.Errorf("projection %s: handler for %q already registered", p.name, eventType)
	}
	p.handlers[eventType] = h
	return nil
}

// MustOn is On for static wiring at startup; it panics on a duplicate.
func (p *Projection) MustOn(eventType string, h Handler) *Projection {
	if err := p.On(eventType, h); err != nil {
		panic(err)
	}
	return p
}

// handlerFor returns the handler for the event type, if any.
func (p *Projection) handlerFor(eventType string) (Handler, bool) {
	h, ok := p.handlers[eventType]
	return h, ok
}
