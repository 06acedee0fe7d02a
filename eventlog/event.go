// Package eventlog defines the append-only, versioned domain event log
// that is Tandem's source of truth, and the store interface backends
// implement for it.
//
// Every committed event carries two orderings: a per-aggregate Version
// (optimistic concurrency) and a GlobalSeq assigned by a single gap-free
// counter at commit time (total order across all aggregates, used by
// catch-up consumers such as projections).
package eventlog

import (
	"encoding/json"
	"time"

	"github.com/evercart/tandem/id"
)

// Event is an immutable domain event committed to the log.
// Events are never mutated or deleted once committed.
type Event struct {
	ID            id.EventID        `json:"id"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	Type          string            `json:"type"`
	Version       int64             `json:"version"`
	GlobalSeq     int64             `json:"global_seq"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// Metadata keys used for saga correlation. Events produced on behalf of
// a saga carry these so the coordinator can route them back to the
// owning instance and the pending request.
const (
	MetaSagaID    = "saga_id"
	MetaRequestID = "request_id"
	MetaStep      = "step"
)

// SagaID returns the correlated saga instance ID from the event
// metadata, or the Nil ID if the event is not saga-correlated.
func (e *Event) SagaID() id.SagaID {
	s, ok := e.Metadata[MetaSagaID]
	if !ok {
		return id.Nil
	}
	parsed, err := id.ParseSagaID(s)
	if err != nil {
		return id.Nil
	}
	return parsed
}

// RequestID returns the correlated command request ID from the event
// metadata, or the Nil ID if absent.
func (e *Event) RequestID() id.RequestID {
	s, ok := e.Metadata[MetaRequestID]
	if !ok {
		return id.Nil
	}
	parsed, err := id.ParseRequestID(s)
	if err != nil {
		return id.Nil
	}
	return parsed
}

// Step returns the saga step the event acknowledges, or "" if the
// event did not originate from a step command.
func (e *Event) Step() string {
	return e.Metadata[MetaStep]
}

// NewEvent builds an uncommitted event. Version and GlobalSeq are
// assigned by the store at append time.
func NewEvent(aggregateID, aggregateType, eventType string, payload json.RawMessage, metadata map[string]string) *Event {
	return &Event{
		ID:            id.NewEventID(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Type:          eventType,
		Payload:       payload,
		Metadata:      metadata,
		OccurredAt:    time.Now().UTC(),
	}
}
