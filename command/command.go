// Package command defines saga commands, the envelope that carries them
// to remote handlers, and the executor that dispatches them and
// correlates asynchronous responses back to the originating saga step.
package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/evercart/tandem/id"
)

// Command is an instruction a saga issues to a remote handler, such as
// ReserveInventory or ProcessPayment.
type Command struct {
	// Name routes the command to its registered handler.
	Name string `json:"name" msgpack:"name"`

	// AggregateID is the aggregate the command acts on (e.g. an order).
	AggregateID string `json:"aggregate_id" msgpack:"aggregate_id"`

	// AggregateType is the kind of aggregate the command acts on.
	AggregateType string `json:"aggregate_type" msgpack:"aggregate_type"`

	// Step is the saga step this command belongs to.
	Step string `json:"step" msgpack:"step"`

	// Compensating marks commands issued to undo a completed step.
	Compensating bool `json:"compensating,omitempty" msgpack:"compensating"`

	// Payload is the command's business data.
	Payload json.RawMessage `json:"payload,omitempty" msgpack:"payload"`
}

// Envelope wraps a command for transport. The RequestID correlates the
// asynchronous response event back to the pending request; responses do
// not return synchronously.
type Envelope struct {
	RequestID  id.RequestID `json:"request_id" msgpack:"request_id"`
	SagaID     id.SagaID    `json:"saga_id" msgpack:"saga_id"`
	Command    Command      `json:"command" msgpack:"command"`
	ReplyTopic string       `json:"reply_topic" msgpack:"reply_topic"`
	IssuedAt   time.Time    `json:"issued_at" msgpack:"issued_at"`
}

// Encode serializes the envelope with msgpack for the transport
// handoff to a command handler.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("command: encode envelope %s: %w", e.RequestID, err)
	}
	return data, nil
}

// DecodeEnvelope deserializes a msgpack-encoded envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("command: decode envelope: %w", err)
	}
	return &e, nil
}

// Result is what a handler produces on success: the domain event that
// re-enters the system through the normal event path.
type Result struct {
	// EventType is the domain event type, e.g. "inventory_reserved".
	EventType string `json:"event_type" msgpack:"event_type"`

	// Payload is the event's business data.
	Payload json.RawMessage `json:"payload,omitempty" msgpack:"payload"`
}
