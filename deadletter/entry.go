// Package deadletter parks events a projection handler could not
// apply, preserving them for operator inspection and replay. The log
// itself never loses anything; an entry here marks derived state that
// lags until the event is replayed successfully.
package deadletter

import (
	"time"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/id"
)

// Entry is one poisoned event parked for a projection.
type Entry struct {
	tandem.Entity

	ID         id.DeadLetterID `json:"id"`
	Projection string          `json:"projection"`

	// Event is the full original event, kept verbatim for replay.
	Event *eventlog.Event `json:"event"`

	EventID   id.EventID `json:"event_id"`
	EventType string     `json:"event_type"`
	GlobalSeq int64      `json:"global_sequence"`

	// Error is the handler error that caused the dead-lettering.
	Error string `json:"error"`

	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
}

// Replayed reports whether the entry has been successfully re-applied.
func (e *Entry) Replayed() bool { return e.ReplayedAt != nil }
