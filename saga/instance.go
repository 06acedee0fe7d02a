package saga

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/id"
)

// State is the lifecycle state of a saga instance.
type State string

const (
	// StateStarted is the only initial state: the saga is executing
	// forward steps.
	StateStarted State = "started"

	// StateCompensating means a step failed and compensation commands
	// for the completed steps are in flight.
	StateCompensating State = "compensating"

	// StateCompleted is terminal: every step finished.
	StateCompleted State = "completed"

	// StateFailed is terminal: a step failed and compensation is
	// exhausted.
	StateFailed State = "failed"
)

// Terminal reports whether no further events can change the instance.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Instance is the durable state of one saga run. It is mutated
// exclusively by the Coordinator under the per-instance lock; everyone
// else sees snapshots.
type Instance struct {
	tandem.Entity

	ID        id.SagaID `json:"id"`
	SagaType  string    `json:"saga_type"`
	State     State     `json:"state"`

	// Data is the saga's opaque business state, merged from Outcome.Data
	// as steps progress.
	Data map[string]any `json:"data,omitempty"`

	// Metadata is caller-supplied correlation context, carried but not
	// interpreted.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CompletedSteps records finished steps in completion order.
	// Compensation walks it backwards.
	CompletedSteps []string `json:"completed_steps,omitempty"`

	CurrentStep   string `json:"current_step,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	// ProcessedEventIDs makes event processing idempotent under
	// at-least-once delivery.
	ProcessedEventIDs map[string]bool `json:"processed_event_ids,omitempty"`

	// PendingCompensations tracks compensation steps dispatched but not
	// yet acknowledged. The instance turns failed when it drains.
	PendingCompensations map[string]bool `json:"pending_compensations,omitempty"`

	// TimeoutAt is the deadline armed for CurrentStep, zero when none.
	TimeoutAt time.Time `json:"timeout_at,omitzero"`
}

// NewInstance creates a started instance with a fresh saga ID.
func NewInstance(sagaType string, data map[string]any) *Instance {
	return &Instance{
		Entity:            tandem.NewEntity(),
		ID:                id.NewSagaID(),
		SagaType:          sagaType,
		State:             StateStarted,
		Data:              data,
		ProcessedEventIDs: make(map[string]bool),
	}
}

// Processed reports whether the event was already applied.
func (i *Instance) Processed(eventID id.EventID) bool {
	return i.ProcessedEventIDs[eventID.String()]
}

// MarkProcessed records the event so a redelivery becomes a no-op.
func (i *Instance) MarkProcessed(eventID id.EventID) {
	if i.ProcessedEventIDs == nil {
		i.ProcessedEventIDs = make(map[string]bool)
	}
	i.ProcessedEventIDs[eventID.String()] = true
}

// MergeData overlays updates onto the instance data.
func (i *Instance) MergeData(updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	if i.Data == nil {
		i.Data = make(map[string]any, len(updates))
	}
	maps.Copy(i.Data, updates)
}

// CompleteStep appends the step to the completion history.
func (i *Instance) CompleteStep(step string) {
	i.CompletedSteps = append(i.CompletedSteps, step)
}

// Snapshot returns a copy safe to hand outside the coordinator's lock.
func (i *Instance) Snapshot() *Instance {
	out := *i
	out.Data = maps.Clone(i.Data)
	out.Metadata = maps.Clone(i.Metadata)
	out.CompletedSteps = slices.Clone(i.CompletedSteps)
	out.ProcessedEventIDs = maps.Clone(i.ProcessedEventIDs)
	out.PendingCompensations = maps.Clone(i.PendingCompensations)
	return &out
}

// Store persists saga instances. Implementations must make Save
// atomic per instance; the coordinator's lock already serializes
// writers, so no version check is needed here.
type Store interface {
	// SaveSaga inserts or replaces the instance.
	SaveSaga(ctx context.Context, inst *Instance) error

	// GetSaga loads an instance. Returns tandem.ErrSagaNotFound when
	// no instance has that ID.
	GetSaga(ctx context.Context, sagaID id.SagaID) (*Instance, error)

	// ListActiveSagas returns instances not yet in a terminal state,
	// used for timeout re-arming after a restart.
	ListActiveSagas(ctx context.Context) ([]*Instance, error)
}
