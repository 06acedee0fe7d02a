// Package saga implements the orchestration core: typed saga
// definitions, durable instance state, and the coordinator that routes
// events to instances, drives steps forward, and applies compensation
// in reverse order when a step fails.
package saga

import (
	"context"
	"fmt"

	"github.com/evercart/tandem/command"
	"github.com/evercart/tandem/eventlog"
)

// Definition describes the behavior of one saga type. Implementations
// are stateless; all per-run state lives on the Instance.
type Definition interface {
	// SagaType names the saga, e.g. "order_saga". Must be unique
	// within a registry.
	SagaType() string

	// TriggerEvents lists the event types whose arrival creates a new
	// instance when no existing instance is correlated.
	TriggerEvents() []string

	// StartCommands returns the first step and its commands for a
	// freshly created instance.
	StartCommands(inst *Instance) (step string, cmds []command.Command, err error)

	// HandleEvent applies one correlated event to the instance and
	// decides what happens next. Returning an error signals a step
	// failure and starts compensation; it never crashes the
	// coordinator.
	HandleEvent(ctx context.Context, inst *Instance, evt *eventlog.Event) (*Outcome, error)

	// CompensationCommand returns the command that undoes a completed
	// step. ok is false when the step needs no compensation.
	CompensationCommand(inst *Instance, step string) (cmd command.Command, ok bool)

	// Completed reports whether the instance has finished its final
	// step and should transition to the completed state.
	Completed(inst *Instance) bool
}

// Outcome is the result of handling one event: which step the event
// acknowledged, which commands to dispatch next, and any data to merge
// into the instance.
type Outcome struct {
	// CompletedStep is the step this event acknowledges, if any.
	CompletedStep string

	// NextStep is the step the Commands below belong to. Empty when
	// the saga has no further step.
	NextStep string

	// Commands are dispatched to the executor after the instance is
	// persisted.
	Commands []command.Command

	// Data is merged into the instance's data map.
	Data map[string]any
}

// StepFailure is a business-level failure reported by a definition. The
// coordinator records Reason verbatim as the instance's failure reason;
// any other error is recorded via its Error() string.
type StepFailure struct {
	Step   string
	Reason string
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("saga: step %s failed: %s", e.Step, e.Reason)
}

// Fail is shorthand for returning a StepFailure from HandleEvent.
func Fail(step, reason string) error {
	return &StepFailure{Step: step, Reason: reason}
}
