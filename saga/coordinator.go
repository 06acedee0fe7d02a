package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/command"
	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/id"
	"github.com/evercart/tandem/lock"
	"github.com/evercart/tandem/timeout"
)

// CommandExecutor dispatches a saga's commands. Satisfied by
// *command.Executor.
type CommandExecutor interface {
	Execute(ctx context.Context, sagaID id.SagaID, cmds []command.Command) error
}

// TimeoutScheduler arms and disarms step deadlines. Satisfied by
// *timeout.Manager.
type TimeoutScheduler interface {
	Schedule(sagaID id.SagaID, step string, deadline time.Time)
	Cancel(sagaID id.SagaID, step string)
}

// Emitter emits saga lifecycle events. The hook registry satisfies
// this directly; the engine plugs it in.
type Emitter interface {
	EmitSagaStarted(ctx context.Context, inst *Instance)
	EmitStepCompleted(ctx context.Context, inst *Instance, step string)
	EmitSagaCompensating(ctx context.Context, inst *Instance, reason string)
	EmitSagaCompleted(ctx context.Context, inst *Instance)
	EmitSagaFailed(ctx context.Context, inst *Instance)
}

// NopEmitter is an Emitter that discards all events.
type NopEmitter struct{}

func (NopEmitter) EmitSagaStarted(context.Context, *Instance)              {}
func (NopEmitter) EmitStepCompleted(context.Context, *Instance, string)    {}
func (NopEmitter) EmitSagaCompensating(context.Context, *Instance, string) {}
func (NopEmitter) EmitSagaCompleted(context.Context, *Instance)            {}
func (NopEmitter) EmitSagaFailed(context.Context, *Instance)               {}

// Coordinator is the saga state machine. It creates instances, routes
// events to them under the per-instance lock, advances steps, and
// drives compensation in reverse completion order when a step fails.
// It processes many sagas concurrently but is single-threaded per
// instance.
type Coordinator struct {
	registry *Registry
	store    Store
	locks    lock.Locker
	timeouts TimeoutScheduler
	exec     CommandExecutor
	emitter  Emitter
	logger   *slog.Logger

	stepTimeout time.Duration
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithStepTimeout sets the deadline armed for each forward step.
func WithStepTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.stepTimeout = d }
}

// WithEmitter sets the lifecycle emitter.
func WithEmitter(em Emitter) CoordinatorOption {
	return func(c *Coordinator) { c.emitter = em }
}

// NewCoordinator wires the state machine to its collaborators.
func NewCoordinator(registry *Registry, store Store, locks lock.Locker, timeouts TimeoutScheduler, exec CommandExecutor, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		registry:    registry,
		store:       store,
		locks:       locks,
		timeouts:    timeouts,
		exec:        exec,
		emitter:     NopEmitter{},
		logger:      logger,
		stepTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartSaga creates a new instance of the saga type, dispatches its
// first step's commands, and arms the step deadline. The instance is
// persisted before any command leaves the coordinator.
func (c *Coordinator) StartSaga(ctx context.Context, sagaType string, data map[string]any, metadata map[string]string) (id.SagaID, error) {
	def, err := c.registry.Definition(sagaType)
	if err != nil {
		return id.Nil, err
	}

	inst := NewInstance(sagaType, data)
	inst.Metadata = metadata

	step, cmds, err := def.StartCommands(inst)
	if err != nil {
		return id.Nil, fmt.Errorf("saga: start %s: %w", sagaType, err)
	}
	inst.CurrentStep = step
	inst.TimeoutAt = time.Now().UTC().Add(c.stepTimeout)

	if err := c.store.SaveSaga(ctx, inst); err != nil {
		return id.Nil, fmt.Errorf("saga: persist new %s instance: %w", sagaType, err)
	}
	c.timeouts.Schedule(inst.ID, step, inst.TimeoutAt)
	c.emitter.EmitSagaStarted(ctx, inst)

	c.logger.Info("saga started",
		slog.String("saga_id", inst.ID.String()),
		slog.String("saga_type", sagaType),
		slog.String("step", step),
	)

	if err := c.exec.Execute(ctx, inst.ID, cmds); err != nil {
		// Routing error on the very first step: nothing completed, so
		// the instance fails without compensation.
		c.failWithoutCompensation(ctx, inst, err.Error())
		return inst.ID, err
	}
	return inst.ID, nil
}

// ProcessEvent routes one event to its saga instance. Events carrying
// no saga correlation create a new instance when their type is a
// registered trigger and are dropped otherwise. Delivery of the same
// event twice is a no-op. A lock.Locker timeout surfaces as a
// retryable tandem.ErrLockTimeout.
func (c *Coordinator) ProcessEvent(ctx context.Context, evt *eventlog.Event) error {
	sagaID := evt.SagaID()

	if sagaID.IsNil() {
		def, ok := c.registry.TriggerFor(evt.Type)
		if !ok {
			return nil
		}
		inst := NewInstance(def.SagaType(), nil)
		if err := c.locks.Acquire(ctx, inst.ID); err != nil {
			return err
		}
		defer c.locks.Release(inst.ID)
		return c.handleLocked(ctx, def, inst, evt)
	}

	if err := c.locks.Acquire(ctx, sagaID); err != nil {
		return err
	}
	defer c.locks.Release(sagaID)

	inst, err := c.store.GetSaga(ctx, sagaID)
	if err != nil {
		if errors.Is(err, tandem.ErrSagaNotFound) {
			// A stale correlation does not mask a trigger: the event
			// still starts a fresh instance when its type is registered
			// as one. The fresh instance ID is unheld, so the lock on
			// the stale ID suffices.
			if def, ok := c.registry.TriggerFor(evt.Type); ok {
				fresh := NewInstance(def.SagaType(), nil)
				return c.handleLocked(ctx, def, fresh, evt)
			}
			c.logger.Warn("dropping event for unknown saga",
				slog.String("saga_id", sagaID.String()),
				slog.String("event_type", evt.Type),
			)
			return nil
		}
		return err
	}

	def, err := c.registry.Definition(inst.SagaType)
	if err != nil {
		return err
	}
	return c.handleLocked(ctx, def, inst, evt)
}

// GetStatus returns a snapshot of the instance, including its state
// and failure reason during or after compensation.
func (c *Coordinator) GetStatus(ctx context.Context, sagaID id.SagaID) (*Instance, error) {
	inst, err := c.store.GetSaga(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	return inst.Snapshot(), nil
}

// RecoverTimeouts re-arms step deadlines for active instances after a
// restart. Deadlines already in the past fire immediately.
func (c *Coordinator) RecoverTimeouts(ctx context.Context) error {
	active, err := c.store.ListActiveSagas(ctx)
	if err != nil {
		return fmt.Errorf("saga: list active instances: %w", err)
	}
	for _, inst := range active {
		if inst.State == StateStarted && inst.CurrentStep != "" && !inst.TimeoutAt.IsZero() {
			c.timeouts.Schedule(inst.ID, inst.CurrentStep, inst.TimeoutAt)
		}
	}
	return nil
}

// handleLocked applies one event to the instance. Caller holds the
// instance lock.
func (c *Coordinator) handleLocked(ctx context.Context, def Definition, inst *Instance, evt *eventlog.Event) error {
	if inst.Processed(evt.ID) {
		c.logger.Debug("skipping already-processed event",
			slog.String("saga_id", inst.ID.String()),
			slog.String("event_id", evt.ID.String()),
		)
		return nil
	}
	if inst.State.Terminal() {
		c.logger.Debug("dropping event for terminal saga",
			slog.String("saga_id", inst.ID.String()),
			slog.String("state", string(inst.State)),
			slog.String("event_type", evt.Type),
		)
		return nil
	}

	switch {
	case evt.Type == timeout.EventTypeStepTimeout:
		return c.handleTimeout(ctx, def, inst, evt)

	case inst.State == StateCompensating:
		// Any correlated event while compensating, including a failed
		// compensation command, counts as an observed acknowledgement.
		return c.ackCompensation(ctx, inst, evt)

	case evt.Type == command.EventTypeCommandFailed:
		var failure command.Failure
		reason := "command dispatch failed"
		if err := json.Unmarshal(evt.Payload, &failure); err == nil && failure.Reason != "" {
			reason = failure.Reason
		}
		return c.startCompensation(ctx, def, inst, evt, reason)
	}

	outcome, err := c.invoke(ctx, def, inst, evt)
	if err != nil {
		reason := err.Error()
		var sf *StepFailure
		if errors.As(err, &sf) {
			reason = sf.Reason
		}
		return c.startCompensation(ctx, def, inst, evt, reason)
	}
	return c.applyOutcome(ctx, def, inst, evt, outcome)
}

// invoke calls the definition's handler, converting a panic into a
// step failure so a misbehaving definition cannot crash the
// coordinator.
func (c *Coordinator) invoke(ctx context.Context, def Definition, inst *Instance, evt *eventlog.Event) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("saga: handler panic: %v", r)
		}
	}()
	return def.HandleEvent(ctx, inst, evt)
}

// handleTimeout processes a synthetic step-timeout event. The timer
// races with a legitimately late completion, so the instance's current
// step and state are re-checked before acting.
func (c *Coordinator) handleTimeout(ctx context.Context, def Definition, inst *Instance, evt *eventlog.Event) error {
	var payload timeout.StepTimeout
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("saga: decode timeout payload: %w", err)
	}
	if inst.State != StateStarted || payload.Step != inst.CurrentStep {
		// The step already advanced; the timer fired stale.
		return nil
	}
	return c.startCompensation(ctx, def, inst, evt, fmt.Sprintf("step %s timed out", payload.Step))
}

// applyOutcome advances the saga after a successful handler call:
// records the completed step, merges data, persists, then arms the
// next deadline and dispatches the next commands.
func (c *Coordinator) applyOutcome(ctx context.Context, def Definition, inst *Instance, evt *eventlog.Event, outcome *Outcome) error {
	if outcome == nil {
		outcome = &Outcome{}
	}

	inst.MarkProcessed(evt.ID)
	inst.MergeData(outcome.Data)

	if outcome.CompletedStep != "" {
		inst.CompleteStep(outcome.CompletedStep)
		c.timeouts.Cancel(inst.ID, outcome.CompletedStep)
		if outcome.CompletedStep == inst.CurrentStep {
			inst.TimeoutAt = time.Time{}
		}
	}

	if len(outcome.Commands) == 0 && def.Completed(inst) {
		inst.State = StateCompleted
		inst.CurrentStep = ""
		inst.TimeoutAt = time.Time{}
		inst.UpdatedAt = time.Now().UTC()
		if err := c.store.SaveSaga(ctx, inst); err != nil {
			return fmt.Errorf("saga: persist completed %s: %w", inst.ID, err)
		}
		if outcome.CompletedStep != "" {
			c.emitter.EmitStepCompleted(ctx, inst, outcome.CompletedStep)
		}
		c.emitter.EmitSagaCompleted(ctx, inst)
		c.logger.Info("saga completed", slog.String("saga_id", inst.ID.String()))
		return nil
	}

	if outcome.NextStep != "" {
		inst.CurrentStep = outcome.NextStep
		inst.TimeoutAt = time.Now().UTC().Add(c.stepTimeout)
	}
	inst.UpdatedAt = time.Now().UTC()
	if err := c.store.SaveSaga(ctx, inst); err != nil {
		return fmt.Errorf("saga: persist %s: %w", inst.ID, err)
	}
	if outcome.CompletedStep != "" {
		c.emitter.EmitStepCompleted(ctx, inst, outcome.CompletedStep)
	}
	if outcome.NextStep != "" {
		c.timeouts.Schedule(inst.ID, outcome.NextStep, inst.TimeoutAt)
	}

	if len(outcome.Commands) > 0 {
		if err := c.exec.Execute(ctx, inst.ID, outcome.Commands); err != nil {
			return c.startCompensation(ctx, def, inst, evt, err.Error())
		}
	}
	return nil
}

// startCompensation transitions the instance to compensating, records
// the failure reason, and dispatches the compensation command of every
// completed step in strict reverse completion order. With no completed
// steps the instance fails immediately.
func (c *Coordinator) startCompensation(ctx context.Context, def Definition, inst *Instance, evt *eventlog.Event, reason string) error {
	inst.MarkProcessed(evt.ID)
	if inst.CurrentStep != "" {
		c.timeouts.Cancel(inst.ID, inst.CurrentStep)
	}
	inst.TimeoutAt = time.Time{}
	inst.FailureReason = reason

	var comps []command.Command
	pending := make(map[string]bool)
	for i := len(inst.CompletedSteps) - 1; i >= 0; i-- {
		step := inst.CompletedSteps[i]
		cmd, ok := def.CompensationCommand(inst, step)
		if !ok {
			continue
		}
		cmd.Compensating = true
		if cmd.Step == "" {
			cmd.Step = step
		}
		comps = append(comps, cmd)
		pending[cmd.Step] = true
	}

	if len(comps) == 0 {
		return c.failWithoutCompensation(ctx, inst, reason)
	}

	inst.State = StateCompensating
	inst.PendingCompensations = pending
	inst.UpdatedAt = time.Now().UTC()
	if err := c.store.SaveSaga(ctx, inst); err != nil {
		return fmt.Errorf("saga: persist compensating %s: %w", inst.ID, err)
	}
	c.emitter.EmitSagaCompensating(ctx, inst, reason)
	c.logger.Warn("saga compensating",
		slog.String("saga_id", inst.ID.String()),
		slog.String("reason", reason),
		slog.Int("compensations", len(comps)),
	)

	if err := c.exec.Execute(ctx, inst.ID, comps); err != nil {
		// The compensation commands cannot even be dispatched. Nothing
		// further will arrive, so the instance is failed outright.
		c.logger.Error("compensation dispatch failed",
			slog.String("saga_id", inst.ID.String()),
			slog.String("error", err.Error()),
		)
		return c.failWithoutCompensation(ctx, inst, reason)
	}
	return nil
}

// ackCompensation consumes one compensation acknowledgement. When the
// pending set drains the instance turns failed, exactly once.
func (c *Coordinator) ackCompensation(ctx context.Context, inst *Instance, evt *eventlog.Event) error {
	inst.MarkProcessed(evt.ID)

	step := evt.Step()
	if step == "" {
		c.logger.Warn("compensation event without step correlation",
			slog.String("saga_id", inst.ID.String()),
			slog.String("event_type", evt.Type),
		)
	} else {
		if evt.Type == command.EventTypeCommandFailed {
			c.logger.Error("compensation command failed",
				slog.String("saga_id", inst.ID.String()),
				slog.String("step", step),
			)
		}
		delete(inst.PendingCompensations, step)
	}

	if len(inst.PendingCompensations) == 0 {
		inst.State = StateFailed
		inst.UpdatedAt = time.Now().UTC()
		if err := c.store.SaveSaga(ctx, inst); err != nil {
			return fmt.Errorf("saga: persist failed %s: %w", inst.ID, err)
		}
		c.emitter.EmitSagaFailed(ctx, inst)
		c.logger.Warn("saga failed",
			slog.String("saga_id", inst.ID.String()),
			slog.String("reason", inst.FailureReason),
		)
		return nil
	}

	inst.UpdatedAt = time.Now().UTC()
	if err := c.store.SaveSaga(ctx, inst); err != nil {
		return fmt.Errorf("saga: persist %s: %w", inst.ID, err)
	}
	return nil
}

// failWithoutCompensation marks the instance failed when there is
// nothing to undo.
func (c *Coordinator) failWithoutCompensation(ctx context.Context, inst *Instance, reason string) error {
	inst.State = StateFailed
	inst.FailureReason = reason
	inst.TimeoutAt = time.Time{}
	inst.UpdatedAt = time.Now().UTC()
	if err := c.store.SaveSaga(ctx, inst); err != nil {
		return fmt.Errorf("saga: persist failed %s: %w", inst.ID, err)
	}
	c.emitter.EmitSagaFailed(ctx, inst)
	c.logger.Warn("saga failed",
		slog.String("saga_id", inst.ID.String()),
		slog.String("reason", reason),
	)
	return nil
}
