package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/evercart/tandem/command"
	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/saga"
)

// The registry's emit methods match the saga.Emitter and
// command.Emitter contracts, so the engine plugs it straight into the
// coordinator and executor.
var (
	_ saga.Emitter    = (*Registry)(nil)
	_ command.Emitter = (*Registry)(nil)
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type sagaStartedEntry struct {
	name string
	hook SagaStarted
}

type sagaStepCompletedEntry struct {
	name string
	hook SagaStepCompleted
}

type sagaCompensatingEntry struct {
	name string
	hook SagaCompensating
}

type sagaCompletedEntry struct {
	name string
	hook SagaCompleted
}

type sagaFailedEntry struct {
	name string
	hook SagaFailed
}

type commandDispatchedEntry struct {
	name string
	hook CommandDispatched
}

type commandRetryingEntry struct {
	name string
	hook CommandRetrying
}

type commandCompletedEntry struct {
	name string
	hook CommandCompleted
}

type commandFailedEntry struct {
	name string
	hook CommandFailed
}

type eventAppendedEntry struct {
	name string
	hook EventAppended
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit
// calls iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	sagaStarted       []sagaStartedEntry
	sagaStepCompleted []sagaStepCompletedEntry
	sagaCompensating  []sagaCompensatingEntry
	sagaCompleted     []sagaCompletedEntry
	sagaFailed        []sagaFailedEntry
	commandDispatched []commandDispatchedEntry
	commandRetrying   []commandRetryingEntry
	commandCompleted  []commandCompletedEntry
	commandFailed     []commandFailedEntry
	eventAppended     []eventAppendedEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(SagaStarted); ok {
		r.sagaStarted = append(r.sagaStarted, sagaStartedEntry{name, h})
	}
	if h, ok := e.(SagaStepCompleted); ok {
		r.sagaStepCompleted = append(r.sagaStepCompleted, sagaStepCompletedEntry{name, h})
	}
	if h, ok := e.(SagaCompensating); ok {
		r.sagaCompensating = append(r.sagaCompensating, sagaCompensatingEntry{name, h})
	}
	if h, ok := e.(SagaCompleted); ok {
		r.sagaCompleted = append(r.sagaCompleted, sagaCompletedEntry{name, h})
	}
	if h, ok := e.(SagaFailed); ok {
		r.sagaFailed = append(r.sagaFailed, sagaFailedEntry{name, h})
	}
	if h, ok := e.(CommandDispatched); ok {
		r.commandDispatched = append(r.commandDispatched, commandDispatchedEntry{name, h})
	}
	if h, ok := e.(CommandRetrying); ok {
		r.commandRetrying = append(r.commandRetrying, commandRetryingEntry{name, h})
	}
	if h, ok := e.(CommandCompleted); ok {
		r.commandCompleted = append(r.commandCompleted, commandCompletedEntry{name, h})
	}
	if h, ok := e.(CommandFailed); ok {
		r.commandFailed = append(r.commandFailed, commandFailedEntry{name, h})
	}
	if h, ok := e.(EventAppended); ok {
		r.eventAppended = append(r.eventAppended, eventAppendedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Saga event emitters
// ──────────────────────────────────────────────────

// EmitSagaStarted notifies all extensions that implement SagaStarted.
func (r *Registry) EmitSagaStarted(ctx context.Context, inst *saga.Instance) {
	for _, e := range r.sagaStarted {
		if err := e.hook.OnSagaStarted(ctx, inst); err != nil {
			r.logHookError("OnSagaStarted", e.name, err)
		}
	}
}

// EmitStepCompleted notifies all extensions that implement
// SagaStepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, inst *saga.Instance, step string) {
	for _, e := range r.sagaStepCompleted {
		if err := e.hook.OnSagaStepCompleted(ctx, inst, step); err != nil {
			r.logHookError("OnSagaStepCompleted", e.name, err)
		}
	}
}

// EmitSagaCompensating notifies all extensions that implement
// SagaCompensating.
func (r *Registry) EmitSagaCompensating(ctx context.Context, inst *saga.Instance, reason string) {
	for _, e := range r.sagaCompensating {
		if err := e.hook.OnSagaCompensating(ctx, inst, reason); err != nil {
			r.logHookError("OnSagaCompensating", e.name, err)
		}
	}
}

// EmitSagaCompleted notifies all extensions that implement
// SagaCompleted.
func (r *Registry) EmitSagaCompleted(ctx context.Context, inst *saga.Instance) {
	for _, e := range r.sagaCompleted {
		if err := e.hook.OnSagaCompleted(ctx, inst); err != nil {
			r.logHookError("OnSagaCompleted", e.name, err)
		}
	}
}

// EmitSagaFailed notifies all extensions that implement SagaFailed.
func (r *Registry) EmitSagaFailed(ctx context.Context, inst *saga.Instance) {
	for _, e := range r.sagaFailed {
		if err := e.hook.OnSagaFailed(ctx, inst); err != nil {
			r.logHookError("OnSagaFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Command event emitters
// ──────────────────────────────────────────────────

// EmitCommandDispatched notifies all extensions that implement
// CommandDispatched.
func (r *Registry) EmitCommandDispatched(ctx context.Context, env *command.Envelope) {
	for _, e := range r.commandDispatched {
		if err := e.hook.OnCommandDispatched(ctx, env); err != nil {
			r.logHookError("OnCommandDispatched", e.name, err)
		}
	}
}

// EmitCommandRetrying notifies all extensions that implement
// CommandRetrying.
func (r *Registry) EmitCommandRetrying(ctx context.Context, env *command.Envelope, attempt int, cmdErr error) {
	for _, e := range r.commandRetrying {
		if err := e.hook.OnCommandRetrying(ctx, env, attempt, cmdErr); err != nil {
			r.logHookError("OnCommandRetrying", e.name, err)
		}
	}
}

// EmitCommandCompleted notifies all extensions that implement
// CommandCompleted.
func (r *Registry) EmitCommandCompleted(ctx context.Context, env *command.Envelope, elapsed time.Duration) {
	for _, e := range r.commandCompleted {
		if err := e.hook.OnCommandCompleted(ctx, env, elapsed); err != nil {
			r.logHookError("OnCommandCompleted", e.name, err)
		}
	}
}

// EmitCommandFailed notifies all extensions that implement
// CommandFailed.
func (r *Registry) EmitCommandFailed(ctx context.Context, env *command.Envelope, cmdErr error) {
	for _, e := range r.commandFailed {
		if err := e.hook.OnCommandFailed(ctx, env, cmdErr); err != nil {
			r.logHookError("OnCommandFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitEventAppended notifies all extensions that implement
// EventAppended, once per event in the committed batch.
func (r *Registry) EmitEventAppended(ctx context.Context, evt *eventlog.Event) {
	for _, e := range r.eventAppended {
		if err := e.hook.OnEventAppended(ctx, evt); err != nil {
			r.logHookError("OnEventAppended", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a hook failure. Hook errors never propagate to the
// engine path that emitted them.
func (r *Registry) logHookError(hookName, extName string, err error) {
	r.logger.Warn("extension hook failed",
		slog.String("hook", hookName),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
