// Package hook defines the extension system for Tandem. Extensions
// are notified of lifecycle events (saga started, step completed,
// command dispatched, event appended, etc.) and can react to them for
// logging, metrics, or tracing.
//
// Each lifecycle hook is a separate interface so extensions opt in
// only to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/evercart/tandem/command"
	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/saga"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Saga lifecycle hooks
// ──────────────────────────────────────────────────

// SagaStarted is called after a new saga instance is persisted.
type SagaStarted interface {
	OnSagaStarted(ctx context.Context, inst *saga.Instance) error
}

// SagaStepCompleted is called after a forward step completes.
type SagaStepCompleted interface {
	OnSagaStepCompleted(ctx context.Context, inst *saga.Instance, step string) error
}

// SagaCompensating is called when a step failure starts compensation.
type SagaCompensating interface {
	OnSagaCompensating(ctx context.Context, inst *saga.Instance, reason string) error
}

// SagaCompleted is called when a saga reaches the completed state.
type SagaCompleted interface {
	OnSagaCompleted(ctx context.Context, inst *saga.Instance) error
}

// SagaFailed is called when a saga reaches the failed state.
type SagaFailed interface {
	OnSagaFailed(ctx context.Context, inst *saga.Instance) error
}

// ──────────────────────────────────────────────────
// Command lifecycle hooks
// ──────────────────────────────────────────────────

// CommandDispatched is called when a command is handed to its handler.
type CommandDispatched interface {
	OnCommandDispatched(ctx context.Context, env *command.Envelope) error
}

// CommandRetrying is called before a failed dispatch is retried.
type CommandRetrying interface {
	OnCommandRetrying(ctx context.Context, env *command.Envelope, attempt int, err error) error
}

// CommandCompleted is called after a handler produced its result.
type CommandCompleted interface {
	OnCommandCompleted(ctx context.Context, env *command.Envelope, elapsed time.Duration) error
}

// CommandFailed is called when a dispatch fails terminally or times
// out.
type CommandFailed interface {
	OnCommandFailed(ctx context.Context, env *command.Envelope, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// EventAppended is called after a batch of events commits to the log.
type EventAppended interface {
	OnEventAppended(ctx context.Context, evt *eventlog.Event) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
