// Package observability provides ready-made hook extensions: a
// structured-logging extension that mirrors the engine's lifecycle to
// slog, and a stats extension keeping cheap in-process counters for
// health endpoints and tests.
package observability

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/evercart/tandem/command"
	"github.com/evercart/tandem/hook"
	"github.com/evercart/tandem/saga"
)

// Compile-time interface checks.
var (
	_ hook.Extension         = (*LoggingExtension)(nil)
	_ hook.SagaStarted       = (*LoggingExtension)(nil)
	_ hook.SagaStepCompleted = (*LoggingExtension)(nil)
	_ hook.SagaCompensating  = (*LoggingExtension)(nil)
	_ hook.SagaCompleted     = (*LoggingExtension)(nil)
	_ hook.SagaFailed        = (*LoggingExtension)(nil)
	_ hook.CommandDispatched = (*LoggingExtension)(nil)
	_ hook.CommandCompleted  = (*LoggingExtension)(nil)
	_ hook.CommandFailed     = (*LoggingExtension)(nil)
)

// LoggingExtension logs every saga and command lifecycle event.
type LoggingExtension struct {
	logger *slog.Logger
}

// NewLoggingExtension creates a logging extension over the given
// logger.
func NewLoggingExtension(logger *slog.Logger) *LoggingExtension {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingExtension{logger: logger}
}

// Name implements hook.Extension.
func (l *LoggingExtension) Name() string { return "observability-logging" }

// OnSagaStarted implements hook.SagaStarted.
func (l *LoggingExtension) OnSagaStarted(_ context.Context, inst *saga.Instance) error {
	l.logger.Info("saga lifecycle: started",
		slog.String("saga_id", inst.ID.String()),
		slog.String("saga_type", inst.SagaType),
	)
	return nil
}

// OnSagaStepCompleted implements hook.SagaStepCompleted.
func (l *LoggingExtension) OnSagaStepCompleted(_ context.Context, inst *saga.Instance, step string) error {
	l.logger.Info("saga lifecycle: step completed",
		slog.String("saga_id", inst.ID.String()),
		slog.String("step", step),
	)
	return nil
}

// OnSagaCompensating implements hook.SagaCompensating.
func (l *LoggingExtension) OnSagaCompensating(_ context.Context, inst *saga.Instance, reason string) error {
	l.logger.Warn("saga lifecycle: compensating",
		slog.String("saga_id", inst.ID.String()),
		slog.String("reason", reason),
	)
	return nil
}

// OnSagaCompleted implements hook.SagaCompleted.
func (l *LoggingExtension) OnSagaCompleted(_ context.Context, inst *saga.Instance) error {
	l.logger.Info("saga lifecycle: completed",
		slog.String("saga_id", inst.ID.String()),
	)
	return nil
}

// OnSagaFailed implements hook.SagaFailed.
func (l *LoggingExtension) OnSagaFailed(_ context.Context, inst *saga.Instance) error {
	l.logger.Warn("saga lifecycle: failed",
		slog.String("saga_id", inst.ID.String()),
		slog.String("reason", inst.FailureReason),
	)
	return nil
}

// OnCommandDispatched implements hook.CommandDispatched.
func (l *LoggingExtension) OnCommandDispatched(_ context.Context, env *command.Envelope) error {
	l.logger.Debug("command lifecycle: dispatched",
		slog.String("request_id", env.RequestID.String()),
		slog.String("command", env.Command.Name),
		slog.String("step", env.Command.Step),
	)
	return nil
}

// OnCommandCompleted implements hook.CommandCompleted.
func (l *LoggingExtension) OnCommandCompleted(_ context.Context, env *command.Envelope, elapsed time.Duration) error {
	l.logger.Debug("command lifecycle: completed",
		slog.String("request_id", env.RequestID.String()),
		slog.String("command", env.Command.Name),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

// OnCommandFailed implements hook.CommandFailed.
func (l *LoggingExtension) OnCommandFailed(_ context.Context, env *command.Envelope, cmdErr error) error {
	l.logger.Warn("command lifecycle: failed",
		slog.String("request_id", env.RequestID.String()),
		slog.String("command", env.Command.Name),
		slog.String("error", cmdErr.Error()),
	)
	return nil
}

// ──────────────────────────────────────────────────
// Stats
// ──────────────────────────────────────────────────

// Compile-time interface checks.
var (
	_ hook.Extension        = (*StatsExtension)(nil)
	_ hook.SagaStarted      = (*StatsExtension)(nil)
	_ hook.SagaCompensating = (*StatsExtension)(nil)
	_ hook.SagaCompleted    = (*StatsExtension)(nil)
	_ hook.SagaFailed       = (*StatsExtension)(nil)
	_ hook.CommandRetrying  = (*StatsExtension)(nil)
	_ hook.CommandFailed    = (*StatsExtension)(nil)
)

// Stats is a snapshot of the counters.
type Stats struct {
	SagasStarted      int64 `json:"sagas_started"`
	SagasCompensating int64 `json:"sagas_compensating"`
	SagasCompleted    int64 `json:"sagas_completed"`
	SagasFailed       int64 `json:"sagas_failed"`
	CommandRetries    int64 `json:"command_retries"`
	CommandsFailed    int64 `json:"commands_failed"`
}

// StatsExtension counts lifecycle events with atomics.
type StatsExtension struct {
	started      atomic.Int64
	compensating atomic.Int64
	completed    atomic.Int64
	failed       atomic.Int64
	retries      atomic.Int64
	cmdFailed    atomic.Int64
}

// NewStatsExtension creates a zeroed stats extension.
func NewStatsExtension() *StatsExtension { return &StatsExtension{} }

// Name implements hook.Extension.
func (s *StatsExtension) Name() string { return "observability-stats" }

// Snapshot returns the current counter values.
func (s *StatsExtension) Snapshot() Stats {
	return Stats{
		SagasStarted:      s.started.Load(),
		SagasCompensating: s.compensating.Load(),
		SagasCompleted:    s.completed.Load(),
		SagasFailed:       s.failed.Load(),
		CommandRetries:    s.retries.Load(),
		CommandsFailed:    s.cmdFailed.Load(),
	}
}

// OnSagaStarted implements hook.SagaStarted.
func (s *StatsExtension) OnSagaStarted(_ context.Context, _ *saga.Instance) error {
	s.started.Add(1)
	return nil
}

// OnSagaCompensating implements hook.SagaCompensating.
func (s *StatsExtension) OnSagaCompensating(_ context.Context, _ *saga.Instance, _ string) error {
	s.compensating.Add(1)
	return nil
}

// OnSagaCompleted implements hook.SagaCompleted.
func (s *StatsExtension) OnSagaCompleted(_ context.Context, _ *saga.Instance) error {
	s.completed.Add(1)
	return nil
}

// OnSagaFailed implements hook.SagaFailed.
func (s *StatsExtension) OnSagaFailed(_ context.Context, _ *saga.Instance) error {
	s.failed.Add(1)
	return nil
}

// OnCommandRetrying implements hook.CommandRetrying.
func (s *StatsExtension) OnCommandRetrying(_ context.Context, _ *command.Envelope, _ int, _ error) error {
	s.retries.Add(1)
	return nil
}

// OnCommandFailed implements hook.CommandFailed.
func (s *StatsExtension) OnCommandFailed(_ context.Context, _ *command.Envelope, _ error) error {
	s.cmdFailed.Add(1)
	return nil
}
