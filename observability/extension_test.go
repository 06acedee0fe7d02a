package observability_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/evercart/tandem/command"
	"github.com/evercart/tandem/hook"
	"github.com/evercart/tandem/id"
	"github.com/evercart/tandem/observability"
	"github.com/evercart/tandem/saga"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEnvelope(name, step string) *command.Envelope {
	return &command.Envelope{
		RequestID: id.NewRequestID(),
		SagaID:    id.NewSagaID(),
		Command:   command.Command{Name: name, Step: step},
		IssuedAt:  time.Now().UTC(),
	}
}

func TestLoggingExtension_MirrorsLifecycle(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	reg := hook.NewRegistry(testLogger())
	reg.Register(observability.NewLoggingExtension(logger))

	ctx := context.Background()
	inst := saga.NewInstance("order_saga", map[string]any{"order_id": "o1"})
	env := testEnvelope("ReserveInventory", "reserve_inventory")

	reg.EmitSagaStarted(ctx, inst)
	reg.EmitStepCompleted(ctx, inst, "reserve_inventory")
	reg.EmitSagaCompensating(ctx, inst, "payment declined")
	inst.FailureReason = "payment declined"
	reg.EmitSagaFailed(ctx, inst)
	reg.EmitCommandDispatched(ctx, env)
	reg.EmitCommandCompleted(ctx, env, 5*time.Millisecond)
	reg.EmitCommandFailed(ctx, env, errors.New("inventory service down"))

	out := buf.String()
	for _, want := range []string{
		"saga lifecycle: started",
		"saga lifecycle: step completed",
		"saga lifecycle: compensating",
		"saga lifecycle: failed",
		"command lifecycle: dispatched",
		"command lifecycle: completed",
		"command lifecycle: failed",
		inst.ID.String(),
		env.RequestID.String(),
		"payment declined",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q", want)
		}
	}
}

func TestLoggingExtension_CompletedSaga(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	reg := hook.NewRegistry(testLogger())
	reg.Register(observability.NewLoggingExtension(logger))

	inst := saga.NewInstance("order_saga", nil)
	reg.EmitSagaCompleted(context.Background(), inst)

	if out := buf.String(); !strings.Contains(out, "saga lifecycle: completed") {
		t.Errorf("log output missing completion line: %s", out)
	}
}

func TestStatsExtension_CountsLifecycle(t *testing.T) {
	reg := hook.NewRegistry(testLogger())
	stats := observability.NewStatsExtension()
	reg.Register(stats)

	ctx := context.Background()
	inst := saga.NewInstance("order_saga", nil)
	env := testEnvelope("ProcessPayment", "process_payment")

	reg.EmitSagaStarted(ctx, inst)
	reg.EmitSagaStarted(ctx, inst)
	reg.EmitSagaCompensating(ctx, inst, "payment declined")
	reg.EmitSagaCompleted(ctx, inst)
	reg.EmitSagaFailed(ctx, inst)
	reg.EmitCommandRetrying(ctx, env, 1, errors.New("transient"))
	reg.EmitCommandRetrying(ctx, env, 2, errors.New("transient"))
	reg.EmitCommandFailed(ctx, env, errors.New("terminal"))

	got := stats.Snapshot()
	want := observability.Stats{
		SagasStarted:      2,
		SagasCompensating: 1,
		SagasCompleted:    1,
		SagasFailed:       1,
		CommandRetries:    2,
		CommandsFailed:    1,
	}
	if got != want {
		t.Fatalf("Snapshot() = %+v, want %+v", got, want)
	}
}

func TestStatsExtension_ZeroBeforeAnyEvent(t *testing.T) {
	stats := observability.NewStatsExtension()
	if got := stats.Snapshot(); got != (observability.Stats{}) {
		t.Fatalf("Snapshot() = %+v, want zero value", got)
	}
}
