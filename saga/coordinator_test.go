package saga_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/command"
	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/id"
	"github.com/evercart/tandem/lock"
	"github.com/evercart/tandem/saga"
	"github.com/evercart/tandem/timeout"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

// memStore is a map-backed saga.Store for coordinator tests.
type memStore struct {
	mu    sync.Mutex
	sagas map[string]*saga.Instance
}

func newMemStore() *memStore {
	return &memStore{sagas: make(map[string]*saga.Instance)}
}

func (s *memStore) SaveSaga(_ context.Context, inst *saga.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sagas[inst.ID.String()] = inst.Snapshot()
	return nil
}

func (s *memStore) GetSaga(_ context.Context, sagaID id.SagaID) (*saga.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.sagas[sagaID.String()]
	if !ok {
		return nil, tandem.ErrSagaNotFound
	}
	return inst.Snapshot(), nil
}

func (s *memStore) ListActiveSagas(_ context.Context) ([]*saga.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*saga.Instance
	for _, inst := range s.sagas {
		if !inst.State.Terminal() {
			out = append(out, inst.Snapshot())
		}
	}
	return out, nil
}

// captureExec records dispatched commands instead of executing them.
type captureExec struct {
	mu    sync.Mutex
	calls [][]command.Command
	saga  id.SagaID
}

func (e *captureExec) Execute(_ context.Context, sagaID id.SagaID, cmds []command.Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.saga = sagaID
	e.calls = append(e.calls, slices.Clone(cmds))
	return nil
}

func (e *captureExec) names() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]string, len(e.calls))
	for i, cmds := range e.calls {
		for _, c := range cmds {
			out[i] = append(out[i], c.Name)
		}
	}
	return out
}

// fakeTimeouts records schedule and cancel calls.
type fakeTimeouts struct {
	mu        sync.Mutex
	scheduled []string
	canceled  []string
}

func (f *fakeTimeouts) Schedule(_ id.SagaID, step string, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, step)
}

func (f *fakeTimeouts) Cancel(_ id.SagaID, step string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, step)
}

// orderSaga is the order-processing saga used throughout:
// place_order -> reserve_inventory -> process_payment -> confirm_order.
type orderSaga struct{}

func (orderSaga) SagaType() string        { return "order_saga" }
func (orderSaga) TriggerEvents() []string { return []string{"order_placed"} }

func (orderSaga) StartCommands(inst *saga.Instance) (string, []command.Command, error) {
	return "reserve_inventory", []command.Command{{
		Name:          "ReserveInventory",
		AggregateID:   orderID(inst),
		AggregateType: "order",
		Step:          "reserve_inventory",
	}}, nil
}

func (orderSaga) HandleEvent(_ context.Context, inst *saga.Instance, evt *eventlog.Event) (*saga.Outcome, error) {
	switch evt.Type {
	case "order_placed":
		var data map[string]any
		if err := json.Unmarshal(evt.Payload, &data); err != nil {
			return nil, err
		}
		return &saga.Outcome{
			CompletedStep: "place_order",
			NextStep:      "reserve_inventory",
			Data:          data,
			Commands: []command.Command{{
				Name:          "ReserveInventory",
				AggregateID:   evt.AggregateID,
				AggregateType: "order",
				Step:          "reserve_inventory",
			}},
		}, nil
	case "inventory_reserved":
		return &saga.Outcome{
			CompletedStep: "reserve_inventory",
			NextStep:      "process_payment",
			Commands: []command.Command{{
				Name:          "ProcessPayment",
				AggregateID:   evt.AggregateID,
				AggregateType: "order",
				Step:          "process_payment",
			}},
		}, nil
	case "payment_completed":
		return &saga.Outcome{
			CompletedStep: "process_payment",
			NextStep:      "confirm_order",
			Commands: []command.Command{{
				Name:          "ConfirmOrder",
				AggregateID:   evt.AggregateID,
				AggregateType: "order",
				Step:          "confirm_order",
			}},
		}, nil
	case "order_confirmed":
		return &saga.Outcome{CompletedStep: "confirm_order"}, nil
	case "payment_failed":
		return nil, saga.Fail("process_payment", "Payment processing failed")
	}
	return &saga.Outcome{}, nil
}

func (orderSaga) CompensationCommand(inst *saga.Instance, step string) (command.Command, bool) {
	inverse := map[string]string{
		"place_order":       "CancelOrder",
		"reserve_inventory": "ReleaseInventory",
		"process_payment":   "RefundPayment",
	}
	name, ok := inverse[step]
	if !ok {
		return command.Command{}, false
	}
	return command.Command{
		Name:          name,
		AggregateID:   orderID(inst),
		AggregateType: "order",
		Step:          step,
	}, true
}

func (orderSaga) Completed(inst *saga.Instance) bool {
	return slices.Contains(inst.CompletedSteps, "confirm_order")
}

func orderID(inst *saga.Instance) string {
	if v, ok := inst.Data["order_id"].(string); ok {
		return v
	}
	return "order-unknown"
}

// fixture wires a coordinator with capture fakes.
type fixture struct {
	coord    *saga.Coordinator
	store    *memStore
	exec     *captureExec
	timeouts *fakeTimeouts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		exec:     &captureExec{},
		timeouts: &fakeTimeouts{},
	}
	registry := saga.NewRegistry()
	if err := registry.Register(orderSaga{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.coord = saga.NewCoordinator(registry, f.store, lock.NewMemory(), f.timeouts, f.exec, testLogger())
	return f
}

// stepEvent builds an event as the executor would submit it: correlated
// to the saga and stamped with the step it acknowledges.
func stepEvent(eventType string, sagaID id.SagaID, step string, payload string) *eventlog.Event {
	if payload == "" {
		payload = "{}"
	}
	return eventlog.NewEvent("o1", "order", eventType, json.RawMessage(payload), map[string]string{
		eventlog.MetaSagaID:    sagaID.String(),
		eventlog.MetaRequestID: id.NewRequestID().String(),
		eventlog.MetaStep:      step,
	})
}

func (f *fixture) mustStatus(t *testing.T, sagaID id.SagaID) *saga.Instance {
	t.Helper()
	inst, err := f.coord.GetStatus(context.Background(), sagaID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	return inst
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestCoordinator_StartSagaDispatchesFirstStep(t *testing.T) {
	f := newFixture(t)

	sagaID, err := f.coord.StartSaga(context.Background(), "order_saga",
		map[string]any{"order_id": "o1", "total": 100}, map[string]string{"tenant": "acme"})
	if err != nil {
		t.Fatalf("StartSaga: %v", err)
	}

	inst := f.mustStatus(t, sagaID)
	if inst.State != saga.StateStarted {
		t.Errorf("State = %s, want started", inst.State)
	}
	if inst.CurrentStep != "reserve_inventory" {
		t.Errorf("CurrentStep = %q, want reserve_inventory", inst.CurrentStep)
	}
	if inst.Metadata["tenant"] != "acme" {
		t.Errorf("Metadata = %v, want tenant=acme", inst.Metadata)
	}
	if got := f.exec.names(); len(got) != 1 || got[0][0] != "ReserveInventory" {
		t.Errorf("dispatched = %v, want [[ReserveInventory]]", got)
	}
	if !slices.Contains(f.timeouts.scheduled, "reserve_inventory") {
		t.Errorf("scheduled = %v, want reserve_inventory armed", f.timeouts.scheduled)
	}
}

func TestCoordinator_StartSagaUnknownType(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.StartSaga(context.Background(), "shipping_saga", nil, nil)
	if !errors.Is(err, tandem.ErrUnknownSagaType) {
		t.Fatalf("StartSaga = %v, want ErrUnknownSagaType", err)
	}
}

func TestCoordinator_TriggerEventCreatesInstance(t *testing.T) {
	f := newFixture(t)

	evt := eventlog.NewEvent("o1", "order", "order_placed",
		json.RawMessage(`{"order_id":"o1","total":100}`), nil)
	if err := f.coord.ProcessEvent(context.Background(), evt); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	inst := f.mustStatus(t, f.exec.saga)
	if inst.SagaType != "order_saga" {
		t.Errorf("SagaType = %q, want order_saga", inst.SagaType)
	}
	if inst.Data["order_id"] != "o1" {
		t.Errorf("Data = %v, want order_id=o1", inst.Data)
	}
	if got := f.exec.names(); len(got) != 1 || got[0][0] != "ReserveInventory" {
		t.Errorf("dispatched = %v, want [[ReserveInventory]]", got)
	}
}

func TestCoordinator_StaleCorrelationTriggerStartsNewInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A trigger event carrying a saga_id for an instance that does not
	// exist still starts a fresh instance.
	evt := eventlog.NewEvent("o1", "order", "order_placed",
		json.RawMessage(`{"order_id":"o1"}`), map[string]string{
			eventlog.MetaSagaID: id.NewSagaID().String(),
		})
	if err := f.coord.ProcessEvent(ctx, evt); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	inst := f.mustStatus(t, f.exec.saga)
	if inst.SagaType != "order_saga" {
		t.Errorf("SagaType = %q, want order_saga", inst.SagaType)
	}
	if !slices.Contains(inst.CompletedSteps, "place_order") {
		t.Errorf("CompletedSteps = %v, want place_order recorded", inst.CompletedSteps)
	}
	if got := f.exec.names(); len(got) != 1 || got[0][0] != "ReserveInventory" {
		t.Errorf("dispatched = %v, want [[ReserveInventory]]", got)
	}
}

func TestCoordinator_StaleCorrelationNonTriggerIsDropped(t *testing.T) {
	f := newFixture(t)

	evt := stepEvent("inventory_reserved", id.NewSagaID(), "reserve_inventory", "")
	if err := f.coord.ProcessEvent(context.Background(), evt); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if len(f.exec.calls) != 0 {
		t.Errorf("dispatched %v for an event of an unknown saga", f.exec.names())
	}
}

func TestCoordinator_UncorrelatedNonTriggerIsIgnored(t *testing.T) {
	f := newFixture(t)

	evt := eventlog.NewEvent("p1", "product", "price_changed", json.RawMessage(`{}`), nil)
	if err := f.coord.ProcessEvent(context.Background(), evt); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if len(f.exec.calls) != 0 {
		t.Errorf("dispatched %v for an irrelevant event", f.exec.names())
	}
}

func TestCoordinator_HappyPathCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sagaID, err := f.coord.StartSaga(ctx, "order_saga", map[string]any{"order_id": "o1"}, nil)
	if err != nil {
		t.Fatalf("StartSaga: %v", err)
	}

	steps := []struct {
		eventType string
		step      string
	}{
		{"inventory_reserved", "reserve_inventory"},
		{"payment_completed", "process_payment"},
		{"order_confirmed", "confirm_order"},
	}
	for _, s := range steps {
		if err := f.coord.ProcessEvent(ctx, stepEvent(s.eventType, sagaID, s.step, "")); err != nil {
			t.Fatalf("ProcessEvent(%s): %v", s.eventType, err)
		}
	}

	inst := f.mustStatus(t, sagaID)
	if inst.State != saga.StateCompleted {
		t.Fatalf("State = %s, want completed", inst.State)
	}
	want := []string{"reserve_inventory", "process_payment", "confirm_order"}
	if !slices.Equal(inst.CompletedSteps, want) {
		t.Errorf("CompletedSteps = %v, want %v", inst.CompletedSteps, want)
	}
	if gotNames := f.exec.names(); len(gotNames) != 3 {
		t.Errorf("dispatch calls = %v, want 3 (reserve, payment, confirm)", gotNames)
	}
}

func TestCoordinator_ProcessEventIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sagaID, err := f.coord.StartSaga(ctx, "order_saga", map[string]any{"order_id": "o1"}, nil)
	if err != nil {
		t.Fatalf("StartSaga: %v", err)
	}

	evt := stepEvent("inventory_reserved", sagaID, "reserve_inventory", "")
	if err := f.coord.ProcessEvent(ctx, evt); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	before := f.mustStatus(t, sagaID)

	// Redelivery of the same event must change nothing and dispatch
	// nothing.
	if err := f.coord.ProcessEvent(ctx, evt); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	after := f.mustStatus(t, sagaID)

	if after.State != before.State || after.CurrentStep != before.CurrentStep {
		t.Errorf("state changed on redelivery: %s/%s -> %s/%s",
			before.State, before.CurrentStep, after.State, after.CurrentStep)
	}
	if !slices.Equal(after.CompletedSteps, before.CompletedSteps) {
		t.Errorf("CompletedSteps changed on redelivery: %v -> %v", before.CompletedSteps, after.CompletedSteps)
	}
	if got := f.exec.names(); len(got) != 2 {
		t.Errorf("dispatch calls = %d, want 2 (start + one step)", len(got))
	}
}

func TestCoordinator_FailureCompensatesInReverseOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Created by trigger so that place_order is a completed step.
	trigger := eventlog.NewEvent("o1", "order", "order_placed",
		json.RawMessage(`{"order_id":"o1","total":100}`), nil)
	if err := f.coord.ProcessEvent(ctx, trigger); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	sagaID := f.exec.saga

	if err := f.coord.ProcessEvent(ctx, stepEvent("inventory_reserved", sagaID, "reserve_inventory", "")); err != nil {
		t.Fatalf("inventory_reserved: %v", err)
	}
	if err := f.coord.ProcessEvent(ctx, stepEvent("payment_failed", sagaID, "process_payment", "")); err != nil {
		t.Fatalf("payment_failed: %v", err)
	}

	inst := f.mustStatus(t, sagaID)
	if inst.State != saga.StateCompensating {
		t.Fatalf("State = %s, want compensating", inst.State)
	}
	if inst.FailureReason != "Payment processing failed" {
		t.Errorf("FailureReason = %q, want %q", inst.FailureReason, "Payment processing failed")
	}

	// Completed steps were place_order then reserve_inventory, so the
	// compensations must be their inverses in strict reverse order.
	names := f.exec.names()
	comp := names[len(names)-1]
	if !slices.Equal(comp, []string{"ReleaseInventory", "CancelOrder"}) {
		t.Fatalf("compensations = %v, want [ReleaseInventory CancelOrder]", comp)
	}
	last := f.exec.calls[len(f.exec.calls)-1]
	for _, cmd := range last {
		if !cmd.Compensating {
			t.Errorf("compensation command %s not marked compensating", cmd.Name)
		}
	}

	// Acknowledge both compensations; only then does the saga fail.
	if err := f.coord.ProcessEvent(ctx, stepEvent("inventory_released", sagaID, "reserve_inventory", "")); err != nil {
		t.Fatalf("inventory_released: %v", err)
	}
	if got := f.mustStatus(t, sagaID); got.State != saga.StateCompensating {
		t.Fatalf("State = %s after one ack, want compensating", got.State)
	}
	if err := f.coord.ProcessEvent(ctx, stepEvent("order_cancelled", sagaID, "place_order", "")); err != nil {
		t.Fatalf("order_cancelled: %v", err)
	}

	final := f.mustStatus(t, sagaID)
	if final.State != saga.StateFailed {
		t.Fatalf("State = %s, want failed", final.State)
	}
	if final.FailureReason != "Payment processing failed" {
		t.Errorf("FailureReason = %q, want %q", final.FailureReason, "Payment processing failed")
	}
}

func TestCoordinator_FailureWithoutCompletedStepsFailsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sagaID, err := f.coord.StartSaga(ctx, "order_saga", map[string]any{"order_id": "o1"}, nil)
	if err != nil {
		t.Fatalf("StartSaga: %v", err)
	}

	// First step fails before anything completed: nothing to undo.
	failPayload := `{"command":"ReserveInventory","step":"reserve_inventory","reason":"out of stock"}`
	evt := stepEvent(command.EventTypeCommandFailed, sagaID, "reserve_inventory", failPayload)
	if err := f.coord.ProcessEvent(ctx, evt); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	inst := f.mustStatus(t, sagaID)
	if inst.State != saga.StateFailed {
		t.Fatalf("State = %s, want failed", inst.State)
	}
	if inst.FailureReason != "out of stock" {
		t.Errorf("FailureReason = %q, want %q", inst.FailureReason, "out of stock")
	}
	if got := f.exec.names(); len(got) != 1 {
		t.Errorf("dispatch calls = %v, want only the initial step", got)
	}
}

func TestCoordinator_StaleTimeoutIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sagaID, err := f.coord.StartSaga(ctx, "order_saga", map[string]any{"order_id": "o1"}, nil)
	if err != nil {
		t.Fatalf("StartSaga: %v", err)
	}
	if err := f.coord.ProcessEvent(ctx, stepEvent("inventory_reserved", sagaID, "reserve_inventory", "")); err != nil {
		t.Fatalf("inventory_reserved: %v", err)
	}

	// A timer for the already-advanced step fires late.
	stale := stepEvent(timeout.EventTypeStepTimeout, sagaID, "",
		`{"step":"reserve_inventory"}`)
	if err := f.coord.ProcessEvent(ctx, stale); err != nil {
		t.Fatalf("stale timeout: %v", err)
	}

	inst := f.mustStatus(t, sagaID)
	if inst.State != saga.StateStarted {
		t.Errorf("State = %s after stale timeout, want started", inst.State)
	}
	if inst.CurrentStep != "process_payment" {
		t.Errorf("CurrentStep = %q, want process_payment", inst.CurrentStep)
	}
}

func TestCoordinator_CurrentStepTimeoutStartsCompensation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trigger := eventlog.NewEvent("o1", "order", "order_placed",
		json.RawMessage(`{"order_id":"o1"}`), nil)
	if err := f.coord.ProcessEvent(ctx, trigger); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	sagaID := f.exec.saga

	fired := stepEvent(timeout.EventTypeStepTimeout, sagaID, "",
		`{"step":"reserve_inventory"}`)
	if err := f.coord.ProcessEvent(ctx, fired); err != nil {
		t.Fatalf("timeout event: %v", err)
	}

	inst := f.mustStatus(t, sagaID)
	if inst.State != saga.StateCompensating {
		t.Fatalf("State = %s, want compensating", inst.State)
	}
	if inst.FailureReason != "step reserve_inventory timed out" {
		t.Errorf("FailureReason = %q", inst.FailureReason)
	}
}

func TestCoordinator_DuplicateCompensationAckDrainsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trigger := eventlog.NewEvent("o1", "order", "order_placed",
		json.RawMessage(`{"order_id":"o1"}`), nil)
	if err := f.coord.ProcessEvent(ctx, trigger); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	sagaID := f.exec.saga

	if err := f.coord.ProcessEvent(ctx, stepEvent("inventory_reserved", sagaID, "reserve_inventory", "")); err != nil {
		t.Fatalf("inventory_reserved: %v", err)
	}
	if err := f.coord.ProcessEvent(ctx, stepEvent("payment_failed", sagaID, "process_payment", "")); err != nil {
		t.Fatalf("payment_failed: %v", err)
	}

	ack := stepEvent("inventory_released", sagaID, "reserve_inventory", "")
	if err := f.coord.ProcessEvent(ctx, ack); err != nil {
		t.Fatalf("ack: %v", err)
	}
	// Redelivered ack for a step already drained must not fail the saga
	// while place_order's compensation is still pending.
	if err := f.coord.ProcessEvent(ctx, ack); err != nil {
		t.Fatalf("duplicate ack: %v", err)
	}
	if got := f.mustStatus(t, sagaID); got.State != saga.StateCompensating {
		t.Fatalf("State = %s after duplicate ack, want compensating", got.State)
	}

	if err := f.coord.ProcessEvent(ctx, stepEvent("order_cancelled", sagaID, "place_order", "")); err != nil {
		t.Fatalf("final ack: %v", err)
	}
	if got := f.mustStatus(t, sagaID); got.State != saga.StateFailed {
		t.Fatalf("State = %s, want failed", got.State)
	}
}

func TestCoordinator_TerminalSagaDropsLateEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sagaID, err := f.coord.StartSaga(ctx, "order_saga", map[string]any{"order_id": "o1"}, nil)
	if err != nil {
		t.Fatalf("StartSaga: %v", err)
	}
	for _, s := range []struct{ eventType, step string }{
		{"inventory_reserved", "reserve_inventory"},
		{"payment_completed", "process_payment"},
		{"order_confirmed", "confirm_order"},
	} {
		if err := f.coord.ProcessEvent(ctx, stepEvent(s.eventType, sagaID, s.step, "")); err != nil {
			t.Fatalf("ProcessEvent(%s): %v", s.eventType, err)
		}
	}

	late := stepEvent("payment_failed", sagaID, "process_payment", "")
	if err := f.coord.ProcessEvent(ctx, late); err != nil {
		t.Fatalf("late event: %v", err)
	}
	if got := f.mustStatus(t, sagaID); got.State != saga.StateCompleted {
		t.Errorf("State = %s after late event, want completed", got.State)
	}
}

func TestCoordinator_HandlerPanicBecomesStepFailure(t *testing.T) {
	f := newFixture(t)
	registry := saga.NewRegistry()
	if err := registry.Register(panicSaga{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	coord := saga.NewCoordinator(registry, f.store, lock.NewMemory(), f.timeouts, f.exec, testLogger())
	ctx := context.Background()

	sagaID, err := coord.StartSaga(ctx, "panic_saga", nil, nil)
	if err != nil {
		t.Fatalf("StartSaga: %v", err)
	}
	if err := coord.ProcessEvent(ctx, stepEvent("boom", sagaID, "only_step", "")); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	inst, err := coord.GetStatus(ctx, sagaID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if inst.State != saga.StateFailed {
		t.Fatalf("State = %s, want failed (panic captured, not propagated)", inst.State)
	}
}

// panicSaga panics in its handler to exercise coordinator recovery.
type panicSaga struct{}

func (panicSaga) SagaType() string        { return "panic_saga" }
func (panicSaga) TriggerEvents() []string { return nil }

func (panicSaga) StartCommands(*saga.Instance) (string, []command.Command, error) {
	return "only_step", nil, nil
}

func (panicSaga) HandleEvent(context.Context, *saga.Instance, *eventlog.Event) (*saga.Outcome, error) {
	panic("definition bug")
}

func (panicSaga) CompensationCommand(*saga.Instance, string) (command.Command, bool) {
	return command.Command{}, false
}

func (panicSaga) Completed(*saga.Instance) bool { return false }

func TestRegistry_RejectsDuplicateTriggers(t *testing.T) {
	registry := saga.NewRegistry()
	if err := registry.Register(orderSaga{}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := registry.Register(orderSaga{}); err == nil {
		t.Fatal("second register succeeded, want duplicate error")
	}
}
