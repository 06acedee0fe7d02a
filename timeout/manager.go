// Package timeout provides per-step deadline scheduling for saga
// instances. When a deadline fires, a synthetic step-timeout event,
// identical in shape to a domain event, is injected into the
// coordinator's normal event-processing path. The coordinator re-checks
// the instance's current step before acting, so a race with a late
// legitimate completion resolves as a no-op.
package timeout

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/id"
)

// EventTypeStepTimeout is the type of the synthetic event injected when
// a step deadline fires.
const EventTypeStepTimeout = "saga.step_timeout"

// StepTimeout is the payload of a step-timeout event.
type StepTimeout struct {
	Step string `json:"step"`
}

// FireFunc receives the synthetic timeout event. The engine wires this
// to the coordinator's ProcessEvent.
type FireFunc func(evt *eventlog.Event)

// Manager arms and disarms per-step deadlines. It is safe for
// concurrent use. Each armed deadline is one timer; scheduling a new
// deadline for the same (saga, step) replaces the old one.
type Manager struct {
	mu     sync.Mutex
	timers map[string]*time.Timer // sagaID + "/" + step → timer
	fire   FireFunc
	logger *slog.Logger
	closed bool
}

// NewManager creates a timeout manager delivering fired timeouts to fn.
func NewManager(fn FireFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		timers: make(map[string]*time.Timer),
		fire:   fn,
		logger: logger,
	}
}

func timerKey(sagaID id.SagaID, step string) string {
	return sagaID.String() + "/" + step
}

// Schedule arms a deadline for the given saga step. An existing
// deadline for the same step is replaced.
func (m *Manager) Schedule(sagaID id.SagaID, step string, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	key := timerKey(sagaID, step)
	if old, ok := m.timers[key]; ok {
		old.Stop()
	}

	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}

	m.timers[key] = time.AfterFunc(d, func() {
		m.fired(sagaID, step)
	})
}

// Cancel disarms the deadline for the given saga step. Canceling an
// unarmed step is a no-op.
func (m *Manager) Cancel(sagaID id.SagaID, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := timerKey(sagaID, step)
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
}

// Stop disarms all outstanding deadlines. Timeouts that already fired
// may still be in flight through the coordinator.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
}

// fired builds the synthetic event and hands it to the sink.
// A concurrent Cancel may have removed the key already; the timer has
// fired regardless, so the coordinator's current-step re-check is the
// authoritative race arbiter.
func (m *Manager) fired(sagaID id.SagaID, step string) {
	m.mu.Lock()
	delete(m.timers, timerKey(sagaID, step))
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	payload, err := json.Marshal(StepTimeout{Step: step})
	if err != nil {
		// Marshaling a one-field struct cannot fail; guard anyway.
		m.logger.Error("marshal step timeout payload",
			slog.String("saga_id", sagaID.String()),
			slog.String("step", step),
			slog.String("error", err.Error()),
		)
		return
	}

	evt := eventlog.NewEvent(
		sagaID.String(),
		"saga",
		EventTypeStepTimeout,
		payload,
		map[string]string{eventlog.MetaSagaID: sagaID.String()},
	)

	m.logger.Debug("step deadline fired",
		slog.String("saga_id", sagaID.String()),
		slog.String("step", step),
	)
	m.fire(evt)
}
