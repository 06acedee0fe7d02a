package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/eventlog"
)

// DeadLetterer parks an event a handler could not apply. Satisfied by
// the dead letter service.
type DeadLetterer interface {
	Push(ctx context.Context, projection string, evt *eventlog.Event, cause error) error
}

// Manager drives registered projections over the event log. Each
// projection catches up independently in its own poll loop, applying
// events in global-sequence order and advancing its checkpoint only
// after a full batch.
//
// The poison policy is skip-and-continue: a handler error is logged,
// the event is dead-lettered for operator review, and the batch keeps
// going. A poisoned event never blocks the projection; the read model
// converges on everything else and the parked event can be replayed
// after the handler is fixed.
type Manager struct {
	log         eventlog.Store
	checkpoints CheckpointStore
	dead        DeadLetterer
	logger      *slog.Logger

	pollInterval time.Duration
	batchSize    int

	mu          sync.RWMutex
	projections map[string]*Projection

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPollInterval sets the sleep between catch-up passes.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.pollInterval = d }
}

// WithBatchSize sets the maximum events read per batch.
func WithBatchSize(n int) ManagerOption {
	return func(m *Manager) { m.batchSize = n }
}

// WithDeadLetter sets the sink for poisoned events.
func WithDeadLetter(d DeadLetterer) ManagerOption {
	return func(m *Manager) { m.dead = d }
}

// NewManager creates a projection manager over the event log.
func NewManager(log eventlog.Store, checkpoints CheckpointStore, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		log:          log,
		checkpoints:  checkpoints,
		logger:       logger,
		pollInterval: 200 * time.Millisecond,
		batchSize:    100,
		projections:  make(map[string]*Projection),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a projection. Names must be unique; the name keys the
// checkpoint.
func (m *Manager) Register(p *Projection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projections[p.name]; exists {
		return fmt.Errorf("projection: %q already registered", p.name)
	}
	m.projections[p.name] = p
	return nil
}

// Start launches one catch-up loop per registered projection.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.projections {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.run(runCtx, p)
		}()
	}
}

// Stop halts the poll loops and waits for in-flight passes, up to
// ctx's deadline.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, p *Projection) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := m.CatchUp(ctx, p.name); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("projection catch-up failed",
				slog.String("projection", p.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// CatchUp reads and applies everything after the projection's
// checkpoint until the log is drained. Each fully applied batch
// advances the checkpoint before the next one is read.
func (m *Manager) CatchUp(ctx context.Context, name string) error {
	p, err := m.projection(name)
	if err != nil {
		return err
	}

	cp, err := m.checkpoints.GetCheckpoint(ctx, name)
	if err != nil {
		if !errors.Is(err, tandem.ErrCheckpointNotFound) {
			return fmt.Errorf("projection %s: load checkpoint: %w", name, err)
		}
		cp = &Checkpoint{Entity: tandem.NewEntity(), Projection: name}
	}

	for {
		events, err := m.log.ReadAllAfter(ctx, cp.LastGlobalSeq, m.batchSize)
		if err != nil {
			return fmt.Errorf("projection %s: read after %d: %w", name, cp.LastGlobalSeq, err)
		}
		if len(events) == 0 {
			return nil
		}

		for _, evt := range events {
			if applyErr := m.applyOne(ctx, p, evt); applyErr != nil {
				m.logger.Error("projection handler failed",
					slog.String("projection", name),
					slog.String("event_id", evt.ID.String()),
					slog.String("event_type", evt.Type),
					slog.Int64("global_sequence", evt.GlobalSeq),
					slog.String("error", applyErr.Error()),
				)
				if m.dead != nil {
					if pushErr := m.dead.Push(ctx, name, evt, applyErr); pushErr != nil {
						m.logger.Error("dead-lettering failed",
							slog.String("projection", name),
							slog.String("event_id", evt.ID.String()),
							slog.String("error", pushErr.Error()),
						)
					}
				}
			}
		}

		cp.LastGlobalSeq = events[len(events)-1].GlobalSeq
		cp.UpdatedAt = time.Now().UTC()
		if err := m.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
			return fmt.Errorf("projection %s: save checkpoint: %w", name, err)
		}

		if len(events) < m.batchSize {
			return nil
		}
	}
}

// Apply applies one event to one projection directly, bypassing the
// checkpoint. Used for dead letter replay. An event with no handler is
// a no-op.
func (m *Manager) Apply(ctx context.Context, name string, evt *eventlog.Event) error {
	p, err := m.projection(name)
	if err != nil {
		return err
	}
	return m.applyOne(ctx, p, evt)
}

// Checkpoint returns the projection's last applied global sequence,
// zero when it has never advanced.
func (m *Manager) Checkpoint(ctx context.Context, name string) (int64, error) {
	cp, err := m.checkpoints.GetCheckpoint(ctx, name)
	if err != nil {
		if errors.Is(err, tandem.ErrCheckpointNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return cp.LastGlobalSeq, nil
}

func (m *Manager) projection(name string) (*Projection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projections[name]
	if !ok {
		return nil, fmt.Errorf("projection: %q not registered", name)
	}
	return p, nil
}

// applyOne dispatches the event to its handler, converting a panic
// into an error. Events without a handler are skipped.
func (m *Manager) applyOne(ctx context.Context, p *Projection, evt *eventlog.Event) (err error) {
	h, ok := p.handlerFor(evt.Type)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("projection %s: handler panic: %v", p.name, r)
		}
	}()
	return h(ctx, evt)
}
