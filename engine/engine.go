package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/backoff"
	"github.com/evercart/tandem/bus"
	"github.com/evercart/tandem/command"
	"github.com/evercart/tandem/deadletter"
	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/hook"
	"github.com/evercart/tandem/id"
	"github.com/evercart/tandem/lock"
	"github.com/evercart/tandem/maintenance"
	"github.com/evercart/tandem/projection"
	"github.com/evercart/tandem/saga"
	"github.com/evercart/tandem/store"
	"github.com/evercart/tandem/timeout"
)

// submitRetries bounds the optimistic-concurrency retry loop in
// SubmitEvent. Handler result events race with other writers on the
// same aggregate, so a conflict is expected and retried with the
// version the conflict reported.
const submitRetries = 5

// defaultDeadLetterRetention is how long replayed dead letters are
// kept before the maintenance purge removes them.
const defaultDeadLetterRetention = 7 * 24 * time.Hour

// Compile-time checks: the engine is the sink for handler result
// events and the dead-letter target for poisoned projections.
var (
	_ command.Sink            = (*Engine)(nil)
	_ projection.DeadLetterer = (*Engine)(nil)
)

// Engine is the assembled orchestration runtime.
type Engine struct {
	cfg    tandem.Config
	logger *slog.Logger
	store  store.Store

	hooks       *hook.Registry
	eventBus    *bus.Bus
	locks       lock.Locker
	registry    *saga.Registry
	executor    *command.Executor
	timeouts    *timeout.Manager
	coordinator *saga.Coordinator
	projections *projection.Manager
	deadLetters *deadletter.Service
	scheduler   *maintenance.Scheduler

	retention       time.Duration
	projectionNames []string

	mu      sync.Mutex
	started bool

	// Deferred option inputs applied during New.
	bo         backoff.Strategy
	extensions []hook.Extension
	lockOpt    lock.Locker
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine tunables. Defaults to
// tandem.DefaultConfig().
func WithConfig(cfg tandem.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger shared by all subsystems.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithLocker sets the saga instance lock manager. Defaults to the
// in-process lock.Memory; pass lock.NewRedis for multi-process
// deployments.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.lockOpt = l }
}

// WithExtension registers an extension with the engine's hook
// registry.
func WithExtension(ext hook.Extension) Option {
	return func(e *Engine) { e.extensions = append(e.extensions, ext) }
}

// WithBackoff sets the command dispatch retry strategy. Defaults to
// backoff.DefaultStrategy() (exponential with jitter).
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithDeadLetterRetention sets how long replayed dead letters are kept
// before the maintenance purge removes them.
func WithDeadLetterRetention(d time.Duration) Option {
	return func(e *Engine) { e.retention = d }
}

// New assembles an Engine on top of the given store.
func New(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, tandem.ErrNoStore
	}

	e := &Engine{
		cfg:       tandem.DefaultConfig(),
		logger:    slog.Default(),
		store:     st,
		registry:  saga.NewRegistry(),
		retention: defaultDeadLetterRetention,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bo == nil {
		e.bo = backoff.DefaultStrategy()
	}

	e.hooks = hook.NewRegistry(e.logger)
	for _, ext := range e.extensions {
		e.hooks.Register(ext)
	}

	e.eventBus = bus.New(e.logger)

	e.locks = e.lockOpt
	if e.locks == nil {
		e.locks = lock.NewMemory(lock.WithWait(e.cfg.LockWait))
	}

	e.executor = command.NewExecutor(e, e.logger,
		command.WithEmitter(e.hooks),
		command.WithBackoff(e.bo),
		command.WithRetries(e.cfg.DispatchRetries),
		command.WithDispatchTimeout(e.cfg.DispatchTimeout),
	)

	// Timeout firings re-enter through the coordinator like any other
	// event. Synthetic timeout events are not appended to the log.
	e.timeouts = timeout.NewManager(func(evt *eventlog.Event) {
		if err := e.coordinator.ProcessEvent(context.Background(), evt); err != nil {
			e.logger.Error("processing step timeout failed",
				slog.String("saga_id", evt.SagaID().String()),
				slog.String("error", err.Error()),
			)
		}
	}, e.logger)

	e.coordinator = saga.NewCoordinator(
		e.registry, st, e.locks, e.timeouts, e.executor, e.logger,
		saga.WithEmitter(e.hooks),
		saga.WithStepTimeout(e.cfg.StepTimeout),
	)

	e.projections = projection.NewManager(st, st, e.logger,
		projection.WithPollInterval(e.cfg.PollInterval),
		projection.WithBatchSize(e.cfg.BatchSize),
		projection.WithDeadLetter(e),
	)

	e.deadLetters = deadletter.NewService(st, e.projections, e.logger)

	e.scheduler = maintenance.NewScheduler(e.logger)

	return e, nil
}

// ── Registration ──────────────────────────────────────────────────

// RegisterSaga registers a saga definition. Its trigger events become
// routable once registered.
func (e *Engine) RegisterSaga(def saga.Definition) error {
	return e.registry.Register(def)
}

// RegisterCommandHandler registers the handler a command name routes
// to.
func (e *Engine) RegisterCommandHandler(name string, h command.Handler) {
	e.executor.RegisterHandler(name, h)
}

// RegisterProjection registers a read-model projection for catch-up
// polling.
func (e *Engine) RegisterProjection(p *projection.Projection) error {
	if err := e.projections.Register(p); err != nil {
		return err
	}
	e.projectionNames = append(e.projectionNames, p.Name())
	return nil
}

// ── Event intake ──────────────────────────────────────────────────

// AppendEvents commits events to the aggregate's stream and feeds them
// through the engine: hooks fire, the bus fans out, and the
// coordinator routes each event to any saga it triggers or correlates
// with.
func (e *Engine) AppendEvents(ctx context.Context, aggregateID, aggregateType string, expectedVersion int64, events []*eventlog.Event) error {
	if err := e.store.Append(ctx, aggregateID, aggregateType, expectedVersion, events); err != nil {
		return err
	}
	for _, evt := range events {
		e.route(ctx, evt)
	}
	return nil
}

// SubmitEvent appends a single handler-produced event to its
// aggregate's stream, retrying version conflicts with the version the
// conflict reported.
func (e *Engine) SubmitEvent(ctx context.Context, evt *eventlog.Event) error {
	current, err := e.streamVersion(ctx, evt.AggregateID)
	if err != nil {
		return err
	}

	for range submitRetries {
		err = e.store.Append(ctx, evt.AggregateID, evt.AggregateType, current, []*eventlog.Event{evt})
		if err == nil {
			e.route(ctx, evt)
			return nil
		}

		var conflict *eventlog.VersionConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		current = conflict.Actual
	}
	return err
}

// ProcessEvent routes an already-committed event to the saga
// coordinator: it may trigger a new instance or advance the one it is
// correlated with. For events not yet in the log use AppendEvents or
// SubmitEvent, which commit first and then route; ProcessEvent never
// appends.
func (e *Engine) ProcessEvent(ctx context.Context, evt *eventlog.Event) error {
	return e.coordinator.ProcessEvent(ctx, evt)
}

// route fans a committed event out to hooks, bus subscribers, and the
// saga coordinator.
func (e *Engine) route(ctx context.Context, evt *eventlog.Event) {
	e.hooks.EmitEventAppended(ctx, evt)
	e.eventBus.Publish(evt)

	if err := e.coordinator.ProcessEvent(ctx, evt); err != nil {
		e.logger.Error("saga routing failed",
			slog.String("event_id", evt.ID.String()),
			slog.String("event_type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}

// streamVersion derives the aggregate's current version from its
// committed event count. Versions are contiguous from 1.
func (e *Engine) streamVersion(ctx context.Context, aggregateID string) (int64, error) {
	events, err := e.store.ReadStream(ctx, aggregateID)
	if err != nil {
		return 0, fmt.Errorf("engine: read stream %q: %w", aggregateID, err)
	}
	return int64(len(events)), nil
}

// Push parks a poisoned projection event in the dead letter store.
func (e *Engine) Push(ctx context.Context, projectionName string, evt *eventlog.Event, cause error) error {
	return e.deadLetters.Push(ctx, projectionName, evt, cause)
}

// ── Saga operations ───────────────────────────────────────────────

// StartSaga starts a new instance of the registered saga type.
func (e *Engine) StartSaga(ctx context.Context, sagaType string, data map[string]any, metadata map[string]string) (id.SagaID, error) {
	return e.coordinator.StartSaga(ctx, sagaType, data, metadata)
}

// GetSagaStatus returns a snapshot of the instance's current state.
func (e *Engine) GetSagaStatus(ctx context.Context, sagaID id.SagaID) (*saga.Instance, error) {
	return e.coordinator.GetStatus(ctx, sagaID)
}

// ── Lifecycle ─────────────────────────────────────────────────────

// Start re-arms step timeouts for sagas that were in flight, starts
// projection polling, and launches the maintenance scheduler.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	if err := e.coordinator.RecoverTimeouts(ctx); err != nil {
		e.logger.Warn("timeout recovery failed",
			slog.String("error", err.Error()),
		)
	}

	e.projections.Start(ctx)

	if err := e.registerMaintenance(); err != nil {
		return err
	}
	if err := e.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("engine: start maintenance scheduler: %w", err)
	}

	e.started = true
	e.logger.Info("engine started",
		slog.Int("saga_types", len(e.registry.Types())),
		slog.Int("projections", len(e.projectionNames)),
	)
	return nil
}

// Stop shuts the engine down: the maintenance scheduler and projection
// pollers stop, in-flight command dispatches drain, step timers are
// disarmed, and shutdown hooks fire. Bounded by cfg.ShutdownTimeout
// when ctx carries no deadline.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}

	if err := e.scheduler.Stop(ctx); err != nil {
		e.logger.Error("maintenance scheduler stop error", slog.String("error", err.Error()))
	}
	if err := e.projections.Stop(ctx); err != nil {
		e.logger.Error("projection manager stop error", slog.String("error", err.Error()))
	}
	if err := e.executor.Stop(ctx); err != nil {
		e.logger.Error("command executor stop error", slog.String("error", err.Error()))
	}
	e.timeouts.Stop()
	e.hooks.EmitShutdown(ctx)

	e.started = false
	e.logger.Info("engine stopped")
	return nil
}

// registerMaintenance wires the periodic housekeeping tasks: purging
// replayed dead letters and reporting projection checkpoint lag.
func (e *Engine) registerMaintenance() error {
	purge := maintenance.PurgeDeadLetters(e.store, e.retention, e.logger)
	if err := e.scheduler.Register("purge_dead_letters", "@every 1h", purge); err != nil {
		return err
	}

	lag := maintenance.ReportCheckpointLag(e.store, e.projections, e.projectionNames, e.logger)
	if err := e.scheduler.Register("checkpoint_lag", "@every 1m", lag); err != nil {
		return err
	}
	return nil
}

// ── Accessors ─────────────────────────────────────────────────────

// Hooks returns the extension registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// Bus returns the in-process event bus for wakeup subscriptions.
func (e *Engine) Bus() *bus.Bus { return e.eventBus }

// Projections returns the projection manager.
func (e *Engine) Projections() *projection.Manager { return e.projections }

// DeadLetters returns the dead letter service for inspection and
// replay.
func (e *Engine) DeadLetters() *deadletter.Service { return e.deadLetters }

// Store returns the backing store.
func (e *Engine) Store() store.Store { return e.store }
