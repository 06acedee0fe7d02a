package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/backoff"
	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/id"
)

// EventTypeCommandFailed is the type of the synthetic event injected
// when a command dispatch fails terminally or times out. It travels the
// same event path as any business failure; there is no separate failure
// channel.
const EventTypeCommandFailed = "saga.command_failed"

// Failure is the payload of a command-failed event.
type Failure struct {
	Command      string `json:"command"`
	Step         string `json:"step"`
	Compensating bool   `json:"compensating,omitempty"`
	Reason       string `json:"reason"`
}

// Sink receives the events produced by command handlers and by dispatch
// failures. The engine wires this to the event log and the coordinator.
type Sink interface {
	SubmitEvent(ctx context.Context, evt *eventlog.Event) error
}

// Emitter emits command lifecycle events. The hook registry satisfies
// this directly; the engine plugs it in, which keeps command free of a
// hook import.
type Emitter interface {
	EmitCommandDispatched(ctx context.Context, env *Envelope)
	EmitCommandRetrying(ctx context.Context, env *Envelope, attempt int, err error)
	EmitCommandCompleted(ctx context.Context, env *Envelope, elapsed time.Duration)
	EmitCommandFailed(ctx context.Context, env *Envelope, err error)
}

// NopEmitter is an Emitter that discards all events.
type NopEmitter struct{}

func (NopEmitter) EmitCommandDispatched(context.Context, *Envelope)                 {}
func (NopEmitter) EmitCommandRetrying(context.Context, *Envelope, int, error)      {}
func (NopEmitter) EmitCommandCompleted(context.Context, *Envelope, time.Duration)  {}
func (NopEmitter) EmitCommandFailed(context.Context, *Envelope, error)             {}

// pendingRequest tracks one in-flight command awaiting its response.
type pendingRequest struct {
	env   *Envelope
	timer *time.Timer
}

// Executor dispatches commands asynchronously to registered handlers
// and turns their results into events re-entering the system through
// the Sink. Each dispatch is tracked in a pending-request table keyed
// by RequestID; a dispatch that produces no response before the
// deadline is expired with a synthetic failure event.
type Executor struct {
	sink    Sink
	emitter Emitter
	logger  *slog.Logger

	strategy        backoff.Strategy
	retries         int
	dispatchTimeout time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]*pendingRequest

	wg      sync.WaitGroup
	stopped atomic.Bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithBackoff sets the retry delay strategy between dispatch attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(e *Executor) { e.strategy = s }
}

// WithRetries sets how many times a failed dispatch is retried before
// being escalated as a step failure.
func WithRetries(n int) Option {
	return func(e *Executor) { e.retries = n }
}

// WithDispatchTimeout sets the per-command response deadline.
func WithDispatchTimeout(d time.Duration) Option {
	return func(e *Executor) { e.dispatchTimeout = d }
}

// WithEmitter sets the lifecycle emitter.
func WithEmitter(em Emitter) Option {
	return func(e *Executor) { e.emitter = em }
}

// NewExecutor creates a command executor delivering produced events
// to sink.
func NewExecutor(sink Sink, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		sink:            sink,
		emitter:         NopEmitter{},
		logger:          logger,
		strategy:        backoff.DefaultStrategy(),
		retries:         3,
		dispatchTimeout: 10 * time.Second,
		handlers:        make(map[string]Handler),
		pending:         make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterHandler registers the handler for a command name. A second
// registration for the same name replaces the first.
func (e *Executor) RegisterHandler(name string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = h
}

// Pending returns the number of in-flight requests.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Execute dispatches each command asynchronously to its handler and
// records a pending-request entry per command. It fails fast with
// tandem.ErrUnknownCommand if any command has no registered handler:
// a routing error must surface before any side effect, not as a
// half-dispatched batch.
func (e *Executor) Execute(ctx context.Context, sagaID id.SagaID, cmds []Command) error {
	e.mu.Lock()
	for _, cmd := range cmds {
		if _, ok := e.handlers[cmd.Name]; !ok {
			e.mu.Unlock()
			return fmt.Errorf("command: execute %q: %w", cmd.Name, tandem.ErrUnknownCommand)
		}
	}
	e.mu.Unlock()

	for _, cmd := range cmds {
		env := &Envelope{
			RequestID:  id.NewRequestID(),
			SagaID:     sagaID,
			Command:    cmd,
			ReplyTopic: "saga:" + sagaID.String(),
			IssuedAt:   time.Now().UTC(),
		}

		e.track(env)
		e.emitter.EmitCommandDispatched(ctx, env)

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.dispatch(ctx, env)
		}()
	}
	return nil
}

// track records the pending request and arms its response deadline.
// The timer outlives the Execute caller's context, so expiry runs on a
// background context; the failure event must persist even when the
// caller is gone.
func (e *Executor) track(env *Envelope) {
	key := env.RequestID.String()

	e.mu.Lock()
	defer e.mu.Unlock()

	p := &pendingRequest{env: env}
	p.timer = time.AfterFunc(e.dispatchTimeout, func() {
		e.expire(context.Background(), key)
	})
	e.pending[key] = p
}

// resolve removes a pending request. Returns false if the request was
// already expired or resolved, in which case the caller must drop its
// result.
func (e *Executor) resolve(requestID id.RequestID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pending[requestID.String()]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(e.pending, requestID.String())
	return true
}

// expire fires when no response arrived before the deadline: the
// pending entry is removed and a synthetic failure event is injected.
// A late handler result finds its entry gone and is dropped.
func (e *Executor) expire(ctx context.Context, key string) {
	e.mu.Lock()
	p, ok := e.pending[key]
	delete(e.pending, key)
	e.mu.Unlock()
	if !ok || e.stopped.Load() {
		return
	}

	err := fmt.Errorf("command: no response for %s within %s", p.env.Command.Name, e.dispatchTimeout)
	e.logger.Warn("command dispatch timed out",
		slog.String("request_id", key),
		slog.String("saga_id", p.env.SagaID.String()),
		slog.String("command", p.env.Command.Name),
	)
	e.emitter.EmitCommandFailed(ctx, p.env, err)
	e.submitFailure(ctx, p.env, err)
}

// dispatch encodes the envelope, runs the handler with retries, and
// submits the produced event. Handler errors after the retry budget
// become synthetic failure events, never executor crashes.
func (e *Executor) dispatch(ctx context.Context, env *Envelope) {
	data, err := env.Encode()
	if err != nil {
		if e.resolve(env.RequestID) {
			e.emitter.EmitCommandFailed(ctx, env, err)
			e.submitFailure(ctx, env, err)
		}
		return
	}

	e.mu.Lock()
	h := e.handlers[env.Command.Name]
	e.mu.Unlock()

	start := time.Now()

	var res *Result
	var handleErr error
	for attempt := 0; ; attempt++ {
		res, handleErr = e.handle(ctx, h, data)
		if handleErr == nil || attempt >= e.retries {
			break
		}

		e.emitter.EmitCommandRetrying(ctx, env, attempt+1, handleErr)
		e.logger.Debug("retrying command dispatch",
			slog.String("command", env.Command.Name),
			slog.Int("attempt", attempt+1),
			slog.String("error", handleErr.Error()),
		)

		select {
		case <-time.After(e.strategy.Next(attempt + 1)):
		case <-ctx.Done():
			handleErr = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}

	if !e.resolve(env.RequestID) {
		// Deadline already fired; the failure event is on its way.
		e.logger.Debug("dropping late command result",
			slog.String("request_id", env.RequestID.String()),
			slog.String("command", env.Command.Name),
		)
		return
	}

	if handleErr != nil {
		e.emitter.EmitCommandFailed(ctx, env, handleErr)
		e.submitFailure(ctx, env, handleErr)
		return
	}

	e.emitter.EmitCommandCompleted(ctx, env, time.Since(start))

	evt := eventlog.NewEvent(
		env.Command.AggregateID,
		env.Command.AggregateType,
		res.EventType,
		res.Payload,
		map[string]string{
			eventlog.MetaSagaID:    env.SagaID.String(),
			eventlog.MetaRequestID: env.RequestID.String(),
			eventlog.MetaStep:      env.Command.Step,
		},
	)
	if submitErr := e.sink.SubmitEvent(ctx, evt); submitErr != nil {
		e.logger.Error("failed to submit command result event",
			slog.String("request_id", env.RequestID.String()),
			slog.String("event_type", res.EventType),
			slog.String("error", submitErr.Error()),
		)
	}
}

// handle invokes the handler, converting a panic into an error so a
// misbehaving handler becomes a step failure instead of a crash.
func (e *Executor) handle(ctx context.Context, h Handler, data []byte) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command: handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, data)
}

// submitFailure injects the synthetic failure event for a dead dispatch.
func (e *Executor) submitFailure(ctx context.Context, env *Envelope, cause error) {
	payload, err := json.Marshal(Failure{
		Command:      env.Command.Name,
		Step:         env.Command.Step,
		Compensating: env.Command.Compensating,
		Reason:       cause.Error(),
	})
	if err != nil {
		e.logger.Error("marshal command failure payload", slog.String("error", err.Error()))
		return
	}

	evt := eventlog.NewEvent(
		env.Command.AggregateID,
		env.Command.AggregateType,
		EventTypeCommandFailed,
		payload,
		map[string]string{
			eventlog.MetaSagaID:    env.SagaID.String(),
			eventlog.MetaRequestID: env.RequestID.String(),
			eventlog.MetaStep:      env.Command.Step,
		},
	)
	if submitErr := e.sink.SubmitEvent(ctx, evt); submitErr != nil {
		e.logger.Error("failed to submit command failure event",
			slog.String("request_id", env.RequestID.String()),
			slog.String("error", submitErr.Error()),
		)
	}
}

// Stop waits for in-flight dispatches to finish, up to ctx's deadline.
// Pending deadline timers are disarmed; late responses after Stop are
// dropped.
func (e *Executor) Stop(ctx context.Context) error {
	e.stopped.Store(true)

	e.mu.Lock()
	for key, p := range e.pending {
		p.timer.Stop()
		delete(e.pending, key)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
