package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/id"
)

// Compile-time interface check.
var _ Locker = (*Memory)(nil)

// Memory is an in-process Locker backed by one token channel per saga
// instance. Entries are reference-counted and removed when the last
// holder or waiter departs, so the map does not grow with the number
// of sagas ever seen.
type Memory struct {
	mu    sync.Mutex
	wait  time.Duration
	locks map[string]*memLock
}

type memLock struct {
	// ch holds a single token when the lock is free.
	ch   chan struct{}
	refs int
}

// MemoryOption configures a Memory locker.
type MemoryOption func(*Memory)

// WithWait sets the bounded acquisition wait.
func WithWait(d time.Duration) MemoryOption {
	return func(m *Memory) { m.wait = d }
}

// NewMemory creates an in-process locker.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		wait:  DefaultWait,
		locks: make(map[string]*memLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire blocks until the instance lock is held, the bounded wait
// elapses, or ctx is done.
func (m *Memory) Acquire(ctx context.Context, sagaID id.SagaID) error {
	key := sagaID.String()

	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &memLock{ch: make(chan struct{}, 1)}
		l.ch <- struct{}{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	timer := time.NewTimer(m.wait)
	defer timer.Stop()

	select {
	case <-l.ch:
		return nil
	case <-timer.C:
		m.drop(key, l)
		return fmt.Errorf("lock: acquire %s after %s: %w", key, m.wait, tandem.ErrLockTimeout)
	case <-ctx.Done():
		m.drop(key, l)
		return ctx.Err()
	}
}

// Release releases the instance lock. Releasing an unheld lock is a
// no-op.
func (m *Memory) Release(sagaID id.SagaID) {
	key := sagaID.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[key]
	if !ok {
		return
	}

	// Return the token; a second release finds the channel full.
	select {
	case l.ch <- struct{}{}:
	default:
		return
	}

	l.refs--
	if l.refs <= 0 {
		delete(m.locks, key)
	}
}

// drop removes a failed waiter's reference.
func (m *Memory) drop(key string, l *memLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.refs--
	if l.refs <= 0 {
		// Lock may be free (token in channel) with nobody waiting.
		select {
		case <-l.ch:
			delete(m.locks, key)
		default:
			// Still held; the holder's Release will clean up.
		}
	}
}
