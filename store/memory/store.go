// Package memory is a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/deadletter"
	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/id"
	"github.com/evercart/tandem/projection"
	"github.com/evercart/tandem/saga"
)

// Ensure Store implements store.Store at compile time. We can't import
// store here (import cycle), so each subsystem is verified instead.
var (
	_ eventlog.Store             = (*Store)(nil)
	_ saga.Store                 = (*Store)(nil)
	_ projection.CheckpointStore = (*Store)(nil)
	_ deadletter.Store           = (*Store)(nil)
)

// Store holds everything in process memory behind one mutex.
type Store struct {
	mu sync.RWMutex

	// events in commit order; index i holds GlobalSeq i+1.
	events   []*eventlog.Event
	byStream map[string][]*eventlog.Event
	versions map[string]int64

	sagas       map[string]*saga.Instance
	checkpoints map[string]*projection.Checkpoint
	deadLetters map[string]*deadletter.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		byStream:    make(map[string][]*eventlog.Event),
		versions:    make(map[string]int64),
		sagas:       make(map[string]*saga.Instance),
		checkpoints: make(map[string]*projection.Checkpoint),
		deadLetters: make(map[string]*deadletter.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Event Log Store
// ──────────────────────────────────────────────────

// Append commits the batch atomically under the store lock: the
// version check, per-event version assignment, and the contiguous
// global sequence numbers all happen in one critical section.
func (m *Store) Append(_ context.Context, aggregateID, aggregateType string, expectedVersion int64, events []*eventlog.Event) error {
	if len(events) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.versions[aggregateID]
	if current != expectedVersion {
		return &eventlog.VersionConflictError{
			AggregateID: aggregateID,
			Expected:    expectedVersion,
			Actual:      current,
		}
	}

	for i, evt := range events {
		evt.AggregateID = aggregateID
		evt.AggregateType = aggregateType
		evt.Version = current + int64(i) + 1
		evt.GlobalSeq = int64(len(m.events)) + 1

		cp := *evt
		m.events = append(m.events, &cp)
		m.byStream[aggregateID] = append(m.byStream[aggregateID], &cp)
	}
	m.versions[aggregateID] = current + int64(len(events))
	return nil
}

// ReadStream returns the aggregate's events in version order.
func (m *Store) ReadStream(_ context.Context, aggregateID string) ([]*eventlog.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stream := m.byStream[aggregateID]
	out := make([]*eventlog.Event, len(stream))
	for i, evt := range stream {
		cp := *evt
		out[i] = &cp
	}
	return out, nil
}

// ReadAllAfter returns up to limit events with GlobalSeq > after.
func (m *Store) ReadAllAfter(_ context.Context, after int64, limit int) ([]*eventlog.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if after < 0 {
		after = 0
	}
	if after >= int64(len(m.events)) {
		return nil, nil
	}

	tail := m.events[after:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]*eventlog.Event, len(tail))
	for i, evt := range tail {
		cp := *evt
		out[i] = &cp
	}
	return out, nil
}

// LastGlobalSeq returns the highest committed global sequence.
func (m *Store) LastGlobalSeq(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.events)), nil
}

// ──────────────────────────────────────────────────
// Saga Store
// ──────────────────────────────────────────────────

// SaveSaga inserts or replaces the instance.
func (m *Store) SaveSaga(_ context.Context, inst *saga.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sagas[inst.ID.String()] = inst.Snapshot()
	return nil
}

// GetSaga loads an instance by ID.
func (m *Store) GetSaga(_ context.Context, sagaID id.SagaID) (*saga.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.sagas[sagaID.String()]
	if !ok {
		return nil, tandem.ErrSagaNotFound
	}
	return inst.Snapshot(), nil
}

// ListActiveSagas returns non-terminal instances, oldest first.
func (m *Store) ListActiveSagas(_ context.Context) ([]*saga.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*saga.Instance
	for _, inst := range m.sagas {
		if !inst.State.Terminal() {
			out = append(out, inst.Snapshot())
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

// ──────────────────────────────────────────────────
// Checkpoint Store
// ──────────────────────────────────────────────────

// GetCheckpoint loads a projection's checkpoint.
func (m *Store) GetCheckpoint(_ context.Context, projName string) (*projection.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[projName]
	if !ok {
		return nil, tandem.ErrCheckpointNotFound
	}
	out := *cp
	return &out, nil
}

// SaveCheckpoint inserts or replaces the checkpoint.
func (m *Store) SaveCheckpoint(_ context.Context, cp *projection.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *cp
	m.checkpoints[cp.Projection] = &stored
	return nil
}

// ──────────────────────────────────────────────────
// Dead Letter Store
// ──────────────────────────────────────────────────

// PushDeadLetter parks a poisoned event entry.
func (m *Store) PushDeadLetter(_ context.Context, entry *deadletter.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.deadLetters[entry.ID.String()] = &cp
	return nil
}

// ListDeadLetters returns entries matching opts, oldest first.
func (m *Store) ListDeadLetters(_ context.Context, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*deadletter.Entry
	for _, entry := range m.deadLetters {
		if opts.Projection != "" && entry.Projection != opts.Projection {
			continue
		}
		if !opts.IncludeReplayed && entry.Replayed() {
			continue
		}
		cp := *entry
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, k int) bool {
		return all[i].FailedAt.Before(all[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return nil, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, nil
}

// GetDeadLetter retrieves an entry by ID.
func (m *Store) GetDeadLetter(_ context.Context, entryID id.DeadLetterID) (*deadletter.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.deadLetters[entryID.String()]
	if !ok {
		return nil, tandem.ErrDeadLetterNotFound
	}
	cp := *entry
	return &cp, nil
}

// MarkReplayed stamps ReplayedAt on an entry.
func (m *Store) MarkReplayed(_ context.Context, entryID id.DeadLetterID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.deadLetters[entryID.String()]
	if !ok {
		return tandem.ErrDeadLetterNotFound
	}
	now := time.Now().UTC()
	entry.ReplayedAt = &now
	entry.UpdatedAt = now
	return nil
}

// PurgeDeadLetters removes replayed entries with FailedAt before the
// cutoff.
func (m *Store) PurgeDeadLetters(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, entry := range m.deadLetters {
		if entry.Replayed() && entry.FailedAt.Before(before) {
			delete(m.deadLetters, key)
			removed++
		}
	}
	return removed, nil
}

// CountDeadLetters returns the number of unreplayed entries.
func (m *Store) CountDeadLetters(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, entry := range m.deadLetters {
		if !entry.Replayed() {
			n++
		}
	}
	return n, nil
}
