package deadletter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/id"
)

// Applier re-applies one event to a named projection. Satisfied by the
// projection manager.
type Applier interface {
	Apply(ctx context.Context, projection string, evt *eventlog.Event) error
}

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store   Store
	applier Applier
	logger  *slog.Logger
}

// NewService creates a dead letter service. applier may be nil when
// replay is not needed (push-only use).
func NewService(store Store, applier Applier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, applier: applier, logger: logger}
}

// Push parks a poisoned event for the projection.
func (s *Service) Push(ctx context.Context, projection string, evt *eventlog.Event, cause error) error {
	now := time.Now().UTC()
	entry := &Entry{
		Entity:     tandem.NewEntity(),
		ID:         id.NewDeadLetterID(),
		Projection: projection,
		Event:      evt,
		EventID:    evt.ID,
		EventType:  evt.Type,
		GlobalSeq:  evt.GlobalSeq,
		Error:      cause.Error(),
		FailedAt:   now,
	}
	if err := s.store.PushDeadLetter(ctx, entry); err != nil {
		return fmt.Errorf("deadletter: push %s for %s: %w", evt.ID, projection, err)
	}
	s.logger.Warn("event dead-lettered",
		slog.String("projection", projection),
		slog.String("event_id", evt.ID.String()),
		slog.String("event_type", evt.Type),
		slog.String("error", cause.Error()),
	)
	return nil
}

// Replay re-applies one entry's event to its projection and marks the
// entry replayed on success.
func (s *Service) Replay(ctx context.Context, entryID id.DeadLetterID) error {
	entry, err := s.store.GetDeadLetter(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Replayed() {
		return nil
	}
	if err := s.applier.Apply(ctx, entry.Projection, entry.Event); err != nil {
		return fmt.Errorf("deadletter: replay %s: %w", entryID, err)
	}
	return s.store.MarkReplayed(ctx, entryID)
}

// ReplayPending replays every unreplayed entry for the projection
// (all projections when empty), at most workers entries concurrently.
// It returns how many entries replayed successfully; entries that fail
// again simply stay parked.
func (s *Service) ReplayPending(ctx context.Context, projection string, workers int) (int, error) {
	entries, err := s.store.ListDeadLetters(ctx, ListOpts{Projection: projection})
	if err != nil {
		return 0, fmt.Errorf("deadletter: list pending: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if workers <= 0 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	replayed := make(chan id.DeadLetterID, len(entries))
	for _, entry := range entries {
		g.Go(func() error {
			if err := s.Replay(ctx, entry.ID); err != nil {
				s.logger.Warn("dead letter replay failed",
					slog.String("entry_id", entry.ID.String()),
					slog.String("projection", entry.Projection),
					slog.String("error", err.Error()),
				)
				return nil
			}
			replayed <- entry.ID
			return nil
		})
	}
	_ = g.Wait()
	close(replayed)

	count := 0
	for range replayed {
		count++
	}
	return count, nil
}

// Store returns the underlying store for direct list, get, purge, and
// count access.
func (s *Service) Store() Store {
	return s.store
}
