package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/deadletter"
	"github.com/evercart/tandem/id"
)

// PushDeadLetter parks a poisoned event.
func (s *Store) PushDeadLetter(ctx context.Context, entry *deadletter.Entry) error {
	m, err := toDeadLetterModel(entry)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("tandem/bun: push dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns entries matching opts, oldest first.
func (s *Store) ListDeadLetters(ctx context.Context, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	q := s.db.NewSelect().Model((*deadLetterModel)(nil)).
		Order("failed_at ASC")

	if opts.Projection != "" {
		q = q.Where("projection = ?", opts.Projection)
	}
	if !opts.IncludeReplayed {
		q = q.Where("replayed_at IS NULL")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var models []deadLetterModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, fmt.Errorf("tandem/bun: list dead letters: %w", err)
	}

	entries := make([]*deadletter.Entry, 0, len(models))
	for i := range models {
		entry, convErr := fromDeadLetterModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetDeadLetter retrieves an entry by ID.
func (s *Store) GetDeadLetter(ctx context.Context, entryID id.DeadLetterID) (*deadletter.Entry, error) {
	m := new(deadLetterModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", entryID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tandem.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("tandem/bun: get dead letter: %w", err)
	}
	return fromDeadLetterModel(m)
}

// MarkReplayed stamps ReplayedAt on an entry.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.DeadLetterID) error {
	res, err := s.db.NewUpdate().
		TableExpr("tandem_dead_letters").
		Set("replayed_at = NOW()").
		Set("updated_at = NOW()").
		Where("id = ?", entryID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tandem/bun: mark replayed: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return tandem.ErrDeadLetterNotFound
	}
	return nil
}

// PurgeDeadLetters removes replayed entries that failed before the
// given time.
func (s *Store) PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("tandem_dead_letters").
		Where("replayed_at IS NOT NULL").
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("tandem/bun: purge dead letters: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CountDeadLetters returns the number of entries not yet replayed.
func (s *Store) CountDeadLetters(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().Model((*deadLetterModel)(nil)).
		Where("replayed_at IS NULL").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("tandem/bun: count dead letters: %w", err)
	}
	return int64(count), nil
}
