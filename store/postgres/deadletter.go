package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/deadletter"
	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/id"
)

// PushDeadLetter parks a poisoned event.
func (s *Store) PushDeadLetter(ctx context.Context, entry *deadletter.Entry) error {
	event, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("tandem/postgres: encode dead letter event: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tandem_dead_letters (
			id, projection, event, event_id, event_type, global_seq,
			error, failed_at, replayed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
		entry.ID.String(), entry.Projection, event,
		entry.EventID.String(), entry.EventType, entry.GlobalSeq,
		entry.Error, entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("tandem/postgres: push dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns entries matching opts, oldest first.
func (s *Store) ListDeadLetters(ctx context.Context, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	query := `
		SELECT
			id, projection, event, event_id, event_type, global_seq,
			error, failed_at, replayed_at, created_at, updated_at
		FROM tandem_dead_letters
		WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Projection != "" {
		query += fmt.Sprintf(" AND projection = $%d", argIdx)
		args = append(args, opts.Projection)
		argIdx++
	}
	if !opts.IncludeReplayed {
		query += " AND replayed_at IS NULL"
	}

	query += " ORDER BY failed_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tandem/postgres: list dead letters: %w", err)
	}
	defer rows.Close()

	var entries []*deadletter.Entry
	for rows.Next() {
		entry, scanErr := scanDeadLetter(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("tandem/postgres: scan dead letter row: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tandem/postgres: iterate dead letter rows: %w", err)
	}
	return entries, nil
}

// GetDeadLetter retrieves an entry by ID.
func (s *Store) GetDeadLetter(ctx context.Context, entryID id.DeadLetterID) (*deadletter.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, projection, event, event_id, event_type, global_seq,
			error, failed_at, replayed_at, created_at, updated_at
		FROM tandem_dead_letters
		WHERE id = $1`,
		entryID.String(),
	)

	entry, err := scanDeadLetter(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tandem.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("tandem/postgres: get dead letter: %w", err)
	}
	return entry, nil
}

// MarkReplayed stamps ReplayedAt on an entry.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.DeadLetterID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tandem_dead_letters
		SET replayed_at = NOW(), updated_at = NOW()
		WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("tandem/postgres: mark replayed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tandem.ErrDeadLetterNotFound
	}
	return nil
}

// PurgeDeadLetters removes replayed entries that failed before the
// given time.
func (s *Store) PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tandem_dead_letters
		WHERE replayed_at IS NOT NULL AND failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("tandem/postgres: purge dead letters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDeadLetters returns the number of entries not yet replayed.
func (s *Store) CountDeadLetters(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tandem_dead_letters WHERE replayed_at IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("tandem/postgres: count dead letters: %w", err)
	}
	return count, nil
}

// scanDeadLetter scans a single dead letter row.
func scanDeadLetter(row pgx.Row) (*deadletter.Entry, error) {
	var (
		entry      deadletter.Entry
		idStr      string
		eventIDStr string
		event      []byte
	)
	err := row.Scan(
		&idStr, &entry.Projection, &event, &eventIDStr, &entry.EventType,
		&entry.GlobalSeq, &entry.Error, &entry.FailedAt, &entry.ReplayedAt,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseDeadLetterID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tandem/postgres: parse dead letter id %q: %w", idStr, parseErr)
	}
	entry.ID = parsedID

	parsedEventID, parseErr := id.ParseEventID(eventIDStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tandem/postgres: parse event id %q: %w", eventIDStr, parseErr)
	}
	entry.EventID = parsedEventID

	if len(event) > 0 {
		var evt eventlog.Event
		if err := json.Unmarshal(event, &evt); err != nil {
			return nil, fmt.Errorf("tandem/postgres: decode dead letter event: %w", err)
		}
		entry.Event = &evt
	}

	return &entry, nil
}
