package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/id"
)

// Append commits a batch of events in one transaction. A FOR UPDATE
// lock on the aggregate's stream row serializes writers per
// aggregate; the single-row position counter is bumped in the same
// transaction so global sequences commit contiguous.
func (s *Store) Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion int64, events []*eventlog.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tandem/postgres: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO tandem_streams (aggregate_id, aggregate_type, version)
		VALUES ($1, $2, 0)
		ON CONFLICT (aggregate_id) DO NOTHING`,
		aggregateID, aggregateType,
	)
	if err != nil {
		return fmt.Errorf("tandem/postgres: ensure stream: %w", err)
	}

	var current int64
	err = tx.QueryRow(ctx,
		`SELECT version FROM tandem_streams WHERE aggregate_id = $1 FOR UPDATE`,
		aggregateID,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("tandem/postgres: lock stream: %w", err)
	}

	if current != expectedVersion {
		return &eventlog.VersionConflictError{
			AggregateID: aggregateID,
			Expected:    expectedVersion,
			Actual:      current,
		}
	}

	var lastSeq int64
	err = tx.QueryRow(ctx,
		`UPDATE tandem_log_position SET last_seq = last_seq + $1 RETURNING last_seq`,
		len(events),
	).Scan(&lastSeq)
	if err != nil {
		return fmt.Errorf("tandem/postgres: advance log position: %w", err)
	}
	baseSeq := lastSeq - int64(len(events))

	now := time.Now().UTC()
	for i, evt := range events {
		evt.AggregateID = aggregateID
		evt.AggregateType = aggregateType
		evt.Version = current + int64(i) + 1
		evt.GlobalSeq = baseSeq + int64(i) + 1
		if evt.OccurredAt.IsZero() {
			evt.OccurredAt = now
		}

		metadata, mErr := marshalMetadata(evt.Metadata)
		if mErr != nil {
			return mErr
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO tandem_events (
				id, aggregate_id, aggregate_type, type, version,
				global_seq, payload, metadata, occurred_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			evt.ID.String(), evt.AggregateID, evt.AggregateType, evt.Type, evt.Version,
			evt.GlobalSeq, []byte(evt.Payload), metadata, evt.OccurredAt,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return tandem.ErrDuplicateEvent
			}
			return fmt.Errorf("tandem/postgres: insert event: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE tandem_streams SET version = $2 WHERE aggregate_id = $1`,
		aggregateID, current+int64(len(events)),
	)
	if err != nil {
		return fmt.Errorf("tandem/postgres: advance stream version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tandem/postgres: commit append: %w", err)
	}
	return nil
}

// ReadStream returns all committed events for one aggregate in version
// order.
func (s *Store) ReadStream(ctx context.Context, aggregateID string) ([]*eventlog.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, aggregate_id, aggregate_type, type, version,
			global_seq, payload, metadata, occurred_at
		FROM tandem_events
		WHERE aggregate_id = $1
		ORDER BY version ASC`,
		aggregateID,
	)
	if err != nil {
		return nil, fmt.Errorf("tandem/postgres: read stream: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ReadAllAfter returns up to limit events with GlobalSeq > after, in
// global order.
func (s *Store) ReadAllAfter(ctx context.Context, after int64, limit int) ([]*eventlog.Event, error) {
	query := `
		SELECT
			id, aggregate_id, aggregate_type, type, version,
			global_seq, payload, metadata, occurred_at
		FROM tandem_events
		WHERE global_seq > $1
		ORDER BY global_seq ASC`
	args := []any{after}

	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tandem/postgres: read all after: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// LastGlobalSeq returns the counter position, which equals the highest
// committed sequence.
func (s *Store) LastGlobalSeq(ctx context.Context) (int64, error) {
	var last int64
	err := s.pool.QueryRow(ctx, `SELECT last_seq FROM tandem_log_position`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("tandem/postgres: last global seq: %w", err)
	}
	return last, nil
}

// scanEvent scans a single event row.
func scanEvent(row pgx.Row) (*eventlog.Event, error) {
	var (
		evt      eventlog.Event
		idStr    string
		payload  []byte
		metadata []byte
	)
	err := row.Scan(
		&idStr, &evt.AggregateID, &evt.AggregateType, &evt.Type, &evt.Version,
		&evt.GlobalSeq, &payload, &metadata, &evt.OccurredAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseEventID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tandem/postgres: parse event id %q: %w", idStr, parseErr)
	}
	evt.ID = parsedID

	if len(payload) > 0 {
		evt.Payload = json.RawMessage(payload)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &evt.Metadata); err != nil {
			return nil, fmt.Errorf("tandem/postgres: decode event metadata: %w", err)
		}
	}

	return &evt, nil
}

// collectEvents collects all events from query rows.
func collectEvents(rows pgx.Rows) ([]*eventlog.Event, error) {
	var events []*eventlog.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("tandem/postgres: scan event row: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tandem/postgres: iterate event rows: %w", err)
	}
	return events, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("tandem/postgres: encode event metadata: %w", err)
	}
	return data, nil
}
