package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/eventlog"
)

// Append commits a batch of events in one transaction. The raw SQL
// mirrors the pgx store: a FOR UPDATE lock on the stream row
// serializes writers per aggregate and the position counter is bumped
// in the same transaction.
func (s *Store) Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion int64, events []*eventlog.Event) error {
	if len(events) == 0 {
		return nil
	}

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewRaw(`
			INSERT INTO tandem_streams (aggregate_id, aggregate_type, version)
			VALUES (?, ?, 0)
			ON CONFLICT (aggregate_id) DO NOTHING`,
			aggregateID, aggregateType,
		).Exec(ctx)
		if err != nil {
			return fmt.Errorf("tandem/bun: ensure stream: %w", err)
		}

		var current int64
		err = tx.QueryRowContext(ctx,
			`SELECT version FROM tandem_streams WHERE aggregate_id = ? FOR UPDATE`,
			aggregateID,
		).Scan(&current)
		if err != nil {
			return fmt.Errorf("tandem/bun: lock stream: %w", err)
		}

		if current != expectedVersion {
			return &eventlog.VersionConflictError{
				AggregateID: aggregateID,
				Expected:    expectedVersion,
				Actual:      current,
			}
		}

		var lastSeq int64
		err = tx.QueryRowContext(ctx,
			`UPDATE tandem_log_position SET last_seq = last_seq + ? RETURNING last_seq`,
			len(events),
		).Scan(&lastSeq)
		if err != nil {
			return fmt.Errorf("tandem/bun: advance log position: %w", err)
		}
		baseSeq := lastSeq - int64(len(events))

		now := time.Now().UTC()
		models := make([]*eventModel, 0, len(events))
		for i, evt := range events {
			evt.AggregateID = aggregateID
			evt.AggregateType = aggregateType
			evt.Version = current + int64(i) + 1
			evt.GlobalSeq = baseSeq + int64(i) + 1
			if evt.OccurredAt.IsZero() {
				evt.OccurredAt = now
			}

			m, mErr := toEventModel(evt)
			if mErr != nil {
				return mErr
			}
			models = append(models, m)
		}

		if _, err := tx.NewInsert().Model(&models).Exec(ctx); err != nil {
			if isDuplicateKey(err) {
				return tandem.ErrDuplicateEvent
			}
			return fmt.Errorf("tandem/bun: insert events: %w", err)
		}

		_, err = tx.NewRaw(
			`UPDATE tandem_streams SET version = ? WHERE aggregate_id = ?`,
			current+int64(len(events)), aggregateID,
		).Exec(ctx)
		if err != nil {
			return fmt.Errorf("tandem/bun: advance stream version: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// ReadStream returns all committed events for one aggregate in version
// order.
func (s *Store) ReadStream(ctx context.Context, aggregateID string) ([]*eventlog.Event, error) {
	var models []eventModel
	err := s.db.NewSelect().Model(&models).
		Where("aggregate_id = ?", aggregateID).
		Order("version ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tandem/bun: read stream: %w", err)
	}
	return collectEvents(models)
}

// ReadAllAfter returns up to limit events with GlobalSeq > after, in
// global order.
func (s *Store) ReadAllAfter(ctx context.Context, after int64, limit int) ([]*eventlog.Event, error) {
	q := s.db.NewSelect().Model((*eventModel)(nil)).
		Where("global_seq > ?", after).
		Order("global_seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []eventModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, fmt.Errorf("tandem/bun: read all after: %w", err)
	}
	return collectEvents(models)
}

// LastGlobalSeq returns the counter position, which equals the highest
// committed sequence.
func (s *Store) LastGlobalSeq(ctx context.Context) (int64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `SELECT last_seq FROM tandem_log_position`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("tandem/bun: last global seq: %w", err)
	}
	return last, nil
}

func collectEvents(models []eventModel) ([]*eventlog.Event, error) {
	events := make([]*eventlog.Event, 0, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}
