package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/id"
	"github.com/evercart/tandem/saga"
)

// SaveSaga inserts or replaces the instance.
func (s *Store) SaveSaga(ctx context.Context, inst *saga.Instance) error {
	data, err := json.Marshal(inst.Data)
	if err != nil {
		return fmt.Errorf("tandem/postgres: encode saga data: %w", err)
	}
	metadata, err := json.Marshal(inst.Metadata)
	if err != nil {
		return fmt.Errorf("tandem/postgres: encode saga metadata: %w", err)
	}
	completed, err := json.Marshal(inst.CompletedSteps)
	if err != nil {
		return fmt.Errorf("tandem/postgres: encode completed steps: %w", err)
	}
	processed, err := json.Marshal(inst.ProcessedEventIDs)
	if err != nil {
		return fmt.Errorf("tandem/postgres: encode processed event ids: %w", err)
	}
	pending, err := json.Marshal(inst.PendingCompensations)
	if err != nil {
		return fmt.Errorf("tandem/postgres: encode pending compensations: %w", err)
	}

	var timeoutAt *time.Time
	if !inst.TimeoutAt.IsZero() {
		timeoutAt = &inst.TimeoutAt
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tandem_sagas (
			id, saga_type, state, data, metadata, completed_steps,
			current_step, failure_reason, processed_event_ids,
			pending_compensations, timeout_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			data = EXCLUDED.data,
			metadata = EXCLUDED.metadata,
			completed_steps = EXCLUDED.completed_steps,
			current_step = EXCLUDED.current_step,
			failure_reason = EXCLUDED.failure_reason,
			processed_event_ids = EXCLUDED.processed_event_ids,
			pending_compensations = EXCLUDED.pending_compensations,
			timeout_at = EXCLUDED.timeout_at,
			updated_at = NOW()`,
		inst.ID.String(), inst.SagaType, string(inst.State),
		data, metadata, completed,
		inst.CurrentStep, inst.FailureReason, processed,
		pending, timeoutAt, inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("tandem/postgres: save saga: %w", err)
	}
	return nil
}

// GetSaga loads an instance by ID.
func (s *Store) GetSaga(ctx context.Context, sagaID id.SagaID) (*saga.Instance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, saga_type, state, data, metadata, completed_steps,
			current_step, failure_reason, processed_event_ids,
			pending_compensations, timeout_at, created_at, updated_at
		FROM tandem_sagas
		WHERE id = $1`,
		sagaID.String(),
	)

	inst, err := scanSaga(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tandem.ErrSagaNotFound
		}
		return nil, fmt.Errorf("tandem/postgres: get saga: %w", err)
	}
	return inst, nil
}

// ListActiveSagas returns non-terminal instances, oldest first.
func (s *Store) ListActiveSagas(ctx context.Context) ([]*saga.Instance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, saga_type, state, data, metadata, completed_steps,
			current_step, failure_reason, processed_event_ids,
			pending_compensations, timeout_at, created_at, updated_at
		FROM tandem_sagas
		WHERE state IN ('started', 'compensating')
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("tandem/postgres: list active sagas: %w", err)
	}
	defer rows.Close()

	var instances []*saga.Instance
	for rows.Next() {
		inst, scanErr := scanSaga(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("tandem/postgres: scan saga row: %w", scanErr)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tandem/postgres: iterate saga rows: %w", err)
	}
	return instances, nil
}

// scanSaga scans a single saga row.
func scanSaga(row pgx.Row) (*saga.Instance, error) {
	var (
		inst      saga.Instance
		idStr     string
		stateStr  string
		data      []byte
		metadata  []byte
		completed []byte
		processed []byte
		pending   []byte
		timeoutAt *time.Time
	)
	err := row.Scan(
		&idStr, &inst.SagaType, &stateStr, &data, &metadata, &completed,
		&inst.CurrentStep, &inst.FailureReason, &processed,
		&pending, &timeoutAt, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseSagaID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("tandem/postgres: parse saga id %q: %w", idStr, parseErr)
	}
	inst.ID = parsedID
	inst.State = saga.State(stateStr)

	if err := decodeJSONColumn(data, &inst.Data, "saga data"); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(metadata, &inst.Metadata, "saga metadata"); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(completed, &inst.CompletedSteps, "completed steps"); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(processed, &inst.ProcessedEventIDs, "processed event ids"); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(pending, &inst.PendingCompensations, "pending compensations"); err != nil {
		return nil, err
	}

	if timeoutAt != nil {
		inst.TimeoutAt = *timeoutAt
	}

	return &inst, nil
}

// decodeJSONColumn unmarshals a nullable JSONB column, leaving the
// target zero-valued when the column is NULL or the JSON null literal.
func decodeJSONColumn(data []byte, target any, what string) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("tandem/postgres: decode %s: %w", what, err)
	}
	return nil
}
