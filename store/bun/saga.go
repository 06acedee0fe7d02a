package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/id"
	"github.com/evercart/tandem/saga"
)

// SaveSaga inserts or replaces the instance.
func (s *Store) SaveSaga(ctx context.Context, inst *saga.Instance) error {
	m, err := toSagaModel(inst)
	if err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()

	_, err = s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("state = EXCLUDED.state").
		Set("data = EXCLUDED.data").
		Set("metadata = EXCLUDED.metadata").
		Set("completed_steps = EXCLUDED.completed_steps").
		Set("current_step = EXCLUDED.current_step").
		Set("failure_reason = EXCLUDED.failure_reason").
		Set("processed_event_ids = EXCLUDED.processed_event_ids").
		Set("pending_compensations = EXCLUDED.pending_compensations").
		Set("timeout_at = EXCLUDED.timeout_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tandem/bun: save saga: %w", err)
	}
	return nil
}

// GetSaga loads an instance by ID.
func (s *Store) GetSaga(ctx context.Context, sagaID id.SagaID) (*saga.Instance, error) {
	m := new(sagaModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", sagaID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tandem.ErrSagaNotFound
		}
		return nil, fmt.Errorf("tandem/bun: get saga: %w", err)
	}
	return fromSagaModel(m)
}

// ListActiveSagas returns non-terminal instances, oldest first.
func (s *Store) ListActiveSagas(ctx context.Context) ([]*saga.Instance, error) {
	var models []sagaModel
	err := s.db.NewSelect().Model(&models).
		Where("state IN (?, ?)", string(saga.StateStarted), string(saga.StateCompensating)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tandem/bun: list active sagas: %w", err)
	}

	instances := make([]*saga.Instance, 0, len(models))
	for i := range models {
		inst, convErr := fromSagaModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		instances = append(instances, inst)
	}
	return instances, nil
}
