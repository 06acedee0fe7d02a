package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/projection"
)

// GetCheckpoint loads a projection's checkpoint.
func (s *Store) GetCheckpoint(ctx context.Context, name string) (*projection.Checkpoint, error) {
	m := new(checkpointModel)
	err := s.db.NewSelect().Model(m).
		Where("projection = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tandem.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("tandem/bun: get checkpoint: %w", err)
	}
	return fromCheckpointModel(m), nil
}

// SaveCheckpoint inserts or replaces the checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *projection.Checkpoint) error {
	now := time.Now().UTC()
	m := &checkpointModel{
		Projection:    cp.Projection,
		LastGlobalSeq: cp.LastGlobalSeq,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !cp.CreatedAt.IsZero() {
		m.CreatedAt = cp.CreatedAt
	}

	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (projection) DO UPDATE").
		Set("last_global_seq = EXCLUDED.last_global_seq").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tandem/bun: save checkpoint: %w", err)
	}
	return nil
}
