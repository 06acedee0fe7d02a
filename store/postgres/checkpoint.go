package postgres

import (
	"context"
	"fmt"

	"github.com/evercart/tandem"
	"github.com/evercart/tandem/projection"
)

// GetCheckpoint loads a projection's checkpoint.
func (s *Store) GetCheckpoint(ctx context.Context, name string) (*projection.Checkpoint, error) {
	var cp projection.Checkpoint
	err := s.pool.QueryRow(ctx, `
		SELECT projection, last_global_seq, created_at, updated_at
		FROM tandem_checkpoints
		WHERE projection = $1`,
		name,
	).Scan(&cp.Projection, &cp.LastGlobalSeq, &cp.CreatedAt, &cp.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, tandem.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("tandem/postgres: get checkpoint: %w", err)
	}
	return &cp, nil
}

// SaveCheckpoint inserts or replaces the checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *projection.Checkpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tandem_checkpoints (projection, last_global_seq, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (projection) DO UPDATE SET
			last_global_seq = EXCLUDED.last_global_seq,
			updated_at = NOW()`,
		cp.Projection, cp.LastGlobalSeq,
	)
	if err != nil {
		return fmt.Errorf("tandem/postgres: save checkpoint: %w", err)
	}
	return nil
}
