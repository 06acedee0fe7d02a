package projection

import (
	"context"

	"github.com/evercart/tandem"
)

// Checkpoint records the last global sequence a projection has fully
// applied. It advances only after an entire batch succeeds.
type Checkpoint struct {
	tandem.Entity

	Projection    string `json:"projection"`
	LastGlobalSeq int64  `json:"last_global_sequence"`
}

// CheckpointStore persists projection checkpoints.
type CheckpointStore interface {
	// GetCheckpoint loads a projection's checkpoint. Returns
	// tandem.ErrCheckpointNotFound when the projection has never
	// advanced.
	GetCheckpoint(ctx context.Context, projection string) (*Checkpoint, error)

	// SaveCheckpoint inserts or replaces the checkpoint.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
}
