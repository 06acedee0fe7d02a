package deadletter

import (
	"context"
	"time"

	"github.com/evercart/tandem/id"
)

// ListOpts controls pagination and filtering for dead letter queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no
	// limit.
	Limit int

	// Offset is the number of entries to skip.
	Offset int

	// Projection filters by projection name. Empty means all.
	Projection string

	// IncludeReplayed includes entries already replayed.
	IncludeReplayed bool
}

// Store defines the persistence contract for dead letters.
type Store interface {
	// PushDeadLetter parks a poisoned event.
	PushDeadLetter(ctx context.Context, entry *Entry) error

	// ListDeadLetters returns entries matching opts, oldest first.
	ListDeadLetters(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDeadLetter retrieves an entry by ID. Returns
	// tandem.ErrDeadLetterNotFound when absent.
	GetDeadLetter(ctx context.Context, entryID id.DeadLetterID) (*Entry, error)

	// MarkReplayed stamps ReplayedAt on an entry. The re-apply itself
	// happens at the service layer.
	MarkReplayed(ctx context.Context, entryID id.DeadLetterID) error

	// PurgeDeadLetters removes replayed entries with FailedAt before
	// the given time. Returns the number removed.
	PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error)

	// CountDeadLetters returns the number of entries not yet replayed.
	CountDeadLetters(ctx context.Context) (int64, error)
}
