package eventlog

import (
	"context"
	"errors"
	"fmt"
)

// NewStreamVersion is the expected version for an append that must
// create the aggregate's stream (no prior events).
const NewStreamVersion int64 = 0

// VersionConflictError is returned by Append when the aggregate's
// stored version does not match the caller's expected version. The
// caller must reload the stream and retry with a fresh version.
type VersionConflictError struct {
	AggregateID string
	Expected    int64
	Actual      int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("eventlog: version conflict on %q: expected %d, have %d",
		e.AggregateID, e.Expected, e.Actual)
}

// IsVersionConflict reports whether err is a VersionConflictError.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc)
}

// Store defines the persistence contract for the event log.
//
// Append is atomic: either every event in the batch commits with
// contiguous versions and global sequence numbers, or nothing is
// written. Readers never observe a partially committed batch.
type Store interface {
	// Append commits events to the aggregate's stream after checking
	// the stored version against expectedVersion (optimistic
	// concurrency). On mismatch it returns *VersionConflictError
	// without writing. On success the passed events are stamped with
	// their assigned Version and GlobalSeq.
	Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion int64, events []*Event) error

	// ReadStream returns all committed events for one aggregate in
	// version order.
	ReadStream(ctx context.Context, aggregateID string) ([]*Event, error)

	// ReadAllAfter returns up to limit committed events with
	// GlobalSeq > after, in global sequence order. A limit of zero
	// means no limit.
	ReadAllAfter(ctx context.Context, after int64, limit int) ([]*Event, error)

	// LastGlobalSeq returns the highest committed global sequence
	// number, or zero for an empty log.
	LastGlobalSeq(ctx context.Context) (int64, error)
}
