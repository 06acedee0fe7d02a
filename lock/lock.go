// Package lock provides per-saga-instance mutual exclusion.
//
// The coordinator holds an instance's lock for the duration of one
// event-processing cycle (read state → compute → persist → release),
// so no two goroutines ever read-modify-write the same instance
// concurrently. Different instances proceed fully in parallel.
// Acquisition has a bounded wait; exceeding it surfaces the retryable
// tandem.ErrLockTimeout, never a deadlock (lock scope is a single key
// and critical sections are short and non-reentrant).
package lock

import (
	"context"
	"time"

	"github.com/evercart/tandem/id"
)

// DefaultWait is the default bounded wait for lock acquisition.
const DefaultWait = 5 * time.Second

// Locker provides mutual exclusion scoped to a single saga instance id.
type Locker interface {
	// Acquire blocks until the instance lock is held, the bounded wait
	// elapses (tandem.ErrLockTimeout), or ctx is done.
	Acquire(ctx context.Context, sagaID id.SagaID) error

	// Release releases the instance lock. Releasing an unheld lock is
	// a no-op.
	Release(sagaID id.SagaID)
}
