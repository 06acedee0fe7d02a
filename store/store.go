// Package store defines the aggregate persistence interface. Each
// subsystem (eventlog, saga, projection, deadletter) defines its own
// store interface; the composite Store composes them all so a single
// backend serves the whole engine. Backends: Postgres, Bun, and Memory.
package store

import (
	"context"

	"github.com/evercart/tandem/deadletter"
	"github.com/evercart/tandem/eventlog"
	"github.com/evercart/tandem/projection"
	"github.com/evercart/tandem/saga"
)

// Store is the aggregate persistence interface. A single backend
// implements every subsystem store, keeping the event log and the
// saga/checkpoint tables in one database so operators get one thing
// to back up and one transaction domain for the log.
type Store interface {
	eventlog.Store
	saga.Store
	projection.CheckpointStore
	deadletter.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
