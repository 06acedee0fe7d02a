package tandem

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("tandem: no store configured")
	ErrStoreClosed     = errors.New("tandem: store closed")
	ErrMigrationFailed = errors.New("tandem: migration failed")

	// Not found errors.
	ErrEventNotFound      = errors.New("tandem: event not found")
	ErrSagaNotFound       = errors.New("tandem: saga instance not found")
	ErrCheckpointNotFound = errors.New("tandem: projection checkpoint not found")
	ErrDeadLetterNotFound = errors.New("tandem: dead letter entry not found")

	// Routing / configuration errors. Non-retryable.
	ErrUnknownSagaType = errors.New("tandem: unknown saga type")
	ErrUnknownCommand  = errors.New("tandem: no handler registered for command")

	// Concurrency errors. Retryable by the caller.
	ErrLockTimeout = errors.New("tandem: saga instance busy, lock wait exceeded")

	// State errors.
	ErrSagaTerminal   = errors.New("tandem: saga instance is in a terminal state")
	ErrDuplicateEvent = errors.New("tandem: event already exists")
)
