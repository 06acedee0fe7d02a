package tandem

import "time"

// Config holds tunables shared by the engine's long-running components.
type Config struct {
	// LockWait is the bounded wait for acquiring a saga instance lock.
	// Exceeding it surfaces ErrLockTimeout to the caller for retry.
	LockWait time.Duration

	// StepTimeout is the default deadline armed for each saga step.
	StepTimeout time.Duration

	// DispatchTimeout is how long the executor waits for a command
	// response before injecting a synthetic failure event.
	DispatchTimeout time.Duration

	// DispatchRetries is how many times a failed command dispatch is
	// retried before being escalated as a step failure.
	DispatchRetries int

	// PollInterval is how often the projection manager polls the log.
	PollInterval time.Duration

	// BatchSize is the maximum number of events read per catch-up poll.
	BatchSize int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LockWait:        5 * time.Second,
		StepTimeout:     30 * time.Second,
		DispatchTimeout: 10 * time.Second,
		DispatchRetries: 3,
		PollInterval:    200 * time.Millisecond,
		BatchSize:       100,
		ShutdownTimeout: 30 * time.Second,
	}
}
