package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DeadLetterPurger deletes replayed dead letters older than a cutoff.
type DeadLetterPurger interface {
	PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error)
}

// SequenceReader reports the highest assigned global sequence.
type SequenceReader interface {
	LastGlobalSeq(ctx context.Context) (int64, error)
}

// CheckpointReader reports a projection's checkpoint position.
type CheckpointReader interface {
	Checkpoint(ctx context.Context, projection string) (int64, error)
}

// PurgeDeadLetters returns a task that deletes replayed dead letters
// older than the retention window.
func PurgeDeadLetters(store DeadLetterPurger, retain time.Duration, logger *slog.Logger) TaskFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) error {
		cutoff := time.Now().UTC().Add(-retain)
		purged, err := store.PurgeDeadLetters(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("purge dead letters: %w", err)
		}
		if purged > 0 {
			logger.Info("purged replayed dead letters",
				slog.Int64("purged", purged),
				slog.Time("cutoff", cutoff),
			)
		}
		return nil
	}
}

// ReportCheckpointLag returns a task that logs how far each projection
// trails the head of the event log. Projections at the head log at
// debug level, lagging ones at warn.
func ReportCheckpointLag(seqs SequenceReader, checkpoints CheckpointReader, projections []string, logger *slog.Logger) TaskFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) error {
		head, err := seqs.LastGlobalSeq(ctx)
		if err != nil {
			return fmt.Errorf("read last global sequence: %w", err)
		}
		for _, name := range projections {
			pos, err := checkpoints.Checkpoint(ctx, name)
			if err != nil {
				return fmt.Errorf("read checkpoint for %s: %w", name, err)
			}
			lag := head - pos
			attrs := []any{
				slog.String("projection", name),
				slog.Int64("position", pos),
				slog.Int64("head", head),
				slog.Int64("lag", lag),
			}
			if lag > 0 {
				logger.Warn("projection trailing event log", attrs...)
			} else {
				logger.Debug("projection at head", attrs...)
			}
		}
		return nil
	}
}
