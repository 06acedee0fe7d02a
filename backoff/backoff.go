// Package backoff provides retry delay strategies for command dispatch.
// All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Next returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Next(attempt int) time.Duration
}

// Func adapts a plain function to a Strategy.
type Func func(attempt int) time.Duration

// Next calls f.
func (f Func) Next(attempt int) time.Duration { return f(attempt) }

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant waits the same interval between every attempt.
func Constant(interval time.Duration) Strategy {
	return Func(func(int) time.Duration { return interval })
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt, capped at max.
// Next = min(initial * 2^(attempt-1), max).
func Exponential(initial, max time.Duration) Strategy {
	return Func(func(attempt int) time.Duration {
		d := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
		if max > 0 && d > max {
			return max
		}
		return d
	})
}

// ──────────────────────────────────────────────────
// Jitter
// ──────────────────────────────────────────────────

// WithJitter wraps a strategy with full jitter: each delay is drawn
// uniformly from [0, base]. This spreads simultaneous retries apart.
func WithJitter(s Strategy) Strategy {
	return Func(func(attempt int) time.Duration {
		base := s.Next(attempt)
		if base <= 0 {
			return 0
		}
		return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter intentionally uses non-crypto rand
	})
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default dispatch backoff: jittered
// exponential with 100ms initial and 5s max. Command retries are meant
// to ride out transient downstream hiccups, not long outages; a retry
// budget that outlives the dispatch deadline is wasted.
func DefaultStrategy() Strategy {
	return WithJitter(Exponential(100*time.Millisecond, 5*time.Second))
}
