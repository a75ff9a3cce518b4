// Package workload simulates the latency and results of the demo handlers.
package workload

import (
	"context"
	"math/rand/v2"
	"time"
)

// Source draws simulated durations and values.
type Source interface {
	// Between returns a duration in [min, max].
	Between(min, max time.Duration) time.Duration
	// IntBetween returns an integer in [min, max].
	IntBetween(min, max int) int
}

// Random draws from math/rand/v2. It is safe for concurrent use.
type Random struct{}

// NewRandom returns the default random source.
func NewRandom() Random {
	return Random{}
}

// Between implements Source.
func (Random) Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}

// IntBetween implements Source.
func (Random) IntBetween(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.IntN(max-min+1)
}

// Fixed always returns the same draws. Tests use it to pin a scenario.
type Fixed struct {
	Duration time.Duration
	Int      int
}

// Between implements Source.
func (f Fixed) Between(_, _ time.Duration) time.Duration {
	return f.Duration
}

// IntBetween implements Source.
func (f Fixed) IntBetween(_, _ int) int {
	return f.Int
}

// WholeSeconds draws a duration in [min, max] from src. When both bounds are
// whole seconds the draw is truncated to whole seconds, each equally likely.
func WholeSeconds(src Source, min, max time.Duration) time.Duration {
	if min%time.Second != 0 || max%time.Second != 0 || max <= min {
		return src.Between(min, max)
	}
	return src.Between(min, max+time.Second-1).Truncate(time.Second)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
