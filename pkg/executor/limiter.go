package executor

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent is the default admission limit for migrations.
const DefaultMaxConcurrent = 2

// Limiter is a counting admission gate for concurrent work-stage calls.
// Exactly one Acquire/Release pair belongs to each executor invocation that
// was given a limiter; Release must run on every exit path.
type Limiter struct {
	sem *semaphore.Weighted
	max int
}

// NewLimiter creates a limiter admitting up to max concurrent holders.
func NewLimiter(max int) *Limiter {
	if max < 1 {
		max = DefaultMaxConcurrent
	}
	return &Limiter{
		sem: semaphore.NewWeighted(int64(max)),
		max: max,
	}
}

// Max returns the configured admission limit.
func (l *Limiter) Max() int {
	return l.max
}

// Acquire suspends the caller until a slot is free or the context ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// TryAcquire takes a slot without blocking.
func (l *Limiter) TryAcquire() bool {
	return l.sem.TryAcquire(1)
}

// Release frees one slot.
func (l *Limiter) Release() {
	l.sem.Release(1)
}
