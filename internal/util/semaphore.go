package util

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Semaphore bounds the number of tasks that may be "in flight" at once. The
// executor's priority queue can have far more ready tasks than the
// configured concurrency allows to run simultaneously; workers block on
// Acquire until a slot frees up.
type Semaphore struct {
	sem *semaphore.Weighted
}

// NewSemaphore creates a semaphore that allows up to n concurrent holders.
// n <= 0 is treated as 1 (a single slot, so holders run one at a time).
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	return &Semaphore{sem: semaphore.NewWeighted(int64(n))}
}

// Acquire blocks until a slot is available.
func (s *Semaphore) Acquire() {
	_ = s.sem.Acquire(context.Background(), 1)
}

// TryAcquire acquires a slot without blocking, reporting whether it succeeded.
func (s *Semaphore) TryAcquire() bool {
	return s.sem.TryAcquire(1)
}

// Release frees a previously acquired slot.
func (s *Semaphore) Release() {
	s.sem.Release(1)
}
