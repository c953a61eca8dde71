// Package queue runs scans in the background under a concurrency limit.
package queue

import (
	"context"
	"fmt"
	"sync/atomic"

	"go-easm/models"
	"golang.org/x/sync/semaphore"
)

// Limiter admits at most a fixed number of concurrently running scans.
type Limiter struct {
	sem     *semaphore.Weighted
	max     int64
	running atomic.Int64
}

// NewLimiter returns a *Limiter admitting max scans at a time.
func NewLimiter(max int64) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(max), max: max}
}

// Admit takes a slot without waiting. It fails with
// models.ErrAdmissionDenied when every slot is taken.
func (l *Limiter) Admit(context.Context) (func(), error) {
	if !l.sem.TryAcquire(1) {
		return nil, fmt.Errorf("%w: maximum of %d concurrent scans reached", models.ErrAdmissionDenied, l.max)
	}
	l.running.Add(1)

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			l.running.Add(-1)
			l.sem.Release(1)
		}
	}, nil
}

// Running returns the number of admitted scans.
func (l *Limiter) Running() int64 {
	return l.running.Load()
}

// Max returns the number of slots.
func (l *Limiter) Max() int64 {
	return l.max
}
