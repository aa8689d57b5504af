package importer

// limiter.go bounds how many commits run at once.
//
// Each commit holds one slot for its whole run. When every slot is taken,
// a new commit waits up to maxWait and then fails with ErrTooManyImports.
// WaitForDrain lets shutdown block until running commits finish.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyImports is returned when no commit slot frees up in time.
var ErrTooManyImports = errors.New("too many imports in progress, please try again later")

// DefaultMaxConcurrentImports is the default limit for parallel commits.
const DefaultMaxConcurrentImports = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// CommitLimiter is a counting semaphore over commits.
type CommitLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu      sync.Mutex
	running int
	idle    chan struct{} // closed while running == 0
}

// NewCommitLimiter allows at most maxConcurrent simultaneous commits.
// Non-positive arguments select the defaults.
func NewCommitLimiter(maxConcurrent int, maxWait time.Duration) *CommitLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	idle := make(chan struct{})
	close(idle)
	return &CommitLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		idle:    idle,
	}
}

// Acquire takes a slot, waiting up to the configured time. A cancelled ctx
// returns its error; running out of wait time returns ErrTooManyImports.
// The caller must call Release when the commit completes.
func (l *CommitLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.mu.Lock()
		if l.running == 0 {
			l.idle = make(chan struct{})
		}
		l.running++
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyImports
	}
}

// Release frees a slot taken by Acquire.
func (l *CommitLimiter) Release() {
	l.mu.Lock()
	l.running--
	if l.running == 0 {
		close(l.idle)
	}
	l.mu.Unlock()

	<-l.slots
}

// WaitForDrain blocks until no commit is running or ctx is done.
func (l *CommitLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LimiterStatus is a snapshot of a CommitLimiter.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *CommitLimiter) Status() LimiterStatus {
	l.mu.Lock()
	active := l.running
	l.mu.Unlock()

	return LimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - active,
		MaxConcurrent: cap(l.slots),
	}
}
