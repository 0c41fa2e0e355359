// ABOUTME: Lock-protected holder of the latest published clock estimate
// ABOUTME: Lets foreground callers wait with a timeout while one background writer publishes
package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ddirect/container/fifo"
	"github.com/morningf/liblsl/internal/estimate"
)

// ErrTimedOut is returned when no estimate became valid before the deadline
var ErrTimedOut = errors.New("timed out waiting for time estimate")

// Shared is written by exactly one goroutine and read by any number.
// The lock is only held for O(1) reads and writes, never across I/O.
type Shared struct {
	mu      sync.Mutex
	current estimate.Estimate
	valid   bool
	ready   chan struct{} // closed exactly while valid is true
	reset   bool

	history    fifo.Fifo[estimate.Estimate]
	historyCap int
}

// New creates an empty state that remembers up to historyCap published estimates
func New(historyCap int) *Shared {
	return &Shared{
		ready:      make(chan struct{}),
		historyCap: historyCap,
	}
}

// Publish replaces the estimate wholesale and wakes every waiter
func (s *Shared) Publish(e estimate.Estimate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = e
	if !s.valid {
		s.valid = true
		close(s.ready)
	}

	if s.historyCap > 0 {
		for s.history.Len() >= s.historyCap {
			s.history.Dequeue()
		}
		s.history.Enqueue(e)
	}
}

// Invalidate returns the state to "no estimate yet"
func (s *Shared) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidate()
}

// Reset invalidates the estimate and raises the reset flag together, so no
// reader sees the estimate gone without the flag
func (s *Shared) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidate()
	s.reset = true
}

func (s *Shared) invalidate() {
	if s.valid {
		s.valid = false
		s.current = estimate.Estimate{}
		s.ready = make(chan struct{})
	}
}

// Read returns the estimate, blocking up to timeout until one is published
func (s *Shared) Read(timeout time.Duration) (estimate.Estimate, error) {
	if e, ok := s.Snapshot(); ok {
		return e, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return s.wait(timer.C, nil)
}

// ReadContext is Read bounded by a context instead of a timeout
func (s *Shared) ReadContext(ctx context.Context) (estimate.Estimate, error) {
	return s.wait(nil, ctx.Done())
}

func (s *Shared) wait(deadline <-chan time.Time, done <-chan struct{}) (estimate.Estimate, error) {
	for {
		s.mu.Lock()
		if s.valid {
			e := s.current
			s.mu.Unlock()
			return e, nil
		}
		ready := s.ready
		s.mu.Unlock()

		select {
		case <-ready:
			// an Invalidate may have raced in; re-check under the lock
		case <-deadline:
			return estimate.Estimate{}, ErrTimedOut
		case <-done:
			return estimate.Estimate{}, ErrTimedOut
		}
	}
}

// Snapshot returns the estimate without blocking
func (s *Shared) Snapshot() (estimate.Estimate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.valid
}

// TakeReset reports and clears the reset flag in one step
func (s *Shared) TakeReset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	was := s.reset
	s.reset = false
	return was
}

// History returns the most recent published estimates, oldest first
func (s *Shared) History() []estimate.Estimate {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.history.Len()
	out := make([]estimate.Estimate, 0, n)
	for i := 0; i < n; i++ {
		e, _ := s.history.Dequeue()
		out = append(out, e)
		s.history.Enqueue(e)
	}
	return out
}
