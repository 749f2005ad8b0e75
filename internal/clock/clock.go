// Package clock provides the timer abstraction that drives the capture state
// machine and the video frame loop. Real uses the time package; Fake is a
// virtual clock whose callbacks run synchronously when time is advanced.
package clock

import (
	"context"
	"time"
)

// Timer is a pending callback that can be cancelled
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the
	// callback already fired or was stopped.
	Stop() bool
}

// Scheduler is the single source of time for timed control flow
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Sleep blocks until d has elapsed on s or ctx is done.
func Sleep(ctx context.Context, s Scheduler, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	if f, ok := s.(*Fake); ok {
		// Virtual time: advancing is the sleep
		if err := ctx.Err(); err != nil {
			return err
		}
		f.Advance(d)
		return ctx.Err()
	}

	done := make(chan struct{})
	t := s.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// Real is the wall-clock scheduler
type Real struct{}

// NewReal returns the wall-clock scheduler
func NewReal() Real {
	return Real{}
}

// Now returns the current wall-clock time
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc runs f on its own goroutine after d
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
