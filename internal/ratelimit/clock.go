package ratelimit

import (
	"context"
	"time"
)

// Clock is the wall-clock source used by every component that waits.
//
// Production code uses SystemClock. Tests use testutil.FakeClock, whose After
// advances its own time instead of blocking, so no test sleeps for real.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the real clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// After delegates to time.After.
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sleep blocks for d on the given clock or until ctx is done.
// A non-positive d returns immediately.
func Sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
