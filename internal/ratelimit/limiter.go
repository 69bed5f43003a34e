// Package ratelimit enforces a minimum spacing between outbound requests.
//
// The limiter is a purely local throttle: it remembers the timestamp of the
// last request made through it and blocks the caller until MinInterval has
// elapsed since then. It does not coordinate across processes.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultMinInterval fits a 10 requests/minute quota with some headroom.
const DefaultMinInterval = 6500 * time.Millisecond

// Limiter spaces requests at least interval apart.
//
// A single Limiter is shared by every request path of a run (work-list pages
// and per-fixture fetches) so one "last request" timestamp covers them all.
type Limiter struct {
	interval time.Duration
	clock    Clock

	mu   sync.Mutex
	last time.Time
}

// New creates a limiter. A nil clock means SystemClock.
func New(interval time.Duration, clock Clock) *Limiter {
	if clock == nil {
		clock = SystemClock{}
	}
	if interval < 0 {
		interval = 0
	}
	return &Limiter{interval: interval, clock: clock}
}

// Interval returns the configured minimum spacing.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// WaitTurn blocks until at least the minimum interval has elapsed since last,
// then returns the current time. A zero last means no previous request and
// returns immediately.
//
// WaitTurn does not touch the limiter's own state; Wait is the stateful form.
func (l *Limiter) WaitTurn(ctx context.Context, last time.Time) (time.Time, error) {
	if !last.IsZero() {
		elapsed := l.clock.Now().Sub(last)
		if err := Sleep(ctx, l.clock, l.interval-elapsed); err != nil {
			return time.Time{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	return l.clock.Now(), nil
}

// Wait blocks for the caller's turn and records the new request timestamp.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts, err := l.WaitTurn(ctx, l.last)
	if err != nil {
		return err
	}
	l.last = ts
	return nil
}
