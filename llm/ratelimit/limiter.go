package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// state is the shared admission state behind one or more Limiter handles.
type state struct {
	strategy Strategy

	// gate bounds in-flight calls; nil when unbounded.
	gate *semaphore.Weighted

	// schedule holds the next allowed start. With burst 1 a reservation yields
	// next = max(now, next) + MinInterval under the limiter's own lock.
	schedule *rate.Limiter
}

func newState(s Strategy) *state {
	st := &state{strategy: s}
	if !s.Unbounded() {
		st.gate = semaphore.NewWeighted(int64(s.MaxConcurrent))
	}
	limit := rate.Inf
	if s.MinInterval > 0 {
		limit = rate.Every(s.MinInterval)
	}
	st.schedule = rate.NewLimiter(limit, 1)
	return st
}

// Limiter is a handle onto shared admission state.
// Handles are safe for concurrent use.
type Limiter struct {
	id string
	st *state
}

// New creates a limiter with private state and a random id.
func New(s Strategy) (*Limiter, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{id: uuid.NewString(), st: newState(s)}, nil
}

// MustNew is like New but panics on an invalid strategy.
func MustNew(s Strategy) *Limiter {
	l, err := New(s)
	if err != nil {
		panic(err)
	}
	return l
}

// ID returns the limiter id.
func (l *Limiter) ID() string { return l.id }

// Strategy returns the strategy enforced by the limiter.
func (l *Limiter) Strategy() Strategy { return l.st.strategy }

// SharesStateWith reports whether two handles enforce the same gate and clock.
func (l *Limiter) SharesStateWith(other *Limiter) bool {
	return other != nil && l.st == other.st
}

// Acquire blocks until an admission slot is held and the reserved start time
// has passed. It returns the wall-clock time spent waiting, gate included.
// On error no slot is held.
func (l *Limiter) Acquire(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if l.st.gate != nil {
		if err := l.st.gate.Acquire(ctx, 1); err != nil {
			return 0, fmt.Errorf("acquire admission slot: %w", err)
		}
	}

	wait := l.st.schedule.Reserve().Delay()
	if wait <= 0 {
		return time.Since(start), nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		l.Release()
		return 0, fmt.Errorf("wait for start slot: %w", ctx.Err())
	case <-timer.C:
		return time.Since(start), nil
	}
}

// Release frees the admission slot taken by a successful Acquire.
func (l *Limiter) Release() {
	if l.st.gate != nil {
		l.st.gate.Release(1)
	}
}

// Throttle runs fn while holding an admission slot. fn receives the time spent
// waiting for both the slot and the start time. The slot is released when fn returns, on both
// success and failure.
func (l *Limiter) Throttle(ctx context.Context, fn func(waited time.Duration) error) error {
	waited, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn(waited)
}
