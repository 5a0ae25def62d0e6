package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFromRPM(t *testing.T) {
	s, err := FromRPM(120, 3)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, s.MinInterval)
	assert.Equal(t, 3, s.MaxConcurrent)

	_, err = FromRPM(0, 1)
	assert.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestNew_RejectsNegativeInterval(t *testing.T) {
	_, err := New(Strategy{MinInterval: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestLimiter_StartsAreSpaced(t *testing.T) {
	const interval = 20 * time.Millisecond
	const n = 5

	l := MustNew(Strategy{MinInterval: interval})

	var mu sync.Mutex
	var starts []time.Time
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Throttle(context.Background(), func(time.Duration) error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, starts, n)
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	tolerance := 5 * time.Millisecond
	for k := 1; k < n; k++ {
		assert.GreaterOrEqual(t, starts[k].Sub(starts[0]), time.Duration(k)*interval-tolerance)
	}
}

func TestLimiter_ThrottleReportsWait(t *testing.T) {
	l := MustNew(Strategy{MinInterval: 30 * time.Millisecond})
	ctx := context.Background()

	var first, second time.Duration
	require.NoError(t, l.Throttle(ctx, func(w time.Duration) error { first = w; return nil }))
	require.NoError(t, l.Throttle(ctx, func(w time.Duration) error { second = w; return nil }))

	assert.Less(t, first, 5*time.Millisecond)
	assert.Greater(t, second, 15*time.Millisecond)
}

func TestLimiter_WaitIncludesBlockedOnGate(t *testing.T) {
	const hold = 100 * time.Millisecond
	l := MustNew(Strategy{MaxConcurrent: 1})
	ctx := context.Background()

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Throttle(ctx, func(time.Duration) error {
			close(held)
			time.Sleep(hold)
			return nil
		})
	}()
	<-held

	start := time.Now()
	var waited time.Duration
	require.NoError(t, l.Throttle(ctx, func(w time.Duration) error { waited = w; return nil }))
	actual := time.Since(start)
	<-done

	assert.GreaterOrEqual(t, waited, hold/2)
	assert.LessOrEqual(t, waited, actual)
}

func TestLimiter_ConcurrencyBound(t *testing.T) {
	l := MustNew(Strategy{MaxConcurrent: 2})

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Throttle(context.Background(), func(time.Duration) error {
				cur := inFlight.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(2), peak.Load())
}

func TestLimiter_ReleasesSlotOnError(t *testing.T) {
	l := MustNew(Strategy{MaxConcurrent: 1})
	boom := errors.New("boom")

	err := l.Throttle(context.Background(), func(time.Duration) error { return boom })
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, l.Throttle(ctx, func(time.Duration) error { return nil }))
}

func TestLimiter_AcquireHonoursCancellation(t *testing.T) {
	l := MustNew(Strategy{MaxConcurrent: 1})
	_, err := l.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	l.Release()
	_, err = l.Acquire(context.Background())
	assert.NoError(t, err)
	l.Release()
}

func TestLimiter_CancelledWhileWaitingForStartFreesSlot(t *testing.T) {
	l := MustNew(Strategy{MinInterval: time.Hour, MaxConcurrent: 1})

	require.NoError(t, l.Throttle(context.Background(), func(time.Duration) error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the slot must be free again even though the schedule is far ahead
	ok := l.st.gate.TryAcquire(1)
	assert.True(t, ok)
	l.st.gate.Release(1)
}

func TestLimiter_InFlightNeverExceedsBound(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		bound := rapid.IntRange(1, 4).Draw(rt, "bound")
		callers := rapid.IntRange(1, 12).Draw(rt, "callers")
		l := MustNew(Strategy{MaxConcurrent: bound})

		var inFlight, peak atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = l.Throttle(context.Background(), func(time.Duration) error {
					cur := inFlight.Add(1)
					for {
						p := peak.Load()
						if cur <= p || peak.CompareAndSwap(p, cur) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					inFlight.Add(-1)
					return nil
				})
			}()
		}
		wg.Wait()

		if int(peak.Load()) > bound {
			rt.Fatalf("peak %d exceeds bound %d", peak.Load(), bound)
		}
	})
}
