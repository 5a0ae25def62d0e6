package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func fastPolicy(maxAttempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return nil // 第一次就成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	testErr := errors.New("temporary error")

	err := retryer.Do(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return testErr // 前两次失败
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount, "应该调用三次")
}

func TestBackoffRetryer_ExhaustedReturnsLastError(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	errs := []error{errors.New("first"), errors.New("second"), errors.New("third")}

	err := retryer.Do(context.Background(), func() error {
		e := errs[callCount]
		callCount++
		return e
	})

	assert.Equal(t, 3, callCount)
	assert.Same(t, errs[2], err, "耗尽后应原样返回最后一个错误")
}

func TestBackoffRetryer_SingleAttempt(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(0), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return errors.New("boom")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, callCount)
	assert.Equal(t, 1, retryer.Policy().MaxAttempts)
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}

	retryer := NewBackoffRetryer(policy, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	callCount := 0
	testErr := errors.New("error")

	err := retryer.Do(ctx, func() error {
		callCount++
		return testErr
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "重试被取消")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, testErr)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_RetryableErrors(t *testing.T) {
	retryableErr := errors.New("retryable error")
	nonRetryableErr := errors.New("non-retryable error")

	policy := fastPolicy(3)
	policy.RetryableErrors = []error{retryableErr}
	retryer := NewBackoffRetryer(policy, zap.NewNop())
	ctx := context.Background()

	t.Run("retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(ctx, func() error {
			callCount++
			if callCount < 3 {
				return retryableErr
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, callCount)
	})

	t.Run("non-retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(ctx, func() error {
			callCount++
			return nonRetryableErr
		})

		assert.Error(t, err)
		assert.Equal(t, 1, callCount, "不应该重试")
	})
}

func TestBackoffRetryer_RetryIfRejectsWithoutSleeping(t *testing.T) {
	retryer := NewBackoffRetryer(&RetryPolicy{MaxAttempts: 3, InitialDelay: time.Hour}, zap.NewNop())

	fatal := errors.New("fatal")
	slept := false
	start := time.Now()

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return fatal
	},
		WithRetryIf(func(error) bool { return false }),
		WithBeforeSleep(func(int, error, time.Duration) { slept = true }),
	)

	assert.Same(t, fatal, err)
	assert.Equal(t, 1, callCount)
	assert.False(t, slept)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoffRetryer_BeforeSleepSeesDelays(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     3 * time.Millisecond,
		Multiplier:   2.0,
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	var attempts []int
	var delays []time.Duration
	_ = retryer.Do(context.Background(), func() error {
		return errors.New("again")
	}, WithBeforeSleep(func(attempt int, _ error, delay time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
	}))

	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, delays)
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond}, // 初始延迟
		{2, 200 * time.Millisecond}, // 100 * 2^1
		{3, 400 * time.Millisecond}, // 100 * 2^2
		{4, 800 * time.Millisecond}, // 100 * 2^3
		{5, 1 * time.Second},        // 达到最大延迟
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, policy.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_DelayJitterBounds(t *testing.T) {
	policy := RetryPolicy{InitialDelay: 100 * time.Millisecond, Multiplier: 2.0, Jitter: true}
	for i := 0; i < 100; i++ {
		d := policy.Delay(1)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestRetryPolicy_DelayProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		initial := time.Duration(rapid.Int64Range(0, int64(time.Second)).Draw(rt, "initial"))
		maxDelay := time.Duration(rapid.Int64Range(0, int64(time.Minute)).Draw(rt, "max"))
		policy := RetryPolicy{InitialDelay: initial, MaxDelay: maxDelay, Multiplier: 2.0}

		prev := time.Duration(0)
		for attempt := 1; attempt <= 40; attempt++ {
			d := policy.Delay(attempt)
			if d < 0 {
				rt.Fatalf("negative delay %v", d)
			}
			if maxDelay > 0 && d > maxDelay {
				rt.Fatalf("delay %v exceeds cap %v", d, maxDelay)
			}
			if d < prev {
				rt.Fatalf("delay decreased: %v -> %v", prev, d)
			}
			prev = d
		}
	})
}

func TestWrapRetryable(t *testing.T) {
	err := errors.New("test error")
	wrapped := WrapRetryable(err)

	assert.True(t, IsRetryableError(wrapped))
	assert.False(t, IsRetryableError(err))
	assert.Nil(t, WrapRetryable(nil))
}

func TestNewBackoffRetryer_DoesNotMutatePolicy(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: -1, Multiplier: 0}
	r := NewBackoffRetryer(policy, nil)

	assert.Equal(t, -1, policy.MaxAttempts)
	assert.Equal(t, 1, r.Policy().MaxAttempts)
	assert.Equal(t, 2.0, r.Policy().Multiplier)
}

// ---------------------------------------------------------------------------
// DoWithResultTyped (generic wrapper)
// ---------------------------------------------------------------------------

func TestDoWithResultTyped_Success(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	val, err := DoWithResultTyped[int](r, context.Background(), func() (int, error) {
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestDoWithResultTyped_Error(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(1), zap.NewNop())

	val, err := DoWithResultTyped[int](r, context.Background(), func() (int, error) {
		return 0, errors.New("fail")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, val)
}

func TestDoWithResultTyped_RetryThenSuccess(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	val, err := DoWithResultTyped[string](r, context.Background(), func() (string, error) {
		callCount++
		if callCount < 3 {
			return "", errors.New("not yet")
		}
		return "done", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.Equal(t, 3, callCount)
}

func TestDoWithResultTyped_Pointer(t *testing.T) {
	type result struct {
		Value int
	}

	r := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	val, err := DoWithResultTyped[*result](r, context.Background(), func() (*result, error) {
		return &result{Value: 100}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 100, val.Value)
}
