package ratelimit

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry_SameIDSameStrategySharesState(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	s := Strategy{MinInterval: time.Second, MaxConcurrent: 2}

	a, err := r.GetOrCreate("openai", s)
	require.NoError(t, err)
	b, err := r.GetOrCreate("openai", s)
	require.NoError(t, err)

	assert.True(t, a.SharesStateWith(b))
	assert.Equal(t, "openai", b.ID())
	assert.Equal(t, s, b.Strategy())
}

func TestRegistry_DifferentStrategyGetsFreshState(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	a, err := r.GetOrCreate("openai", Strategy{MinInterval: time.Second})
	require.NoError(t, err)
	b, err := r.GetOrCreate("openai", Strategy{MinInterval: 2 * time.Second})
	require.NoError(t, err)

	assert.False(t, a.SharesStateWith(b))

	// the registry now points at the newer state
	c, err := r.Lookup("openai")
	require.NoError(t, err)
	assert.True(t, c.SharesStateWith(b))
	runtime.KeepAlive(a)
}

func TestRegistry_EveryLiveStrategyKeepsItsState(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	slow := Strategy{MinInterval: time.Second}
	fast := Strategy{MinInterval: 100 * time.Millisecond}

	a, err := r.GetOrCreate("openai", slow)
	require.NoError(t, err)
	b, err := r.GetOrCreate("openai", fast)
	require.NoError(t, err)

	// 原策略再次请求时仍然共享最初的状态
	again, err := r.GetOrCreate("openai", slow)
	require.NoError(t, err)
	assert.True(t, again.SharesStateWith(a))
	assert.False(t, again.SharesStateWith(b))

	fastAgain, err := r.GetOrCreate("openai", fast)
	require.NoError(t, err)
	assert.True(t, fastAgain.SharesStateWith(b))
	assert.Equal(t, 1, r.Len())
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Lookup("missing")
	assert.ErrorIs(t, err, ErrLimiterNotFound)
}

func TestRegistry_EmptyIDIsGenerated(t *testing.T) {
	r := NewRegistry(nil)
	l, err := r.GetOrCreate("", Strategy{})
	require.NoError(t, err)
	assert.NotEmpty(t, l.ID())

	found, err := r.Lookup(l.ID())
	require.NoError(t, err)
	assert.True(t, found.SharesStateWith(l))
}

func TestRegistry_StateCollectedWhenUnreferenced(t *testing.T) {
	r := NewRegistry(nil)

	func() {
		l, err := r.GetOrCreate("ephemeral", Strategy{MaxConcurrent: 1})
		require.NoError(t, err)
		_ = l
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		_, err := r.Lookup("ephemeral")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		runtime.GC()
		return r.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
