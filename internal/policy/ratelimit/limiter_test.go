package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func TestLimiterAllowAt(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 2})
	require.True(t, l.AllowAt("10.0.0.1", base))
	require.True(t, l.AllowAt("10.0.0.1", base))
	require.False(t, l.AllowAt("10.0.0.1", base))

	// 10 RPS refills one token every 100ms.
	require.True(t, l.AllowAt("10.0.0.1", base.Add(100*time.Millisecond)))
}

func TestLimiterSeparatesClients(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	require.True(t, l.AllowAt("a", base))
	require.False(t, l.AllowAt("a", base))
	require.True(t, l.AllowAt("b", base))
	require.True(t, l.AllowAt("", base))
	require.Equal(t, 3, l.Len())
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("a"))
	}
	require.NoError(t, l.Wait(context.Background(), "a"))
}

func TestLimiterEvictsIdleClients(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1, IdleTTL: time.Minute})
	require.True(t, l.AllowAt("a", base))
	require.True(t, l.AllowAt("b", base.Add(30*time.Second)))
	require.Equal(t, 2, l.Len())

	require.True(t, l.AllowAt("c", base.Add(61*time.Second)))
	require.Equal(t, 2, l.Len())
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "a"))
}
