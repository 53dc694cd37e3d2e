package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/acf/internal/session"
)

func newMutex(t *testing.T) (*session.Mutex, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return session.NewMutex(rdb), mr
}

func TestAcquire_SecondAttemptTimesOutWhileHeld(t *testing.T) {
	mx, _ := newMutex(t)
	ctx := context.Background()
	key := session.Key("tenant:agent:user:web")

	tok1, ok, err := mx.Acquire(ctx, key, time.Minute, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), tok1.Fence)

	_, ok, err = mx.Acquire(ctx, key, time.Minute, 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok, "lock is already held, acquire must time out rather than error")
}

func TestAcquire_FencingTokenStrictlyIncreases(t *testing.T) {
	mx, _ := newMutex(t)
	ctx := context.Background()
	key := session.Key("tenant:agent:user:web")

	tok1, ok, err := mx.Acquire(ctx, key, time.Millisecond, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mx.Release(ctx, key, tok1))

	tok2, ok, err := mx.Acquire(ctx, key, time.Minute, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, tok2.Fence, tok1.Fence)
}

func TestRenew_FailsForStaleToken(t *testing.T) {
	mx, _ := newMutex(t)
	ctx := context.Background()
	key := session.Key("tenant:agent:user:web")

	_, ok, err := mx.Acquire(ctx, key, time.Minute, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	fakeToken := session.Token{Fence: 999, Nonce: "not-the-holder"}
	err = mx.Renew(ctx, key, fakeToken, time.Minute)
	require.ErrorIs(t, err, session.ErrStaleToken)
}

func TestRelease_ThenReacquireSucceeds(t *testing.T) {
	mx, _ := newMutex(t)
	ctx := context.Background()
	key := session.Key("tenant:agent:user:web")

	tok, ok, err := mx.Acquire(ctx, key, time.Minute, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, mx.Release(ctx, key, tok))

	_, ok, err = mx.Acquire(ctx, key, time.Minute, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok, "lock must be free again after release")
}

func TestForceRelease_DropsLeaseRegardlessOfHolder(t *testing.T) {
	mx, _ := newMutex(t)
	ctx := context.Background()
	key := session.Key("tenant:agent:user:web")

	_, ok, err := mx.Acquire(ctx, key, time.Minute, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, mx.ForceRelease(ctx, key))

	_, ok, err = mx.Acquire(ctx, key, time.Minute, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCurrentFence_ZeroBeforeFirstAcquire(t *testing.T) {
	mx, _ := newMutex(t)
	ctx := context.Background()
	key := session.Key("tenant:agent:user:web")

	fence, err := mx.CurrentFence(ctx, key)
	require.NoError(t, err)
	require.Zero(t, fence)
}
