package gateway_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/acf/internal/gateway"
	"github.com/agentfabric/acf/internal/session"
)

func newTestOverflowQueue(t *testing.T) *gateway.OverflowQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return gateway.NewOverflowQueue(rdb)
}

func TestOverflowQueue_RejectsAtCapacity(t *testing.T) {
	q := newTestOverflowQueue(t)
	key := session.NewKey("acme", "support", "user-1", "web")
	now := time.Now()
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, key, gateway.OverflowEntry{MessageID: "m1", Content: "a", ArrivedAt: now}, 2, 10*time.Second))
	require.NoError(t, q.Push(ctx, key, gateway.OverflowEntry{MessageID: "m2", Content: "b", ArrivedAt: now}, 2, 10*time.Second))
	require.ErrorIs(t, q.Push(ctx, key, gateway.OverflowEntry{MessageID: "m3", Content: "c", ArrivedAt: now}, 2, 10*time.Second), gateway.ErrOverflow)
}

func TestOverflowQueue_EvictsOutsideWindow(t *testing.T) {
	q := newTestOverflowQueue(t)
	key := session.NewKey("acme", "support", "user-1", "web")
	now := time.Now()
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, key, gateway.OverflowEntry{MessageID: "m1", Content: "a", ArrivedAt: now}, 1, 1*time.Second))
	later := now.Add(2 * time.Second)
	// m1 aged out of the window by the time m2 arrives, so the limit of 1 isn't hit.
	require.NoError(t, q.Push(ctx, key, gateway.OverflowEntry{MessageID: "m2", Content: "b", ArrivedAt: later}, 1, 1*time.Second))
}

func TestOverflowQueue_DrainReturnsAndClearsInArrivalOrder(t *testing.T) {
	q := newTestOverflowQueue(t)
	key := session.NewKey("acme", "support", "user-1", "web")
	now := time.Now()
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, key, gateway.OverflowEntry{MessageID: "m1", Content: "a", ArrivedAt: now}, 5, 10*time.Second))
	require.NoError(t, q.Push(ctx, key, gateway.OverflowEntry{MessageID: "m2", Content: "b", ArrivedAt: now.Add(time.Millisecond)}, 5, 10*time.Second))

	n, err := q.Len(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	drained, err := q.Drain(ctx, key)
	require.NoError(t, err)
	require.Len(t, drained, 2)
	require.Equal(t, "m1", drained[0].MessageID)
	require.Equal(t, "m2", drained[1].MessageID)

	n, err = q.Len(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestOverflowQueue_DrainOnEmptyQueueReturnsEmpty(t *testing.T) {
	q := newTestOverflowQueue(t)
	key := session.NewKey("acme", "support", "user-1", "web")

	drained, err := q.Drain(context.Background(), key)
	require.NoError(t, err)
	require.Empty(t, drained)
}
