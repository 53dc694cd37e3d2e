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

func TestHotStore_PutThenGetRoundTrips(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	hot := session.NewHotStore(rdb, time.Minute)
	ctx := context.Background()

	s := session.NewSession(session.Key("t:a:i:web"), "t", "a", "i", "web", time.Unix(0, 0))
	require.NoError(t, hot.Put(ctx, s))

	got, err := hot.Get(ctx, s.SessionKey)
	require.NoError(t, err)
	require.Equal(t, s.SessionKey, got.SessionKey)
	require.Equal(t, s.TenantID, got.TenantID)
}

func TestHotStore_GetMissReturnsErrNotFound(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	hot := session.NewHotStore(rdb, time.Minute)

	_, err := hot.Get(context.Background(), session.Key("absent"))
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestHotStore_DeleteRemovesEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	hot := session.NewHotStore(rdb, time.Minute)
	ctx := context.Background()

	s := session.NewSession(session.Key("t:a:i:web"), "t", "a", "i", "web", time.Unix(0, 0))
	require.NoError(t, hot.Put(ctx, s))
	require.NoError(t, hot.Delete(ctx, s.SessionKey))

	_, err := hot.Get(ctx, s.SessionKey)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestHotStore_EntryExpiresAfterTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	hot := session.NewHotStore(rdb, time.Second)
	ctx := context.Background()

	s := session.NewSession(session.Key("t:a:i:web"), "t", "a", "i", "web", time.Unix(0, 0))
	require.NoError(t, hot.Put(ctx, s))

	mr.FastForward(2 * time.Second)

	_, err := hot.Get(ctx, s.SessionKey)
	require.ErrorIs(t, err, session.ErrNotFound)
}
