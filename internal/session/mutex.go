package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld reports that the session lock is held by another holder.
// Acquire does not return it: a blocking_timeout that elapses without
// obtaining the lock yields (Token{}, false, nil).
var ErrLockHeld = errors.New("session mutex: held by another holder")

// ErrStaleToken is returned when a caller presents a fencing token that is
// not the current holder's token — either it never held the lock, or its
// lease already expired and was won by a replacement (spec.md §4.1, §5).
var ErrStaleToken = errors.New("session mutex: stale fencing token")

// Token is the opaque monotonic fencing identifier handed out on Acquire.
// Every mutating operation on Session or LogicalTurn carries this token;
// stores reject writes whose token regresses (spec.md §4.1, §9).
type Token struct {
	Fence uint64 // monotonic per session_key, from a Redis INCR counter
	Nonce string // uuid tag so a token never repeats across a data-loss event
}

// String renders the token for storage as a Redis value / SQL column.
func (t Token) String() string {
	return fmt.Sprintf("%d:%s", t.Fence, t.Nonce)
}

// Mutex is the exclusive, leased, fenced per-session_key lock (spec.md §4.1).
// Backed by Redis: a `SET NX PX` lease holds the lock, a per-key `INCR`
// counter supplies monotonically increasing fencing tokens, and a Lua
// script makes renew/release safe against a holder whose lease already
// expired (it must not be able to renew or release someone else's lease).
type Mutex struct {
	rdb *redis.Client
}

// NewMutex constructs a Mutex backed by the given Redis client.
func NewMutex(rdb *redis.Client) *Mutex {
	return &Mutex{rdb: rdb}
}

func lockKey(key Key) string  { return "acf:mutex:" + string(key) }
func fenceKey(key Key) string { return "acf:fence:" + string(key) }

// renewScript atomically checks that the caller still owns the lease
// (value equals the caller's token string) before extending its PTTL.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// releaseScript atomically checks ownership before deleting the lease key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Acquire attempts to obtain the session lock, polling until blockingTimeout
// elapses. On success it returns a fresh, strictly-increasing Token and
// true. On timeout it returns (Token{}, false, nil) — the caller (the
// workflow's AcquireMutex activity, Step A) then abandons the turn rather
// than contending further. The Gateway never calls Acquire; it signals the
// incumbent workflow instead (spec.md §4.1, §4.6).
func (m *Mutex) Acquire(ctx context.Context, key Key, leaseTTL, blockingTimeout time.Duration) (Token, bool, error) {
	deadline := time.Now().Add(blockingTimeout)
	for {
		tok, ok, err := m.tryAcquire(ctx, key, leaseTTL)
		if err != nil {
			return Token{}, false, err
		}
		if ok {
			return tok, true, nil
		}
		if time.Now().After(deadline) {
			return Token{}, false, nil
		}
		select {
		case <-ctx.Done():
			return Token{}, false, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (m *Mutex) tryAcquire(ctx context.Context, key Key, leaseTTL time.Duration) (Token, bool, error) {
	fence, err := m.rdb.Incr(ctx, fenceKey(key)).Result()
	if err != nil {
		return Token{}, false, fmt.Errorf("fence incr: %w", err)
	}
	tok := Token{Fence: uint64(fence), Nonce: uuid.NewString()}
	ok, err := m.rdb.SetNX(ctx, lockKey(key), tok.String(), leaseTTL).Result()
	if err != nil {
		return Token{}, false, fmt.Errorf("lease setnx: %w", err)
	}
	return tok, ok, nil
}

// Renew extends the lease held by token. Returns ErrStaleToken if the
// lease was lost (expired and possibly won by a replacement holder).
func (m *Mutex) Renew(ctx context.Context, key Key, token Token, leaseTTL time.Duration) error {
	res, err := renewScript.Run(ctx, m.rdb, []string{lockKey(key)}, token.String(), leaseTTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew: %w", err)
	}
	if res == 0 {
		return ErrStaleToken
	}
	return nil
}

// Release releases the lease held by token. A stale token is not an error
// here — the caller is unwinding after having already lost the race, and
// release is best-effort cleanup (spec.md §4.7 "mutex is released last").
func (m *Mutex) Release(ctx context.Context, key Key, token Token) error {
	_, err := releaseScript.Run(ctx, m.rdb, []string{lockKey(key)}, token.String()).Int()
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}

// ForceRelease is the admin operation (spec.md §4.1) that unconditionally
// drops the lease regardless of current holder. It does not invalidate the
// holder's fencing token — a crashed holder that resumes will still fail
// its next CAS write because the fence counter has moved on.
func (m *Mutex) ForceRelease(ctx context.Context, key Key) error {
	return m.rdb.Del(ctx, lockKey(key)).Err()
}

// CurrentFence returns the last fencing token issued for key, for
// diagnostics and for stores to bootstrap their own last-seen comparisons.
func (m *Mutex) CurrentFence(ctx context.Context, key Key) (uint64, error) {
	v, err := m.rdb.Get(ctx, fenceKey(key)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("current fence: %w", err)
	}
	return v, nil
}
