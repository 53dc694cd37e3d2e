package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentfabric/acf/internal/session"
)

// OverflowQueue is the per-session bounded FIFO that QUEUE decisions park
// messages on (spec.md §4.6 "Park message on a per-session bounded FIFO").
// Backed by a Redis sorted set keyed per session, scored by arrival time, so
// the parked set is visible to both the Gateway process and the Temporal
// worker process and survives a restart of either — the workflow drains it
// via Drain once the blocking turn reaches a terminal phase (spec.md §4.7
// Step D, §8 scenario 3).
//
// Grounded on internal/session/mutex.go's Lua-script pattern for atomic
// check-then-act over Redis, generalized from "acquire a lease" to "push
// with a trailing-window trim and a capacity check, atomically."
type OverflowQueue struct {
	rdb *redis.Client
}

// NewOverflowQueue constructs a queue backed by the given Redis client.
func NewOverflowQueue(rdb *redis.Client) *OverflowQueue {
	return &OverflowQueue{rdb: rdb}
}

// OverflowEntry is one parked message.
type OverflowEntry struct {
	MessageID string    `json:"message_id"`
	Content   string    `json:"content"`
	ArrivedAt time.Time `json:"arrived_at"`
}

func overflowKey(key session.Key) string {
	return "acf:overflow:" + string(key)
}

// ErrOverflow is returned by Push when the bound is exceeded — the
// Gateway rejects with backpressure (spec.md §4.6 "Bounded queue overflow
// ... rejects with backpressure").
var ErrOverflow = errorString("gateway: overflow queue at capacity")

type errorString string

func (e errorString) Error() string { return string(e) }

// pushScript atomically trims entries outside the trailing window, checks
// the remaining count against the limit, and — only if under the limit —
// adds the new entry. Scored by arrival time (milliseconds since epoch) so
// ZRANGE returns entries in arrival order.
var pushScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[2]) then
	return 0
end
redis.call("ZADD", KEYS[1], ARGV[3], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`)

// Push parks an entry, evicting entries older than window before checking
// the bound, so the limit applies to messages within the trailing window
// rather than all-time.
func (q *OverflowQueue) Push(ctx context.Context, key session.Key, e OverflowEntry, limit int, window time.Duration) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("overflow push: marshal entry: %w", err)
	}
	cutoffMs := e.ArrivedAt.Add(-window).UnixMilli()
	scoreMs := e.ArrivedAt.UnixMilli()
	res, err := pushScript.Run(ctx, q.rdb, []string{overflowKey(key)},
		cutoffMs, limit, scoreMs, string(payload), window.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("overflow push: %w", err)
	}
	if res == 0 {
		return ErrOverflow
	}
	return nil
}

// drainScript atomically reads every member of the set in score order and
// deletes the key, so two concurrent drains of the same session never split
// the same batch.
var drainScript = redis.NewScript(`
local entries = redis.call("ZRANGE", KEYS[1], 0, -1)
redis.call("DEL", KEYS[1])
return entries
`)

// Drain removes and returns all currently parked entries for key, in
// arrival order, for the caller to fold into a fresh turn.
func (q *OverflowQueue) Drain(ctx context.Context, key session.Key) ([]OverflowEntry, error) {
	raw, err := drainScript.Run(ctx, q.rdb, []string{overflowKey(key)}).Result()
	if err != nil {
		return nil, fmt.Errorf("overflow drain: %w", err)
	}
	vals, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("overflow drain: unexpected script result %v", raw)
	}
	entries := make([]OverflowEntry, 0, len(vals))
	for _, v := range vals {
		s, _ := v.(string)
		var e OverflowEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("overflow drain: unmarshal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Len reports the number of currently parked entries for key.
func (q *OverflowQueue) Len(ctx context.Context, key session.Key) (int, error) {
	n, err := q.rdb.ZCard(ctx, overflowKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("overflow len: %w", err)
	}
	return int(n), nil
}
