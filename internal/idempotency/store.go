// Package idempotency implements the three-scope dedup layer (C4,
// spec.md §4.4): API, Beat, and Tool scopes, each with its own TTL and key
// prefix, all sharing one `try_record` contract.
//
// Grounded on the session mutex's use of Redis Lua scripting for atomic
// check-then-act (internal/session/mutex.go), generalized from "acquire a
// lease" to "record a fingerprint and detect a payload mismatch,
// atomically."
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Outcome is the result of a try_record call (spec.md §4.4).
type Outcome string

const (
	Fresh     Outcome = "FRESH"
	Duplicate Outcome = "DUPLICATE"
)

// ErrConflict is returned when a key is reused with a different
// payload_hash — collisions must fail closed (spec.md §4.4, §8).
var ErrConflict = errors.New("idempotency: key reused with mismatched payload")

// Result carries the outcome of try_record plus, on a Duplicate, the
// previously cached response bytes.
type Result struct {
	Outcome        Outcome
	CachedResponse []byte
}

// Scope names the three disjoint keyspaces (spec.md §4.4). Each has a
// fixed key prefix so the three stores can share one Redis keyspace
// without colliding.
type Scope string

const (
	ScopeAPI  Scope = "api"
	ScopeBeat Scope = "beat"
	ScopeTool Scope = "tool"
)

// Store implements the shared try_record contract over Redis, atomically
// via a Lua script so the check-hash / store-response pair never races
// with a concurrent duplicate submission.
type Store struct {
	rdb *redis.Client
}

// NewStore constructs a Store over the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func recordKey(scope Scope, key string) string {
	return "acf:idem:" + string(scope) + ":" + key
}

// tryRecordScript atomically:
//   - if the key is absent, sets it to "hash\x00response" with the given
//     TTL and returns 1 (Fresh);
//   - if present with the same hash, returns 0 plus the cached response
//     (Duplicate);
//   - if present with a different hash, returns -1 (conflict).
var tryRecordScript = redis.NewScript(`
local existing = redis.call("GET", KEYS[1])
if not existing then
	redis.call("SET", KEYS[1], ARGV[1] .. "\0" .. ARGV[2], "PX", ARGV[3])
	return {1, ""}
end
local sep = string.find(existing, "\0", 1, true)
local storedHash = string.sub(existing, 1, sep - 1)
local storedResp = string.sub(existing, sep + 1)
if storedHash == ARGV[1] then
	return {0, storedResp}
end
return {-1, ""}
`)

// TryRecord implements try_record(key, payload_hash, ttl) (spec.md §4.4).
// response is the canonical response envelope to cache on a Fresh record
// (serialized by the caller; Tool scope may pass a tool-result encoding,
// API scope an HTTP response envelope, Beat scope a turn ID).
func (s *Store) TryRecord(ctx context.Context, scope Scope, key, payloadHash string, ttl time.Duration, response []byte) (Result, error) {
	raw, err := tryRecordScript.Run(ctx, s.rdb, []string{recordKey(scope, key)},
		payloadHash, string(response), ttl.Milliseconds()).Result()
	if err != nil {
		return Result{}, fmt.Errorf("try record: %w", err)
	}
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return Result{}, fmt.Errorf("try record: unexpected script result %v", raw)
	}
	code, _ := vals[0].(int64)
	switch code {
	case 1:
		return Result{Outcome: Fresh}, nil
	case 0:
		cached, _ := vals[1].(string)
		return Result{Outcome: Duplicate, CachedResponse: []byte(cached)}, nil
	default:
		return Result{}, ErrConflict
	}
}
