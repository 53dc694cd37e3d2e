package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get/HotStore/DurableStore lookups that miss.
var ErrNotFound = errors.New("session: not found")

// HotStore is the short-TTL, low-latency tier of the two-tier store
// (spec.md §4.2). Backed by Redis, grounded on jordigilh-kubernaut's direct
// use of github.com/redis/go-redis/v9 for hot session state.
type HotStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewHotStore constructs a HotStore with the given entry TTL.
func NewHotStore(rdb *redis.Client, ttl time.Duration) *HotStore {
	return &HotStore{rdb: rdb, ttl: ttl}
}

func hotKey(key Key) string { return "acf:session:hot:" + string(key) }

// Get returns the cached Session, or ErrNotFound on a hot miss.
func (h *HotStore) Get(ctx context.Context, key Key) (*Session, error) {
	raw, err := h.rdb.Get(ctx, hotKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hot get: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("hot decode: %w", err)
	}
	return &s, nil
}

// Put writes s into the hot tier with a refreshed TTL.
func (h *HotStore) Put(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("hot encode: %w", err)
	}
	if err := h.rdb.Set(ctx, hotKey(s.SessionKey), raw, h.ttl).Err(); err != nil {
		return fmt.Errorf("hot put: %w", err)
	}
	return nil
}

// Delete removes the hot-tier entry for key.
func (h *HotStore) Delete(ctx context.Context, key Key) error {
	return h.rdb.Del(ctx, hotKey(key)).Err()
}
