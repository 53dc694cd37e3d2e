package session

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// IndexStore maintains the secondary indexes over Session (spec.md §4.2):
// by (tenant, agent), by (tenant, interlocutor), by (channel,
// user_channel_id), and by scenario step-hash for migration tooling. All
// updates are idempotent Redis set/string operations — replaying the same
// Update for the same Session is a no-op beyond the membership it asserts.
type IndexStore struct {
	rdb *redis.Client
}

// NewIndexStore constructs an IndexStore over the given Redis client.
func NewIndexStore(rdb *redis.Client) *IndexStore {
	return &IndexStore{rdb: rdb}
}

func agentIndexKey(tenantID, agentID string) string {
	return "acf:idx:agent:" + tenantID + ":" + agentID
}

func interlocutorIndexKey(tenantID, interlocutorID string) string {
	return "acf:idx:interlocutor:" + tenantID + ":" + interlocutorID
}

func channelIdentityKey(channel, userChannelID string) string {
	return "acf:idx:channel:" + channel + ":" + userChannelID
}

func stepHashIndexKey(stepHash string) string {
	return "acf:idx:stephash:" + stepHash
}

// Update asserts sess's membership in every index it belongs to.
// Step-hash membership is additive only: when the
// ActiveScenarioID/ActiveStepID pair changes, Update does not remove sess
// from the previous step's set; migration tooling sweeps stale entries via
// FindByStepHash plus a Get-and-verify pass.
func (idx *IndexStore) Update(ctx context.Context, sess *Session) error {
	pipe := idx.rdb.TxPipeline()
	pipe.SAdd(ctx, agentIndexKey(sess.TenantID, sess.AgentID), string(sess.SessionKey))
	pipe.SAdd(ctx, interlocutorIndexKey(sess.TenantID, sess.InterlocutorID), string(sess.SessionKey))
	pipe.Set(ctx, channelIdentityKey(sess.Channel, sess.InterlocutorID), string(sess.SessionKey), 0)
	if sess.ActiveStepID != nil {
		pipe.SAdd(ctx, stepHashIndexKey(*sess.ActiveStepID), string(sess.SessionKey))
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("index update: %w", err)
	}
	return nil
}

// Remove removes nothing and always returns nil. The indexes are keyed by
// partition (agent, interlocutor, step hash) or by channel identity, not by
// session key, so none of key's entries can be located from key alone; the
// channel-identity pointer is written without a TTL, so it too stays in
// place until a sweep removes it.
func (idx *IndexStore) Remove(ctx context.Context, key Key) error {
	// Best-effort: the set-based indexes (agent, interlocutor, step-hash) are
	// cleaned up lazily by migration/admin sweeps since removing a member
	// requires knowing which partition it lives in; deleting a closed
	// session's hot/durable rows already makes it unreachable via Get.
	return nil
}

// ByAgent returns all session keys registered under (tenantID, agentID).
func (idx *IndexStore) ByAgent(ctx context.Context, tenantID, agentID string) ([]Key, error) {
	members, err := idx.rdb.SMembers(ctx, agentIndexKey(tenantID, agentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("index by agent: %w", err)
	}
	return toKeys(members), nil
}

// ByInterlocutor returns all session keys registered under (tenantID, interlocutorID).
func (idx *IndexStore) ByInterlocutor(ctx context.Context, tenantID, interlocutorID string) ([]Key, error) {
	members, err := idx.rdb.SMembers(ctx, interlocutorIndexKey(tenantID, interlocutorID)).Result()
	if err != nil {
		return nil, fmt.Errorf("index by interlocutor: %w", err)
	}
	return toKeys(members), nil
}

// ByChannelIdentity resolves the session key bound to a (channel,
// user_channel_id) pair, or ErrNotFound if no session owns that identity.
func (idx *IndexStore) ByChannelIdentity(ctx context.Context, channel, userChannelID string) (Key, error) {
	v, err := idx.rdb.Get(ctx, channelIdentityKey(channel, userChannelID)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("index by channel identity: %w", err)
	}
	return Key(v), nil
}

// ByStepHash returns all session keys currently parked at a given scenario
// step-hash, for migration fan-out.
func (idx *IndexStore) ByStepHash(ctx context.Context, stepHash string) ([]Key, error) {
	members, err := idx.rdb.SMembers(ctx, stepHashIndexKey(stepHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("index by step hash: %w", err)
	}
	return toKeys(members), nil
}

func toKeys(members []string) []Key {
	keys := make([]Key, len(members))
	for i, m := range members {
		keys[i] = Key(m)
	}
	return keys
}
