package session

import (
	"context"
	"errors"
	"fmt"
)

// Store is the two-tier Session store (C2, spec.md §4.2): hot tier first,
// falling through to the persistent tier on a miss, promoting on the way
// back out. It is the "Session Store operations" capability from spec.md
// §6 (get/save/delete plus the secondary-index lookups).
type Store struct {
	hot   *HotStore
	dura  *DurableStore
	index *IndexStore
}

// NewStore builds the two-tier store over the given hot and durable tiers.
func NewStore(hot *HotStore, dura *DurableStore, index *IndexStore) *Store {
	return &Store{hot: hot, dura: dura, index: index}
}

// Get reads a Session: hot tier first; on a hot miss it reads the
// persistent tier and, if found, promotes it back into the hot tier before
// returning (spec.md §4.2). Returns ErrNotFound if absent from both tiers.
func (s *Store) Get(ctx context.Context, key Key) (*Session, error) {
	sess, err := s.hot.Get(ctx, key)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("hot tier: %w", err)
	}

	sess, err = s.dura.Get(ctx, key)
	if err != nil {
		return nil, err // ErrNotFound or a durable-tier error, propagated as-is
	}

	// Promote: refresh the hot-tier TTL. A promotion failure must not fail
	// the read — the persistent tier is still authoritative.
	_ = s.hot.Put(ctx, sess)

	return sess, nil
}

// Save writes s to both tiers, persistent first, so a crash between the two
// writes never leaves the hot tier ahead of the source of truth
// (spec.md §4.2 "write-through... atomic from the caller's perspective").
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if err := s.dura.Put(ctx, sess); err != nil {
		return fmt.Errorf("durable save: %w", err)
	}
	if err := s.hot.Put(ctx, sess); err != nil {
		return fmt.Errorf("hot save: %w", err)
	}
	if s.index != nil {
		if err := s.index.Update(ctx, sess); err != nil {
			return fmt.Errorf("index update: %w", err)
		}
	}
	return nil
}

// Delete removes the session at key from both tiers. Its secondary-index
// entries stay in place: IndexStore.Remove removes nothing.
func (s *Store) Delete(ctx context.Context, key Key) error {
	if err := s.dura.Delete(ctx, key); err != nil {
		return fmt.Errorf("durable delete: %w", err)
	}
	if err := s.hot.Delete(ctx, key); err != nil {
		return fmt.Errorf("hot delete: %w", err)
	}
	if s.index != nil {
		if err := s.index.Remove(ctx, key); err != nil {
			return fmt.Errorf("index remove: %w", err)
		}
	}
	return nil
}

// ListByAgent returns session keys for a (tenant, agent) pair via the
// secondary index (spec.md §6 list_by_agent).
func (s *Store) ListByAgent(ctx context.Context, tenantID, agentID string) ([]Key, error) {
	return s.index.ByAgent(ctx, tenantID, agentID)
}

// ListByInterlocutor returns session keys for a (tenant, interlocutor) pair
// (spec.md §6 list_by_interlocutor).
func (s *Store) ListByInterlocutor(ctx context.Context, tenantID, interlocutorID string) ([]Key, error) {
	return s.index.ByInterlocutor(ctx, tenantID, interlocutorID)
}

// FindByChannelIdentity resolves a session key from a (channel,
// user_channel_id) pair (spec.md §6 find_session_by_channel_identity).
func (s *Store) FindByChannelIdentity(ctx context.Context, channel, userChannelID string) (Key, error) {
	return s.index.ByChannelIdentity(ctx, channel, userChannelID)
}

// FindByStepHash returns session keys currently parked on a given scenario
// step-hash, used by migration tooling (spec.md §6 find_sessions_by_step_hash).
func (s *Store) FindByStepHash(ctx context.Context, stepHash string) ([]Key, error) {
	return s.index.ByStepHash(ctx, stepHash)
}

// TransferSession reassigns a session to a new agent, recording a
// human-readable summary of the prior context (spec.md §6 transfer_session).
// This mutates the Session and re-saves it through the normal write path so
// fencing and index maintenance stay consistent.
func (s *Store) TransferSession(ctx context.Context, key Key, toAgentID, contextSummary string, token uint64) error {
	sess, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if token < sess.FencingToken {
		return fmt.Errorf("transfer session: %w", ErrNotFound)
	}
	sess.AgentID = toAgentID
	sess.FencingToken = token
	note := fmt.Sprintf("transferred: %s", contextSummary)
	sess.SetVariable("__transfer_note", note, sess.LastActivityAt)
	return s.Save(ctx, sess)
}
