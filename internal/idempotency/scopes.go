package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Default TTLs per scope (spec.md §4.4). Overridable per tenant per the
// configuration surface (spec.md §6) — see internal/config.
const (
	DefaultAPITTL  = 5 * time.Minute
	DefaultBeatTTL = 60 * time.Second
	DefaultToolTTL = 24 * time.Hour
)

// APIKey builds the API-scope key: tenant + client-supplied
// Idempotency-Key (spec.md §4.4 "keyed by client-supplied Idempotency-Key
// + tenant").
func APIKey(tenantID, idempotencyKey string) string {
	return tenantID + ":" + idempotencyKey
}

// BeatKey builds the Beat-scope key: tenant + a hash of the sorted message
// IDs composing the turn (spec.md §4.4, §8 "beat-idempotency keyed on
// (session_key, turn_group_id, turn_id)" refines this for commit; this
// helper covers the Gateway-level re-submission check against the raw
// message-ID set).
func BeatKey(tenantID string, messageIDs []string) string {
	sorted := append([]string(nil), messageIDs...)
	sort.Strings(sorted)
	return tenantID + ":" + hashStrings(sorted)
}

// CommitBeatKey builds the beat-idempotency key used by the commit step
// (spec.md §8 "at-most-once effective commit via beat-idempotency keyed on
// (session_key, turn_group_id, turn_id)").
func CommitBeatKey(sessionKey, turnGroupID, turnID string) string {
	return sessionKey + ":" + turnGroupID + ":" + turnID
}

// ToolKey builds the Tool-scope key from a tool-specific fingerprint
// (spec.md §4.4 "keyed per tool-specific fingerprint").
func ToolKey(toolName, fingerprint string) string {
	return toolName + ":" + fingerprint
}

// HashPayload returns a stable hex-encoded SHA-256 of payload, used as the
// payload_hash argument to TryRecord so a key-reuse-with-different-body
// collision can be detected (spec.md §4.4, §5 edge case 5).
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func hashStrings(ss []string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(ss, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}
