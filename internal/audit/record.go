// Package audit implements the Audit sink (spec.md §6, §4.10 Commit &
// Emit): an append-only TurnRecord per committed (or terminally failed)
// LogicalTurn, persisted alongside the session/turn stores so a commit's
// atomic contract can include it.
//
// Grounded on kubernaut's pgx/sqlx persistence layer, reused at the same
// fidelity as internal/session/durastore.go and internal/turn/store.go.
package audit

import (
	"time"

	"github.com/agentfabric/acf/internal/turn"
)

// ArtifactSummary is a compact, audit-safe summary of one PhaseArtifact —
// never the raw payload, to keep audit records small and to avoid
// persisting potentially sensitive Brain intermediate output verbatim.
type ArtifactSummary struct {
	PhaseName   string `json:"phase_name"`
	Fingerprint string `json:"fingerprint"`
	PayloadSize int    `json:"payload_size"`
}

// Interruption records one Brain interrupt observed during a turn's
// run_pipeline step (spec.md §4.7 Step C, §6 TurnRecord.interruptions).
type Interruption struct {
	AtPhase        string              `json:"at_phase"`
	Decision       turn.SupersedeDecision `json:"decision"`
	InterruptingMessageID string       `json:"interrupting_message_id"`
	OccurredAt     time.Time           `json:"occurred_at"`
}

// TurnRecord is the append-only audit record for one LogicalTurn
// (spec.md §6, §4.7 Step D).
type TurnRecord struct {
	TurnID      string `json:"turn_id"`
	BeatID      string `json:"beat_id"` // == turn_id, per spec.md §6
	TurnGroupID string `json:"turn_group_id"`

	MessageSequence []string `json:"message_sequence"`

	SupersededBy string `json:"superseded_by,omitempty"`

	Interruptions         []Interruption    `json:"interruptions,omitempty"`
	PhaseArtifactSummaries []ArtifactSummary `json:"phase_artifact_summaries,omitempty"`
	SideEffects           []turn.SideEffect `json:"side_effects,omitempty"`

	LatencyMs  int64 `json:"latency_ms"`
	TokensUsed int   `json:"tokens_used"`

	ScenarioBefore string `json:"scenario_before,omitempty"`
	ScenarioAfter  string `json:"scenario_after,omitempty"`

	CommittedAt time.Time `json:"committed_at"`
}

// Summarize converts a LogicalTurn's artifacts into audit-safe summaries.
func Summarize(artifacts []turn.PhaseArtifact) []ArtifactSummary {
	out := make([]ArtifactSummary, len(artifacts))
	for i, a := range artifacts {
		out[i] = ArtifactSummary{
			PhaseName:   a.PhaseName,
			Fingerprint: a.Fingerprint,
			PayloadSize: len(a.Payload),
		}
	}
	return out
}
