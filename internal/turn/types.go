// Package turn implements the LogicalTurn aggregate (spec.md §3): the unit
// of work a LogicalTurnWorkflow instance carries from admission through
// commit, its phase artifacts, and its declared side effects.
//
// Grounded on the teacher's internal/workflow/state.go (TurnPhase,
// TurnStatus) and internal/models/conversation.go (ToolCall/ToolResult
// shape), generalized from one in-process conversation turn to a
// persisted, cross-workflow-instance aggregate with explicit supersede
// lineage.
package turn

import "time"

// Phase is the LogicalTurn lifecycle phase (spec.md §3, §4.7 Step C).
type Phase string

const (
	PhaseAdmitted    Phase = "ADMITTED"
	PhaseAccumulating Phase = "ACCUMULATING"
	PhaseRunning     Phase = "RUNNING"
	PhaseCommitting  Phase = "COMMITTING"
	PhaseCommitted   Phase = "COMMITTED"
	PhaseSuperseded  Phase = "SUPERSEDED"
	PhaseAborted     Phase = "ABORTED"
)

// SideEffectPolicy classifies a tool/action's reversibility (spec.md §4.8,
// §9 design note). IRREVERSIBLE is an absorbing state: once a turn has
// performed one, SUPERSEDE is no longer permitted for that turn.
type SideEffectPolicy string

const (
	PolicyPure           SideEffectPolicy = "PURE"
	PolicyIdempotent     SideEffectPolicy = "IDEMPOTENT"
	PolicyCompensatable  SideEffectPolicy = "COMPENSATABLE"
	PolicyIrreversible   SideEffectPolicy = "IRREVERSIBLE"
)

// SideEffect records one declared action taken during a turn's run phase.
type SideEffect struct {
	ToolName    string           `json:"tool_name"`
	Policy      SideEffectPolicy `json:"policy"`
	InvokedAt   time.Time        `json:"invoked_at"`
	PayloadHash string           `json:"payload_hash"`
	Compensated bool             `json:"compensated"`
}

// PhaseArtifact is one unit of Brain-produced output for a phase of the
// run pipeline (spec.md §4.7 Step C) — kept so a superseded/retried turn
// can reuse prior-phase work instead of recomputing it from scratch.
type PhaseArtifact struct {
	PhaseName   string    `json:"phase_name"`
	ProducedAt  time.Time `json:"produced_at"`
	Fingerprint string    `json:"fingerprint"`
	Payload     []byte    `json:"payload"`
	TokensUsed  int       `json:"tokens_used,omitempty"`
}

// SupersedeDecision is the tagged-variant outcome of evaluating whether an
// in-flight turn can absorb a newly arrived message (spec.md §4.8, §9
// design note: sum-type over inheritance).
type SupersedeDecision struct {
	Kind   SupersedeKind `json:"kind"`
	Reason string        `json:"reason,omitempty"`
}

// SupersedeKind enumerates the possible SupersedeDecision outcomes. Three
// of these (ABSORB/SUPERSEDE/QUEUE) are also Gateway TurnDecision rows
// (spec.md §4.6); FORCE_COMPLETE only ever comes out of the Brain's
// interrupt-path decision policy (spec.md §4.8) and means "ignore the
// interrupt, finish the phase sequence" rather than "stop here."
type SupersedeKind string

const (
	SupersedeAbsorb        SupersedeKind = "ABSORB"
	SupersedeQueue         SupersedeKind = "QUEUE"
	SupersedeSupersede     SupersedeKind = "SUPERSEDE"
	SupersedeReject        SupersedeKind = "REJECT"
	SupersedeForceComplete SupersedeKind = "FORCE_COMPLETE"
)

// LogicalTurn is the persisted unit of work for one conversational turn.
type LogicalTurn struct {
	TurnID       string `json:"turn_id"`
	SessionKey   string `json:"session_key"`
	TurnGroupID  string `json:"turn_group_id,omitempty"`
	TurnNumber   int    `json:"turn_number"`
	Channel      string `json:"channel,omitempty"`

	Phase Phase `json:"phase"`

	AccumulatedMessages []AccumulatedMessage `json:"accumulated_messages,omitempty"`

	// Overflowed holds messages that arrived while can_absorb_message was
	// false (an IRREVERSIBLE effect already recorded) or while the run
	// pipeline's decision policy chose QUEUE over ABSORB/SUPERSEDE — they
	// are not part of this turn's input, only carried for the Gateway's
	// next decision once this turn reaches a terminal phase.
	Overflowed []AccumulatedMessage `json:"overflowed,omitempty"`

	Artifacts    []PhaseArtifact `json:"artifacts,omitempty"`
	SideEffects  []SideEffect    `json:"side_effects,omitempty"`

	SupersededByTurnID string `json:"superseded_by_turn_id,omitempty"`
	SupersedesTurnID   string `json:"supersedes_turn_id,omitempty"`

	FencingToken uint64 `json:"fencing_token"`

	// ScenarioStatesAtStart snapshots the session's active scenario/step at
	// PROCESSING entry, frozen for the audit trail's before/after diff
	// (spec.md §3, §8). Captured at commit time, reading the Session once
	// before this turn's own transition is applied — sound because the
	// session mutex's single-writer discipline guarantees nothing else
	// mutated Session between Step A and Step D for this turn.
	ScenarioStatesAtStart *ScenarioSnapshot `json:"scenario_states_at_start,omitempty"`

	// CompletionConfidence and CompletionReason record how this turn's
	// accumulation/commit decided it was done (spec.md §3): CompletionReason
	// is one of "timeout", "absorbed_overflow", "explicit_signal", or
	// "ai_predicted"; CompletionConfidence is the Brain's own estimate,
	// carried forward as the next turn's accumulator hint.
	CompletionConfidence float64 `json:"completion_confidence,omitempty"`
	CompletionReason     string  `json:"completion_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CommittedAt *time.Time `json:"committed_at,omitempty"`
}

// ScenarioSnapshot captures a Session's active_scenario_id/active_step_id/
// active_scenario_version at a point in time (spec.md §3).
type ScenarioSnapshot struct {
	ScenarioID      *string `json:"scenario_id,omitempty"`
	StepID          *string `json:"step_id,omitempty"`
	ScenarioVersion *int    `json:"scenario_version,omitempty"`
}

// AccumulatedMessage is one inbound message folded into a turn during its
// accumulation window (spec.md §4.5).
type AccumulatedMessage struct {
	MessageID string    `json:"message_id"`
	Text      string    `json:"text"`
	ArrivedAt time.Time `json:"arrived_at"`
}

// HasIrreversibleSideEffect reports whether the turn has performed any
// IRREVERSIBLE side effect — the absorbing condition that forever forbids
// SUPERSEDE for this turn (spec.md §4.8, §8).
func (t *LogicalTurn) HasIrreversibleSideEffect() bool {
	for _, se := range t.SideEffects {
		if se.Policy == PolicyIrreversible {
			return true
		}
	}
	return false
}

// AppendSideEffect records a declared side effect.
func (t *LogicalTurn) AppendSideEffect(se SideEffect) {
	t.SideEffects = append(t.SideEffects, se)
}

// ArtifactByPhase returns the most recently produced artifact for
// phaseName, for reuse across a SUPERSEDE/retry, or nil if none exists.
func (t *LogicalTurn) ArtifactByPhase(phaseName string) *PhaseArtifact {
	for i := len(t.Artifacts) - 1; i >= 0; i-- {
		if t.Artifacts[i].PhaseName == phaseName {
			return &t.Artifacts[i]
		}
	}
	return nil
}
