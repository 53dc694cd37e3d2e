// Package brain defines the Supersede / Artifact Engine contract (C8,
// spec.md §4.8): the polymorphic capability ACF's workflow drives through
// the run_pipeline step. ACF does not model the Brain's internal phases —
// it only requires a phase-list/compute-one-phase capability set plus
// summarize_for_followup, and a deterministic fingerprinting discipline
// for artifact reuse across a supersede/retry.
//
// The contract is phase-granular rather than a single opaque Think call
// because the cancellation probe (spec.md §4.7 Step C) must be evaluated
// by the *workflow* between phases — a Temporal Activity cannot accept a
// live closure or react mid-execution to a signal, so interruption is
// realized by the workflow driving one ComputePhase Activity call per
// phase and deciding whether to continue after each, exactly as the
// teacher's internal/workflow/turn.go drives one LLM call per loop
// iteration and internal/workflow/escalation.go gates the next step on a
// probe-like pending-interrupt check.
package brain

import (
	"context"

	"github.com/agentfabric/acf/internal/turn"
)

// Status is the tagged-variant outcome the workflow assigns after running
// a turn's phase sequence (spec.md §9 design note: sum-type over
// inheritance, mirroring turn.SupersedeDecision).
type Status string

const (
	StatusCompleted   Status = "COMPLETED"
	StatusInterrupted Status = "INTERRUPTED"
)

// Result is the outcome the workflow assembles after driving a turn's
// phase sequence to completion or to an interrupt point.
type Result struct {
	Status Status

	// Populated when Status == StatusCompleted.
	Artifacts []turn.PhaseArtifact

	// Populated when Status == StatusInterrupted.
	LastCompletedPhase string
	Decision           turn.SupersedeDecision
}

// FollowupHint is the pipeline hint a Brain may emit on commit for the
// next turn's accumulator call (spec.md §4.5 point 4, §4.8
// summarize_for_followup).
type FollowupHint struct {
	SuggestedWaitMs      int
	CompletionConfidence float64
}

// ScenarioTransition is the scenario/variable/rule-fire delta a Brain
// emits alongside its FollowupHint once a turn completes (spec.md §3, §4.7
// Step D "transition the session's active_scenario_id/step_id"). A nil
// ScenarioID and StepID mean the turn didn't move the scenario forward.
type ScenarioTransition struct {
	ScenarioID      *string
	StepID          *string
	ScenarioVersion *int
	Reason          string
	Confidence      float64
	VariableUpdates map[string]any
	RuleFires       []string
}

// Brain is the capability set ACF's workflow drives (spec.md §4.8).
type Brain interface {
	// PhaseNames returns the ordered phase sequence for t. Called once per
	// run_pipeline attempt; implementations may vary the sequence by turn
	// content but must return the same sequence for the same t within one
	// attempt (the workflow iterates it without re-querying per phase).
	PhaseNames(t *turn.LogicalTurn) []string

	// ComputePhase runs exactly one phase and returns its artifact. The
	// workflow calls this once per phase, as a Temporal Activity, and
	// decides whether to continue to the next phase itself — this is
	// where a phase's side effects, if any, actually happen.
	ComputePhase(ctx context.Context, t *turn.LogicalTurn, phase string, reusableArtifacts []turn.PhaseArtifact) (turn.PhaseArtifact, error)

	// PolicyForPhase reports whether phase's side effects (if any) are
	// PURE — the workflow only needs to consult the cancellation probe
	// before a non-PURE phase (spec.md §4.8 "Before executing any phase
	// that produces non-PURE side effects, the Brain calls the probe").
	PolicyForPhase(phase string) turn.SideEffectPolicy

	// Decide builds a SupersedeDecision when the workflow's probe fires
	// before a non-PURE phase (spec.md §4.8).
	Decide(ctx context.Context, t *turn.LogicalTurn, lastCompletedPhase string) (turn.SupersedeDecision, error)

	// SummarizeForFollowup produces a hint for the accumulator's next call
	// and the scenario transition to apply to the Session, after a
	// successful commit (spec.md §4.8, §4.7 Step D).
	SummarizeForFollowup(ctx context.Context, t *turn.LogicalTurn) (FollowupHint, ScenarioTransition, error)
}
