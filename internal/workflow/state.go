// Package workflow contains the Temporal workflow definition for ACF's
// LogicalTurnWorkflow (C7, spec.md §4.7): one workflow instance per
// LogicalTurn, carrying the accumulation window, the phase-stepping run
// pipeline, and the commit step, all gated by the session mutex's
// fencing token.
//
// state.go defines the Signal/Update/Query surface and the workflow
// input/output shapes, mirroring the teacher's internal/workflow/state.go
// (handler name constants, a single input struct, a query-facing status
// struct) generalized from one long-running conversational session to one
// short-lived, turn-scoped workflow run.
package workflow

import (
	"time"

	"github.com/agentfabric/acf/internal/accumulator"
	"github.com/agentfabric/acf/internal/audit"
	"github.com/agentfabric/acf/internal/brain"
	"github.com/agentfabric/acf/internal/turn"
)

// Handler name constants — used by both the workflow's registration and
// the Gateway's workflow client (internal/gateway.WorkflowClient).
const (
	SignalNewMessage = "new_message"
	QueryTurnStatus  = "get_turn_status"
)

// NewMessageEvent is the payload of the new_message signal (spec.md §4.6
// "Gateway signals the existing workflow via an event").
type NewMessageEvent struct {
	MessageID string
	Content   string
	ArrivedAt time.Time
}

// TurnWorkflowInput starts a LogicalTurnWorkflow run (spec.md §4.7 Step A).
type TurnWorkflowInput struct {
	SessionKey    string
	Turn          turn.LogicalTurn
	InitialWaitMs int

	// AccumulationMinWaitMs/MaxWaitMs bound the accumulator's output
	// (spec.md §4.5, §6 "accumulation min/max clamps").
	AccumulationMinWaitMs int
	AccumulationMaxWaitMs int

	// MutexBlockingTimeoutMs bounds Step A's lock acquisition attempt
	// (spec.md §4.7 Step A).
	MutexBlockingTimeoutMs int
	MutexLeaseTTLMs        int

	// MaxAccumulationWallMs caps total accumulated wall time (spec.md
	// §4.7 Step B "total accumulated wall time is capped").
	MaxAccumulationWallMs int

	// PipelineHint/UserCadenceP95Ms are the session's latest adaptive-wait
	// inputs, read by the Gateway once at Step A time and carried into the
	// workflow so every re-accumulation round within this same turn also
	// feeds accumulator.SuggestWaitMs real data instead of falling back to
	// the channel's bare shape-nudge (spec.md §4.5 points 3-4).
	PipelineHint     *accumulator.Hint
	UserCadenceP95Ms *int
}

// TurnStatus is the result of the get_turn_status query — observable
// workflow state, mirroring the teacher's buildTurnStatus helper pattern.
type TurnStatus struct {
	TurnID              string
	Phase               turn.Phase
	AccumulatedMessages int
	CurrentBrainPhase   string
	SideEffectCount     int
	HasIrreversible     bool
}

// TurnWorkflowResult is the value a LogicalTurnWorkflow run returns.
type TurnWorkflowResult struct {
	TurnID             string
	FinalPhase         turn.Phase
	SupersededByTurnID string
	Err                string
}

// PhaseExecutionInput is the input to the ExecuteBrainPhase activity.
type PhaseExecutionInput struct {
	Turn              turn.LogicalTurn
	Phase             string
	ReusableArtifacts []turn.PhaseArtifact
}

// PhaseExecutionOutput is the output of the ExecuteBrainPhase activity.
type PhaseExecutionOutput struct {
	Artifact turn.PhaseArtifact
}

// DecideInput is the input to the DecideSupersede activity.
type DecideInput struct {
	Turn               turn.LogicalTurn
	LastCompletedPhase string
}

// DecideOutput is the output of the DecideSupersede activity.
type DecideOutput struct {
	Decision turn.SupersedeDecision
}

// FollowupInput is the input to the SummarizeForFollowup activity.
type FollowupInput struct {
	Turn turn.LogicalTurn
}

// FollowupOutput is the output of the SummarizeForFollowup activity.
type FollowupOutput struct {
	Hint       brain.FollowupHint
	Transition brain.ScenarioTransition
}

// CommitInput is the input to the CommitTurn/AbortTurn activities
// (spec.md §4.7 Step D, §4.10).
type CommitInput struct {
	Turn       turn.LogicalTurn
	SessionKey string

	// Interruptions records every Brain interrupt observed during this
	// turn's run_pipeline step (spec.md §4.7 Step C, §6
	// TurnRecord.interruptions).
	Interruptions []audit.Interruption

	// FollowupHint/Transition are the Brain's end-of-turn wrap-up data,
	// produced by SummarizeForFollowup just before commit (spec.md §4.7
	// Step D, §4.8). Zero-valued on the abort path, which never calls
	// SummarizeForFollowup.
	FollowupHint brain.FollowupHint
	Transition   brain.ScenarioTransition
}

// CommitOutput is the output of the CommitTurn activity.
type CommitOutput struct {
	AlreadyCommitted bool
}

// SpawnSuccessorInput is the input to the SpawnSuccessor activity
// (spec.md §4.7 Step C SUPERSEDE path).
type SpawnSuccessorInput struct {
	OldTurn       turn.LogicalTurn
	SessionKey    string
	InitialWaitMs int
}

// SpawnSuccessorOutput is the output of the SpawnSuccessor activity.
type SpawnSuccessorOutput struct {
	NewTurnID string
}

// DrainOverflowInput is the input to the DrainOverflow activity, called
// once a turn reaches a terminal phase and releases the session mutex
// (spec.md §4.7 Step D, §8 scenario 3). Overflowed carries whatever the
// finishing turn itself parked mid-pipeline (its own t.Overflowed, not a
// Redis round-trip); DrainOverflow folds those in with anything the
// Gateway separately parked on the session's overflow queue.
type DrainOverflowInput struct {
	SessionKey string
	Channel    string
	Overflowed []turn.AccumulatedMessage
}

// DrainOverflowOutput is the output of the DrainOverflow activity.
type DrainOverflowOutput struct {
	NewTurnID string
	Started   bool
}
