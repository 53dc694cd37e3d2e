package gateway

import (
	"context"

	"github.com/agentfabric/acf/internal/brain"
	"github.com/agentfabric/acf/internal/turn"
)

// PolicyAdvisor is a thin BrainAdvisor backed by brain.DefaultDecisionPolicy
// (spec.md §4.6 row 3, §4.8). It is a quick, synchronous approximation of
// the inputs the decision policy needs from what the Gateway can see
// without calling into the Brain itself — the authoritative call happens
// inside the workflow's run_pipeline step once the cancellation probe
// actually fires (internal/workflow/turnworkflow.go's DecideSupersede
// activity). Without a concrete BrainAdvisor wired in, every PROCESSING-
// phase message falls through Classify to QUEUE and SUPERSEDE is
// unreachable (spec.md §4.6 table row 3).
type PolicyAdvisor struct{}

// Advise maps DefaultDecisionPolicy's outcome onto the Gateway's narrower
// BrainAdvice vocabulary (spec.md §4.6 only asks for ABSORB/SUPERSEDE/none
// at this pre-state; QUEUE and FORCE_COMPLETE both mean "don't supersede
// yet").
func (PolicyAdvisor) Advise(ctx context.Context, t *turn.LogicalTurn, msg InboundMessage) BrainAdvice {
	completed := len(t.Artifacts)
	d := brain.DefaultDecisionPolicy(brain.DecisionInput{
		HasSideEffects: len(t.SideEffects) > 0,
		// The Gateway never knows the Brain's total phase count for this
		// turn (only DescribeBrain, called in-workflow, does); assume
		// exactly one phase remains beyond the artifacts already produced,
		// so the completed fraction is completed/(completed+1) and stays
		// below 1.
		PhasesCompletedFrac: float64(completed) / float64(completed+1),
		HasPureArtifacts:    completed > 0 && !t.HasIrreversibleSideEffect(),
		CommittedEffects:    t.SideEffects,
		EstimatedPhasesLeft: 1,
	})
	switch d.Kind {
	case turn.SupersedeAbsorb:
		return AdviceAbsorb
	case turn.SupersedeSupersede:
		return AdviceSupersede
	default:
		return AdviceNone
	}
}
