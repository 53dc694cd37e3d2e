package brain

import "github.com/agentfabric/acf/internal/turn"

// DecisionInput bundles the facts the default decision policy consults
// (spec.md §4.8 decision policy defaults table).
type DecisionInput struct {
	HasSideEffects      bool
	PhasesCompletedFrac float64 // completed / total, in [0, 1]
	SameTopicAsBefore   bool
	HasPureArtifacts    bool
	CommittedEffects    []turn.SideEffect // COMPENSATABLE/IDEMPOTENT effects already committed
	EstimatedPhasesLeft float64
}

// DefaultDecisionPolicy implements the decision policy defaults table from
// spec.md §4.8. Agents may override it with their own policy; this is the
// fallback a deterministic test Brain (and any Brain implementation
// lacking a per-agent override) consults.
func DefaultDecisionPolicy(in DecisionInput) turn.SupersedeDecision {
	switch {
	case in.EstimatedPhasesLeft < 1:
		return turn.SupersedeDecision{Kind: turn.SupersedeForceComplete, Reason: "fewer than one phase remains"}
	case !in.HasSideEffects && in.PhasesCompletedFrac < 0.5:
		return turn.SupersedeDecision{Kind: turn.SupersedeSupersede, Reason: "no side effects yet and under half the phases are done"}
	case in.HasPureArtifacts && in.SameTopicAsBefore:
		return turn.SupersedeDecision{Kind: turn.SupersedeAbsorb, Reason: "pure artifacts worth keeping and the new message looks like the same topic"}
	case hasCommittedCompensatableOrIdempotent(in.CommittedEffects):
		return turn.SupersedeDecision{Kind: turn.SupersedeQueue, Reason: "committed compensatable/idempotent effects already recorded"}
	default:
		return turn.SupersedeDecision{Kind: turn.SupersedeQueue, Reason: "no default condition matched; defer to the safest option"}
	}
}

func hasCommittedCompensatableOrIdempotent(effects []turn.SideEffect) bool {
	for _, se := range effects {
		if se.Policy == turn.PolicyCompensatable || se.Policy == turn.PolicyIdempotent {
			return true
		}
	}
	return false
}
