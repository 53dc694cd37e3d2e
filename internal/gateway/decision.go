// Package gateway implements the Turn Gateway (C6, spec.md §4.6): the
// single, lock-free entry point for inbound messages. It decides a
// TurnDecision from (session_key, active turn state) and never takes the
// session mutex itself — everything it does is either a conditional write
// on turn metadata or an event emitted toward the owning workflow.
//
// Grounded on the teacher's internal/workflow/handlers.go Update-handler
// validator pattern (validate-then-accept at the boundary) generalized
// from "validate one Update payload" to "classify one inbound message
// against turn state."
package gateway

import "github.com/agentfabric/acf/internal/turn"

// DecisionKind is the Gateway's outward decision (spec.md §4.6 table).
type DecisionKind string

const (
	DecisionAccumulateNew    DecisionKind = "ACCUMULATE_NEW"
	DecisionAccumulateAbsorb DecisionKind = "ACCUMULATE_ABSORB"
	DecisionSupersede        DecisionKind = "SUPERSEDE"
	DecisionQueue            DecisionKind = "QUEUE"
)

// Decision is the outcome of classifying one inbound message against the
// active LogicalTurn, if any (spec.md §4.6).
type Decision struct {
	Kind DecisionKind
}

// ActiveTurnPolicy reports whether the policy governing the active turn
// permits supersede. spec.md §4.6 names FORCE_COMPLETE as an example of a
// policy that disallows it.
type ActiveTurnPolicy string

const (
	PolicyAllowSupersede ActiveTurnPolicy = "ALLOW_SUPERSEDE"
	PolicyForceComplete  ActiveTurnPolicy = "FORCE_COMPLETE"
)

// BrainAdvice is the Brain's recommended action when consulted at a
// PROCESSING pre-state (spec.md §4.6 row 3: "Brain advises ABSORB or
// SUPERSEDE").
type BrainAdvice string

const (
	AdviceAbsorb    BrainAdvice = "ABSORB"
	AdviceSupersede BrainAdvice = "SUPERSEDE"
	AdviceNone      BrainAdvice = ""
)

// Classify implements the Gateway's TurnDecision table (spec.md §4.6).
// activeTurn is nil when there is no active LogicalTurn for the session.
func Classify(activeTurn *turn.LogicalTurn, policy ActiveTurnPolicy, advice BrainAdvice) Decision {
	if activeTurn == nil {
		return Decision{Kind: DecisionAccumulateNew}
	}

	switch activeTurn.Phase {
	case turn.PhaseAccumulating:
		return Decision{Kind: DecisionAccumulateAbsorb}

	case turn.PhaseRunning:
		if activeTurn.HasIrreversibleSideEffect() {
			return Decision{Kind: DecisionQueue}
		}
		if policy == PolicyForceComplete {
			return Decision{Kind: DecisionQueue}
		}
		if advice == AdviceAbsorb || advice == AdviceSupersede {
			return Decision{Kind: DecisionSupersede}
		}
		return Decision{Kind: DecisionQueue}

	default:
		// COMMITTED/SUPERSEDED/ABORTED turns are not "active" by definition
		// (turn.Store.GetActive already filters these out), but treat any
		// unexpected terminal phase seen here the same as "no active turn" —
		// a fresh accumulation is always safe once nothing can still mutate.
		return Decision{Kind: DecisionAccumulateNew}
	}
}
