package ledger

import (
	"time"

	"github.com/agentfabric/acf/internal/turn"
)

// Ledger is the append-only mirror of a LogicalTurn's resolved tool calls
// (spec.md §4.9). It wraps a *turn.LogicalTurn rather than owning storage
// itself — persistence is the Turn Store's job (internal/turn); Ledger is
// the behavior layer over turn.SideEffect.
type Ledger struct {
	policies PolicyTable
}

// New constructs a Ledger consulting the given policy declarations.
func New(policies PolicyTable) *Ledger {
	return &Ledger{policies: policies}
}

// Record appends a SideEffect for toolName to t, resolving its policy from
// the declared table (fail-closed to IRREVERSIBLE if undeclared).
func (l *Ledger) Record(t *turn.LogicalTurn, toolName, payloadHash string, now time.Time) turn.SideEffect {
	se := turn.SideEffect{
		ToolName:    toolName,
		Policy:      l.policies.PolicyFor(toolName),
		InvokedAt:   now,
		PayloadHash: payloadHash,
	}
	t.AppendSideEffect(se)
	return se
}

// CanAbsorbMessage implements turn.can_absorb_message() (spec.md §4.9):
// status not in {COMMITTED, SUPERSEDED, ABORTED} and no IRREVERSIBLE side effect
// has been recorded.
func CanAbsorbMessage(t *turn.LogicalTurn) bool {
	switch t.Phase {
	case turn.PhaseCommitted, turn.PhaseSuperseded, turn.PhaseAborted:
		return false
	}
	return !t.HasIrreversibleSideEffect()
}

// CompensatableEffects returns the turn's COMPENSATABLE side effects not
// yet compensated, in reverse (most-recent-first) order — the order
// compensation must run in on a failure after an IRREVERSIBLE effect
// (spec.md §4.7 "attempts compensation for COMPENSATABLE effects in
// reverse order").
func CompensatableEffects(t *turn.LogicalTurn) []turn.SideEffect {
	var out []turn.SideEffect
	for i := len(t.SideEffects) - 1; i >= 0; i-- {
		se := t.SideEffects[i]
		if se.Policy == turn.PolicyCompensatable && !se.Compensated {
			out = append(out, se)
		}
	}
	return out
}
