// Package ledger implements the Side-Effect Ledger (C9, spec.md §4.9):
// declared tool policies and the append-only mirror of every tool call a
// turn has resolved, plus the can_absorb_message predicate that gates
// supersede/absorb decisions throughout the workflow.
//
// Grounded on the teacher's escalation.go pattern of consulting a
// declared, out-of-band policy table before allowing an action to
// proceed — generalized from "is this tool call pre-approved" to "what
// reversibility class does this tool belong to."
package ledger

import "github.com/agentfabric/acf/internal/turn"

// PolicyTable declares exactly one SideEffectPolicy per tool name
// (spec.md §4.9 "Tools are declared... with exactly one policy").
type PolicyTable map[string]turn.SideEffectPolicy

// PolicyFor returns the declared policy for toolName. Absence of a
// declaration is treated as IRREVERSIBLE — fail-closed (spec.md §4.9).
func (t PolicyTable) PolicyFor(toolName string) turn.SideEffectPolicy {
	if p, ok := t[toolName]; ok {
		return p
	}
	return turn.PolicyIrreversible
}
