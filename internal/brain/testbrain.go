package brain

import (
	"context"
	"fmt"
	"time"

	"github.com/agentfabric/acf/internal/turn"
)

// PhaseFunc computes one phase's artifact payload for a test turn. Used by
// TestBrain in place of a real model call so workflow/store tests can run
// deterministically without a live Brain.
type PhaseFunc func(t *turn.LogicalTurn) ([]byte, error)

// TestBrain is a deterministic, in-process Brain implementation for
// tests: a fixed, ordered phase list with per-phase compute functions and
// declared policies. Grounded on the teacher's activities/llm.go pattern
// of wrapping a single external call behind a narrow interface, adapted
// here to one function per phase since no Activity boundary is needed for
// a test double.
type TestBrain struct {
	Names    []string
	Compute  map[string]PhaseFunc
	Policies map[string]turn.SideEffectPolicy
	Now      func() time.Time
	Decision func(lastPhase string) turn.SupersedeDecision

	// Deps returns the dependency versions an artifact's
	// dependency_fingerprint is hashed over (spec.md §4.8). Defaults to the
	// zero DependencyVersions when nil, which is fine for a test fixture
	// whose config/ruleset/scenario versions never change mid-run.
	Deps func(t *turn.LogicalTurn) DependencyVersions
}

// NewTestBrain constructs a TestBrain over the given ordered phase names,
// with every phase defaulting to PURE unless overridden in policies.
func NewTestBrain(phaseNames []string, compute map[string]PhaseFunc, policies map[string]turn.SideEffectPolicy) *TestBrain {
	return &TestBrain{
		Names:    phaseNames,
		Compute:  compute,
		Policies: policies,
		Now:      time.Now,
		Decision: func(string) turn.SupersedeDecision {
			return turn.SupersedeDecision{Kind: turn.SupersedeSupersede, Reason: "test default"}
		},
	}
}

// PhaseNames returns the fixed phase sequence.
func (b *TestBrain) PhaseNames(t *turn.LogicalTurn) []string { return b.Names }

// NormalizedPhaseInput builds the value TestBrain hashes into an
// artifact's input_fingerprint: the phase name plus the text of every
// accumulated message, so a reusable-artifact candidate's fingerprint
// changes the moment a new message is absorbed into t (spec.md §4.8).
func NormalizedPhaseInput(t *turn.LogicalTurn, phase string) any {
	texts := make([]string, len(t.AccumulatedMessages))
	for i, m := range t.AccumulatedMessages {
		texts[i] = m.Text
	}
	return struct {
		Phase    string
		Messages []string
	}{Phase: phase, Messages: texts}
}

// ComputePhase runs phase's registered PhaseFunc, or returns an empty JSON
// object artifact if none is registered. A reusable artifact is only
// returned as-is when its stored fingerprint still matches the current
// input and dependency fingerprints (spec.md §4.8 dual-fingerprint reuse
// contract) — matching by PhaseName alone would wrongly reuse a phase
// whose inputs changed since it was produced.
func (b *TestBrain) ComputePhase(ctx context.Context, t *turn.LogicalTurn, phase string, reusableArtifacts []turn.PhaseArtifact) (turn.PhaseArtifact, error) {
	inputFP, err := InputFingerprint(NormalizedPhaseInput(t, phase))
	if err != nil {
		return turn.PhaseArtifact{}, fmt.Errorf("compute input fingerprint: %w", err)
	}
	deps := DependencyVersions{}
	if b.Deps != nil {
		deps = b.Deps(t)
	}
	depFP, err := DependencyFingerprint(deps)
	if err != nil {
		return turn.PhaseArtifact{}, fmt.Errorf("compute dependency fingerprint: %w", err)
	}

	for _, a := range reusableArtifacts {
		if a.PhaseName == phase && FingerprintsMatch(a.Fingerprint, inputFP, depFP) {
			return a, nil
		}
	}

	compute, ok := b.Compute[phase]
	if !ok {
		compute = func(*turn.LogicalTurn) ([]byte, error) { return []byte("{}"), nil }
	}
	payload, err := compute(t)
	if err != nil {
		return turn.PhaseArtifact{}, err
	}
	return turn.PhaseArtifact{
		PhaseName:   phase,
		ProducedAt:  b.Now(),
		Fingerprint: CombineFingerprint(inputFP, depFP),
		Payload:     payload,
		TokensUsed:  len(payload),
	}, nil
}

// PolicyForPhase returns phase's declared policy, defaulting to PURE.
func (b *TestBrain) PolicyForPhase(phase string) turn.SideEffectPolicy {
	if p, ok := b.Policies[phase]; ok {
		return p
	}
	return turn.PolicyPure
}

// Decide returns the fixed Decision function's output.
func (b *TestBrain) Decide(ctx context.Context, t *turn.LogicalTurn, lastCompletedPhase string) (turn.SupersedeDecision, error) {
	return b.Decision(lastCompletedPhase), nil
}

// SummarizeForFollowup returns a fixed, high-confidence hint and an empty
// transition — deterministic test fixtures have no real notion of
// completion confidence or scenario progression.
func (b *TestBrain) SummarizeForFollowup(ctx context.Context, t *turn.LogicalTurn) (FollowupHint, ScenarioTransition, error) {
	return FollowupHint{SuggestedWaitMs: 0, CompletionConfidence: 1.0}, ScenarioTransition{}, nil
}
