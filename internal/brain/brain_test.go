package brain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfabric/acf/internal/brain"
	"github.com/agentfabric/acf/internal/turn"
)

func TestDependencyFingerprint_StableAcrossCalls(t *testing.T) {
	deps := brain.DependencyVersions{ConfigVersion: 1, RulesetVersion: 2, ScenarioVersion: 3, SessionStateVersion: 4}
	a, err := brain.DependencyFingerprint(deps)
	require.NoError(t, err)
	b, err := brain.DependencyFingerprint(deps)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestDependencyFingerprint_ChangesWithInput(t *testing.T) {
	a, _ := brain.DependencyFingerprint(brain.DependencyVersions{ConfigVersion: 1})
	b, _ := brain.DependencyFingerprint(brain.DependencyVersions{ConfigVersion: 2})
	require.NotEqual(t, a, b)
}

func TestFingerprintsMatch(t *testing.T) {
	combined := brain.CombineFingerprint("inputfp", "depfp")
	require.True(t, brain.FingerprintsMatch(combined, "inputfp", "depfp"))
	require.False(t, brain.FingerprintsMatch(combined, "inputfp", "otherdep"))
}

func TestDefaultDecisionPolicy_SupersedeWhenNoEffectsAndEarly(t *testing.T) {
	d := brain.DefaultDecisionPolicy(brain.DecisionInput{
		HasSideEffects:      false,
		PhasesCompletedFrac: 0.2,
		EstimatedPhasesLeft: 3,
	})
	require.Equal(t, turn.SupersedeSupersede, d.Kind)
}

func TestDefaultDecisionPolicy_AbsorbWithPureArtifactsSameTopic(t *testing.T) {
	d := brain.DefaultDecisionPolicy(brain.DecisionInput{
		HasSideEffects:      true,
		PhasesCompletedFrac: 0.7,
		HasPureArtifacts:    true,
		SameTopicAsBefore:   true,
		EstimatedPhasesLeft: 3,
	})
	require.Equal(t, turn.SupersedeAbsorb, d.Kind)
}

func TestDefaultDecisionPolicy_QueueWhenCommittedCompensatable(t *testing.T) {
	d := brain.DefaultDecisionPolicy(brain.DecisionInput{
		HasSideEffects:      true,
		PhasesCompletedFrac: 0.7,
		CommittedEffects:    []turn.SideEffect{{Policy: turn.PolicyCompensatable}},
		EstimatedPhasesLeft: 3,
	})
	require.Equal(t, turn.SupersedeQueue, d.Kind)
}

func TestDefaultDecisionPolicy_ForceCompleteWhenAlmostDone(t *testing.T) {
	d := brain.DefaultDecisionPolicy(brain.DecisionInput{EstimatedPhasesLeft: 0.3})
	require.Equal(t, turn.SupersedeForceComplete, d.Kind)
}

func TestTestBrain_ComputesAllPhases(t *testing.T) {
	tb := brain.NewTestBrain([]string{"classify", "respond"}, map[string]brain.PhaseFunc{
		"classify": func(*turn.LogicalTurn) ([]byte, error) { return []byte(`"c"`), nil },
		"respond":  func(*turn.LogicalTurn) ([]byte, error) { return []byte(`"r"`), nil },
	}, nil)

	tn := &turn.LogicalTurn{}
	names := tb.PhaseNames(tn)
	require.Equal(t, []string{"classify", "respond"}, names)

	var artifacts []turn.PhaseArtifact
	for _, p := range names {
		a, err := tb.ComputePhase(context.Background(), tn, p, nil)
		require.NoError(t, err)
		artifacts = append(artifacts, a)
	}
	require.Len(t, artifacts, 2)
}

func TestTestBrain_PolicyDefaultsToPure(t *testing.T) {
	tb := brain.NewTestBrain(nil, nil, map[string]turn.SideEffectPolicy{"charge": turn.PolicyIrreversible})
	require.Equal(t, turn.PolicyPure, tb.PolicyForPhase("classify"))
	require.Equal(t, turn.PolicyIrreversible, tb.PolicyForPhase("charge"))
}

func TestTestBrain_ReusesMatchingArtifact(t *testing.T) {
	called := false
	tb := brain.NewTestBrain([]string{"classify"}, map[string]brain.PhaseFunc{
		"classify": func(*turn.LogicalTurn) ([]byte, error) { called = true; return []byte(`"c"`), nil },
	}, nil)
	tn := &turn.LogicalTurn{}

	inputFP, err := brain.InputFingerprint(brain.NormalizedPhaseInput(tn, "classify"))
	require.NoError(t, err)
	depFP, err := brain.DependencyFingerprint(brain.DependencyVersions{})
	require.NoError(t, err)
	reusable := []turn.PhaseArtifact{{
		PhaseName:   "classify",
		Payload:     []byte(`"cached"`),
		Fingerprint: brain.CombineFingerprint(inputFP, depFP),
	}}

	a, err := tb.ComputePhase(context.Background(), tn, "classify", reusable)
	require.NoError(t, err)
	require.False(t, called)
	require.Equal(t, []byte(`"cached"`), a.Payload)
}

func TestTestBrain_RecomputesWhenFingerprintStale(t *testing.T) {
	called := false
	tb := brain.NewTestBrain([]string{"classify"}, map[string]brain.PhaseFunc{
		"classify": func(*turn.LogicalTurn) ([]byte, error) { called = true; return []byte(`"c"`), nil },
	}, nil)
	tn := &turn.LogicalTurn{AccumulatedMessages: []turn.AccumulatedMessage{{Text: "new message"}}}
	reusable := []turn.PhaseArtifact{{PhaseName: "classify", Payload: []byte(`"cached"`), Fingerprint: "stale:stale"}}

	a, err := tb.ComputePhase(context.Background(), tn, "classify", reusable)
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, []byte(`"c"`), a.Payload)
}
