package turn_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentfabric/acf/internal/turn"
)

func TestHasIrreversibleSideEffect(t *testing.T) {
	lt := &turn.LogicalTurn{}
	require.False(t, lt.HasIrreversibleSideEffect())

	lt.AppendSideEffect(turn.SideEffect{ToolName: "lookup_order", Policy: turn.PolicyPure})
	require.False(t, lt.HasIrreversibleSideEffect())

	lt.AppendSideEffect(turn.SideEffect{ToolName: "charge_card", Policy: turn.PolicyIrreversible})
	require.True(t, lt.HasIrreversibleSideEffect())
}

func TestArtifactByPhase_ReturnsMostRecent(t *testing.T) {
	lt := &turn.LogicalTurn{
		Artifacts: []turn.PhaseArtifact{
			{PhaseName: "classify", Fingerprint: "v1", ProducedAt: time.Unix(0, 0)},
			{PhaseName: "classify", Fingerprint: "v2", ProducedAt: time.Unix(1, 0)},
			{PhaseName: "respond", Fingerprint: "r1", ProducedAt: time.Unix(2, 0)},
		},
	}

	got := lt.ArtifactByPhase("classify")
	require.NotNil(t, got)
	require.Equal(t, "v2", got.Fingerprint)
}

func TestArtifactByPhase_NilWhenAbsent(t *testing.T) {
	lt := &turn.LogicalTurn{}
	require.Nil(t, lt.ArtifactByPhase("classify"))
}
