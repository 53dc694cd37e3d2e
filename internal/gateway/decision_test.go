package gateway_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfabric/acf/internal/gateway"
	"github.com/agentfabric/acf/internal/turn"
)

func TestClassify_NoActiveTurn_AccumulateNew(t *testing.T) {
	d := gateway.Classify(nil, gateway.PolicyAllowSupersede, gateway.AdviceNone)
	require.Equal(t, gateway.DecisionAccumulateNew, d.Kind)
}

func TestClassify_ActiveAccumulating_AccumulateAbsorb(t *testing.T) {
	tn := &turn.LogicalTurn{Phase: turn.PhaseAccumulating}
	d := gateway.Classify(tn, gateway.PolicyAllowSupersede, gateway.AdviceNone)
	require.Equal(t, gateway.DecisionAccumulateAbsorb, d.Kind)
}

func TestClassify_ProcessingWithIrreversible_Queue(t *testing.T) {
	tn := &turn.LogicalTurn{
		Phase:       turn.PhaseRunning,
		SideEffects: []turn.SideEffect{{Policy: turn.PolicyIrreversible}},
	}
	d := gateway.Classify(tn, gateway.PolicyAllowSupersede, gateway.AdviceSupersede)
	require.Equal(t, gateway.DecisionQueue, d.Kind)
}

func TestClassify_ProcessingNoIrreversible_BrainAdvisesSupersede(t *testing.T) {
	tn := &turn.LogicalTurn{Phase: turn.PhaseRunning}
	d := gateway.Classify(tn, gateway.PolicyAllowSupersede, gateway.AdviceSupersede)
	require.Equal(t, gateway.DecisionSupersede, d.Kind)
}

func TestClassify_ProcessingForceCompletePolicy_Queue(t *testing.T) {
	tn := &turn.LogicalTurn{Phase: turn.PhaseRunning}
	d := gateway.Classify(tn, gateway.PolicyForceComplete, gateway.AdviceSupersede)
	require.Equal(t, gateway.DecisionQueue, d.Kind)
}

func TestClassify_ProcessingNoAdvice_Queue(t *testing.T) {
	tn := &turn.LogicalTurn{Phase: turn.PhaseRunning}
	d := gateway.Classify(tn, gateway.PolicyAllowSupersede, gateway.AdviceNone)
	require.Equal(t, gateway.DecisionQueue, d.Kind)
}
