// Package workflow: handlers.go registers the Signal/Query surface on a
// LogicalTurnWorkflow run. Adapted from the teacher's handlers.go
// (SetUpdateHandlerWithOptions + SetQueryHandler registration style),
// narrowed from the teacher's five handlers (user input, interrupt,
// shutdown, model override, approval response) to the one event ACF's
// Gateway ever emits to a running workflow: new_message (spec.md §4.6).
package workflow

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/agentfabric/acf/internal/turn"
)

func buildTurnStatus(ctrl *TurnControl, t *turn.LogicalTurn, currentBrainPhase string) TurnStatus {
	return TurnStatus{
		TurnID:              t.TurnID,
		Phase:               ctrl.Phase(),
		AccumulatedMessages: len(t.AccumulatedMessages),
		CurrentBrainPhase:   currentBrainPhase,
		SideEffectCount:     len(t.SideEffects),
		HasIrreversible:     t.HasIrreversibleSideEffect(),
	}
}

// registerHandlers wires the new_message signal and get_turn_status query.
// currentBrainPhase is a pointer so the query handler always reads the
// latest value the run pipeline has recorded, without needing its own
// signal.
func registerHandlers(ctx workflow.Context, ctrl *TurnControl, t *turn.LogicalTurn, currentBrainPhase *string) error {
	logger := workflow.GetLogger(ctx)

	err := workflow.SetQueryHandler(ctx, QueryTurnStatus, func() (TurnStatus, error) {
		return buildTurnStatus(ctrl, t, *currentBrainPhase), nil
	})
	if err != nil {
		return err
	}

	sigCh := workflow.GetSignalChannel(ctx, SignalNewMessage)
	workflow.Go(ctx, func(ctx workflow.Context) {
		for {
			var evt NewMessageEvent
			more := sigCh.Receive(ctx, &evt)
			if !more {
				return
			}
			if evt.ArrivedAt.IsZero() {
				evt.ArrivedAt = workflow.Now(ctx)
			}
			logger.Info("received new_message signal", "message_id", evt.MessageID)
			ctrl.DeliverNewMessage(evt)
		}
	})

	return nil
}

// waitForSignalDrain blocks briefly for any already-queued signal to be
// processed by the receiving goroutine above before the workflow proceeds
// to evaluate ctrl.HasPendingMessage() — Temporal delivers signals between
// tasks, so a single yield point is enough; used at points where the
// workflow is about to make a decision based on pending-message state
// right after a step boundary.
func waitForSignalDrain(ctx workflow.Context) error {
	return workflow.Sleep(ctx, 0*time.Millisecond)
}
