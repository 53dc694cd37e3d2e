// Package workflow: workflowclient.go implements gateway.WorkflowClient
// against a real Temporal client. It is the one file in this package that
// runs in the Gateway process rather than inside a workflow — grounded on
// the teacher's cmd/worker/main.go client.Dial + TaskQueue convention,
// narrowed to the two calls the Gateway ever makes.
package workflow

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/agentfabric/acf/internal/accumulator"
	"github.com/agentfabric/acf/internal/gateway"
	"github.com/agentfabric/acf/internal/session"
	"github.com/agentfabric/acf/internal/turn"
)

// TaskQueue is the Temporal task queue LogicalTurnWorkflow runs on.
const TaskQueue = "acf-turn"

// TemporalWorkflowClient adapts a Temporal client.Client to
// gateway.WorkflowClient. Every LogicalTurn, including a superseding one,
// gets its own workflow ID keyed by turn_id rather than session_key: a
// mid-pipeline SUPERSEDE starts its successor while the superseded turn's
// workflow is still open, so a session-keyed ID would always collide with
// it. The Turn Store's active-turn lookup is what guarantees at most one
// LogicalTurn (and so one workflow) is active per session at a time —
// Temporal's start-dedup only has to protect against the same turn_id
// being started twice (e.g. an activity retry), which
// WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE plus the fallback signal below
// handle.
type TemporalWorkflowClient struct {
	Client client.Client
}

// NewTemporalWorkflowClient wraps an already-connected Temporal client.
func NewTemporalWorkflowClient(c client.Client) *TemporalWorkflowClient {
	return &TemporalWorkflowClient{Client: c}
}

func workflowIDFor(turnID string) string {
	return "acf:turn-wf:" + turnID
}

// StartLogicalTurn starts a fresh LogicalTurnWorkflow run for t under its
// own turn-keyed workflow ID (spec.md §4.6, §4.7 Step A). If a run is
// already active under that ID — a retried start for the same turn_id —
// it falls back to signaling that run instead of erroring.
func (c *TemporalWorkflowClient) StartLogicalTurn(ctx context.Context, sessionKey session.Key, t *turn.LogicalTurn, initialWaitMs int, hint *accumulator.Hint, userCadenceP95Ms *int) error {
	opts := client.StartWorkflowOptions{
		ID:                    workflowIDFor(t.TurnID),
		TaskQueue:             TaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
	input := TurnWorkflowInput{
		SessionKey:             string(sessionKey),
		Turn:                   *t,
		InitialWaitMs:          initialWaitMs,
		AccumulationMinWaitMs:  initialWaitMs / 4,
		AccumulationMaxWaitMs:  initialWaitMs,
		MutexBlockingTimeoutMs: 5000,
		MutexLeaseTTLMs:        30000,
		MaxAccumulationWallMs:  initialWaitMs * 10,
		PipelineHint:           hint,
		UserCadenceP95Ms:       userCadenceP95Ms,
	}
	_, err := c.Client.ExecuteWorkflow(ctx, opts, LogicalTurnWorkflow, input)
	if err == nil {
		return nil
	}

	var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &alreadyStarted) {
		return c.Client.SignalWorkflow(ctx, workflowIDFor(t.TurnID), "", SignalNewMessage, NewMessageEvent{
			MessageID: msgIDOfFirst(t),
			Content:   textOfFirst(t),
		})
	}
	return fmt.Errorf("start logical turn workflow: %w", err)
}

// SignalNewMessage signals the running LogicalTurnWorkflow for
// activeTurnID with msg (spec.md §4.6 ACCUMULATE_ABSORB / SUPERSEDE-pending
// rows — the Gateway never contends for the mutex itself).
func (c *TemporalWorkflowClient) SignalNewMessage(ctx context.Context, activeTurnID string, msg gateway.InboundMessage) error {
	return c.Client.SignalWorkflow(ctx, workflowIDFor(activeTurnID), "", SignalNewMessage, NewMessageEvent{
		MessageID: msg.MessageID,
		Content:   msg.Content,
		ArrivedAt: msg.Timestamp,
	})
}

func msgIDOfFirst(t *turn.LogicalTurn) string {
	if len(t.AccumulatedMessages) == 0 {
		return ""
	}
	return t.AccumulatedMessages[0].MessageID
}

func textOfFirst(t *turn.LogicalTurn) string {
	if len(t.AccumulatedMessages) == 0 {
		return ""
	}
	return t.AccumulatedMessages[0].Text
}
