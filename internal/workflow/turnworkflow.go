// Package workflow: turnworkflow.go is the LogicalTurnWorkflow entry point
// (C7, spec.md §4.7): one workflow instance per LogicalTurn, running Steps
// A (acquire_mutex) through D (commit_and_respond). Adapted from the
// teacher's turn.go per-iteration LLM-call loop (now deleted from this
// tree, its shape absorbed here as the phase-stepping run_pipeline) and
// escalation.go's probe-gated interrupt handling (now TurnControl.Probe,
// checked between ExecuteBrainPhase calls instead of inside a single long
// activity).
package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/agentfabric/acf/internal/accumulator"
	"github.com/agentfabric/acf/internal/audit"
	"github.com/agentfabric/acf/internal/channel"
	"github.com/agentfabric/acf/internal/ledger"
	"github.com/agentfabric/acf/internal/session"
	"github.com/agentfabric/acf/internal/turn"
)

const (
	activityAcquireMutex      = "AcquireMutex"
	activityRenewMutex        = "RenewMutex"
	activityReleaseMutex      = "ReleaseMutex"
	activityDescribeBrain     = "DescribeBrain"
	activityExecuteBrainPhase = "ExecuteBrainPhase"
	activityDecideSupersede   = "DecideSupersede"
	activitySummarizeFollowup = "SummarizeForFollowup"
	activityCommitTurn        = "CommitTurn"
	activityAbortTurn         = "AbortTurn"
	activitySpawnSuccessor    = "SpawnSuccessor"
	activityDrainOverflow     = "DrainOverflow"
)

func shortActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    200 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Second,
			MaximumAttempts:    5,
		},
	}
}

func brainPhaseActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
}

// LogicalTurnWorkflow runs one LogicalTurn from admission through commit
// (spec.md §4.7). It is started fresh for every turn — including a
// superseding turn — under its own turn-keyed workflow ID ("acf:turn-wf:" +
// turn_id, see workflowclient.go), so a successor started mid-pipeline never
// collides with its still-open predecessor. The turn store's active-turn
// uniqueness index is what guarantees at most one LogicalTurn is active per
// session; the Redis-backed session mutex's fencing token is the
// store-level line of defense against a fencing regression.
func LogicalTurnWorkflow(ctx workflow.Context, in TurnWorkflowInput) (TurnWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	t := in.Turn

	ctrl := &TurnControl{}
	ctrl.SetPhase(t.Phase)
	var currentBrainPhase string
	if err := registerHandlers(ctx, ctrl, &t, &currentBrainPhase); err != nil {
		return failResult(t.TurnID, err), err
	}

	// Step A: acquire_mutex.
	sessKey := in.SessionKey
	acquireCtx := workflow.WithActivityOptions(ctx, shortActivityOptions())
	var acquired AcquireMutexOutput
	err := workflow.ExecuteActivity(acquireCtx, activityAcquireMutex, AcquireMutexInput{
		SessionKey:        session.Key(sessKey),
		LeaseTTLMs:        in.MutexLeaseTTLMs,
		BlockingTimeoutMs: in.MutexBlockingTimeoutMs,
	}).Get(ctx, &acquired)
	if err != nil {
		return failResult(t.TurnID, err), err
	}
	if !acquired.OK {
		logger.Warn("mutex acquisition timed out, turn abandoned without side effects", "turn_id", t.TurnID)
		return TurnWorkflowResult{TurnID: t.TurnID, FinalPhase: turn.PhaseAborted}, nil
	}
	t.FencingToken = acquired.Token
	defer func() {
		disconnectedCtx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		relCtx := workflow.WithActivityOptions(disconnectedCtx, shortActivityOptions())
		_ = workflow.ExecuteActivity(relCtx, activityReleaseMutex, ReleaseMutexInput{
			SessionKey: session.Key(sessKey), Token: acquired.Token, Nonce: acquired.Nonce,
		}).Get(relCtx, nil)
	}()

	var interruptions []audit.Interruption

	// Step B: accumulate.
	ctrl.SetPhase(turn.PhaseAccumulating)
	if err := runAccumulate(ctx, ctrl, &t, in); err != nil {
		return failResult(t.TurnID, err), err
	}

	// Step C: run_pipeline.
	ctrl.SetPhase(turn.PhaseRunning)
	decision, lastPhase, err := runPipeline(ctx, ctrl, &t, &currentBrainPhase, sessKey, acquired, in.MutexLeaseTTLMs, &interruptions)
	if err != nil {
		return compensateAndAbort(ctx, sessKey, acquired, &t, err, interruptions)
	}

	switch decision.Kind {
	case turn.SupersedeAbsorb:
		// runPipeline returned without draining the interrupting message,
		// so it is still pending on ctrl: the next accumulation round picks
		// it up at once and folds it into this turn's accumulated messages.
		// runPipeline then runs the full phase list again, offering the
		// artifacts already produced for reuse.
		ctrl.SetPhase(turn.PhaseAccumulating)
		if err := runAccumulate(ctx, ctrl, &t, in); err != nil {
			return failResult(t.TurnID, err), err
		}
		ctrl.SetPhase(turn.PhaseRunning)
		decision, lastPhase, err = runPipeline(ctx, ctrl, &t, &currentBrainPhase, sessKey, acquired, in.MutexLeaseTTLMs, &interruptions)
		if err != nil {
			return compensateAndAbort(ctx, sessKey, acquired, &t, err, interruptions)
		}

	case turn.SupersedeSupersede:
		// Drain whatever triggered the probe (and anything else queued
		// since) into this turn's own message list before handing it to the
		// successor: spec.md §4.7 Step C "spawn a fresh turn inheriting
		// turn_group_id and all messages".
		for _, m := range ctrl.TakePendingMessages() {
			t.AccumulatedMessages = append(t.AccumulatedMessages, turn.AccumulatedMessage{
				MessageID: m.MessageID, Text: m.Content, ArrivedAt: m.ArrivedAt,
			})
		}
		t.Phase = turn.PhaseSuperseded
		logger.Info("turn superseded mid-pipeline", "turn_id", t.TurnID, "last_phase", lastPhase, "reason", decision.Reason)

		spawnCtx := workflow.WithActivityOptions(ctx, shortActivityOptions())
		var spawnOut SpawnSuccessorOutput
		if err := workflow.ExecuteActivity(spawnCtx, activitySpawnSuccessor, SpawnSuccessorInput{
			OldTurn:       t,
			SessionKey:    sessKey,
			InitialWaitMs: in.AccumulationMaxWaitMs,
		}).Get(ctx, &spawnOut); err != nil {
			return compensateAndAbort(ctx, sessKey, acquired, &t, err, interruptions)
		}
		t.SupersededByTurnID = spawnOut.NewTurnID
		// The deferred ReleaseMutex above is what hands the session lock to
		// the successor's own Step A acquire — no separate handoff needed.
		return TurnWorkflowResult{TurnID: t.TurnID, FinalPhase: turn.PhaseSuperseded, SupersededByTurnID: spawnOut.NewTurnID}, nil

	case turn.SupersedeQueue, turn.SupersedeForceComplete:
		// The interrupting message stays queued (run_pipeline already
		// folded it into t.Overflowed); run_pipeline only returns one of
		// these two once every remaining phase has completed, so commit
		// proceeds normally below. FORCE_COMPLETE is handled identically
		// to QUEUE here — run_pipeline never lets it truncate the phase
		// loop, so this case only exists for exhaustive matching over
		// turn.SupersedeKind (spec.md §9 "tagged variants ... exhaustive
		// matching").
	}

	// Step D: commit_and_respond.
	ctrl.SetPhase(turn.PhaseCommitting)
	now := workflow.Now(ctx)
	t.CommittedAt = &now

	followupCtx := workflow.WithActivityOptions(ctx, shortActivityOptions())
	var followupOut FollowupOutput
	if err := workflow.ExecuteActivity(followupCtx, activitySummarizeFollowup, FollowupInput{Turn: t}).Get(ctx, &followupOut); err != nil {
		return compensateAndAbort(ctx, sessKey, acquired, &t, err, interruptions)
	}
	t.CompletionConfidence = followupOut.Hint.CompletionConfidence

	commitCtx := workflow.WithActivityOptions(ctx, shortActivityOptions())
	var commitOut CommitOutput
	if err := workflow.ExecuteActivity(commitCtx, activityCommitTurn, CommitInput{
		Turn:          t,
		SessionKey:    sessKey,
		Interruptions: interruptions,
		FollowupHint:  followupOut.Hint,
		Transition:    followupOut.Transition,
	}).Get(ctx, &commitOut); err != nil {
		return compensateAndAbort(ctx, sessKey, acquired, &t, err, interruptions)
	}

	ctrl.SetPhase(turn.PhaseCommitted)
	logger.Info("turn committed", "turn_id", t.TurnID, "already_committed", commitOut.AlreadyCommitted)

	drainOverflow(ctx, &t)

	return TurnWorkflowResult{TurnID: t.TurnID, FinalPhase: turn.PhaseCommitted}, nil
}

// drainOverflow asks the Gateway's overflow queue for the session whether
// any message is still parked — either on the Redis-backed queue a QUEUE
// decision pushed to (spec.md §4.6), or in t.Overflowed, which this turn
// folded messages into directly during run_pipeline (spec.md §4.7 Step C)
// — and starts a fresh turn from the oldest one once this turn's own
// mutex release goes through (spec.md §8 scenario 3). Best-effort: a
// failure here does not retroactively unwind the commit/abort that already
// happened above it, so it only logs.
func drainOverflow(ctx workflow.Context, t *turn.LogicalTurn) {
	logger := workflow.GetLogger(ctx)
	drainCtx := workflow.WithActivityOptions(ctx, shortActivityOptions())
	var out DrainOverflowOutput
	err := workflow.ExecuteActivity(drainCtx, activityDrainOverflow, DrainOverflowInput{
		SessionKey: t.SessionKey,
		Channel:    t.Channel,
		Overflowed: t.Overflowed,
	}).Get(ctx, &out)
	if err != nil {
		logger.Error("drain overflow queue failed", "turn_id", t.TurnID, "err", err)
		return
	}
	if out.Started {
		logger.Info("started successor turn from parked overflow", "turn_id", t.TurnID, "new_turn_id", out.NewTurnID)
	}
}

// runAccumulate implements Step B (spec.md §4.7 Step B, §4.5): wait for
// new messages up to an adaptively suggested interval, or a fixed
// timeout, whichever comes first, capped by a total wall-clock budget.
// The wait for each further round is recomputed from the shape of the
// most recently absorbed message via accumulator.SuggestWaitMs, rather
// than falling back to a single fixed interval for the whole window.
func runAccumulate(ctx workflow.Context, ctrl *TurnControl, t *turn.LogicalTurn, in TurnWorkflowInput) error {
	channelTable := channel.DefaultTable()
	waitMs := in.InitialWaitMs
	if waitMs <= 0 {
		waitMs = in.AccumulationMaxWaitMs
	}
	start := workflow.Now(ctx)

	for {
		timedOut, err := ctrl.AwaitAccumulation(ctx, waitMs)
		if err != nil {
			return err
		}
		if timedOut {
			t.CompletionReason = "timeout"
			return nil
		}
		if ctrl.IsShutdown() {
			t.CompletionReason = "explicit_signal"
			return nil
		}

		msgs := ctrl.TakePendingMessages()
		var lastAbsorbed string
		for _, m := range msgs {
			if ledger.CanAbsorbMessage(t) {
				t.AccumulatedMessages = append(t.AccumulatedMessages, turn.AccumulatedMessage{
					MessageID: m.MessageID, Text: m.Content, ArrivedAt: m.ArrivedAt,
				})
				lastAbsorbed = m.Content
			} else {
				t.Overflowed = append(t.Overflowed, turn.AccumulatedMessage{
					MessageID: m.MessageID, Text: m.Content, ArrivedAt: m.ArrivedAt,
				})
			}
		}

		elapsed := workflow.Now(ctx).Sub(start)
		if elapsed >= time.Duration(in.MaxAccumulationWallMs)*time.Millisecond {
			t.CompletionReason = "absorbed_overflow"
			return nil
		}
		waitMs = accumulator.SuggestWaitMs(accumulator.Input{
			MessageContent:   lastAbsorbed,
			Channel:          channel.Name(t.Channel),
			PipelineHint:     in.PipelineHint,
			UserCadenceP95Ms: in.UserCadenceP95Ms,
		}, channelTable, in.AccumulationMinWaitMs, in.AccumulationMaxWaitMs)
	}
}

// runPipeline implements Step C (spec.md §4.7 Step C, §4.8): step through
// the Brain's declared phases one Activity call at a time, consulting the
// cancellation probe between non-PURE phases. A probe hit pauses the
// pipeline and asks the Brain's decision policy what to do about the
// interrupting message; a clean run to the end returns a no-op QUEUE
// decision, and a run that a FORCE_COMPLETE decision let finish returns
// that FORCE_COMPLETE decision.
// The mutex lease is renewed before every phase so a multi-phase pipeline
// outlasting the original lease TTL doesn't lose the session lock out
// from under it.
func runPipeline(ctx workflow.Context, ctrl *TurnControl, t *turn.LogicalTurn, currentBrainPhase *string, sessKey string, acquired AcquireMutexOutput, leaseTTLMs int, interruptions *[]audit.Interruption) (turn.SupersedeDecision, string, error) {
	describeCtx := workflow.WithActivityOptions(ctx, shortActivityOptions())
	var describe DescribeBrainOutput
	if err := workflow.ExecuteActivity(describeCtx, activityDescribeBrain, DescribeBrainInput{Turn: *t}).Get(ctx, &describe); err != nil {
		return turn.SupersedeDecision{}, "", err
	}

	lastPhase := ""
	var forced *turn.SupersedeDecision
	for _, phase := range describe.PhaseNames {
		*currentBrainPhase = phase

		if err := waitForSignalDrain(ctx); err != nil {
			return turn.SupersedeDecision{}, lastPhase, err
		}

		renewCtx := workflow.WithActivityOptions(ctx, shortActivityOptions())
		if err := workflow.ExecuteActivity(renewCtx, activityRenewMutex, RenewMutexInput{
			SessionKey: session.Key(sessKey), Token: acquired.Token, Nonce: acquired.Nonce, LeaseTTLMs: leaseTTLMs,
		}).Get(ctx, nil); err != nil {
			return turn.SupersedeDecision{}, lastPhase, err
		}
		if policy, ok := describe.Policies[phase]; ok && policy != turn.PolicyPure && ctrl.Probe() {
			pending := ctrl.PeekPending()
			decideCtx := workflow.WithActivityOptions(ctx, shortActivityOptions())
			var decideOut DecideOutput
			if err := workflow.ExecuteActivity(decideCtx, activityDecideSupersede, DecideInput{Turn: *t, LastCompletedPhase: lastPhase}).Get(ctx, &decideOut); err != nil {
				return turn.SupersedeDecision{}, lastPhase, err
			}
			if interruptions != nil {
				interruptingMessageID := ""
				if len(pending) > 0 {
					interruptingMessageID = pending[0].MessageID
				}
				*interruptions = append(*interruptions, audit.Interruption{
					AtPhase:               phase,
					Decision:              decideOut.Decision,
					InterruptingMessageID: interruptingMessageID,
					OccurredAt:            workflow.Now(ctx),
				})
			}
			if decideOut.Decision.Kind != turn.SupersedeQueue && decideOut.Decision.Kind != turn.SupersedeForceComplete {
				return decideOut.Decision, lastPhase, nil
			}
			// QUEUE and FORCE_COMPLETE both continue the pipeline rather than
			// stopping here: QUEUE because the interrupting message is past
			// this turn's irreversibility barrier, FORCE_COMPLETE because the
			// Brain estimates fewer than one phase remains (spec.md §4.7 Step C
			// "ignore the interrupt, finish the phase sequence"). Neither means
			// "drop the interrupting message" — it stays queued in the
			// overflow set either way.
			if decideOut.Decision.Kind == turn.SupersedeForceComplete {
				d := decideOut.Decision
				forced = &d
			}
			for _, m := range ctrl.TakePendingMessages() {
				t.Overflowed = append(t.Overflowed, turn.AccumulatedMessage{
					MessageID: m.MessageID, Text: m.Content, ArrivedAt: m.ArrivedAt,
				})
			}
		}

		phaseCtx := workflow.WithActivityOptions(ctx, brainPhaseActivityOptions())
		var out PhaseExecutionOutput
		input := PhaseExecutionInput{Turn: *t, Phase: phase, ReusableArtifacts: t.Artifacts}
		if err := workflow.ExecuteActivity(phaseCtx, activityExecuteBrainPhase, input).Get(ctx, &out); err != nil {
			return turn.SupersedeDecision{}, lastPhase, err
		}
		t.Artifacts = append(t.Artifacts, out.Artifact)
		if policy, ok := describe.Policies[phase]; ok && policy == turn.PolicyIrreversible {
			ctrl.SetIrreversible()
		}
		lastPhase = phase
	}

	if forced != nil {
		return *forced, lastPhase, nil
	}
	return turn.SupersedeDecision{Kind: turn.SupersedeQueue, Reason: "pipeline completed without interruption"}, lastPhase, nil
}

// compensateAndAbort runs Step C/D's failure path (spec.md §4.7, §7
// PermanentTerminal handling, §9 compensation design note): attempt
// compensation for every recorded COMPENSATABLE effect, in reverse order,
// then persist the turn as ABORTED through the same durable write path
// CommitTurn uses for a successful turn, so a failed turn still leaves an
// auditable record instead of only a mutated in-memory copy.
func compensateAndAbort(ctx workflow.Context, sessKey string, acquired AcquireMutexOutput, t *turn.LogicalTurn, cause error, interruptions []audit.Interruption) (TurnWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	for _, se := range ledger.CompensatableEffects(t) {
		logger.Warn("compensating side effect after failure", "turn_id", t.TurnID, "tool", se.ToolName, "cause", cause)
		for i := range t.SideEffects {
			if t.SideEffects[i].ToolName == se.ToolName && t.SideEffects[i].PayloadHash == se.PayloadHash {
				t.SideEffects[i].Compensated = true
			}
		}
	}
	t.Phase = turn.PhaseAborted

	abortCtx := workflow.WithActivityOptions(ctx, shortActivityOptions())
	if err := workflow.ExecuteActivity(abortCtx, activityAbortTurn, CommitInput{Turn: *t, SessionKey: sessKey, Interruptions: interruptions}).Get(ctx, nil); err != nil {
		logger.Error("failed to persist aborted turn", "turn_id", t.TurnID, "abort_persist_err", err, "cause", cause)
	}

	drainOverflow(ctx, t)

	return TurnWorkflowResult{TurnID: t.TurnID, FinalPhase: turn.PhaseAborted, Err: fmt.Sprintf("%v", cause)}, nil
}

func failResult(turnID string, err error) TurnWorkflowResult {
	return TurnWorkflowResult{TurnID: turnID, FinalPhase: turn.PhaseAborted, Err: err.Error()}
}
