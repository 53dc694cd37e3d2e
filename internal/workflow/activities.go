// Package workflow: activities.go wraps every non-deterministic operation
// a LogicalTurnWorkflow run needs — mutex I/O, Brain calls, and the commit
// write set — behind Temporal Activities, the same shape as the teacher's
// internal/activities/llm.go (one struct per external dependency, one
// method per activity). ExecuteBrainPhase is circuit-broken the way the
// teacher's LLM call would be, since a stuck model provider is exactly the
// failure a breaker exists for.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/agentfabric/acf/internal/acferr"
	"github.com/agentfabric/acf/internal/audit"
	"github.com/agentfabric/acf/internal/brain"
	"github.com/agentfabric/acf/internal/channel"
	"github.com/agentfabric/acf/internal/gateway"
	"github.com/agentfabric/acf/internal/idempotency"
	"github.com/agentfabric/acf/internal/session"
	"github.com/agentfabric/acf/internal/turn"
)

// AcquireMutexInput is the input to the AcquireMutex activity.
type AcquireMutexInput struct {
	SessionKey      session.Key
	LeaseTTLMs      int
	BlockingTimeoutMs int
}

// AcquireMutexOutput is the output of the AcquireMutex activity.
type AcquireMutexOutput struct {
	Token uint64
	Nonce string
	OK    bool
}

// RenewMutexInput is the input to the RenewMutex activity.
type RenewMutexInput struct {
	SessionKey session.Key
	Token      uint64
	Nonce      string
	LeaseTTLMs int
}

// ReleaseMutexInput is the input to the ReleaseMutex activity.
type ReleaseMutexInput struct {
	SessionKey session.Key
	Token      uint64
	Nonce      string
}

// DescribeBrainInput is the input to the DescribeBrain activity.
type DescribeBrainInput struct {
	Turn turn.LogicalTurn
}

// DescribeBrainOutput is the output of the DescribeBrain activity: the
// Brain's fixed phase sequence and each phase's declared side-effect
// policy, fetched once per workflow run so the run pipeline never has to
// re-enter the Brain just to ask "what phase comes next."
type DescribeBrainOutput struct {
	PhaseNames []string
	Policies   map[string]turn.SideEffectPolicy
}

// CommitActivities bundles the store writes that make up Step D's atomic
// commit contract (spec.md §4.7 Step D, §4.10): session save, audit
// append, and beat-idempotency recording, short-circuited if a prior
// attempt already committed this exact turn.
type CommitActivities struct {
	Sessions *session.Store
	Turns    *turn.Store
	Idem     *idempotency.Store
	Audit    *audit.Sink

	BeatTTL time.Duration
}

// MutexActivities wraps the session mutex for use from workflow code,
// which cannot call Redis directly without losing determinism.
type MutexActivities struct {
	Mutex *session.Mutex
}

// SupersedeActivities spawns a successor LogicalTurn (and its workflow) for
// a mid-pipeline SUPERSEDE (spec.md §4.7 Step C "spawn a fresh turn ...
// release mutex, start a new workflow"). Separated from CommitActivities
// because it needs a live Temporal client, which workflow code can never
// hold directly — it reuses TemporalWorkflowClient.StartLogicalTurn rather
// than duplicating the Gateway's own workflow-start logic.
type SupersedeActivities struct {
	Turns *turn.Store
	WF    *TemporalWorkflowClient
}

// SpawnSuccessor marks in.OldTurn SUPERSEDED, creates its successor as the
// new active turn for the session, and starts that successor's own
// turn-keyed workflow. The predecessor's deferred ReleaseMutex (run by its
// own workflow after this activity returns) is what actually hands the
// session lock to the successor's Step A acquire.
func (a *SupersedeActivities) SpawnSuccessor(ctx context.Context, in SpawnSuccessorInput) (SpawnSuccessorOutput, error) {
	old := in.OldTurn
	newTurn := &turn.LogicalTurn{
		TurnID:              uuid.NewString(),
		SessionKey:          old.SessionKey,
		TurnGroupID:         old.TurnGroupID,
		TurnNumber:          old.TurnNumber + 1,
		Channel:             old.Channel,
		Phase:               turn.PhaseAccumulating,
		AccumulatedMessages: append(append([]turn.AccumulatedMessage(nil), old.AccumulatedMessages...), old.Overflowed...),
		SupersedesTurnID:    old.TurnID,
		CreatedAt:           time.Now(),
	}

	old.Phase = turn.PhaseSuperseded
	old.SupersededByTurnID = newTurn.TurnID
	if err := a.Turns.Save(ctx, &old); err != nil {
		return SpawnSuccessorOutput{}, acferr.NewTransient(in.SessionKey, "mark turn superseded", err)
	}
	if err := a.Turns.CreateActive(ctx, newTurn); err != nil {
		return SpawnSuccessorOutput{}, acferr.NewTransient(in.SessionKey, "create superseding turn", err)
	}
	if err := a.WF.StartLogicalTurn(ctx, session.Key(in.SessionKey), newTurn, in.InitialWaitMs, nil, nil); err != nil {
		return SpawnSuccessorOutput{}, acferr.NewTransient(in.SessionKey, "start superseding workflow", err)
	}
	return SpawnSuccessorOutput{NewTurnID: newTurn.TurnID}, nil
}

// OverflowActivities wraps the Gateway's session-scoped overflow queue for
// use from workflow code (spec.md §4.7 Step D, §8 scenario 3): once a turn
// reaches a terminal phase and its mutex release goes through, the
// Gateway's overflow queue for that session — and any message the turn
// itself parked directly in its own Overflowed set — may still hold a
// message nobody has started a turn for yet.
type OverflowActivities struct {
	GW *gateway.Gateway
}

// DrainOverflow pulls every parked message for the session and starts a
// fresh turn from them if any exist.
func (a *OverflowActivities) DrainOverflow(ctx context.Context, in DrainOverflowInput) (DrainOverflowOutput, error) {
	newTurnID, started, err := a.GW.DrainOverflow(ctx, session.Key(in.SessionKey), channel.Name(in.Channel), in.Overflowed)
	if err != nil {
		return DrainOverflowOutput{}, acferr.NewTransient(in.SessionKey, "drain overflow queue", err)
	}
	return DrainOverflowOutput{NewTurnID: newTurnID, Started: started}, nil
}

// AcquireMutex attempts the session lock with the given lease and
// blocking timeout (spec.md §4.7 Step A). OK is false, not an error, on a
// clean timeout — the caller decides what "terminate without side
// effects" means for it.
func (a *MutexActivities) AcquireMutex(ctx context.Context, in AcquireMutexInput) (AcquireMutexOutput, error) {
	tok, ok, err := a.Mutex.Acquire(ctx, in.SessionKey,
		time.Duration(in.LeaseTTLMs)*time.Millisecond,
		time.Duration(in.BlockingTimeoutMs)*time.Millisecond)
	if err != nil {
		return AcquireMutexOutput{}, acferr.NewTransient(string(in.SessionKey), "acquire session mutex", err)
	}
	return AcquireMutexOutput{Token: tok.Fence, Nonce: tok.Nonce, OK: ok}, nil
}

// RenewMutex extends the lease held by the given token, used by a
// long-running run_pipeline step to keep its lease alive across phases.
func (a *MutexActivities) RenewMutex(ctx context.Context, in RenewMutexInput) error {
	err := a.Mutex.Renew(ctx, in.SessionKey, session.Token{Fence: in.Token, Nonce: in.Nonce},
		time.Duration(in.LeaseTTLMs)*time.Millisecond)
	if err != nil {
		return acferr.NewInvariantViolation(string(in.SessionKey), "", "lease lost during run_pipeline: "+err.Error())
	}
	return nil
}

// ReleaseMutex releases the lease held by the given token. Best-effort:
// the mutex package itself treats a stale token as a no-op, not an error.
func (a *MutexActivities) ReleaseMutex(ctx context.Context, in ReleaseMutexInput) error {
	return a.Mutex.Release(ctx, in.SessionKey, session.Token{Fence: in.Token, Nonce: in.Nonce})
}

// BrainActivities wraps a brain.Brain for activity invocation. Every
// method here is one Activity the workflow calls once per phase, so the
// workflow itself can check the cancellation probe between calls — the
// Brain is never handed a live callback, only asked one phase at a time
// (spec.md §4.7 Step C).
type BrainActivities struct {
	Brain   brain.Brain
	Breaker *gobreaker.CircuitBreaker
}

// NewBrainActivities constructs a BrainActivities with a circuit breaker
// tripping after five consecutive failures, half-opening after 30s —
// matched to the teacher's treatment of the LLM call as the one external
// dependency worth isolating this way.
func NewBrainActivities(b brain.Brain) *BrainActivities {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "brain",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &BrainActivities{Brain: b, Breaker: cb}
}

// DescribeBrain returns the Brain's phase sequence and per-phase policies
// for this turn, fetched once at the start of run_pipeline.
func (a *BrainActivities) DescribeBrain(ctx context.Context, in DescribeBrainInput) (DescribeBrainOutput, error) {
	names := a.Brain.PhaseNames(&in.Turn)
	policies := make(map[string]turn.SideEffectPolicy, len(names))
	for _, name := range names {
		policies[name] = a.Brain.PolicyForPhase(name)
	}
	return DescribeBrainOutput{PhaseNames: names, Policies: policies}, nil
}

// ExecuteBrainPhase computes one phase's artifact, circuit-broken against
// a Brain provider that is timing out or erroring repeatedly.
func (a *BrainActivities) ExecuteBrainPhase(ctx context.Context, in PhaseExecutionInput) (PhaseExecutionOutput, error) {
	result, err := a.Breaker.Execute(func() (interface{}, error) {
		return a.Brain.ComputePhase(ctx, &in.Turn, in.Phase, in.ReusableArtifacts)
	})
	if err != nil {
		return PhaseExecutionOutput{}, acferr.NewTransient(in.Turn.SessionKey,
			fmt.Sprintf("brain phase %q", in.Phase), err)
	}
	return PhaseExecutionOutput{Artifact: result.(turn.PhaseArtifact)}, nil
}

// DecideSupersede asks the Brain's decision policy whether an interrupted
// turn should ABSORB, QUEUE, SUPERSEDE, or force-complete (spec.md §4.8).
func (a *BrainActivities) DecideSupersede(ctx context.Context, in DecideInput) (DecideOutput, error) {
	d, err := a.Brain.Decide(ctx, &in.Turn, in.LastCompletedPhase)
	if err != nil {
		return DecideOutput{}, acferr.NewTransient(in.Turn.SessionKey, "brain decide", err)
	}
	return DecideOutput{Decision: d}, nil
}

// SummarizeForFollowup asks the Brain for a followup hint after a turn
// commits with low completion confidence (spec.md §4.7 Step D).
func (a *BrainActivities) SummarizeForFollowup(ctx context.Context, in FollowupInput) (FollowupOutput, error) {
	hint, transition, err := a.Brain.SummarizeForFollowup(ctx, &in.Turn)
	if err != nil {
		return FollowupOutput{}, acferr.NewTransient(in.Turn.SessionKey, "brain summarize", err)
	}
	return FollowupOutput{Hint: hint, Transition: transition}, nil
}

// CommitTurn performs Step D's atomic commit: beat-idempotency check
// first (so a retried activity never double-commits), then the turn and
// session writes, then the audit append (spec.md §4.7 Step D, §4.10,
// §8 "at-most-once effective commit").
func (a *CommitActivities) CommitTurn(ctx context.Context, in CommitInput) (CommitOutput, error) {
	beatKey := idempotency.CommitBeatKey(in.SessionKey, in.Turn.TurnGroupID, in.Turn.TurnID)
	payloadHash := idempotency.HashPayload([]byte(in.Turn.TurnID))

	result, err := a.Idem.TryRecord(ctx, idempotency.ScopeBeat, beatKey, payloadHash, a.beatTTL(), []byte(in.Turn.TurnID))
	if err != nil {
		return CommitOutput{}, acferr.NewTransient(in.SessionKey, "commit beat-idempotency check", err)
	}
	if result.Outcome == idempotency.Duplicate {
		return CommitOutput{AlreadyCommitted: true}, nil
	}

	t := in.Turn
	t.Phase = turn.PhaseCommitted
	committedAt := time.Now()
	if t.CommittedAt != nil {
		committedAt = *t.CommittedAt
	} else {
		t.CommittedAt = &committedAt
	}

	sess, sessErr := a.Sessions.Get(ctx, session.Key(in.SessionKey))
	scenarioBefore := scenarioSnapshotOf(sess)
	t.ScenarioStatesAtStart = scenarioBefore

	if sessErr == nil {
		applyScenarioTransition(sess, in.Transition, t.TurnNumber, committedAt)
		sess.PipelineHintWaitMs = intPtr(in.FollowupHint.SuggestedWaitMs)
		sess.PipelineHintConfidence = floatPtr(in.FollowupHint.CompletionConfidence)
		sess.UserCadenceP95Ms = blendUserCadence(sess.UserCadenceP95Ms, t.AccumulatedMessages)
		sess.TurnCount++
		sess.LastActivityAt = committedAt
		sess.Status = session.StatusActive
		sess.FencingToken = t.FencingToken
		if err := a.Sessions.Save(ctx, sess); err != nil {
			return CommitOutput{}, acferr.NewTransient(in.SessionKey, "commit session save", err)
		}
	}

	if err := a.Turns.Save(ctx, &t); err != nil {
		return CommitOutput{}, acferr.NewTransient(in.SessionKey, "commit turn save", err)
	}

	rec := audit.TurnRecord{
		TurnID:                 t.TurnID,
		BeatID:                 t.TurnID,
		TurnGroupID:            t.TurnGroupID,
		SideEffects:            t.SideEffects,
		PhaseArtifactSummaries: audit.Summarize(t.Artifacts),
		Interruptions:          in.Interruptions,
		SupersededBy:           t.SupersededByTurnID,
		LatencyMs:              committedAt.Sub(t.CreatedAt).Milliseconds(),
		TokensUsed:             sumTokens(t.Artifacts),
		ScenarioBefore:         stringifyScenario(scenarioBefore),
		ScenarioAfter:          stringifyScenario(scenarioSnapshotOf(sess)),
		CommittedAt:            committedAt,
	}
	for _, m := range t.AccumulatedMessages {
		rec.MessageSequence = append(rec.MessageSequence, m.MessageID)
	}
	if err := a.Audit.Append(ctx, rec); err != nil {
		return CommitOutput{}, acferr.NewTransient(in.SessionKey, "commit audit append", err)
	}

	return CommitOutput{AlreadyCommitted: false}, nil
}

// scenarioSnapshotOf reads sess's active scenario position. sess may be
// nil (the session lookup failed or, for the "after" snapshot, the
// transition was never applied) — both cases yield an empty snapshot.
func scenarioSnapshotOf(sess *session.Session) *turn.ScenarioSnapshot {
	if sess == nil {
		return &turn.ScenarioSnapshot{}
	}
	return &turn.ScenarioSnapshot{
		ScenarioID:      sess.ActiveScenarioID,
		StepID:          sess.ActiveStepID,
		ScenarioVersion: sess.ActiveScenarioVersion,
	}
}

func stringifyScenario(s *turn.ScenarioSnapshot) string {
	if s == nil || s.ScenarioID == nil {
		return ""
	}
	out := *s.ScenarioID
	if s.StepID != nil {
		out += "/" + *s.StepID
	}
	return out
}

// applyScenarioTransition folds the Brain's end-of-turn scenario delta
// into sess: variable updates, rule-fire counters, and — only when the
// Brain actually moved the scenario forward — a new active position plus
// its StepHistory entry (spec.md §3 "entries are appended only after a
// successful COMMIT").
func applyScenarioTransition(sess *session.Session, t brain.ScenarioTransition, turnNumber int, now time.Time) {
	for k, v := range t.VariableUpdates {
		sess.SetVariable(k, v, now)
	}
	for _, ruleID := range t.RuleFires {
		sess.RecordRuleFire(ruleID, turnNumber)
	}
	if t.ScenarioID == nil {
		return
	}
	sess.ActiveScenarioID = t.ScenarioID
	sess.ActiveStepID = t.StepID
	sess.ActiveScenarioVersion = t.ScenarioVersion
	stepID := ""
	if t.StepID != nil {
		stepID = *t.StepID
	}
	sess.AppendStepHistory(session.StepHistoryEntry{
		StepID:     stepID,
		EnteredAt:  now,
		TurnNumber: turnNumber,
		Reason:     t.Reason,
		Confidence: t.Confidence,
	})
}

// blendUserCadence folds this turn's own inter-message arrival gaps into
// the session's running cadence estimate (spec.md §4.5 point 3), an
// exponential blend so one unusually bursty or slow turn can't swing the
// estimate on its own.
func blendUserCadence(prev *int, msgs []turn.AccumulatedMessage) *int {
	if len(msgs) < 2 {
		return prev
	}
	var maxGapMs int
	for i := 1; i < len(msgs); i++ {
		gap := int(msgs[i].ArrivedAt.Sub(msgs[i-1].ArrivedAt).Milliseconds())
		if gap > maxGapMs {
			maxGapMs = gap
		}
	}
	if prev == nil {
		return intPtr(maxGapMs)
	}
	return intPtr((*prev*7 + maxGapMs*3) / 10)
}

func sumTokens(artifacts []turn.PhaseArtifact) int {
	total := 0
	for _, a := range artifacts {
		total += a.TokensUsed
	}
	return total
}

func intPtr(v int) *int          { return &v }
func floatPtr(v float64) *float64 { return &v }

// AbortTurn persists a turn that failed after compensation, the Step
// C/D failure-path counterpart to CommitTurn: it records ABORTED rather
// than COMMITTED and still appends an audit record so the abort and its
// compensation outcome are not silently dropped.
func (a *CommitActivities) AbortTurn(ctx context.Context, in CommitInput) error {
	t := in.Turn
	t.Phase = turn.PhaseAborted
	if err := a.Turns.Save(ctx, &t); err != nil {
		return acferr.NewTransient(in.SessionKey, "abort turn save", err)
	}

	abortedAt := time.Now()
	rec := audit.TurnRecord{
		TurnID:                 t.TurnID,
		BeatID:                 t.TurnID,
		TurnGroupID:            t.TurnGroupID,
		SideEffects:            t.SideEffects,
		PhaseArtifactSummaries: audit.Summarize(t.Artifacts),
		Interruptions:          in.Interruptions,
		SupersededBy:           t.SupersededByTurnID,
		LatencyMs:              abortedAt.Sub(t.CreatedAt).Milliseconds(),
		TokensUsed:             sumTokens(t.Artifacts),
		CommittedAt:            abortedAt,
	}
	for _, m := range t.AccumulatedMessages {
		rec.MessageSequence = append(rec.MessageSequence, m.MessageID)
	}
	if err := a.Audit.Append(ctx, rec); err != nil {
		return acferr.NewTransient(in.SessionKey, "abort audit append", err)
	}
	return nil
}

func (a *CommitActivities) beatTTL() time.Duration {
	if a.BeatTTL > 0 {
		return a.BeatTTL
	}
	return idempotency.DefaultBeatTTL
}
