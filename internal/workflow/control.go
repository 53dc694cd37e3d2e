// Package workflow: control.go defines TurnControl, which separates
// Temporal coordination concerns from the LogicalTurn payload. TurnControl
// owns the accumulation wait, the new_message event queue, and the
// cancellation-probe state the run_pipeline step consults between phases.
//
// Adapted from the teacher's LoopControl + ResponseSlot[T] (same file,
// prior revision): ResponseSlot's single-value await-then-take pattern is
// kept verbatim for the generic primitive; LoopControl's turn-scoped
// wait/interrupt bookkeeping is narrowed from a whole conversational
// session's lifecycle to one LogicalTurn's accumulate/run/commit journey.
package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/agentfabric/acf/internal/turn"
)

// ResponseSlot holds a single awaitable response of type T. Unchanged from
// the teacher — a small, reusable primitive that has nothing
// domain-specific about it.
type ResponseSlot[T any] struct {
	received bool
	value    *T
}

// Deliver stores a response and marks the slot as ready.
func (s *ResponseSlot[T]) Deliver(v T) {
	s.value = &v
	s.received = true
}

// Ready returns true if a response has been delivered.
func (s *ResponseSlot[T]) Ready() bool { return s.received }

// Take retrieves the response and resets the slot to empty.
func (s *ResponseSlot[T]) Take() *T {
	v := s.value
	s.received = false
	s.value = nil
	return v
}

// TurnControl owns all Temporal coordination state for one
// LogicalTurnWorkflow run: the new_message event queue, current phase
// (for get_turn_status), and the cancellation-probe inputs the run
// pipeline consults between Brain phases (spec.md §4.7 Step C).
//
// Constructed fresh per workflow run; a LogicalTurn is one-workflow-per-
// turn in ACF (spec.md §4.6 "start LogicalTurnWorkflow" / "starts a new
// workflow" on supersede), so there is no ContinueAsNew carry-over to
// worry about here, unlike the teacher's per-session harness.
type TurnControl struct {
	phase turn.Phase

	pendingMessages []NewMessageEvent
	hasIrreversible bool

	shutdownRequested bool
}

// DeliverNewMessage appends an inbound message to the pending queue. Called
// by the new_message signal handler.
func (ctrl *TurnControl) DeliverNewMessage(evt NewMessageEvent) {
	ctrl.pendingMessages = append(ctrl.pendingMessages, evt)
}

// TakePendingMessages drains and returns the pending message queue.
func (ctrl *TurnControl) TakePendingMessages() []NewMessageEvent {
	msgs := ctrl.pendingMessages
	ctrl.pendingMessages = nil
	return msgs
}

// HasPendingMessage reports whether a new_message event is queued.
func (ctrl *TurnControl) HasPendingMessage() bool {
	return len(ctrl.pendingMessages) > 0
}

// PeekPending returns a copy of the pending message queue without
// draining it — used to read the interrupting message for an audit
// record at the moment the probe fires, before the ABSORB/SUPERSEDE/QUEUE
// decision determines whether and how the queue actually gets drained.
func (ctrl *TurnControl) PeekPending() []NewMessageEvent {
	return append([]NewMessageEvent(nil), ctrl.pendingMessages...)
}

// SetIrreversible records that the ledger now has an IRREVERSIBLE side
// effect, which permanently disables the cancellation probe for this turn
// (spec.md §4.8, §4.9 can_absorb_message).
func (ctrl *TurnControl) SetIrreversible() { ctrl.hasIrreversible = true }

// Probe implements the cancellation probe the run pipeline consults
// before any non-PURE Brain phase (spec.md §4.7 Step C): true iff a
// new_message event is pending and no IRREVERSIBLE side effect has been
// recorded.
func (ctrl *TurnControl) Probe() bool {
	return ctrl.HasPendingMessage() && !ctrl.hasIrreversible
}

// SetPhase updates the current turn phase (visible via get_turn_status).
func (ctrl *TurnControl) SetPhase(p turn.Phase) { ctrl.phase = p }

// Phase returns the current turn phase.
func (ctrl *TurnControl) Phase() turn.Phase { return ctrl.phase }

// SetShutdown marks the workflow for an orderly abort — used only by
// operator tooling (force_release leaves the workflow running; an
// explicit shutdown signal, if ever added, would set this).
func (ctrl *TurnControl) SetShutdown() { ctrl.shutdownRequested = true }

// IsShutdown reports whether shutdown was requested.
func (ctrl *TurnControl) IsShutdown() bool { return ctrl.shutdownRequested }

// AwaitAccumulation blocks for up to waitMs, or until a new_message event
// arrives, whichever comes first (spec.md §4.7 Step B). Returns true if
// the wait timed out (no event arrived).
func (ctrl *TurnControl) AwaitAccumulation(ctx workflow.Context, waitMs int) (timedOut bool, err error) {
	timer := workflow.NewTimer(ctx, time.Duration(waitMs)*time.Millisecond)
	fired := false

	// A side goroutine resolves the timer future into a plain bool flag so
	// the main Await predicate below can stay a pure, non-blocking check —
	// workflow.Await requires the predicate itself never block.
	workflow.Go(ctx, func(ctx workflow.Context) {
		_ = timer.Get(ctx, nil)
		fired = true
	})

	withSignal := func() bool { return ctrl.HasPendingMessage() || ctrl.shutdownRequested }
	err = workflow.Await(ctx, func() bool {
		return fired || withSignal()
	})
	if err != nil {
		return false, fmt.Errorf("accumulation await failed: %w", err)
	}
	return !withSignal(), nil
}
