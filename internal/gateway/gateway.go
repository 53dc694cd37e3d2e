package gateway

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agentfabric/acf/internal/accumulator"
	"github.com/agentfabric/acf/internal/channel"
	"github.com/agentfabric/acf/internal/idempotency"
	"github.com/agentfabric/acf/internal/session"
	"github.com/agentfabric/acf/internal/turn"
)

// InboundMessage is the normalized envelope from a channel adapter
// (spec.md §6 Inbound).
type InboundMessage struct {
	MessageID      string
	TenantID       string
	AgentID        string
	InterlocutorID string
	Channel        channel.Name
	Content        string
	Timestamp      time.Time
	IdempotencyKey string // optional; empty means none supplied
}

// ResponseKind is the Gateway's synchronous outward response
// (spec.md §6 "one of: accepted, deduplicated, queued, rejected").
type ResponseKind string

const (
	ResponseAccepted     ResponseKind = "accepted"
	ResponseDeduplicated ResponseKind = "deduplicated"
	ResponseQueued       ResponseKind = "queued"
	ResponseRejected     ResponseKind = "rejected"
)

// Response is the Gateway's synchronous reply to SubmitMessage.
type Response struct {
	Kind            ResponseKind
	TurnID          string
	EstimatedWaitMs int
	CachedEnvelope  []byte
	RejectReason    string
}

// WorkflowClient is the narrow surface the Gateway needs onto the
// workflow runtime: start a fresh LogicalTurnWorkflow, or signal an
// existing one with a new_message event. Implemented by
// internal/workflow against the real Temporal client; kept as an
// interface here so the Gateway has no direct SDK dependency and is
// trivially testable with a fake.
type WorkflowClient interface {
	StartLogicalTurn(ctx context.Context, sessionKey session.Key, t *turn.LogicalTurn, initialWaitMs int, hint *accumulator.Hint, userCadenceP95Ms *int) error
	SignalNewMessage(ctx context.Context, activeTurnID string, msg InboundMessage) error
}

// BrainAdvisor is consulted only at the Active-PROCESSING pre-state to
// decide between SUPERSEDE and QUEUE (spec.md §4.6 row 3). It is a thin
// synchronous hook — the full Brain engine runs inside the workflow; the
// Gateway only needs its quick advisory opinion, not a full Think call.
type BrainAdvisor interface {
	Advise(ctx context.Context, t *turn.LogicalTurn, msg InboundMessage) BrainAdvice
}

// Gateway is the Turn Gateway (C6). It never takes the session mutex;
// every operation here is either a read, a conditional write on turn
// metadata, or an event emitted to the owning workflow (spec.md §4.6,
// §5 "The Gateway is lock-free").
type Gateway struct {
	sessions *session.Store
	turns    *turn.Store
	idem     *idempotency.Store
	channels channel.Table
	wf       WorkflowClient
	advisor  BrainAdvisor

	overflow *OverflowQueue

	apiTTL  time.Duration
	beatTTL time.Duration
}

// New constructs a Gateway. rdb backs the overflow queue — shared with the
// Temporal worker process so a QUEUE decision's parked messages are visible
// to whichever process drains them (spec.md §4.6, §8 scenario 3).
func New(sessions *session.Store, turns *turn.Store, idem *idempotency.Store, channels channel.Table, wf WorkflowClient, advisor BrainAdvisor, rdb *redis.Client) *Gateway {
	return &Gateway{
		sessions: sessions,
		turns:    turns,
		idem:     idem,
		channels: channels,
		wf:       wf,
		advisor:  advisor,
		overflow: NewOverflowQueue(rdb),
		apiTTL:   idempotency.DefaultAPITTL,
		beatTTL:  idempotency.DefaultBeatTTL,
	}
}

// SubmitMessage implements the Turn Gateway's four steps (spec.md §4.6).
func (g *Gateway) SubmitMessage(ctx context.Context, msg InboundMessage) (Response, error) {
	sessionKey := session.NewKey(msg.TenantID, msg.AgentID, msg.InterlocutorID, string(msg.Channel))

	// Step 2: API-scope idempotency check.
	if msg.IdempotencyKey != "" {
		payloadHash := idempotency.HashPayload([]byte(msg.Content))
		result, err := g.idem.TryRecord(ctx, idempotency.ScopeAPI,
			idempotency.APIKey(msg.TenantID, msg.IdempotencyKey), payloadHash, g.apiTTL, nil)
		if err != nil {
			return Response{}, fmt.Errorf("api idempotency check: %w", err)
		}
		if result.Outcome == idempotency.Duplicate {
			return Response{Kind: ResponseDeduplicated, CachedEnvelope: result.CachedResponse}, nil
		}
	}

	// Step 3: read the active LogicalTurn, if any.
	activeTurn, err := g.turns.GetActive(ctx, string(sessionKey))
	if err != nil && err != turn.ErrNotFound {
		return Response{}, fmt.Errorf("get active turn: %w", err)
	}
	if err == turn.ErrNotFound {
		activeTurn = nil
	}

	advice := AdviceNone
	if activeTurn != nil && activeTurn.Phase == turn.PhaseRunning && g.advisor != nil {
		advice = g.advisor.Advise(ctx, activeTurn, msg)
	}

	decision := Classify(activeTurn, PolicyAllowSupersede, advice)

	model := g.channels.Get(msg.Channel)

	observeDecision(decision.Kind)

	switch decision.Kind {
	case DecisionAccumulateNew:
		return g.accumulateNew(ctx, sessionKey, msg)

	case DecisionAccumulateAbsorb:
		if err := g.wf.SignalNewMessage(ctx, activeTurn.TurnID, msg); err != nil {
			return Response{}, fmt.Errorf("signal absorb: %w", err)
		}
		return Response{Kind: ResponseAccepted, TurnID: activeTurn.TurnID}, nil

	case DecisionSupersede:
		waitMs, hint, cadence := g.initialWaitMs(ctx, sessionKey, msg.Channel, msg.Content, model)
		newTurn := &turn.LogicalTurn{
			TurnID:      uuid.NewString(),
			SessionKey:  string(sessionKey),
			TurnGroupID: activeTurn.TurnGroupID,
			TurnNumber:  activeTurn.TurnNumber + 1,
			Channel:     string(msg.Channel),
			Phase:       turn.PhaseAccumulating,
			AccumulatedMessages: []turn.AccumulatedMessage{
				{MessageID: msg.MessageID, Text: msg.Content, ArrivedAt: msg.Timestamp},
			},
			SupersedesTurnID: activeTurn.TurnID,
			CreatedAt:        msg.Timestamp,
		}
		// activeTurn must leave PROCESSING before the superseding turn is
		// admitted, or CreateActive below trips the turn store's
		// at-most-one-active-turn-per-session index (internal/turn/store.go).
		activeTurn.Phase = turn.PhaseSuperseded
		activeTurn.SupersededByTurnID = newTurn.TurnID
		if err := g.turns.Save(ctx, activeTurn); err != nil {
			return Response{}, fmt.Errorf("mark superseded: %w", err)
		}
		if err := g.turns.CreateActive(ctx, newTurn); err != nil {
			return Response{}, fmt.Errorf("create superseding turn: %w", err)
		}
		if err := g.wf.StartLogicalTurn(ctx, sessionKey, newTurn, waitMs, hint, cadence); err != nil {
			return Response{}, fmt.Errorf("start superseding workflow: %w", err)
		}
		return Response{Kind: ResponseAccepted, TurnID: newTurn.TurnID, EstimatedWaitMs: waitMs}, nil

	case DecisionQueue:
		entry := OverflowEntry{MessageID: msg.MessageID, Content: msg.Content, ArrivedAt: msg.Timestamp}
		if err := g.overflow.Push(ctx, sessionKey, entry, model.OverflowLimit, model.OverflowWindow); err != nil {
			if err == ErrOverflow {
				overflowRejectionsTotal.Inc()
				return Response{Kind: ResponseRejected, RejectReason: "overflow: too many messages queued for this session"}, nil
			}
			return Response{}, fmt.Errorf("overflow push: %w", err)
		}
		return Response{Kind: ResponseQueued, TurnID: activeTurnID(activeTurn)}, nil

	default:
		return Response{Kind: ResponseRejected, RejectReason: "unrecognized decision"}, nil
	}
}

func (g *Gateway) accumulateNew(ctx context.Context, sessionKey session.Key, msg InboundMessage) (Response, error) {
	model := g.channels.Get(msg.Channel)
	newTurn := &turn.LogicalTurn{
		TurnID:      uuid.NewString(),
		SessionKey:  string(sessionKey),
		TurnGroupID: uuid.NewString(),
		TurnNumber:  1,
		Channel:     string(msg.Channel),
		Phase:       turn.PhaseAccumulating,
		AccumulatedMessages: []turn.AccumulatedMessage{
			{MessageID: msg.MessageID, Text: msg.Content, ArrivedAt: msg.Timestamp},
		},
		CreatedAt: msg.Timestamp,
	}
	if err := g.turns.CreateActive(ctx, newTurn); err != nil {
		return Response{}, fmt.Errorf("create turn: %w", err)
	}
	waitMs, hint, cadence := g.initialWaitMs(ctx, sessionKey, msg.Channel, msg.Content, model)
	if err := g.wf.StartLogicalTurn(ctx, sessionKey, newTurn, waitMs, hint, cadence); err != nil {
		return Response{}, fmt.Errorf("start workflow: %w", err)
	}
	return Response{Kind: ResponseAccepted, TurnID: newTurn.TurnID, EstimatedWaitMs: waitMs}, nil
}

// initialWaitMs computes the accumulation window for a turn's first wait
// (spec.md §4.5): when the session has a Brain-emitted pipeline hint or a
// running cadence estimate on record from a prior turn, both feed
// accumulator.SuggestWaitMs instead of falling back to the channel's bare
// default window. The raw hint/cadence are also returned so the caller can
// carry them into the workflow for its own mid-turn re-accumulation rounds.
func (g *Gateway) initialWaitMs(ctx context.Context, sessionKey session.Key, ch channel.Name, content string, model channel.Model) (int, *accumulator.Hint, *int) {
	maxWaitMs := int(model.DefaultTurnWindow.Milliseconds())
	minWaitMs := maxWaitMs / 4

	in := accumulator.Input{MessageContent: content, Channel: ch}
	var hint *accumulator.Hint
	if g.sessions != nil {
		if sess, err := g.sessions.Get(ctx, sessionKey); err == nil {
			if sess.PipelineHintWaitMs != nil {
				hint = &accumulator.Hint{SuggestedWaitMs: *sess.PipelineHintWaitMs}
				if sess.PipelineHintConfidence != nil {
					hint.CompletionConfidence = *sess.PipelineHintConfidence
				}
				in.PipelineHint = hint
			}
			in.UserCadenceP95Ms = sess.UserCadenceP95Ms
		}
	}
	return accumulator.SuggestWaitMs(in, g.channels, minWaitMs, maxWaitMs), hint, in.UserCadenceP95Ms
}

// DrainOverflow pulls every message parked on the session's overflow queue
// (plus any the finishing turn itself folded into its own Overflowed set
// rather than the Redis queue, e.g. via a QUEUE/FORCE_COMPLETE decision
// inside the run pipeline — spec.md §4.7 Step C) and starts a successor
// turn from the oldest one, carrying the rest as that turn's initial
// accumulated messages. Called once the blocking turn reaches a terminal
// phase and releases the session mutex (spec.md §4.7 Step D, §8 scenario 3).
//
// Per DESIGN.md's Open Question decision on turn_group_id: a turn started
// from drained overflow gets a brand-new TurnGroupID rather than inheriting
// the finished turn's, since a QUEUE boundary does not carry turn_group_id
// forward.
func (g *Gateway) DrainOverflow(ctx context.Context, sessionKey session.Key, ch channel.Name, carried []turn.AccumulatedMessage) (string, bool, error) {
	drained, err := g.overflow.Drain(ctx, sessionKey)
	if err != nil {
		return "", false, fmt.Errorf("drain overflow: %w", err)
	}

	all := make([]turn.AccumulatedMessage, 0, len(carried)+len(drained))
	all = append(all, carried...)
	for _, e := range drained {
		all = append(all, turn.AccumulatedMessage{MessageID: e.MessageID, Text: e.Content, ArrivedAt: e.ArrivedAt})
	}
	if len(all) == 0 {
		return "", false, nil
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].ArrivedAt.Before(all[j].ArrivedAt) })

	model := g.channels.Get(ch)
	waitMs, hint, cadence := g.initialWaitMs(ctx, sessionKey, ch, all[0].Text, model)

	newTurn := &turn.LogicalTurn{
		TurnID:              uuid.NewString(),
		SessionKey:          string(sessionKey),
		TurnGroupID:         uuid.NewString(),
		TurnNumber:          1,
		Channel:             string(ch),
		Phase:               turn.PhaseAccumulating,
		AccumulatedMessages: all,
		CreatedAt:           all[0].ArrivedAt,
	}
	if err := g.turns.CreateActive(ctx, newTurn); err != nil {
		return "", false, fmt.Errorf("create turn from drained overflow: %w", err)
	}
	if err := g.wf.StartLogicalTurn(ctx, sessionKey, newTurn, waitMs, hint, cadence); err != nil {
		return "", false, fmt.Errorf("start workflow from drained overflow: %w", err)
	}
	return newTurn.TurnID, true, nil
}

func activeTurnID(t *turn.LogicalTurn) string {
	if t == nil {
		return ""
	}
	return t.TurnID
}
