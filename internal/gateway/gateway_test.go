package gateway_test

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/acf/internal/accumulator"
	"github.com/agentfabric/acf/internal/channel"
	"github.com/agentfabric/acf/internal/gateway"
	"github.com/agentfabric/acf/internal/idempotency"
	"github.com/agentfabric/acf/internal/session"
	"github.com/agentfabric/acf/internal/turn"
)

type fakeWorkflowClient struct {
	started  []session.Key
	signaled []string
}

func (f *fakeWorkflowClient) StartLogicalTurn(ctx context.Context, sessionKey session.Key, t *turn.LogicalTurn, initialWaitMs int, hint *accumulator.Hint, userCadenceP95Ms *int) error {
	f.started = append(f.started, sessionKey)
	return nil
}

func (f *fakeWorkflowClient) SignalNewMessage(ctx context.Context, activeTurnID string, msg gateway.InboundMessage) error {
	f.signaled = append(f.signaled, activeTurnID)
	return nil
}

func newTestGateway(t *testing.T) (*gateway.Gateway, *fakeWorkflowClient, sqlmock.Sqlmock, *idempotency.Store) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	turns := turn.NewStore(sqlx.NewDb(mockDB, "pgx"))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	idem := idempotency.NewStore(rdb)

	wf := &fakeWorkflowClient{}
	gw := gateway.New(nil, turns, idem, channel.DefaultTable(), wf, nil, rdb)
	return gw, wf, mock, idem
}

func TestSubmitMessage_NoActiveTurn_StartsWorkflowAndAccepts(t *testing.T) {
	gw, wf, mock, _ := newTestGateway(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE session_key = $1 AND phase NOT IN")).
		WillReturnRows(sqlmock.NewRows([]string{"turn_id", "session_key", "phase", "fencing_token", "payload"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO acf_turns")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp, err := gw.SubmitMessage(context.Background(), gateway.InboundMessage{
		MessageID: "m1", TenantID: "acme", AgentID: "support", InterlocutorID: "user-1",
		Channel: channel.Web, Content: "hi", Timestamp: time.Unix(0, 0),
	})

	require.NoError(t, err)
	require.Equal(t, gateway.ResponseAccepted, resp.Kind)
	require.Len(t, wf.started, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitMessage_ActiveAccumulatingTurn_SignalsAbsorb(t *testing.T) {
	gw, wf, mock, _ := newTestGateway(t)

	payload, err := json.Marshal(turn.LogicalTurn{TurnID: "turn-1", SessionKey: "acme:support:user-1:web", Phase: turn.PhaseAccumulating})
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE session_key = $1 AND phase NOT IN")).
		WillReturnRows(sqlmock.NewRows([]string{"turn_id", "session_key", "phase", "fencing_token", "payload"}).
			AddRow("turn-1", "acme:support:user-1:web", "ACCUMULATING", uint64(1), payload))

	resp, err := gw.SubmitMessage(context.Background(), gateway.InboundMessage{
		MessageID: "m2", TenantID: "acme", AgentID: "support", InterlocutorID: "user-1",
		Channel: channel.Web, Content: "more context", Timestamp: time.Unix(1, 0),
	})

	require.NoError(t, err)
	require.Equal(t, gateway.ResponseAccepted, resp.Kind)
	require.Equal(t, "turn-1", resp.TurnID)
	require.Len(t, wf.signaled, 1)
	require.Empty(t, wf.started)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitMessage_DuplicateIdempotencyKey_ShortCircuitsBeforeTurnLookup(t *testing.T) {
	gw, wf, mock, idem := newTestGateway(t)

	payloadHash := idempotency.HashPayload([]byte("hi"))
	_, err := idem.TryRecord(context.Background(), idempotency.ScopeAPI,
		idempotency.APIKey("acme", "idem-key-1"), payloadHash, time.Minute, []byte("cached"))
	require.NoError(t, err)

	resp, err := gw.SubmitMessage(context.Background(), gateway.InboundMessage{
		MessageID: "m3", TenantID: "acme", AgentID: "support", InterlocutorID: "user-1",
		Channel: channel.Web, Content: "hi", Timestamp: time.Unix(2, 0),
		IdempotencyKey: "idem-key-1",
	})

	require.NoError(t, err)
	require.Equal(t, gateway.ResponseDeduplicated, resp.Kind)
	require.Equal(t, []byte("cached"), resp.CachedEnvelope)
	require.Empty(t, wf.started)
	require.Empty(t, wf.signaled)
	require.NoError(t, mock.ExpectationsWereMet(), "no turn-store query should run once the api idempotency check finds a duplicate")
}

// TestSubmitMessage_QueueDecision_EventuallyStartsNewTurnOnDrain verifies
// spec.md §8 scenario 3: a message that arrives while the active turn is
// RUNNING (and there is no advisor to recommend SUPERSEDE) gets parked by
// the QUEUE decision rather than dropped, and once the blocking turn
// reaches a terminal phase and the workflow worker drains the overflow
// queue, a new turn is started for the parked message.
func TestSubmitMessage_QueueDecision_EventuallyStartsNewTurnOnDrain(t *testing.T) {
	gw, wf, mock, _ := newTestGateway(t)

	payload, err := json.Marshal(turn.LogicalTurn{TurnID: "turn-1", SessionKey: "acme:support:user-1:web", Phase: turn.PhaseRunning})
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE session_key = $1 AND phase NOT IN")).
		WillReturnRows(sqlmock.NewRows([]string{"turn_id", "session_key", "phase", "fencing_token", "payload"}).
			AddRow("turn-1", "acme:support:user-1:web", "RUNNING", uint64(1), payload))

	resp, err := gw.SubmitMessage(context.Background(), gateway.InboundMessage{
		MessageID: "m-queued", TenantID: "acme", AgentID: "support", InterlocutorID: "user-1",
		Channel: channel.Web, Content: "still waiting?", Timestamp: time.Unix(3, 0),
	})
	require.NoError(t, err)
	require.Equal(t, gateway.ResponseQueued, resp.Kind)
	require.Equal(t, "turn-1", resp.TurnID)
	require.Empty(t, wf.started)
	require.NoError(t, mock.ExpectationsWereMet())

	// The blocking turn (turn-1) now reaches a terminal phase and the
	// worker drains the session's overflow queue.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO acf_turns")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	key := session.NewKey("acme", "support", "user-1", "web")
	newTurnID, started, err := gw.DrainOverflow(context.Background(), key, channel.Web, nil)
	require.NoError(t, err)
	require.True(t, started)
	require.NotEmpty(t, newTurnID)
	require.Len(t, wf.started, 1)
	require.Equal(t, key, wf.started[0])
	require.NoError(t, mock.ExpectationsWereMet())

	// The overflow queue is empty now — draining again starts nothing.
	_, started, err = gw.DrainOverflow(context.Background(), key, channel.Web, nil)
	require.NoError(t, err)
	require.False(t, started)
}
