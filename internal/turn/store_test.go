package turn_test

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/acf/internal/turn"
)

func newMockStore(t *testing.T) (*turn.Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "pgx")
	return turn.NewStore(db), mock
}

func TestCreateActive_UniqueViolationBecomesErrActiveTurnExists(t *testing.T) {
	store, mock := newMockStore(t)
	lt := &turn.LogicalTurn{TurnID: "turn-1", SessionKey: "sess-1", Phase: turn.PhaseAccumulating}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO acf_turns")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.CreateActive(context.Background(), lt)
	require.ErrorIs(t, err, turn.ErrActiveTurnExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateActive_Success(t *testing.T) {
	store, mock := newMockStore(t)
	lt := &turn.LogicalTurn{TurnID: "turn-1", SessionKey: "sess-1", Phase: turn.PhaseAccumulating}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO acf_turns")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CreateActive(context.Background(), lt)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT turn_id, session_key, phase, fencing_token, payload FROM acf_turns WHERE turn_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"turn_id", "session_key", "phase", "fencing_token", "payload"}))

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, turn.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActive_ExcludesTerminalPhases(t *testing.T) {
	store, mock := newMockStore(t)
	payload, err := json.Marshal(turn.LogicalTurn{TurnID: "turn-1", SessionKey: "sess-1", Phase: turn.PhaseRunning})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE session_key = $1 AND phase NOT IN ('COMMITTED', 'SUPERSEDED', 'ABORTED')")).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"turn_id", "session_key", "phase", "fencing_token", "payload"}).
			AddRow("turn-1", "sess-1", "RUNNING", uint64(1), payload))

	got, err := store.GetActive(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, "turn-1", got.TurnID)
	require.Equal(t, turn.PhaseRunning, got.Phase)
	require.NoError(t, mock.ExpectationsWereMet())
}
