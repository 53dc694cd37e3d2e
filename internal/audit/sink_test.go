package audit_test

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/acf/internal/audit"
	"github.com/agentfabric/acf/internal/turn"
)

func newMockSink(t *testing.T) (*audit.Sink, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "pgx")
	return audit.NewSink(db), mock
}

func TestAppend_InsertsOneRow(t *testing.T) {
	sink, mock := newMockSink(t)
	rec := audit.TurnRecord{TurnID: "turn-1", TurnGroupID: "group-1", CommittedAt: time.Unix(0, 0)}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO acf_turn_audit")).
		WithArgs("turn-1", "group-1", rec.CommittedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, sink.Append(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestByTurnGroup_DecodesEveryRecord(t *testing.T) {
	sink, mock := newMockSink(t)

	rec1, err := json.Marshal(audit.TurnRecord{TurnID: "turn-1", TurnGroupID: "group-1"})
	require.NoError(t, err)
	rec2, err := json.Marshal(audit.TurnRecord{TurnID: "turn-2", TurnGroupID: "group-1"})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT record FROM acf_turn_audit WHERE turn_group_id = $1")).
		WithArgs("group-1").
		WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(rec1).AddRow(rec2))

	got, err := sink.ByTurnGroup(context.Background(), "group-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "turn-1", got[0].TurnID)
	require.Equal(t, "turn-2", got[1].TurnID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSummarize_NeverIncludesRawPayload(t *testing.T) {
	artifacts := []turn.PhaseArtifact{
		{PhaseName: "classify", Fingerprint: "fp-1", Payload: []byte("secret internal reasoning")},
	}
	summaries := audit.Summarize(artifacts)

	require.Len(t, summaries, 1)
	require.Equal(t, "classify", summaries[0].PhaseName)
	require.Equal(t, "fp-1", summaries[0].Fingerprint)
	require.Equal(t, len("secret internal reasoning"), summaries[0].PayloadSize)
}
