package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Sink is the append-only Postgres audit sink.
type Sink struct {
	db *sqlx.DB
}

// NewSink wraps an already-open *sqlx.DB.
func NewSink(db *sqlx.DB) *Sink {
	return &Sink{db: db}
}

// Schema is the DDL for the audit table. Append-only: no UPDATE/DELETE
// statement is ever issued against it by this package.
const Schema = `
CREATE TABLE IF NOT EXISTS acf_turn_audit (
	turn_id      TEXT PRIMARY KEY,
	turn_group_id TEXT NOT NULL,
	committed_at TIMESTAMPTZ NOT NULL,
	record       JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS acf_turn_audit_group_idx ON acf_turn_audit (turn_group_id);
`

// Append writes rec. It is a plain INSERT — a duplicate turn_id is
// rejected by the primary key, which is the right behavior here: the
// commit step's beat-idempotency short-circuit (internal/idempotency)
// guards against ever calling Append twice for the same turn.
func (s *Sink) Append(ctx context.Context, rec TurnRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO acf_turn_audit (turn_id, turn_group_id, committed_at, record)
		VALUES ($1, $2, $3, $4)
	`, rec.TurnID, rec.TurnGroupID, rec.CommittedAt, payload)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}

// ByTurnGroup returns every TurnRecord committed under turnGroupID, in
// commit order — used to verify "at most one of {old turn, new turn}
// reaches COMMIT" under a supersede chain (spec.md §8 property 8).
func (s *Sink) ByTurnGroup(ctx context.Context, turnGroupID string) ([]TurnRecord, error) {
	var rows [][]byte
	err := s.db.SelectContext(ctx, &rows, `
		SELECT record FROM acf_turn_audit WHERE turn_group_id = $1 ORDER BY committed_at ASC
	`, turnGroupID)
	if err != nil {
		return nil, fmt.Errorf("audit by turn group: %w", err)
	}
	out := make([]TurnRecord, len(rows))
	for i, raw := range rows {
		if err := json.Unmarshal(raw, &out[i]); err != nil {
			return nil, fmt.Errorf("audit decode: %w", err)
		}
	}
	return out, nil
}
