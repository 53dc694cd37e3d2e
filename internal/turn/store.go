package turn

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a turn lookup misses.
var ErrNotFound = errors.New("turn: not found")

// ErrActiveTurnExists is returned by CreateActive when a session already
// has a non-terminal LogicalTurn — active-turn uniqueness is enforced as a
// conditional write, not a separate lock, so it composes with the session
// mutex's fencing token rather than duplicating it (spec.md §4.3, §8).
var ErrActiveTurnExists = errors.New("turn: an active turn already exists for this session")

// Store is the Postgres-backed LogicalTurn store (C3, spec.md §4.3).
// Grounded on session.DurableStore's pgx/sqlx upsert pattern, adapted to
// additionally enforce single-active-turn-per-session as a conditional
// insert rather than a fencing-token compare.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an already-open *sqlx.DB.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Schema is the DDL for the turns table and its partial unique index
// enforcing at most one non-terminal turn per session.
const Schema = `
CREATE TABLE IF NOT EXISTS acf_turns (
	turn_id       TEXT PRIMARY KEY,
	session_key   TEXT NOT NULL,
	phase         TEXT NOT NULL,
	fencing_token BIGINT NOT NULL,
	payload       JSONB NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS acf_turns_active_per_session
	ON acf_turns (session_key)
	WHERE phase NOT IN ('COMMITTED', 'SUPERSEDED', 'ABORTED');
`

type turnRow struct {
	TurnID       string `db:"turn_id"`
	SessionKey   string `db:"session_key"`
	Phase        string `db:"phase"`
	FencingToken uint64 `db:"fencing_token"`
	Payload      []byte `db:"payload"`
}

// CreateActive inserts a new non-terminal LogicalTurn, relying on the
// partial unique index to reject a second concurrent active turn for the
// same session (spec.md §4.3 "active-turn uniqueness enforced by
// conditional write"). Returns ErrActiveTurnExists on conflict.
func (s *Store) CreateActive(ctx context.Context, t *LogicalTurn) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("turn encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO acf_turns (turn_id, session_key, phase, fencing_token, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, t.TurnID, t.SessionKey, string(t.Phase), t.FencingToken, payload)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrActiveTurnExists
		}
		return fmt.Errorf("turn create: %w", err)
	}
	return nil
}

// Save updates an existing LogicalTurn's phase/artifacts/side-effects.
// Unlike session writes this is not fencing-token-gated on its own — the
// caller is expected to hold the session mutex for the duration of a turn
// and the turn's own fencing_token column is carried for audit, not CAS.
func (s *Store) Save(ctx context.Context, t *LogicalTurn) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("turn encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE acf_turns
		SET phase = $2, fencing_token = $3, payload = $4, updated_at = now()
		WHERE turn_id = $1
	`, t.TurnID, string(t.Phase), t.FencingToken, payload)
	if err != nil {
		return fmt.Errorf("turn save: %w", err)
	}
	return nil
}

// Get returns the LogicalTurn by ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, turnID string) (*LogicalTurn, error) {
	var row turnRow
	err := s.db.GetContext(ctx, &row,
		`SELECT turn_id, session_key, phase, fencing_token, payload FROM acf_turns WHERE turn_id = $1`,
		turnID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("turn get: %w", err)
	}
	var t LogicalTurn
	if err := json.Unmarshal(row.Payload, &t); err != nil {
		return nil, fmt.Errorf("turn decode: %w", err)
	}
	return &t, nil
}

// GetActive returns the current non-terminal turn for sessionKey, if any.
func (s *Store) GetActive(ctx context.Context, sessionKey string) (*LogicalTurn, error) {
	var row turnRow
	err := s.db.GetContext(ctx, &row, `
		SELECT turn_id, session_key, phase, fencing_token, payload
		FROM acf_turns
		WHERE session_key = $1 AND phase NOT IN ('COMMITTED', 'SUPERSEDED', 'ABORTED')
		ORDER BY updated_at DESC
		LIMIT 1
	`, sessionKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("turn get active: %w", err)
	}
	var t LogicalTurn
	if err := json.Unmarshal(row.Payload, &t); err != nil {
		return nil, fmt.Errorf("turn decode: %w", err)
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
