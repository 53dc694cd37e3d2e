package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// DurableStore is the long-TTL / indefinite tier of the two-tier store —
// the source of truth across process restarts and for inactive sessions
// (spec.md §4.2). Backed by Postgres via pgx/sqlx, grounded on
// jordigilh-kubernaut's direct use of both in its persistence layer.
type DurableStore struct {
	db *sqlx.DB
}

// NewDurableStore wraps an already-open *sqlx.DB (constructed with the pgx
// stdlib driver, hence the blank import of jackc/pgx/v5/stdlib above).
func NewDurableStore(db *sqlx.DB) *DurableStore {
	return &DurableStore{db: db}
}

// Open opens a new Postgres connection pool via the pgx stdlib driver.
func Open(dsn string) (*sqlx.DB, error) {
	return sqlx.Open("pgx", dsn)
}

type sessionRow struct {
	SessionKey   string `db:"session_key"`
	FencingToken uint64 `db:"fencing_token"`
	Payload      []byte `db:"payload"`
}

// Schema is the DDL for the sessions table. Applied by migration tooling;
// exported so tests and cmd/worker's bootstrap path can apply it directly.
const Schema = `
CREATE TABLE IF NOT EXISTS acf_sessions (
	session_key   TEXT PRIMARY KEY,
	fencing_token BIGINT NOT NULL,
	payload       JSONB NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Get returns the persisted Session, or ErrNotFound.
func (d *DurableStore) Get(ctx context.Context, key Key) (*Session, error) {
	var row sessionRow
	err := d.db.GetContext(ctx, &row,
		`SELECT session_key, fencing_token, payload FROM acf_sessions WHERE session_key = $1`,
		string(key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable get: %w", err)
	}
	var s Session
	if err := json.Unmarshal(row.Payload, &s); err != nil {
		return nil, fmt.Errorf("durable decode: %w", err)
	}
	return &s, nil
}

// Put writes s, enforcing the fencing invariant: a write whose token is not
// strictly greater than the stored one is rejected (spec.md §4.1, §5, §8
// "fencing monotonicity").
func (d *DurableStore) Put(ctx context.Context, s *Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("durable encode: %w", err)
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO acf_sessions (session_key, fencing_token, payload, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_key) DO UPDATE
			SET fencing_token = EXCLUDED.fencing_token,
			    payload = EXCLUDED.payload,
			    updated_at = now()
			WHERE acf_sessions.fencing_token < EXCLUDED.fencing_token
	`, string(s.SessionKey), s.FencingToken, payload)
	if err != nil {
		return fmt.Errorf("durable put: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("durable put rows affected: %w", err)
	}
	if n == 0 {
		// Either this is the very first write racing a concurrent insert, or
		// the token regressed. Distinguish by checking existence.
		if _, getErr := d.Get(ctx, s.SessionKey); getErr == nil {
			return fmt.Errorf("durable put: %w", errStaleFencingToken)
		}
	}
	return nil
}

// Delete removes the durable-tier entry for key.
func (d *DurableStore) Delete(ctx context.Context, key Key) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM acf_sessions WHERE session_key = $1`, string(key))
	if err != nil {
		return fmt.Errorf("durable delete: %w", err)
	}
	return nil
}

var errStaleFencingToken = errors.New("fencing token did not advance")
