package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLKeyStore backs the duplicate-transition guard with a uniqueness
// constraint. It works with Postgres and SQLite through standard drivers.
type SQLKeyStore struct {
	db *sql.DB
}

// NewSQLKeyStore wraps an open database handle.
func NewSQLKeyStore(db *sql.DB) *SQLKeyStore {
	return &SQLKeyStore{db: db}
}

const keySchema = `
CREATE TABLE IF NOT EXISTS transition_keys (
	run_id TEXT NOT NULL,
	dedupe_key TEXT NOT NULL,
	recorded_at TIMESTAMP,
	PRIMARY KEY (run_id, dedupe_key)
);
`

// Init creates the key table.
func (s *SQLKeyStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, keySchema)
	return err
}

// Record inserts the key; the primary key constraint makes the first-write
// race safe across processes. Keys are scoped per run, so a shared handle
// can also serve HTTP idempotency under its own run-ID slot without the
// two key spaces colliding.
func (s *SQLKeyStore) Record(ctx context.Context, runID, key string) (bool, error) {
	query := `
		INSERT INTO transition_keys (dedupe_key, run_id, recorded_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (run_id, dedupe_key) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, key, runID)
	if err != nil {
		return false, fmt.Errorf("record transition key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ClearRun removes all keys recorded for runID.
func (s *SQLKeyStore) ClearRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transition_keys WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("clear transition keys: %w", err)
	}
	return nil
}
