package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq" // Postgres Driver
	_ "modernc.org/sqlite"
)

// NewStoreFromEnv selects a run store from ATTEST_STORE_TYPE:
//
//	memory   - in-process map (default)
//	postgres - ATTEST_POSTGRES_DSN
//	sqlite   - ATTEST_SQLITE_PATH, default <ATTEST_DATA_DIR>/attest.db
func NewStoreFromEnv(ctx context.Context) (RunStore, error) {
	switch kind := os.Getenv("ATTEST_STORE_TYPE"); kind {
	case "", "memory":
		return NewMemoryStore(), nil

	case "postgres":
		dsn := os.Getenv("ATTEST_POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("ATTEST_POSTGRES_DSN required for postgres store")
		}
		return openSQL(ctx, "postgres", dsn)

	case "sqlite":
		path := os.Getenv("ATTEST_SQLITE_PATH")
		if path == "" {
			dataDir := os.Getenv("ATTEST_DATA_DIR")
			if dataDir == "" {
				dataDir = "data"
			}
			path = filepath.Join(dataDir, "attest.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		return openSQL(ctx, "sqlite", path)

	default:
		return nil, fmt.Errorf("unknown store type %q", kind)
	}
}

func openSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}
	s := NewSQLStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
