// File: internal/store/store.go
// Description: SQLite-backed persistence for runs, steps, events, and
// benchmarks. The database file is the only cross-worker shared resource;
// every write is a short transaction and the outcome commit is guarded at
// the SQL layer.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store wraps the metrics database.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (creating if needed) the metrics database and applies the
// schema. WAL mode lets readers proceed while a run writes; writers still
// take the single write lock in turn, and busy_timeout makes them wait for it
// instead of failing.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	s := &Store{db: db, log: logger.Named("store")}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id       TEXT PRIMARY KEY,
    quest_name   TEXT NOT NULL,
    agent_id     TEXT NOT NULL,
    agent_config TEXT,
    benchmark_id TEXT,
    start_time   TIMESTAMP NOT NULL,
    end_time     TIMESTAMP,
    outcome      TEXT,
    reward       REAL
);

CREATE TABLE IF NOT EXISTS steps (
    run_id       TEXT NOT NULL REFERENCES runs(run_id),
    step_number  INTEGER NOT NULL,
    location_id  TEXT NOT NULL,
    observation  TEXT NOT NULL,
    choices      TEXT NOT NULL,
    action       INTEGER NOT NULL,
    reward       REAL NOT NULL,
    llm_decision TEXT,
    metadata     TEXT,
    PRIMARY KEY (run_id, step_number)
);

CREATE TABLE IF NOT EXISTS run_events (
    run_id    TEXT NOT NULL REFERENCES runs(run_id),
    seq       INTEGER NOT NULL,
    type      TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    payload   TEXT,
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS benchmarks (
    benchmark_id TEXT PRIMARY KEY,
    config       TEXT,
    status       TEXT NOT NULL,
    start_time   TIMESTAMP NOT NULL,
    end_time     TIMESTAMP,
    summary      TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_benchmark ON runs(benchmark_id);
CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent_id);
`

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	return nil
}
