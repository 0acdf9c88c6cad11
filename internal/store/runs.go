// File: internal/store/runs.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

// ErrRunNotFound reports a lookup of an unknown run ID.
var ErrRunNotFound = errors.New("store: run not found")

// CreateRun inserts a new run row with a NULL outcome.
func (s *Store) CreateRun(ctx context.Context, run schemas.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, quest_name, agent_id, agent_config, benchmark_id, start_time)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.QuestName, run.AgentID, nullable(run.AgentConfig),
		nullable(run.BenchmarkID), run.StartTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: create run: %w", err)
	}
	return nil
}

// CommitOutcome performs the guarded first-write-wins outcome commit. The
// returned bool reports whether this writer won; a lost race is not an
// error. The guard lives at the persistence layer on purpose: in-process
// coordination alone cannot stop a late terminal write from clobbering an
// already-committed TIMEOUT.
func (s *Store) CommitOutcome(ctx context.Context, runID string, outcome schemas.Outcome, reward float64, endTime time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET outcome = ?, end_time = ?, reward = ?
		 WHERE run_id = ? AND outcome IS NULL`,
		string(outcome), endTime.UTC(), reward, runID,
	)
	if err != nil {
		return false, fmt.Errorf("store: commit outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: commit outcome rows: %w", err)
	}
	if n == 0 {
		s.log.Debug("Outcome commit lost first-write-wins race",
			zap.String("run_id", runID),
			zap.String("outcome", string(outcome)))
		return false, nil
	}
	return true, nil
}

// GetRun retrieves one run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (schemas.RunRecord, error) {
	var (
		run         schemas.RunRecord
		agentConfig sql.NullString
		benchmarkID sql.NullString
		endTime     sql.NullTime
		outcome     sql.NullString
		reward      sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, quest_name, agent_id, agent_config, benchmark_id, start_time, end_time, outcome, reward
		 FROM runs WHERE run_id = ?`, runID,
	).Scan(&run.RunID, &run.QuestName, &run.AgentID, &agentConfig, &benchmarkID,
		&run.StartTime, &endTime, &outcome, &reward)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schemas.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return schemas.RunRecord{}, fmt.Errorf("store: get run: %w", err)
	}

	run.AgentConfig = agentConfig.String
	run.BenchmarkID = benchmarkID.String
	if endTime.Valid {
		t := endTime.Time
		run.EndTime = &t
	}
	if outcome.Valid {
		o := schemas.Outcome(outcome.String)
		run.Outcome = &o
	}
	if reward.Valid {
		r := reward.Float64
		run.Reward = &r
	}
	return run, nil
}

// ListRunsByBenchmark returns the runs belonging to one benchmark.
func (s *Store) ListRunsByBenchmark(ctx context.Context, benchmarkID string) ([]schemas.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM runs WHERE benchmark_id = ? ORDER BY start_time ASC`, benchmarkID)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate runs: %w", err)
	}

	runs := make([]schemas.RunRecord, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
