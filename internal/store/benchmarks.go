// File: internal/store/benchmarks.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

// CreateBenchmark inserts a benchmark header row in pending state.
func (s *Store) CreateBenchmark(ctx context.Context, benchmarkID, configJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO benchmarks (benchmark_id, config, status, start_time) VALUES (?, ?, ?, ?)`,
		benchmarkID, nullable(configJSON), string(schemas.BenchmarkPending), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: create benchmark: %w", err)
	}
	return nil
}

// SetBenchmarkStatus moves a benchmark through its lifecycle.
func (s *Store) SetBenchmarkStatus(ctx context.Context, benchmarkID string, status schemas.BenchmarkStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE benchmarks SET status = ? WHERE benchmark_id = ?`,
		string(status), benchmarkID,
	)
	if err != nil {
		return fmt.Errorf("store: set benchmark status: %w", err)
	}
	return nil
}

// GetBenchmark retrieves one benchmark header row.
func (s *Store) GetBenchmark(ctx context.Context, benchmarkID string) (schemas.BenchmarkRecord, error) {
	var (
		rec     schemas.BenchmarkRecord
		cfg     sql.NullString
		endTime sql.NullTime
		summary sql.NullString
		status  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT benchmark_id, config, status, start_time, end_time, summary
		 FROM benchmarks WHERE benchmark_id = ?`, benchmarkID,
	).Scan(&rec.BenchmarkID, &cfg, &status, &rec.StartTime, &endTime, &summary)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schemas.BenchmarkRecord{}, fmt.Errorf("store: benchmark not found: %s", benchmarkID)
		}
		return schemas.BenchmarkRecord{}, fmt.Errorf("store: get benchmark: %w", err)
	}
	rec.Status = schemas.BenchmarkStatus(status)
	rec.ConfigJSON = cfg.String
	rec.SummaryJSON = summary.String
	if endTime.Valid {
		t := endTime.Time
		rec.EndTime = &t
	}
	return rec, nil
}

// FinishBenchmark records the terminal status and summary blob.
func (s *Store) FinishBenchmark(ctx context.Context, benchmarkID string, status schemas.BenchmarkStatus, summaryJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE benchmarks SET status = ?, end_time = ?, summary = ? WHERE benchmark_id = ?`,
		string(status), time.Now().UTC(), nullable(summaryJSON), benchmarkID,
	)
	if err != nil {
		return fmt.Errorf("store: finish benchmark: %w", err)
	}
	return nil
}
