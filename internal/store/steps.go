// File: internal/store/steps.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

// AppendStep inserts one step row. Step numbers are assigned by the run
// loop and must be contiguous from 1; the composite primary key rejects
// duplicates.
func (s *Store) AppendStep(ctx context.Context, step schemas.StepRecord) error {
	choices, err := json.Marshal(step.Choices)
	if err != nil {
		return fmt.Errorf("store: marshal choices: %w", err)
	}

	var decision any
	if step.LLMDecision != nil {
		data, err := json.Marshal(step.LLMDecision)
		if err != nil {
			return fmt.Errorf("store: marshal llm decision: %w", err)
		}
		decision = string(data)
	}

	var metadata any
	if len(step.Metadata) > 0 {
		metadata = string(step.Metadata)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO steps (run_id, step_number, location_id, observation, choices, action, reward, llm_decision, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.RunID, step.StepNumber, step.LocationID, step.Observation,
		string(choices), step.Action, step.Reward, decision, metadata,
	)
	if err != nil {
		return fmt.Errorf("store: append step %d: %w", step.StepNumber, err)
	}
	return nil
}

// ListSteps returns a run's steps ordered by step number.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]schemas.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step_number, location_id, observation, choices, action, reward, llm_decision, metadata
		 FROM steps WHERE run_id = ? ORDER BY step_number ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list steps: %w", err)
	}
	defer rows.Close()

	var steps []schemas.StepRecord
	for rows.Next() {
		var (
			step     schemas.StepRecord
			choices  string
			decision sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&step.RunID, &step.StepNumber, &step.LocationID,
			&step.Observation, &choices, &step.Action, &step.Reward, &decision, &metadata); err != nil {
			return nil, fmt.Errorf("store: scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(choices), &step.Choices); err != nil {
			return nil, fmt.Errorf("store: decode choices: %w", err)
		}
		if decision.Valid {
			var d schemas.LLMDecision
			if err := json.Unmarshal([]byte(decision.String), &d); err != nil {
				return nil, fmt.Errorf("store: decode llm decision: %w", err)
			}
			step.LLMDecision = &d
		}
		if metadata.Valid {
			step.Metadata = json.RawMessage(metadata.String)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate steps: %w", err)
	}
	return steps, nil
}
