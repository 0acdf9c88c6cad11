// File: internal/store/events.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

// AppendEvent appends one timeline entry, assigning the next monotonic
// sequence number inside the insert transaction so concurrent observers
// always see a gap-free stream.
func (s *Store) AppendEvent(ctx context.Context, runID string, eventType schemas.EventType, payload any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("store: marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin event tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM run_events WHERE run_id = ?`, runID,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("store: next event seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, seq, type, timestamp, payload) VALUES (?, ?, ?, ?, ?)`,
		runID, seq, string(eventType), time.Now().UTC(), payloadJSON,
	); err != nil {
		return 0, fmt.Errorf("store: append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit event: %w", err)
	}
	return seq, nil
}

// ListEvents returns a run's events with seq > afterSeq, oldest first. This
// is the storage half of the event-poll endpoint.
func (s *Store) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]schemas.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, type, timestamp, payload
		 FROM run_events WHERE run_id = ? AND seq > ? ORDER BY seq ASC`, runID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var events []schemas.RunEvent
	for rows.Next() {
		var (
			ev        schemas.RunEvent
			eventType string
			payload   sql.NullString
		)
		if err := rows.Scan(&ev.RunID, &ev.Seq, &eventType, &ev.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev.Type = schemas.EventType(eventType)
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate events: %w", err)
	}
	return events, nil
}
