package schemas

import (
	"encoding/json"
	"time"
)

// -- Run Schemas --

// Outcome is the final verdict of a run.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeTimeout Outcome = "TIMEOUT"
	OutcomeError   Outcome = "ERROR"
)

// EndReason explains how a run terminated, with more detail than Outcome.
type EndReason string

const (
	EndQuestSuccess EndReason = "quest_success"
	EndQuestFailure EndReason = "quest_failure"
	EndTimeout      EndReason = "timeout"
	EndCancelled    EndReason = "cancelled"
	EndBridgeError  EndReason = "bridge_error"
	EndLLMError     EndReason = "llm_error"
)

// RunRecord is the persisted header row of one playthrough.
// Outcome stays nil until the first (and only) outcome commit.
type RunRecord struct {
	RunID       string     `json:"run_id"`
	QuestName   string     `json:"quest_name"`
	AgentID     string     `json:"agent_id"`
	AgentConfig string     `json:"agent_config_json,omitempty"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Outcome     *Outcome   `json:"outcome,omitempty"`
	Reward      *float64   `json:"reward,omitempty"`
	BenchmarkID string     `json:"benchmark_id,omitempty"`
}

// StepRecord is one append-only row of a run's semantic trace.
// Action is the 1-based index the agent chose; 0 marks the initial state row.
type StepRecord struct {
	RunID       string          `json:"run_id"`
	StepNumber  int             `json:"step_number"`
	LocationID  string          `json:"location_id"`
	Observation string          `json:"observation"`
	Choices     []Choice        `json:"choices"`
	Action      int             `json:"action"`
	Reward      float64         `json:"reward"`
	LLMDecision *LLMDecision    `json:"llm_decision,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// EventType tags entries on a run's observer timeline.
type EventType string

const (
	EventStep    EventType = "step"
	EventTimeout EventType = "timeout"
	EventOutcome EventType = "outcome"
	EventError   EventType = "error"
)

// RunEvent is one entry of the append-only event stream. Events are the
// observer channel; StepRecords are the semantic trace.
type RunEvent struct {
	RunID     string          `json:"run_id"`
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// RunSummary is the JSON artifact materialized at the end of every run.
type RunSummary struct {
	Run       RunRecord    `json:"run"`
	Steps     []StepRecord `json:"steps"`
	Usage     Usage        `json:"usage"`
	CostUSD   float64      `json:"cost_usd"`
	EndReason EndReason    `json:"end_reason"`
}
