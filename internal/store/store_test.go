package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
	"github.com/yourconscience/llm-quest-benchmark/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "metrics.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createRun(t *testing.T, s *store.Store) schemas.RunRecord {
	t.Helper()
	run := schemas.RunRecord{
		RunID:     uuid.New().String(),
		QuestName: "quests/boat.qm",
		AgentID:   "baseline",
		StartTime: time.Now().UTC(),
	}
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

func TestCreateAndGetRun(t *testing.T) {
	s := openStore(t)
	run := createRun(t, s)

	got, err := s.GetRun(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, "quests/boat.qm", got.QuestName)
	assert.Nil(t, got.Outcome, "outcome starts NULL")
	assert.Nil(t, got.EndTime)
}

func TestGetUnknownRun(t *testing.T) {
	s := openStore(t)
	_, err := s.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

// First writer wins; everyone later is a no-op.
func TestCommitOutcomeFirstWriteWins(t *testing.T) {
	s := openStore(t)
	run := createRun(t, s)
	ctx := context.Background()

	won, err := s.CommitOutcome(ctx, run.RunID, schemas.OutcomeTimeout, 0, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, won)

	// The late-arriving FAILURE must not overwrite the TIMEOUT.
	won, err = s.CommitOutcome(ctx, run.RunID, schemas.OutcomeFailure, 0, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, won)

	got, err := s.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, schemas.OutcomeTimeout, *got.Outcome)
	require.NotNil(t, got.EndTime, "exactly one terminal row with non-null end_time")
}

func TestCommitOutcomeConcurrentWriters(t *testing.T) {
	s := openStore(t)
	run := createRun(t, s)
	ctx := context.Background()

	results := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			outcome := schemas.OutcomeFailure
			if i%2 == 0 {
				outcome = schemas.OutcomeTimeout
			}
			won, err := s.CommitOutcome(ctx, run.RunID, outcome, 0, time.Now().UTC())
			assert.NoError(t, err)
			results <- won
		}(i)
	}

	winners := 0
	for i := 0; i < 8; i++ {
		if <-results {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one writer may commit")
}

func TestStepsAreContiguousAndOrdered(t *testing.T) {
	s := openStore(t)
	run := createRun(t, s)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		action := i - 1 // 0 marks the initial row.
		require.NoError(t, s.AppendStep(ctx, schemas.StepRecord{
			RunID:       run.RunID,
			StepNumber:  i,
			LocationID:  "loc",
			Observation: "obs",
			Choices:     []schemas.Choice{{JumpID: "1", Text: "go"}},
			Action:      action,
		}))
	}

	// A duplicate step number violates the primary key.
	err := s.AppendStep(ctx, schemas.StepRecord{RunID: run.RunID, StepNumber: 2, LocationID: "x", Observation: "x"})
	require.Error(t, err)

	steps, err := s.ListSteps(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 4)
	for i, step := range steps {
		assert.Equal(t, i+1, step.StepNumber, "step numbers form 1..N")
	}
}

func TestStepDecisionRoundTrip(t *testing.T) {
	s := openStore(t)
	run := createRun(t, s)
	ctx := context.Background()

	usage := schemas.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}
	require.NoError(t, s.AppendStep(ctx, schemas.StepRecord{
		RunID:       run.RunID,
		StepNumber:  1,
		LocationID:  "1",
		Observation: "obs",
		Choices:     []schemas.Choice{{JumpID: "10", Text: "x"}},
		Action:      1,
		LLMDecision: &schemas.LLMDecision{
			Reasoning: "because",
			Result:    1,
			Override:  "loop_escape",
			Usage:     &usage,
			CostUSD:   0.002,
		},
	}))

	steps, err := s.ListSteps(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.NotNil(t, steps[0].LLMDecision)
	assert.Equal(t, "loop_escape", steps[0].LLMDecision.Override)
	assert.Equal(t, 120, steps[0].LLMDecision.Usage.TotalTokens)
}

func TestEventSequenceIsMonotonic(t *testing.T) {
	s := openStore(t)
	run := createRun(t, s)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seq, err := s.AppendEvent(ctx, run.RunID, schemas.EventStep, map[string]int{"step_number": i + 1})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), seq)
	}

	events, err := s.ListEvents(ctx, run.RunID, 2)
	require.NoError(t, err)
	require.Len(t, events, 3, "poll from afterSeq=2 returns seq 3..5")
	assert.Equal(t, int64(3), events[0].Seq)
	assert.Equal(t, schemas.EventStep, events[0].Type)
}

func TestBenchmarkLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := uuid.New().String()

	require.NoError(t, s.CreateBenchmark(ctx, id, `{"quests":["a.qm"]}`))
	require.NoError(t, s.SetBenchmarkStatus(ctx, id, schemas.BenchmarkRunning))

	rec, err := s.GetBenchmark(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schemas.BenchmarkRunning, rec.Status)
	assert.Nil(t, rec.EndTime)

	require.NoError(t, s.FinishBenchmark(ctx, id, schemas.BenchmarkComplete, `{"total":1}`))

	rec, err = s.GetBenchmark(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schemas.BenchmarkComplete, rec.Status)
	assert.Equal(t, `{"total":1}`, rec.SummaryJSON)
	require.NotNil(t, rec.EndTime)
}

func TestQuestSlug(t *testing.T) {
	assert.Equal(t, "boat", store.QuestSlug("quests/Boat.qm"))
	assert.Equal(t, "dark-cave-2", store.QuestSlug("/data/Dark Cave (2).qm"))
	assert.Equal(t, "quest", store.QuestSlug("???.qm"))
}

func TestRunSummaryArtifactRoundTrip(t *testing.T) {
	dir := t.TempDir()
	outcome := schemas.OutcomeSuccess
	reward := 1.0
	end := time.Now().UTC().Truncate(time.Second)
	action := 1

	summary := schemas.RunSummary{
		Run: schemas.RunRecord{
			RunID:     "abc123",
			QuestName: "quests/boat.qm",
			AgentID:   "baseline",
			StartTime: end.Add(-time.Minute),
			EndTime:   &end,
			Outcome:   &outcome,
			Reward:    &reward,
		},
		Steps: []schemas.StepRecord{
			{StepNumber: 1, LocationID: "1", Observation: "start", Choices: []schemas.Choice{{JumpID: "10", Text: "x"}}, Action: 0},
			{StepNumber: 2, LocationID: "2", Observation: "end", Action: action, Reward: 1.0,
				LLMDecision: &schemas.LLMDecision{Result: 1, Usage: &schemas.Usage{TotalTokens: 42}}},
		},
		Usage:     schemas.Usage{PromptTokens: 30, CompletionTokens: 12, TotalTokens: 42},
		CostUSD:   0.005,
		EndReason: schemas.EndQuestSuccess,
	}

	path, err := store.WriteRunSummary(dir, summary)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "baseline", "boat", "run_abc123", "run_summary.json"), path)

	// Re-reading the finalized artifact reproduces the aggregates.
	loaded, err := store.ReadRunSummary(path)
	require.NoError(t, err)
	assert.Equal(t, summary.Usage, loaded.Usage)
	assert.Equal(t, summary.CostUSD, loaded.CostUSD)
	assert.Equal(t, summary.EndReason, loaded.EndReason)
	require.Len(t, loaded.Steps, 2)
	assert.Zero(t, loaded.Steps[0].Action, "initial pseudo-step keeps its null action")
	assert.Equal(t, 1, loaded.Steps[1].Action)
}

func TestBenchmarkSummaryArtifact(t *testing.T) {
	dir := t.TempDir()
	summary := schemas.BenchmarkSummary{
		BenchmarkID: "bench-1",
		Total:       4,
		Tally:       schemas.OutcomeTally{OK: 2, Fail: 2},
		PerAgent: map[string]schemas.OutcomeTally{
			"winner": {OK: 2},
			"loser":  {Fail: 2},
		},
		PerQuest: map[string]schemas.OutcomeTally{"boat": {OK: 1, Fail: 1}},
	}

	path, err := store.WriteBenchmarkSummary(dir, summary)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "benchmarks", "bench-1", "benchmark_summary.json"), path)
}
