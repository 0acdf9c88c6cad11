// File: internal/runner/runner.go
// Description: Drives one playthrough: Environment against Agent under a
// wall-clock deadline and step cap, persisting every step and event, and
// converting every verdict into exactly one guarded outcome commit. An
// invalid action is returned to the caller as an error and commits no
// outcome.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
	"github.com/yourconscience/llm-quest-benchmark/internal/bridge"
	"github.com/yourconscience/llm-quest-benchmark/internal/config"
	"github.com/yourconscience/llm-quest-benchmark/internal/env"
	"github.com/yourconscience/llm-quest-benchmark/internal/store"
)

// Store is the persistence surface the run loop writes through.
type Store interface {
	CreateRun(ctx context.Context, run schemas.RunRecord) error
	AppendStep(ctx context.Context, step schemas.StepRecord) error
	AppendEvent(ctx context.Context, runID string, eventType schemas.EventType, payload any) (int64, error)
	CommitOutcome(ctx context.Context, runID string, outcome schemas.Outcome, reward float64, endTime time.Time) (bool, error)
}

// Environment is the reset/step surface of one quest session.
type Environment interface {
	Reset(ctx context.Context) (schemas.Observation, error)
	Step(ctx context.Context, action int) (schemas.Observation, float64, bool, error)
	Close()
}

// Decider produces a choice for an observation within a time budget.
type Decider interface {
	Decide(ctx context.Context, obs schemas.Observation, budget time.Duration) schemas.LLMDecision
}

// Params describe one run. RunID is assigned when empty.
type Params struct {
	RunID       string
	QuestPath   string
	AgentID     string
	AgentConfig string
	BenchmarkID string
	Env         Environment
	Agent       Decider
	SkipSingle  bool
}

// Result carries the run verdict back to the caller alongside the summary
// artifact contents.
type Result struct {
	RunID     string
	Outcome   schemas.Outcome
	Reward    float64
	EndReason schemas.EndReason
	Summary   schemas.RunSummary
}

// Runner executes runs against one store. Safe for concurrent use; all
// per-run state lives in Params and locals.
type Runner struct {
	cfg        config.RunConfig
	resultsDir string
	store      Store
	logger     *zap.Logger
}

// New creates a runner.
func New(cfg config.RunConfig, resultsDir string, store Store, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:        cfg,
		resultsDir: resultsDir,
		store:      store,
		logger:     logger.Named("runner"),
	}
}

// skipSingleMetadata marks auto-selected steps in the step row.
var skipSingleMetadata = json.RawMessage(`{"skip_single":true}`)

// Run executes one playthrough to an outcome. The returned error is non-nil
// only for programmer errors (invalid action) and persistence failures that
// prevented the run from being recorded; quest failures, timeouts, and
// bridge crashes are verdicts, not errors.
func (r *Runner) Run(ctx context.Context, p Params) (Result, error) {
	if p.RunID == "" {
		p.RunID = uuid.New().String()
	}
	logger := r.logger.With(zap.String("run_id", p.RunID), zap.String("quest", p.QuestPath), zap.String("agent_id", p.AgentID))

	start := time.Now().UTC()
	record := schemas.RunRecord{
		RunID:       p.RunID,
		QuestName:   p.QuestPath,
		AgentID:     p.AgentID,
		AgentConfig: p.AgentConfig,
		BenchmarkID: p.BenchmarkID,
		StartTime:   start,
	}
	if err := r.store.CreateRun(ctx, record); err != nil {
		return Result{}, fmt.Errorf("runner: create run: %w", err)
	}

	// The environment must be released on every exit path, including panics
	// and cancellation.
	defer p.Env.Close()

	deadline := start.Add(r.cfg.RunTimeout)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var steps []schemas.StepRecord
	usage := schemas.Usage{}
	cost := 0.0

	commit := func(outcome schemas.Outcome, reward float64, endReason schemas.EndReason) (Result, error) {
		return r.finish(ctx, record, steps, usage, cost, outcome, reward, endReason, logger)
	}

	obs, err := p.Env.Reset(runCtx)
	if err != nil {
		logger.Error("Environment reset failed", zap.Error(err))
		r.emitError(ctx, p.RunID, err, logger)
		outcome, endReason := classifyRunError(err)
		return commit(outcome, 0, endReason)
	}

	steps = append(steps, r.record(ctx, p.RunID, 1, obs, 0, 0, nil, nil, logger))

	for stepNum := 2; stepNum <= r.cfg.MaxSteps+1; stepNum++ {
		if err := ctx.Err(); err != nil {
			// External cancellation (benchmark shutdown) is honored between
			// steps; in-flight work was already bounded by its own timeout.
			logger.Warn("Run cancelled between steps")
			r.emitError(ctx, p.RunID, fmt.Errorf("cancelled"), logger)
			return commit(schemas.OutcomeError, 0, schemas.EndCancelled)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			logger.Warn("Run deadline exceeded", zap.Duration("timeout", r.cfg.RunTimeout))
			_, _ = r.store.AppendEvent(ctx, p.RunID, schemas.EventTimeout, map[string]any{
				"timeout_seconds": r.cfg.RunTimeout.Seconds(),
			})
			return commit(schemas.OutcomeTimeout, 0, schemas.EndTimeout)
		}

		var (
			decision *schemas.LLMDecision
			metadata json.RawMessage
			action   int
		)
		if p.SkipSingle && len(obs.Choices) == 1 {
			action = 1
			metadata = skipSingleMetadata
		} else {
			budget := r.cfg.StepTimeout
			if budget <= 0 || budget > remaining {
				budget = remaining
			}
			d := p.Agent.Decide(runCtx, obs, budget)
			decision = &d
			action = d.Result
			if d.Usage != nil {
				usage.Add(*d.Usage)
			}
			cost += d.CostUSD
		}

		next, reward, done, err := p.Env.Step(runCtx, action)
		if err != nil {
			var invalid *env.InvalidActionError
			if errors.As(err, &invalid) {
				// Programmer error: surfaces to the caller, never becomes an
				// outcome row.
				return Result{}, fmt.Errorf("runner: %w", err)
			}
			logger.Error("Environment step failed", zap.Int("step", stepNum), zap.Error(err))
			r.emitError(ctx, p.RunID, err, logger)
			outcome, endReason := classifyRunError(err)
			return commit(outcome, 0, endReason)
		}

		obs = next
		steps = append(steps, r.record(ctx, p.RunID, stepNum, obs, action, reward, decision, metadata, logger))

		if done {
			if obs.GameState == schemas.GameWin {
				logger.Info("Quest completed", zap.String("outcome", "SUCCESS"), zap.Int("steps", stepNum))
				return commit(schemas.OutcomeSuccess, reward, schemas.EndQuestSuccess)
			}
			logger.Info("Quest completed", zap.String("outcome", "FAILURE"), zap.String("game_state", string(obs.GameState)), zap.Int("steps", stepNum))
			return commit(schemas.OutcomeFailure, reward, schemas.EndQuestFailure)
		}
	}

	logger.Warn("Step cap reached without terminal state", zap.Int("max_steps", r.cfg.MaxSteps))
	r.emitError(ctx, p.RunID, fmt.Errorf("step cap %d reached", r.cfg.MaxSteps), logger)
	return commit(schemas.OutcomeFailure, 0, schemas.EndQuestFailure)
}

// record persists one step row and its event, returning the record for the
// summary. Persistence failures are logged but do not kill the run; the
// semantic trace in memory still feeds the artifact.
func (r *Runner) record(ctx context.Context, runID string, stepNum int, obs schemas.Observation, action int, reward float64, decision *schemas.LLMDecision, metadata json.RawMessage, logger *zap.Logger) schemas.StepRecord {
	step := schemas.StepRecord{
		RunID:       runID,
		StepNumber:  stepNum,
		LocationID:  obs.LocationID,
		Observation: env.RenderText(obs),
		Choices:     obs.Choices,
		Action:      action,
		Reward:      reward,
		LLMDecision: decision,
		Metadata:    metadata,
	}
	if err := r.store.AppendStep(ctx, step); err != nil {
		logger.Error("Failed to persist step", zap.Int("step", stepNum), zap.Error(err))
	}
	if _, err := r.store.AppendEvent(ctx, runID, schemas.EventStep, map[string]any{
		"step_number": stepNum,
		"location_id": obs.LocationID,
		"action":      action,
	}); err != nil {
		logger.Error("Failed to emit step event", zap.Int("step", stepNum), zap.Error(err))
	}
	return step
}

func (r *Runner) emitError(ctx context.Context, runID string, cause error, logger *zap.Logger) {
	if _, err := r.store.AppendEvent(ctx, runID, schemas.EventError, map[string]any{
		"error": cause.Error(),
	}); err != nil {
		logger.Error("Failed to emit error event", zap.Error(err))
	}
}

// finish commits the outcome (first-write-wins), emits the outcome event,
// and materializes the run summary artifact. Uses the parent context so a
// run-deadline expiry cannot stop the verdict from landing.
func (r *Runner) finish(ctx context.Context, record schemas.RunRecord, steps []schemas.StepRecord, usage schemas.Usage, cost float64, outcome schemas.Outcome, reward float64, endReason schemas.EndReason, logger *zap.Logger) (Result, error) {
	// Shutdown paths arrive here with a cancelled context; persistence still
	// has to happen.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	end := time.Now().UTC()
	won, err := r.store.CommitOutcome(commitCtx, record.RunID, outcome, reward, end)
	if err != nil {
		return Result{}, fmt.Errorf("runner: commit outcome: %w", err)
	}
	if !won {
		logger.Debug("Outcome already committed by an earlier writer", zap.String("attempted", string(outcome)))
	}

	if _, err := r.store.AppendEvent(commitCtx, record.RunID, schemas.EventOutcome, map[string]any{
		"outcome":    string(outcome),
		"reward":     reward,
		"end_reason": string(endReason),
	}); err != nil {
		logger.Error("Failed to emit outcome event", zap.Error(err))
	}

	record.EndTime = &end
	record.Outcome = &outcome
	record.Reward = &reward
	summary := schemas.RunSummary{
		Run:       record,
		Steps:     steps,
		Usage:     usage,
		CostUSD:   cost,
		EndReason: endReason,
	}
	if r.resultsDir != "" {
		if _, err := store.WriteRunSummary(r.resultsDir, summary); err != nil {
			logger.Error("Failed to write run summary artifact", zap.Error(err))
		}
	}

	return Result{
		RunID:     record.RunID,
		Outcome:   outcome,
		Reward:    reward,
		EndReason: endReason,
		Summary:   summary,
	}, nil
}

// classifyRunError maps a loop failure onto its outcome and end reason.
func classifyRunError(err error) (schemas.Outcome, schemas.EndReason) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		// The run's wall clock, not the bridge's read budget.
		return schemas.OutcomeTimeout, schemas.EndTimeout
	case errors.Is(err, context.Canceled):
		return schemas.OutcomeError, schemas.EndCancelled
	case isBridgeError(err):
		return schemas.OutcomeError, schemas.EndBridgeError
	default:
		return schemas.OutcomeError, schemas.EndLLMError
	}
}

func isBridgeError(err error) bool {
	var (
		startup  *bridge.StartupError
		protocol *bridge.ProtocolError
		crashed  *bridge.CrashedError
	)
	return errors.As(err, &startup) || errors.As(err, &protocol) || errors.As(err, &crashed) ||
		errors.Is(err, bridge.ErrTimeout) || errors.Is(err, bridge.ErrClosed)
}
