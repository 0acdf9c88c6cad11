// File: internal/benchmark/scheduler.go
// Description: Expands the quests × agents matrix, dispatches pairs to a
// bounded worker pool, tracks progress for pollers, and aggregates the
// benchmark summary when the pool drains.
package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
	"github.com/yourconscience/llm-quest-benchmark/internal/agent"
	"github.com/yourconscience/llm-quest-benchmark/internal/bridge"
	"github.com/yourconscience/llm-quest-benchmark/internal/config"
	"github.com/yourconscience/llm-quest-benchmark/internal/env"
	"github.com/yourconscience/llm-quest-benchmark/internal/llm"
	"github.com/yourconscience/llm-quest-benchmark/internal/runner"
	"github.com/yourconscience/llm-quest-benchmark/internal/store"
)

// pair is one (quest, agent) cell of the matrix.
type pair struct {
	quest string
	agent schemas.AgentConfig
}

func (p pair) label() string {
	return fmt.Sprintf("%s × %s", store.QuestSlug(p.quest), p.agent.AgentID)
}

// PairRunner executes one matrix cell. The production implementation spawns
// a real run; tests inject stubs.
type PairRunner func(ctx context.Context, benchmarkID, quest string, agentCfg schemas.AgentConfig) schemas.PairOutcome

// Scheduler fans one benchmark out over a bounded worker pool. Each pair
// runs as one fully isolated run: private bridge subprocess, environment,
// agent state, and LLM client.
type Scheduler struct {
	appCfg     *config.Config
	store      *store.Store
	factory    *llm.Factory
	logger     *zap.Logger
	pairRunner PairRunner

	mu       sync.Mutex
	progress schemas.Progress
	active   map[string]struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPairRunner replaces the per-pair execution path. Primarily used by
// tests to substitute scripted outcomes for real subprocess runs.
func WithPairRunner(fn PairRunner) Option {
	return func(s *Scheduler) {
		s.pairRunner = fn
	}
}

// NewScheduler wires a scheduler over the shared store and LLM factory.
func NewScheduler(appCfg *config.Config, st *store.Store, factory *llm.Factory, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		appCfg:  appCfg,
		store:   st,
		factory: factory,
		logger:  logger.Named("benchmark"),
		active:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Progress returns a consistent snapshot of the scheduler counters.
func (s *Scheduler) Progress() schemas.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.progress
	snapshot.Active = make([]string, 0, len(s.active))
	for label := range s.active {
		snapshot.Active = append(snapshot.Active, label)
	}
	return snapshot
}

// Run executes the whole benchmark and returns its summary. A single pair's
// failure never affects its siblings; worker errors are absorbed into pair
// outcomes.
func (s *Scheduler) Run(ctx context.Context, cfg Config) (schemas.BenchmarkSummary, error) {
	benchmarkID := cfg.BenchmarkID
	if benchmarkID == "" {
		benchmarkID = uuid.New().String()
	}
	logger := s.logger.With(zap.String("benchmark_id", benchmarkID))

	quests, err := ResolveQuests(cfg.Quests)
	if err != nil {
		return schemas.BenchmarkSummary{}, err
	}

	pairs := make([]pair, 0, len(quests)*len(cfg.Agents))
	for _, q := range quests {
		for _, a := range cfg.Agents {
			pairs = append(pairs, pair{quest: q, agent: a})
		}
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return schemas.BenchmarkSummary{}, fmt.Errorf("benchmark: marshal config: %w", err)
	}
	if err := s.store.CreateBenchmark(ctx, benchmarkID, string(configJSON)); err != nil {
		return schemas.BenchmarkSummary{}, err
	}
	if err := s.store.SetBenchmarkStatus(ctx, benchmarkID, schemas.BenchmarkRunning); err != nil {
		return schemas.BenchmarkSummary{}, err
	}

	s.mu.Lock()
	s.progress = schemas.Progress{Total: len(pairs)}
	s.active = make(map[string]struct{})
	s.mu.Unlock()

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	logger.Info("Benchmark starting",
		zap.Int("quests", len(quests)),
		zap.Int("agents", len(cfg.Agents)),
		zap.Int("pairs", len(pairs)),
		zap.Int("max_workers", maxWorkers))

	runCfg := s.appCfg.Run
	if cfg.TimeoutPerRun.Duration > 0 {
		runCfg.RunTimeout = cfg.TimeoutPerRun.Duration
	}
	r := runner.New(runCfg, s.appCfg.Storage.ResultsDir, s.store, s.logger)

	start := time.Now().UTC()
	outcomes := make([]schemas.PairOutcome, len(pairs))

	g, runCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	for i, p := range pairs {
		g.Go(func() error {
			s.markRunning(p)
			var outcome schemas.PairOutcome
			if s.pairRunner != nil {
				outcome = s.pairRunner(runCtx, benchmarkID, p.quest, p.agent)
			} else {
				outcome = s.runPair(runCtx, r, benchmarkID, p, cfg.Seed)
			}
			outcomes[i] = outcome
			s.markDone(p, outcome.Outcome)
			// Any completion is progress; a pair's verdict is never a worker
			// error.
			return nil
		})
	}
	_ = g.Wait()

	summary := aggregate(benchmarkID, outcomes, start)

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return schemas.BenchmarkSummary{}, fmt.Errorf("benchmark: marshal summary: %w", err)
	}
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.store.FinishBenchmark(finishCtx, benchmarkID, schemas.BenchmarkComplete, string(summaryJSON)); err != nil {
		return schemas.BenchmarkSummary{}, err
	}
	if _, err := store.WriteBenchmarkSummary(s.appCfg.Storage.ResultsDir, summary); err != nil {
		return schemas.BenchmarkSummary{}, err
	}

	logger.Info("Benchmark complete",
		zap.Int("total", summary.Total),
		zap.Int("ok", summary.Tally.OK),
		zap.Int("fail", summary.Tally.Fail),
		zap.Int("timeout", summary.Tally.Timeout),
		zap.Int("error", summary.Tally.Error))
	return summary, nil
}

// runPair executes one matrix cell and converts every failure into a pair
// outcome. It logs but never rethrows.
func (s *Scheduler) runPair(ctx context.Context, r *runner.Runner, benchmarkID string, p pair, seed int64) schemas.PairOutcome {
	logger := s.logger.With(zap.String("quest", p.quest), zap.String("agent_id", p.agent.AgentID))

	outcome := schemas.PairOutcome{
		Quest:   p.quest,
		AgentID: p.agent.AgentID,
		Outcome: schemas.OutcomeError,
	}

	client, err := s.factory.Client(p.agent.Model, pairSeed(seed, p))
	if err != nil {
		logger.Error("Pair skipped: LLM client construction failed", zap.Error(err))
		return outcome
	}
	decider, err := agent.New(p.agent, s.appCfg.Agent, client, logger)
	if err != nil {
		logger.Error("Pair skipped: agent construction failed", zap.Error(err))
		return outcome
	}

	agentConfigJSON, err := json.Marshal(p.agent)
	if err != nil {
		logger.Error("Pair skipped: agent config marshal failed", zap.Error(err))
		return outcome
	}

	environment := env.New(bridge.New(s.appCfg.Engine, p.quest, logger), logger)
	result, err := r.Run(ctx, runner.Params{
		QuestPath:   p.quest,
		AgentID:     p.agent.AgentID,
		AgentConfig: string(agentConfigJSON),
		BenchmarkID: benchmarkID,
		Env:         environment,
		Agent:       decider,
		SkipSingle:  p.agent.SkipSingle,
	})
	if err != nil {
		logger.Error("Pair run failed", zap.Error(err))
		return outcome
	}

	outcome.RunID = result.RunID
	outcome.Outcome = result.Outcome
	outcome.Reward = result.Reward
	return outcome
}

// pairSeed derives a reproducible per-pair seed for the random baseline.
func pairSeed(seed int64, p pair) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d\x00%s\x00%s", seed, p.quest, p.agent.AgentID)
	return int64(h.Sum64())
}

func (s *Scheduler) markRunning(p pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.Running++
	s.active[p.label()] = struct{}{}
}

func (s *Scheduler) markDone(p pair, outcome schemas.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.Running--
	delete(s.active, p.label())
	switch outcome {
	case schemas.OutcomeSuccess:
		s.progress.Completed++
	case schemas.OutcomeTimeout:
		s.progress.Timeout++
	default:
		s.progress.Failed++
	}
}

// aggregate folds the pair outcomes into the benchmark summary.
func aggregate(benchmarkID string, outcomes []schemas.PairOutcome, start time.Time) schemas.BenchmarkSummary {
	summary := schemas.BenchmarkSummary{
		BenchmarkID: benchmarkID,
		Total:       len(outcomes),
		PerAgent:    make(map[string]schemas.OutcomeTally),
		PerQuest:    make(map[string]schemas.OutcomeTally),
		Runs:        outcomes,
		StartTime:   start,
		EndTime:     time.Now().UTC(),
	}
	for _, o := range outcomes {
		summary.Tally.Count(o.Outcome)

		agentTally := summary.PerAgent[o.AgentID]
		agentTally.Count(o.Outcome)
		summary.PerAgent[o.AgentID] = agentTally

		questSlug := store.QuestSlug(o.Quest)
		questTally := summary.PerQuest[questSlug]
		questTally.Count(o.Outcome)
		summary.PerQuest[questSlug] = questTally
	}
	return summary
}
