// File: internal/agent/agent.go
// Description: The decision agent: renders prompts from state and memory,
// calls the completion client, parses the structured reply, detects loops,
// and never lets a model failure crash the run.
package agent

import (
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
	"github.com/yourconscience/llm-quest-benchmark/internal/config"
	"github.com/yourconscience/llm-quest-benchmark/internal/env"
	"github.com/yourconscience/llm-quest-benchmark/internal/llm"
)

// Completer is the slice of the LLM client the agent needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}

// Agent converts observations into 1-based choice indices for one run.
// Not safe for concurrent use; every run owns a private agent.
type Agent struct {
	cfg      schemas.AgentConfig
	defaults config.AgentDefaults
	client   Completer
	logger   *zap.Logger

	systemTmpl *template.Template
	actionTmpl *template.Template

	mem        *memory
	loops      *loopTracker
	calculator bool
	toolNote   string
}

// New builds an agent from its config, resolving templates and tools.
func New(cfg schemas.AgentConfig, defaults config.AgentDefaults, client Completer, logger *zap.Logger) (*Agent, error) {
	systemTmpl, err := loadTemplate("system", cfg.SystemTemplate, defaults.TemplateDir, defaultSystemTemplate)
	if err != nil {
		return nil, err
	}
	actionTmpl, err := loadTemplate("action", cfg.ActionTemplate, defaults.TemplateDir, defaultActionTemplate)
	if err != nil {
		return nil, err
	}

	calculator := false
	for _, tool := range cfg.Tools {
		switch tool {
		case schemas.ToolCalculator:
			calculator = true
		default:
			return nil, fmt.Errorf("agent: unknown tool %q", tool)
		}
	}

	return &Agent{
		cfg:        cfg,
		defaults:   defaults,
		client:     client,
		logger:     logger.Named("agent").With(zap.String("agent_id", cfg.AgentID)),
		systemTmpl: systemTmpl,
		actionTmpl: actionTmpl,
		mem:        newMemory(cfg.Memory),
		loops:      newLoopTracker(defaults.LoopVisitLimit, defaults.LoopStreakLimit),
		calculator: calculator,
	}, nil
}

// Decide produces the decision for the given observation within the time
// budget. It never fails: model and parse errors degrade to the fallback
// action (smallest valid index) with the cause recorded on the decision.
func (a *Agent) Decide(ctx context.Context, obs schemas.Observation, budget time.Duration) schemas.LLMDecision {
	fp := a.loops.observe(obs)

	loopHint := ""
	looping := a.loops.looping(fp)
	if looping {
		loopHint = loopHintText
	}

	decision := a.converse(ctx, obs, loopHint, budget)

	// The streak tracks what the model keeps answering, so the tracker sees
	// the raw choice; the override only changes what the run executes.
	modelChoice := decision.Result
	if looping && decision.Error == "" {
		repeated := a.loops.repeatedAction(fp)
		if decision.Result == repeated && len(obs.Choices) > 1 {
			rotated := rotate(repeated, len(obs.Choices))
			a.logger.Info("Loop escape: overriding repeated action",
				zap.Int("repeated", repeated),
				zap.Int("rotated", rotated))
			decision.Result = rotated
			decision.Override = OverrideLoopEscape
		}
	}

	a.loops.record(fp, modelChoice)
	a.rememberStep(obs, decision)
	a.maybeSummarize(ctx, budget)
	return decision
}

// converse runs the call/parse/retry loop, preserving the best partial
// reasoning across attempts.
func (a *Agent) converse(ctx context.Context, obs schemas.Observation, loopHint string, budget time.Duration) schemas.LLMDecision {
	maxRetries := a.defaults.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var decision schemas.LLMDecision
	usage := schemas.Usage{}
	cost := 0.0
	bestReasoning := ""
	bestAnalysis := ""

	reminder := ""
	for attempt := 0; attempt <= maxRetries; attempt++ {
		prompt, err := a.renderPrompt(obs, loopHint, reminder)
		if err != nil {
			// A template failure is deterministic; retrying cannot help.
			a.logger.Error("Prompt rendering failed", zap.Error(err))
			return a.fallback(obs, "llm_call_error: template", bestAnalysis, bestReasoning, usage, cost)
		}

		resp, err := a.client.Complete(ctx, llm.Request{
			Messages:    prompt,
			Temperature: a.temperature(),
			Timeout:     budget,
		})
		if err != nil {
			kind := classifyCallError(err)
			a.logger.Warn("LLM call failed", zap.String("kind", kind), zap.Error(err))
			return a.fallback(obs, "llm_call_error: "+kind, bestAnalysis, bestReasoning, usage, cost)
		}
		usage.Add(resp.Usage)
		cost += resp.CostUSD

		parsed, perr := parseReply(resp.Content, len(obs.Choices))
		if parsed.Reasoning != "" {
			bestReasoning = parsed.Reasoning
		}
		if parsed.Analysis != "" {
			bestAnalysis = parsed.Analysis
		}
		if perr == nil {
			decision = schemas.LLMDecision{
				Analysis:  parsed.Analysis,
				Reasoning: parsed.Reasoning,
				Result:    *parsed.Result,
				Usage:     &usage,
				CostUSD:   cost,
			}
			return decision
		}

		a.logger.Debug("Reply parse failed, retrying with schema reminder",
			zap.Int("attempt", attempt+1),
			zap.String("finish_reason", string(resp.FinishReason)),
			zap.Error(perr))
		reminder = schemaReminder
	}

	return a.fallback(obs, "parse_error", bestAnalysis, bestReasoning, usage, cost)
}

// fallback picks the smallest valid index and records the cause.
func (a *Agent) fallback(obs schemas.Observation, cause, analysis, reasoning string, usage schemas.Usage, cost float64) schemas.LLMDecision {
	u := usage
	return schemas.LLMDecision{
		Analysis:  analysis,
		Reasoning: reasoning,
		Result:    1,
		Error:     cause,
		Usage:     &u,
		CostUSD:   cost,
	}
}

func (a *Agent) renderPrompt(obs schemas.Observation, loopHint, reminder string) ([]schemas.Message, error) {
	vars := promptVars{
		Observation:    obs.Text,
		Choices:        obs.ChoicesRendered,
		ParamsState:    obs.ParamsState,
		MemoryBlock:    a.mem.block(),
		LoopHint:       loopHint,
		SchemaReminder: reminder,
	}
	system, err := render(a.systemTmpl, vars)
	if err != nil {
		return nil, err
	}
	action, err := render(a.actionTmpl, vars)
	if err != nil {
		return nil, err
	}
	return []schemas.Message{
		{Role: schemas.RoleSystem, Content: system},
		{Role: schemas.RoleUser, Content: action},
	}, nil
}

// rememberStep appends the step tuple to memory, attaching any calculator
// output invited by the model's reasoning.
func (a *Agent) rememberStep(obs schemas.Observation, decision schemas.LLMDecision) {
	note := ""
	if a.calculator {
		if expr, ok := calculatorRequest(decision.Reasoning); ok {
			note = evalCalculator(expr)
		}
	}
	a.mem.remember(memoryEntry{
		Observation: env.RenderText(obs),
		Choices:     obs.ChoicesRendered,
		Action:      decision.Result,
		Reasoning:   decision.Reasoning,
		ToolNote:    note,
	})
}

// maybeSummarize runs the secondary summarization call on its schedule.
// Summary failures are non-fatal; the raw window simply persists.
func (a *Agent) maybeSummarize(ctx context.Context, budget time.Duration) {
	if !a.mem.wantsSummary(a.defaults.SummaryInterval) {
		return
	}
	resp, err := a.client.Complete(ctx, llm.Request{
		Messages: []schemas.Message{
			{Role: schemas.RoleSystem, Content: summarySystemPrompt},
			{Role: schemas.RoleUser, Content: a.mem.summaryInput()},
		},
		Temperature: 0,
		Timeout:     budget,
	})
	if err != nil {
		a.logger.Warn("Memory summarization failed", zap.Error(err))
		return
	}
	if resp.Content != "" {
		a.mem.setSummary(resp.Content)
	}
}

func (a *Agent) temperature() float64 {
	if a.cfg.Temperature != nil {
		return *a.cfg.Temperature
	}
	return a.defaults.Temperature
}

// classifyCallError names the failure kind recorded on the step.
func classifyCallError(err error) string {
	var perm *llm.PermanentError
	if errors.As(err, &perm) {
		return perm.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "transient"
}
