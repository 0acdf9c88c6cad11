// -- cmd/run.go --
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
	"github.com/yourconscience/llm-quest-benchmark/internal/agent"
	"github.com/yourconscience/llm-quest-benchmark/internal/bridge"
	"github.com/yourconscience/llm-quest-benchmark/internal/env"
	"github.com/yourconscience/llm-quest-benchmark/internal/llm"
	"github.com/yourconscience/llm-quest-benchmark/internal/observability"
	"github.com/yourconscience/llm-quest-benchmark/internal/runner"
	"github.com/yourconscience/llm-quest-benchmark/internal/store"
)

// Exit codes of the run command mirror the run outcome.
const (
	exitSuccess = 0
	exitFailure = 1
	exitTimeout = 2
	exitError   = 3
)

var (
	runQuest   string
	runAgent   string
	runTimeout time.Duration
	runSeed    int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one quest with one agent and exit with the outcome code",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Outcomes map to exit codes; only setup failures return an error.
		code, err := executeRun(cmd.Context())
		if err != nil {
			return err
		}
		observability.Sync()
		os.Exit(code)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runQuest, "quest", "", "path to the .qm quest file (required)")
	runCmd.Flags().StringVar(&runAgent, "agent", "random_choice", "agent config file (yaml) or model identifier")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "run wall-clock timeout (overrides config)")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "seed for the random_local baseline")
	_ = runCmd.MarkFlagRequired("quest")
	rootCmd.AddCommand(runCmd)
}

func executeRun(parent context.Context) (int, error) {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	agentCfg, err := resolveAgentFlag(runAgent)
	if err != nil {
		return exitError, err
	}

	if runTimeout > 0 {
		appCfg.Run.RunTimeout = runTimeout
	}

	st, err := store.Open(ctx, appCfg.Storage.DBPath, logger)
	if err != nil {
		return exitError, err
	}
	defer st.Close()

	factory, err := llm.NewFactory(appCfg.LLM, logger)
	if err != nil {
		return exitError, err
	}
	client, err := factory.Client(agentCfg.Model, runSeed)
	if err != nil {
		return exitError, err
	}
	decider, err := agent.New(agentCfg, appCfg.Agent, client, logger)
	if err != nil {
		return exitError, err
	}

	agentConfigJSON, err := json.Marshal(agentCfg)
	if err != nil {
		return exitError, fmt.Errorf("marshal agent config: %w", err)
	}

	environment := env.New(bridge.New(appCfg.Engine, runQuest, logger), logger)
	r := runner.New(appCfg.Run, appCfg.Storage.ResultsDir, st, logger)

	result, err := r.Run(ctx, runner.Params{
		QuestPath:   runQuest,
		AgentID:     agentCfg.AgentID,
		AgentConfig: string(agentConfigJSON),
		Env:         environment,
		Agent:       decider,
		SkipSingle:  agentCfg.SkipSingle,
	})
	if err != nil {
		return exitError, err
	}

	logger.Info("Run finished",
		zap.String("run_id", result.RunID),
		zap.String("outcome", string(result.Outcome)),
		zap.Float64("reward", result.Reward),
		zap.String("end_reason", string(result.EndReason)))

	switch result.Outcome {
	case schemas.OutcomeSuccess:
		return exitSuccess, nil
	case schemas.OutcomeFailure:
		return exitFailure, nil
	case schemas.OutcomeTimeout:
		return exitTimeout, nil
	default:
		return exitError, nil
	}
}

// resolveAgentFlag accepts either a YAML agent config path or a bare model
// identifier (which gets a default agent config named after itself).
func resolveAgentFlag(value string) (schemas.AgentConfig, error) {
	if strings.HasSuffix(value, ".yaml") || strings.HasSuffix(value, ".yml") {
		data, err := os.ReadFile(value)
		if err != nil {
			return schemas.AgentConfig{}, fmt.Errorf("read agent config: %w", err)
		}
		var cfg schemas.AgentConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return schemas.AgentConfig{}, fmt.Errorf("parse agent config: %w", err)
		}
		if cfg.AgentID == "" {
			return schemas.AgentConfig{}, fmt.Errorf("agent config %s has no agent_id", value)
		}
		if cfg.Model == "" {
			return schemas.AgentConfig{}, fmt.Errorf("agent config %s has no model", value)
		}
		return cfg, nil
	}

	if _, _, err := llm.ResolveModel(value); err != nil {
		return schemas.AgentConfig{}, err
	}
	return schemas.AgentConfig{
		AgentID:    strings.NewReplacer(":", "-", "/", "-").Replace(value),
		Model:      value,
		SkipSingle: true,
	}, nil
}
