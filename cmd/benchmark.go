// -- cmd/benchmark.go --
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourconscience/llm-quest-benchmark/internal/benchmark"
	"github.com/yourconscience/llm-quest-benchmark/internal/llm"
	"github.com/yourconscience/llm-quest-benchmark/internal/observability"
	"github.com/yourconscience/llm-quest-benchmark/internal/store"
)

var benchmarkConfigPath string

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Run a quests × agents benchmark matrix",
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeBenchmark(cmd.Context())
	},
}

func init() {
	benchmarkCmd.Flags().StringVar(&benchmarkConfigPath, "config", "", "benchmark config file (yaml, required)")
	_ = benchmarkCmd.MarkFlagRequired("config")
	rootCmd.AddCommand(benchmarkCmd)
}

func executeBenchmark(parent context.Context) error {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := benchmark.LoadConfig(benchmarkConfigPath)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, appCfg.Storage.DBPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	factory, err := llm.NewFactory(appCfg.LLM, logger)
	if err != nil {
		return err
	}

	scheduler := benchmark.NewScheduler(appCfg, st, factory, logger)

	// Periodic progress lines for the terminal observer.
	progressDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-progressDone:
				return
			case <-ticker.C:
				p := scheduler.Progress()
				logger.Info("Benchmark progress",
					zap.Int("completed", p.Completed),
					zap.Int("failed", p.Failed),
					zap.Int("timeout", p.Timeout),
					zap.Int("running", p.Running),
					zap.Int("total", p.Total),
					zap.Strings("active", p.Active))
			}
		}
	}()

	summary, err := scheduler.Run(ctx, cfg)
	close(progressDone)
	if err != nil {
		return err
	}

	logger.Info("Benchmark summary written",
		zap.String("benchmark_id", summary.BenchmarkID),
		zap.Int("total", summary.Total),
		zap.Int("ok", summary.Tally.OK),
		zap.Int("fail", summary.Tally.Fail))
	return nil
}
