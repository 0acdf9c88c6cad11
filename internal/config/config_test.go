package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourconscience/llm-quest-benchmark/internal/config"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "questbench", cfg.Logger.ServiceName)
	assert.Equal(t, "node", cfg.Engine.Command)
	assert.Equal(t, 10*time.Second, cfg.Engine.ReadTimeout)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.Equal(t, 2, cfg.Agent.MaxRetries)
	assert.Equal(t, 3, cfg.Agent.LoopVisitLimit)
	assert.Equal(t, 2, cfg.Agent.LoopStreakLimit)
	assert.Equal(t, 100, cfg.Run.MaxSteps)
	assert.Equal(t, 120*time.Second, cfg.Run.RunTimeout)
	assert.Equal(t, "metrics.db", cfg.Storage.DBPath)
	assert.Equal(t, "results", cfg.Storage.ResultsDir)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logger:
  level: debug
  format: json
engine:
  command: fake-interpreter
  read_timeout: 3s
run:
  max_steps: 10
  run_timeout: 30s
storage:
  db_path: /tmp/test-metrics.db
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "fake-interpreter", cfg.Engine.Command)
	assert.Equal(t, 3*time.Second, cfg.Engine.ReadTimeout)
	assert.Equal(t, 10, cfg.Run.MaxSteps)
	assert.Equal(t, 30*time.Second, cfg.Run.RunTimeout)
	assert.Equal(t, "/tmp/test-metrics.db", cfg.Storage.DBPath)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "node", cfg.Engine.Command)
}

func TestValidationRejectsBrokenConfig(t *testing.T) {
	cases := map[string]func(*config.Config){
		"empty engine command": func(c *config.Config) { c.Engine.Command = "" },
		"zero read timeout":    func(c *config.Config) { c.Engine.ReadTimeout = 0 },
		"zero llm attempts":    func(c *config.Config) { c.LLM.MaxAttempts = 0 },
		"zero max steps":       func(c *config.Config) { c.Run.MaxSteps = 0 },
		"zero run timeout":     func(c *config.Config) { c.Run.RunTimeout = 0 },
		"empty db path":        func(c *config.Config) { c.Storage.DBPath = "" },
	}
	for name, mutate := range cases {
		cfg := config.NewDefaultConfig()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}
