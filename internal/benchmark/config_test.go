package benchmark

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("qm"), 0o644))
}

func TestResolveQuestsExpandsDirectoriesLexicographically(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.qm"))
	writeFile(t, filepath.Join(dir, "a.qm"))
	writeFile(t, filepath.Join(dir, "nested", "c.qmm"))
	writeFile(t, filepath.Join(dir, "readme.txt"))

	quests, err := ResolveQuests([]string{dir})
	require.NoError(t, err)
	require.Len(t, quests, 3, "only quest files are picked up")
	assert.Equal(t, []string{
		filepath.Join(dir, "a.qm"),
		filepath.Join(dir, "b.qm"),
		filepath.Join(dir, "nested", "c.qmm"),
	}, quests)
}

func TestResolveQuestsAcceptsPlainFiles(t *testing.T) {
	dir := t.TempDir()
	quest := filepath.Join(dir, "boat.qm")
	writeFile(t, quest)

	quests, err := ResolveQuests([]string{quest})
	require.NoError(t, err)
	assert.Equal(t, []string{quest}, quests)
}

func TestResolveQuestsFailsOnMissingPath(t *testing.T) {
	_, err := ResolveQuests([]string{"/definitely/not/here"})
	require.Error(t, err)
}

func TestResolveQuestsFailsWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.txt"))
	_, err := ResolveQuests([]string{dir})
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
benchmark_id: nightly
quests:
  - quests/
agents:
  - agent_id: baseline
    model: random_choice
    skip_single: true
  - agent_id: gpt
    model: gpt-4o
    temperature: 0.4
    memory:
      type: message_history
      max_history: 10
timeout_per_run: 90s
max_workers: 8
seed: 7
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", cfg.BenchmarkID)
	assert.Equal(t, 90*time.Second, cfg.TimeoutPerRun.Duration)
	assert.Equal(t, 8, cfg.MaxWorkers)
	require.Len(t, cfg.Agents, 2)
	assert.True(t, cfg.Agents[0].SkipSingle)
	require.NotNil(t, cfg.Agents[1].Memory)
	assert.Equal(t, schemas.MemoryHistory, cfg.Agents[1].Memory.Type)
	assert.Equal(t, 10, cfg.Agents[1].Memory.MaxHistory)
}

func TestConfigValidation(t *testing.T) {
	valid := Config{
		Quests: []string{"q.qm"},
		Agents: []schemas.AgentConfig{{AgentID: "a", Model: "random_choice"}},
	}
	require.NoError(t, valid.Validate())

	noQuests := valid
	noQuests.Quests = nil
	assert.Error(t, noQuests.Validate())

	noAgents := valid
	noAgents.Agents = nil
	assert.Error(t, noAgents.Validate())

	dupAgents := valid
	dupAgents.Agents = []schemas.AgentConfig{
		{AgentID: "a", Model: "random_choice"},
		{AgentID: "a", Model: "gpt-4o"},
	}
	assert.Error(t, dupAgents.Validate())

	noModel := valid
	noModel.Agents = []schemas.AgentConfig{{AgentID: "a"}}
	assert.Error(t, noModel.Validate())
}

func TestPairSeedIsStablePerCell(t *testing.T) {
	p1 := pair{quest: "a.qm", agent: schemas.AgentConfig{AgentID: "x"}}
	p2 := pair{quest: "b.qm", agent: schemas.AgentConfig{AgentID: "x"}}

	assert.Equal(t, pairSeed(1, p1), pairSeed(1, p1))
	assert.NotEqual(t, pairSeed(1, p1), pairSeed(1, p2))
	assert.NotEqual(t, pairSeed(1, p1), pairSeed(2, p1))
}
