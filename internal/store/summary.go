// File: internal/store/summary.go
// Description: JSON artifact writers for the on-disk results layout:
// results/<agent_id>/<quest_slug>/run_<id>/run_summary.json and
// results/benchmarks/<benchmark_id>/benchmark_summary.json.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// QuestSlug normalizes a quest path into a directory-safe name.
func QuestSlug(questPath string) string {
	base := filepath.Base(questPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	slug := slugPattern.ReplaceAllString(strings.ToLower(base), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "quest"
	}
	return slug
}

// runSummaryJSON is the serialized artifact shape. The initial pseudo-step
// renders its action as null to keep the artifact consumable by the
// original tooling.
type runSummaryJSON struct {
	Run       schemas.RunRecord `json:"run"`
	Steps     []stepJSON        `json:"steps"`
	Usage     schemas.Usage     `json:"usage"`
	CostUSD   float64           `json:"cost_usd"`
	EndReason schemas.EndReason `json:"end_reason"`
}

type stepJSON struct {
	StepNumber  int                  `json:"step_number"`
	LocationID  string               `json:"location_id"`
	Observation string               `json:"observation"`
	Choices     []schemas.Choice     `json:"choices"`
	Action      *int                 `json:"action"`
	Reward      float64              `json:"reward"`
	LLMDecision *schemas.LLMDecision `json:"llm_decision,omitempty"`
}

// WriteRunSummary materializes the run summary artifact, creating the
// directory hierarchy as needed.
func WriteRunSummary(resultsDir string, summary schemas.RunSummary) (string, error) {
	dir := filepath.Join(resultsDir, summary.Run.AgentID, QuestSlug(summary.Run.QuestName),
		fmt.Sprintf("run_%s", summary.Run.RunID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: create summary dir: %w", err)
	}

	out := runSummaryJSON{
		Run:       summary.Run,
		Steps:     make([]stepJSON, len(summary.Steps)),
		Usage:     summary.Usage,
		CostUSD:   summary.CostUSD,
		EndReason: summary.EndReason,
	}
	for i, step := range summary.Steps {
		sj := stepJSON{
			StepNumber:  step.StepNumber,
			LocationID:  step.LocationID,
			Observation: step.Observation,
			Choices:     step.Choices,
			Reward:      step.Reward,
			LLMDecision: step.LLMDecision,
		}
		if step.Action > 0 {
			action := step.Action
			sj.Action = &action
		}
		out.Steps[i] = sj
	}

	path := filepath.Join(dir, "run_summary.json")
	if err := writeJSON(path, out); err != nil {
		return "", err
	}
	return path, nil
}

// WriteBenchmarkSummary materializes the benchmark summary artifact.
func WriteBenchmarkSummary(resultsDir string, summary schemas.BenchmarkSummary) (string, error) {
	dir := filepath.Join(resultsDir, "benchmarks", summary.BenchmarkID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: create benchmark summary dir: %w", err)
	}
	path := filepath.Join(dir, "benchmark_summary.json")
	if err := writeJSON(path, summary); err != nil {
		return "", err
	}
	return path, nil
}

// ReadRunSummary loads a finalized run summary artifact back.
func ReadRunSummary(path string) (schemas.RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return schemas.RunSummary{}, fmt.Errorf("store: read run summary: %w", err)
	}
	var raw runSummaryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return schemas.RunSummary{}, fmt.Errorf("store: decode run summary: %w", err)
	}

	summary := schemas.RunSummary{
		Run:       raw.Run,
		Steps:     make([]schemas.StepRecord, len(raw.Steps)),
		Usage:     raw.Usage,
		CostUSD:   raw.CostUSD,
		EndReason: raw.EndReason,
	}
	for i, sj := range raw.Steps {
		step := schemas.StepRecord{
			RunID:       raw.Run.RunID,
			StepNumber:  sj.StepNumber,
			LocationID:  sj.LocationID,
			Observation: sj.Observation,
			Choices:     sj.Choices,
			Reward:      sj.Reward,
			LLMDecision: sj.LLMDecision,
		}
		if sj.Action != nil {
			step.Action = *sj.Action
		}
		summary.Steps[i] = step
	}
	return summary, nil
}

// writeJSON writes pretty-printed JSON atomically via a temp file rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: finalize %s: %w", path, err)
	}
	return nil
}
