// File: internal/benchmark/config.go
package benchmark

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

// Duration wraps time.Duration so YAML configs can say "90s" or "2m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("benchmark: invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// MarshalJSON keeps persisted benchmark configs human-readable.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("benchmark: invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config declares one benchmark matrix: quests × agents.
type Config struct {
	BenchmarkID   string                `yaml:"benchmark_id" json:"benchmark_id"`
	Quests        []string              `yaml:"quests" json:"quests"`
	Agents        []schemas.AgentConfig `yaml:"agents" json:"agents"`
	TimeoutPerRun Duration              `yaml:"timeout_per_run" json:"timeout_per_run"`
	MaxWorkers    int                   `yaml:"max_workers" json:"max_workers"`
	Seed          int64                 `yaml:"seed" json:"seed"`
}

// LoadConfig reads and validates a benchmark YAML file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("benchmark: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("benchmark: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the matrix declaration.
func (c *Config) Validate() error {
	if len(c.Quests) == 0 {
		return fmt.Errorf("benchmark: config names no quests")
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("benchmark: config names no agents")
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for i, a := range c.Agents {
		if a.AgentID == "" {
			return fmt.Errorf("benchmark: agent %d has no agent_id", i)
		}
		if a.Model == "" {
			return fmt.Errorf("benchmark: agent %q has no model", a.AgentID)
		}
		if _, dup := seen[a.AgentID]; dup {
			return fmt.Errorf("benchmark: duplicate agent_id %q", a.AgentID)
		}
		seen[a.AgentID] = struct{}{}
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("benchmark: max_workers must not be negative")
	}
	return nil
}

// questExtensions are the quest file formats the registry accepts.
var questExtensions = map[string]struct{}{
	".qm":  {},
	".qmm": {},
}

// ResolveQuests expands files and directories into the flat, stable
// lexicographic list of quest files the matrix runs over.
func ResolveQuests(paths []string) ([]string, error) {
	var quests []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("benchmark: quest path %s: %w", p, err)
		}
		if !info.IsDir() {
			quests = append(quests, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := questExtensions[strings.ToLower(filepath.Ext(path))]; ok {
				quests = append(quests, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("benchmark: walk quest dir %s: %w", p, err)
		}
	}
	if len(quests) == 0 {
		return nil, fmt.Errorf("benchmark: no quest files resolved")
	}
	sort.Strings(quests)
	return quests, nil
}
