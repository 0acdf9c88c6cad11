// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Agent   AgentDefaults `mapstructure:"agent" yaml:"agent"`
	Run     RunConfig     `mapstructure:"run" yaml:"run"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
}

// LoggerConfig controls the zap logger construction.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// EngineConfig describes how to spawn and talk to the quest interpreter
// subprocess. Command is the executable; Args are prepended before the quest
// path and language, mirroring the interpreter's own CLI contract.
type EngineConfig struct {
	Command     string        `mapstructure:"command" yaml:"command"`
	Args        []string      `mapstructure:"args" yaml:"args"`
	Language    string        `mapstructure:"language" yaml:"language"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
}

// LLMConfig controls the provider-agnostic completion client.
type LLMConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	MaxTokens      int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	CallTimeout    time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec" yaml:"requests_per_sec"`
	Burst          int           `mapstructure:"burst" yaml:"burst"`
}

// AgentDefaults hold process-wide agent tunables; per-agent settings live in
// schemas.AgentConfig.
type AgentDefaults struct {
	MaxRetries      int     `mapstructure:"max_retries" yaml:"max_retries"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`
	LoopVisitLimit  int     `mapstructure:"loop_visit_limit" yaml:"loop_visit_limit"`
	LoopStreakLimit int     `mapstructure:"loop_streak_limit" yaml:"loop_streak_limit"`
	SummaryInterval int     `mapstructure:"summary_interval" yaml:"summary_interval"`
	TemplateDir     string  `mapstructure:"template_dir" yaml:"template_dir"`
}

// RunConfig bounds a single playthrough.
type RunConfig struct {
	MaxSteps    int           `mapstructure:"max_steps" yaml:"max_steps"`
	RunTimeout  time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	StepTimeout time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
}

// StorageConfig locates the metrics database and result artifacts.
type StorageConfig struct {
	DBPath     string `mapstructure:"db_path" yaml:"db_path"`
	ResultsDir string `mapstructure:"results_dir" yaml:"results_dir"`
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "questbench")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.command", "node")
	v.SetDefault("engine.args", []string{"-r", "ts-node/register", "consoleplayer.ts"})
	v.SetDefault("engine.language", "rus")
	v.SetDefault("engine.read_timeout", "10s")
	v.SetDefault("engine.grace_period", "3s")

	// -- LLM --
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.call_timeout", "60s")
	v.SetDefault("llm.requests_per_sec", 5.0)
	v.SetDefault("llm.burst", 5)

	// -- Agent --
	v.SetDefault("agent.max_retries", 2)
	v.SetDefault("agent.temperature", 0.4)
	v.SetDefault("agent.loop_visit_limit", 3)
	v.SetDefault("agent.loop_streak_limit", 2)
	v.SetDefault("agent.summary_interval", 5)
	v.SetDefault("agent.template_dir", "")

	// -- Run --
	v.SetDefault("run.max_steps", 100)
	v.SetDefault("run.run_timeout", "120s")
	v.SetDefault("run.step_timeout", "60s")

	// -- Storage --
	v.SetDefault("storage.db_path", "metrics.db")
	v.SetDefault("storage.results_dir", "results")
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load reads the config file (if any), binds QUESTBENCH_* env overrides, and
// loads a .env file for provider credentials when present.
func Load(cfgFile string) (*Config, error) {
	// Provider API keys commonly live in a local .env; absence is fine.
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("QUESTBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars.
	}

	return NewConfigFromViper(v)
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Engine.Command == "" {
		return fmt.Errorf("engine.command is a required configuration field")
	}
	if c.Engine.ReadTimeout <= 0 {
		return fmt.Errorf("engine.read_timeout must be a positive duration")
	}
	if c.LLM.MaxAttempts <= 0 {
		return fmt.Errorf("llm.max_attempts must be a positive integer")
	}
	if c.Run.MaxSteps <= 0 {
		return fmt.Errorf("run.max_steps must be a positive integer")
	}
	if c.Run.RunTimeout <= 0 {
		return fmt.Errorf("run.run_timeout must be a positive duration")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is a required configuration field")
	}
	return nil
}
