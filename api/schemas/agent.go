package schemas

// -- Agent Configuration Schemas --

// MemoryType selects the agent's per-run memory strategy.
type MemoryType string

const (
	MemoryNone    MemoryType = "none"
	MemoryHistory MemoryType = "message_history"
	MemorySummary MemoryType = "summary"
)

// ToolName is one of the closed set of agent tools.
type ToolName string

const (
	ToolCalculator ToolName = "calculator"
)

// MemoryConfig bounds the agent's rolling memory.
type MemoryConfig struct {
	Type       MemoryType `json:"type" yaml:"type" mapstructure:"type"`
	MaxHistory int        `json:"max_history" yaml:"max_history" mapstructure:"max_history"`
}

// AgentConfig describes one decision agent in a benchmark matrix.
// Model uses the "provider:model" identifier, resolved through the alias
// table ("random_choice" is an alias of the local random baseline).
type AgentConfig struct {
	AgentID        string        `json:"agent_id" yaml:"agent_id" mapstructure:"agent_id"`
	Model          string        `json:"model" yaml:"model" mapstructure:"model"`
	SystemTemplate string        `json:"system_template,omitempty" yaml:"system_template" mapstructure:"system_template"`
	ActionTemplate string        `json:"action_template,omitempty" yaml:"action_template" mapstructure:"action_template"`
	Temperature    *float64      `json:"temperature,omitempty" yaml:"temperature" mapstructure:"temperature"`
	Memory         *MemoryConfig `json:"memory,omitempty" yaml:"memory" mapstructure:"memory"`
	Tools          []ToolName    `json:"tools,omitempty" yaml:"tools" mapstructure:"tools"`
	SkipSingle     bool          `json:"skip_single" yaml:"skip_single" mapstructure:"skip_single"`
}
