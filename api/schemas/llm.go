package schemas

// -- LLM Schemas --

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat-completion message in provider-neutral form.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage contains token accounting for one completion call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage from another call.
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// FinishReason reports why the provider stopped generating.
// "empty" marks the degenerate case of an absent or null message body.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishSafety FinishReason = "safety"
	FinishEmpty  FinishReason = "empty"
)

// LLMDecision is the structured agent reply persisted on a step. Result is
// the 1-based choice index. Override and Error record loop-escape rotations
// and fallback causes respectively.
type LLMDecision struct {
	Analysis  string  `json:"analysis,omitempty"`
	Reasoning string  `json:"reasoning,omitempty"`
	Result    int     `json:"result"`
	Override  string  `json:"override,omitempty"`
	Error     string  `json:"error,omitempty"`
	Usage     *Usage  `json:"usage,omitempty"`
	CostUSD   float64 `json:"cost_usd,omitempty"`
}
