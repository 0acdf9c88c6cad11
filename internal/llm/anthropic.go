// File: internal/llm/anthropic.go
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider speaks the Anthropic messages API. The system message is
// lifted out of the message list into the dedicated system field.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAnthropicProvider builds the Anthropic adapter.
func NewAnthropicProvider(apiKey string, logger *zap.Logger) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:     apiKey,
		baseURL:    "https://api.anthropic.com",
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logger.Named("anthropic"),
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return ProviderAnthropic }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Provider for one attempt.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (Response, error) {
	var system string
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == schemas.RoleSystem {
			system = m.Content
			continue
		}
		messages = append(messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	payload := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Messages:    messages,
		System:      system,
		Temperature: req.Temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, &PermanentError{Kind: "malformed_request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return Response{}, &PermanentError{Kind: "malformed_request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, classifyHTTPError("anthropic", resp.StatusCode, respBody)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, &PermanentError{Kind: "malformed_response", Err: err}
	}
	if parsed.Error != nil {
		return Response{}, &PermanentError{Kind: parsed.Error.Type, Err: fmt.Errorf("%s", parsed.Error.Message)}
	}

	usage := schemas.Usage{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}
	if parsed.StopReason == "refusal" {
		return Response{}, &PermanentError{Kind: "safety_refusal", Err: fmt.Errorf("model refused the request")}
	}
	if len(parsed.Content) == 0 || parsed.Content[0].Text == "" {
		return Response{Content: "", FinishReason: schemas.FinishEmpty, Usage: usage}, nil
	}

	finish := schemas.FinishStop
	if parsed.StopReason == "max_tokens" {
		finish = schemas.FinishLength
	}
	return Response{Content: parsed.Content[0].Text, FinishReason: finish, Usage: usage}, nil
}
