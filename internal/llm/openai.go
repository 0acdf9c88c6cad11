// File: internal/llm/openai.go
// Description: Adapter for the OpenAI-compatible chat completions wire
// format, shared by the openai, deepseek, and openrouter providers (same
// payload, different base URL and credential).
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

// OpenAICompatProvider speaks POST {base}/chat/completions.
type OpenAICompatProvider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenAICompatProvider builds an adapter for one OpenAI-compatible API.
func NewOpenAICompatProvider(name, baseURL, apiKey string, logger *zap.Logger) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		// Per-attempt transport bound; the overall call budget is enforced by
		// the caller's context.
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logger.Named(name),
	}
}

// Name implements Provider.
func (p *OpenAICompatProvider) Name() string { return p.name }

type openaiRequest struct {
	Model       string            `json:"model"`
	Messages    []schemas.Message `json:"messages"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete implements Provider for one attempt.
func (p *OpenAICompatProvider) Complete(ctx context.Context, req Request) (Response, error) {
	payload := openaiRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, &PermanentError{Kind: "malformed_request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, &PermanentError{Kind: "malformed_request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("%s: read response: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, classifyHTTPError(p.name, resp.StatusCode, respBody)
	}

	var parsed openaiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, &PermanentError{Kind: "malformed_response", Err: err}
	}
	if parsed.Error != nil {
		return Response{}, &PermanentError{Kind: parsed.Error.Type, Err: fmt.Errorf("%s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return Response{Content: "", FinishReason: schemas.FinishEmpty, Usage: usageOf(parsed)}, nil
	}

	choice := parsed.Choices[0]
	finish := schemas.FinishReason(choice.FinishReason)
	if choice.FinishReason == "content_filter" {
		return Response{}, &PermanentError{Kind: "safety_refusal", Err: fmt.Errorf("provider filtered the completion")}
	}

	// Null or absent content is an observed provider edge case; it must not
	// blow up on field access and must stay distinguishable from a real
	// empty reply.
	if choice.Message.Content == nil {
		return Response{Content: "", FinishReason: schemas.FinishEmpty, Usage: usageOf(parsed)}, nil
	}
	return Response{
		Content:      *choice.Message.Content,
		FinishReason: finish,
		Usage:        usageOf(parsed),
	}, nil
}

func usageOf(r openaiResponse) schemas.Usage {
	return schemas.Usage{
		PromptTokens:     r.Usage.PromptTokens,
		CompletionTokens: r.Usage.CompletionTokens,
		TotalTokens:      r.Usage.TotalTokens,
	}
}

// classifyHTTPError sorts provider HTTP failures into the retryable and
// permanent halves of the taxonomy.
func classifyHTTPError(provider string, status int, body []byte) error {
	err := fmt.Errorf("%s: status %d: %.300s", provider, status, string(body))
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &PermanentError{Kind: "auth", Err: err}
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return &PermanentError{Kind: "malformed_request", Err: err}
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return err // Transient: retry with backoff.
	default:
		if status >= 500 {
			return err // Transient: retry with backoff.
		}
		return &PermanentError{Kind: "http", Err: err}
	}
}
