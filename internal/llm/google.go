// File: internal/llm/google.go
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

// GoogleProvider speaks the Gemini generateContent API.
type GoogleProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGoogleProvider builds the Gemini adapter.
func NewGoogleProvider(apiKey string, logger *zap.Logger) *GoogleProvider {
	return &GoogleProvider{
		apiKey:     apiKey,
		baseURL:    "https://generativelanguage.googleapis.com/v1beta",
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logger.Named("google"),
	}
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return ProviderGoogle }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Complete implements Provider for one attempt.
func (p *GoogleProvider) Complete(ctx context.Context, req Request) (Response, error) {
	var payload geminiRequest
	for _, m := range req.Messages {
		switch m.Role {
		case schemas.RoleSystem:
			payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
		case schemas.RoleAssistant:
			payload.Contents = append(payload.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			payload.Contents = append(payload.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	payload.GenerationConfig.Temperature = req.Temperature
	payload.GenerationConfig.MaxOutputTokens = req.MaxTokens

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, &PermanentError{Kind: "malformed_request", Err: err}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, &PermanentError{Kind: "malformed_request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("google: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("google: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, classifyHTTPError("google", resp.StatusCode, respBody)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, &PermanentError{Kind: "malformed_response", Err: err}
	}

	usage := schemas.Usage{
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
	}
	if len(parsed.Candidates) == 0 {
		return Response{Content: "", FinishReason: schemas.FinishEmpty, Usage: usage}, nil
	}

	candidate := parsed.Candidates[0]
	if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" {
		return Response{}, &PermanentError{Kind: "safety_refusal", Err: fmt.Errorf("request blocked (%s)", candidate.FinishReason)}
	}
	if len(candidate.Content.Parts) == 0 {
		return Response{Content: "", FinishReason: schemas.FinishEmpty, Usage: usage}, nil
	}

	finish := schemas.FinishStop
	if candidate.FinishReason == "MAX_TOKENS" {
		finish = schemas.FinishLength
	}
	return Response{Content: candidate.Content.Parts[0].Text, FinishReason: finish, Usage: usage}, nil
}
