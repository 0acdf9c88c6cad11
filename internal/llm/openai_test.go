package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

func openaiServer(t *testing.T, handler http.HandlerFunc) *OpenAICompatProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAICompatProvider("openai", srv.URL, "test-key", zap.NewNop())
}

func TestOpenAIParsesCompletion(t *testing.T) {
	p := openaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openaiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		require.Len(t, req.Messages, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "{\"result\": 1}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 11, "completion_tokens": 7, "total_tokens": 18}
		}`))
	})

	resp, err := p.Complete(context.Background(), Request{
		Model: "gpt-4o",
		Messages: []schemas.Message{
			{Role: schemas.RoleSystem, Content: "sys"},
			{Role: schemas.RoleUser, Content: "pick"},
		},
		Temperature: 0.4,
		MaxTokens:   100,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"result": 1}`, resp.Content)
	assert.Equal(t, schemas.Usage{PromptTokens: 11, CompletionTokens: 7, TotalTokens: 18}, resp.Usage)
	assert.Equal(t, schemas.FinishReason("stop"), resp.FinishReason)
}

func TestOpenAINullContentIsEmptyFinish(t *testing.T) {
	p := openaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": null}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 0, "total_tokens": 5}
		}`))
	})

	resp, err := p.Complete(context.Background(), Request{Model: "gpt-4o"})
	require.NoError(t, err, "null content must not raise")
	assert.Empty(t, resp.Content)
	assert.Equal(t, schemas.FinishEmpty, resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestOpenAIRateLimitIsTransient(t *testing.T) {
	p := openaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := p.Complete(context.Background(), Request{Model: "gpt-4o"})
	require.Error(t, err)
	var perm *PermanentError
	assert.False(t, errors.As(err, &perm), "429 must be retryable")
}

func TestOpenAIAuthFailureIsPermanent(t *testing.T) {
	p := openaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	_, err := p.Complete(context.Background(), Request{Model: "gpt-4o"})
	require.Error(t, err)
	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, "auth", perm.Kind)
}

func TestOpenAIContentFilterIsPermanent(t *testing.T) {
	p := openaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": null}, "finish_reason": "content_filter"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 0, "total_tokens": 5}
		}`))
	})

	_, err := p.Complete(context.Background(), Request{Model: "gpt-4o"})
	require.Error(t, err)
	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, "safety_refusal", perm.Kind)
}
