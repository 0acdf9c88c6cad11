// File: internal/llm/llm.go
// Description: Provider-agnostic chat-completion facade with bounded
// exponential-backoff retries, per-provider rate limiting, and token/cost
// accounting.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
	"github.com/yourconscience/llm-quest-benchmark/internal/config"
)

// Request is one chat-completion call in provider-neutral form.
type Request struct {
	Messages    []schemas.Message
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Response is the uniform result of a completion call. A degenerate provider
// reply (absent or null message body) surfaces as Content == "" with
// FinishReason "empty", never as an error.
type Response struct {
	Content      string
	Usage        schemas.Usage
	CostUSD      float64
	FinishReason schemas.FinishReason
}

// Provider is one adapter of the closed provider set. Complete performs a
// single attempt; retry policy lives in the Client. Adapters return
// non-retryable failures as *PermanentError, which the Client wraps with
// backoff.Permanent.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Name() string
}

// PermanentError marks failures that must not be retried: authentication,
// safety refusals, malformed requests.
type PermanentError struct {
	Kind string
	Err  error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("llm: permanent %s error: %v", e.Kind, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Client binds one resolved provider adapter to the retry/accounting policy.
// Each run owns its client; adapters and rate limiters are shared through
// the Factory.
type Client struct {
	provider Provider
	model    string
	limiter  *rate.Limiter
	prices   PriceTable
	cfg      config.LLMConfig
	logger   *zap.Logger
}

// Complete runs the request against the provider with bounded exponential
// backoff and jitter. The total wall clock is bounded by req.Timeout (falling
// back to the configured call timeout).
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.CallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = timeout

	var resp Response
	attempts := 0
	operation := func() error {
		if attempts >= c.cfg.MaxAttempts {
			return backoff.Permanent(fmt.Errorf("llm: exhausted %d attempts", attempts))
		}
		attempts++

		if err := c.limiter.Wait(callCtx); err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		r, err := c.provider.Complete(callCtx, req)
		if err != nil {
			var perm *PermanentError
			if errors.As(err, &perm) {
				return backoff.Permanent(err)
			}
			c.logger.Warn("LLM request failed, retrying",
				zap.String("provider", c.provider.Name()),
				zap.Int("attempt", attempts),
				zap.Error(err))
			return err
		}

		r.CostUSD = c.prices.Cost(req.Model, r.Usage)
		c.logger.Debug("LLM generation complete",
			zap.String("provider", c.provider.Name()),
			zap.String("model", req.Model),
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", r.Usage.PromptTokens),
			zap.Int("completion_tokens", r.Usage.CompletionTokens),
			zap.String("finish_reason", string(r.FinishReason)))
		resp = r
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, callCtx)); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Model returns the resolved bare model name this client targets.
func (c *Client) Model() string { return c.model }

// ProviderName exposes the adapter identity for step metadata.
func (c *Client) ProviderName() string { return c.provider.Name() }
