// File: internal/llm/factory.go
package llm

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yourconscience/llm-quest-benchmark/internal/config"
)

// Provider identifiers of the closed adapter set.
const (
	ProviderOpenAI      = "openai"
	ProviderAnthropic   = "anthropic"
	ProviderGoogle      = "google"
	ProviderDeepSeek    = "deepseek"
	ProviderOpenRouter  = "openrouter"
	ProviderRandomLocal = "random_local"
)

// modelAliases maps published shorthand model names onto provider:model
// identifiers. Identifiers that already carry a provider prefix bypass the
// table.
var modelAliases = map[string]string{
	"random_choice":            "random_local:uniform",
	"gpt-4o":                   "openai:gpt-4o",
	"gpt-4o-mini":              "openai:gpt-4o-mini",
	"claude-3-5-sonnet-latest": "anthropic:claude-3-5-sonnet-latest",
	"claude-3-5-haiku-latest":  "anthropic:claude-3-5-haiku-latest",
	"gemini-2.0-flash":         "google:gemini-2.0-flash",
	"deepseek-chat":            "deepseek:deepseek-chat",
}

// keyEnvVars names the credential environment variable per provider.
var keyEnvVars = map[string]string{
	ProviderOpenAI:     "OPENAI_API_KEY",
	ProviderAnthropic:  "ANTHROPIC_API_KEY",
	ProviderGoogle:     "GOOGLE_API_KEY",
	ProviderDeepSeek:   "DEEPSEEK_API_KEY",
	ProviderOpenRouter: "OPENROUTER_API_KEY",
}

// ResolveModel expands aliases and splits a model identifier into its
// provider and bare model name.
func ResolveModel(identifier string) (provider, model string, err error) {
	if alias, ok := modelAliases[identifier]; ok {
		identifier = alias
	}
	provider, model, found := strings.Cut(identifier, ":")
	if !found || provider == "" || model == "" {
		return "", "", fmt.Errorf("llm: model identifier %q is not of the form provider:model and has no alias", identifier)
	}
	switch provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderDeepSeek, ProviderOpenRouter, ProviderRandomLocal:
		return provider, model, nil
	default:
		return "", "", fmt.Errorf("llm: unknown provider %q", provider)
	}
}

// Factory builds per-run clients while sharing provider adapters and rate
// limiters process-wide. The price table is loaded once at construction.
type Factory struct {
	cfg    config.LLMConfig
	logger *zap.Logger
	prices PriceTable

	mu       sync.Mutex
	adapters map[string]Provider
	limiters map[string]*rate.Limiter
}

// NewFactory initializes the shared client infrastructure.
func NewFactory(cfg config.LLMConfig, logger *zap.Logger) (*Factory, error) {
	prices, err := LoadPrices()
	if err != nil {
		return nil, err
	}
	return &Factory{
		cfg:      cfg,
		logger:   logger.Named("llm"),
		prices:   prices,
		adapters: make(map[string]Provider),
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// Client resolves a model identifier and returns a client bound to the
// matching adapter. The seed only affects random_local, which gets a private
// adapter per client so runs stay reproducible in isolation.
func (f *Factory) Client(identifier string, seed int64) (*Client, error) {
	provider, model, err := ResolveModel(identifier)
	if err != nil {
		return nil, err
	}

	if provider == ProviderRandomLocal {
		return &Client{
			provider: NewRandomProvider(seed),
			model:    model,
			limiter:  rate.NewLimiter(rate.Inf, 1),
			prices:   f.prices,
			cfg:      f.cfg,
			logger:   f.logger,
		}, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	adapter, ok := f.adapters[provider]
	if !ok {
		adapter, err = f.newAdapter(provider)
		if err != nil {
			return nil, err
		}
		f.adapters[provider] = adapter
	}

	limiter, ok := f.limiters[provider]
	if !ok {
		rps := f.cfg.RequestsPerSec
		if rps <= 0 {
			rps = 5
		}
		burst := f.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
		f.limiters[provider] = limiter
	}

	return &Client{
		provider: adapter,
		model:    model,
		limiter:  limiter,
		prices:   f.prices,
		cfg:      f.cfg,
		logger:   f.logger,
	}, nil
}

// newAdapter constructs the network adapter for one provider, reading the
// credential from the environment.
func (f *Factory) newAdapter(provider string) (Provider, error) {
	envVar := keyEnvVars[provider]
	apiKey := os.Getenv(envVar)
	if apiKey == "" {
		return nil, fmt.Errorf("llm: %s is not set, cannot use provider %s", envVar, provider)
	}

	switch provider {
	case ProviderOpenAI:
		return NewOpenAICompatProvider(provider, "https://api.openai.com/v1", apiKey, f.logger), nil
	case ProviderDeepSeek:
		return NewOpenAICompatProvider(provider, "https://api.deepseek.com/v1", apiKey, f.logger), nil
	case ProviderOpenRouter:
		return NewOpenAICompatProvider(provider, "https://openrouter.ai/api/v1", apiKey, f.logger), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(apiKey, f.logger), nil
	case ProviderGoogle:
		return NewGoogleProvider(apiKey, f.logger), nil
	default:
		return nil, fmt.Errorf("llm: no adapter for provider %q", provider)
	}
}
