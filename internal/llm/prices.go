// File: internal/llm/prices.go
package llm

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

// PricesEnvVar optionally overrides or extends the built-in price table with
// a JSON object of the same shape as PriceTable entries.
const PricesEnvVar = "LLM_QUEST_PRICES_JSON"

// ModelPrice holds USD rates per one million tokens.
type ModelPrice struct {
	PromptPerMTok     float64 `json:"prompt_per_mtok"`
	CompletionPerMTok float64 `json:"completion_per_mtok"`
}

// PriceTable maps bare model names to their rates. Lookups are pure; the
// table is read-only process-wide state initialized once at startup.
type PriceTable map[string]ModelPrice

// defaultPrices covers the models the benchmark is routinely run against.
// Unknown models cost zero rather than failing the run.
var defaultPrices = PriceTable{
	"gpt-4o":                   {PromptPerMTok: 2.50, CompletionPerMTok: 10.00},
	"gpt-4o-mini":              {PromptPerMTok: 0.15, CompletionPerMTok: 0.60},
	"claude-3-5-sonnet-latest": {PromptPerMTok: 3.00, CompletionPerMTok: 15.00},
	"claude-3-5-haiku-latest":  {PromptPerMTok: 0.80, CompletionPerMTok: 4.00},
	"gemini-2.0-flash":         {PromptPerMTok: 0.10, CompletionPerMTok: 0.40},
	"deepseek-chat":            {PromptPerMTok: 0.27, CompletionPerMTok: 1.10},
}

// LoadPrices builds the effective price table: built-in defaults overlaid
// with any overrides from the environment.
func LoadPrices() (PriceTable, error) {
	table := make(PriceTable, len(defaultPrices))
	for k, v := range defaultPrices {
		table[k] = v
	}

	raw := os.Getenv(PricesEnvVar)
	if raw == "" {
		return table, nil
	}
	var overrides PriceTable
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return nil, fmt.Errorf("llm: invalid %s: %w", PricesEnvVar, err)
	}
	for k, v := range overrides {
		table[k] = v
	}
	return table, nil
}

// Cost derives the USD cost of one call from the table. Unknown models are
// free; the lookup never fails.
func (t PriceTable) Cost(model string, usage schemas.Usage) float64 {
	price, ok := t[model]
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)*price.PromptPerMTok/1e6 +
		float64(usage.CompletionTokens)*price.CompletionPerMTok/1e6
}
