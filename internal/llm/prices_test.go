package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

func TestCostLookup(t *testing.T) {
	table := PriceTable{
		"gpt-4o": {PromptPerMTok: 2.50, CompletionPerMTok: 10.00},
	}
	usage := schemas.Usage{PromptTokens: 1000, CompletionTokens: 200, TotalTokens: 1200}

	cost := table.Cost("gpt-4o", usage)
	assert.InDelta(t, 0.0025+0.002, cost, 1e-9)
}

func TestCostUnknownModelIsFree(t *testing.T) {
	table := PriceTable{}
	cost := table.Cost("unknown", schemas.Usage{PromptTokens: 1 << 20})
	assert.Zero(t, cost)
}

func TestLoadPricesEnvOverride(t *testing.T) {
	t.Setenv(PricesEnvVar, `{"gpt-4o": {"prompt_per_mtok": 1.0, "completion_per_mtok": 2.0}, "custom-model": {"prompt_per_mtok": 0.5, "completion_per_mtok": 0.5}}`)

	table, err := LoadPrices()
	require.NoError(t, err)

	assert.Equal(t, 1.0, table["gpt-4o"].PromptPerMTok, "override replaces the default")
	assert.Equal(t, 0.5, table["custom-model"].PromptPerMTok, "override can add models")
	assert.NotZero(t, table["claude-3-5-sonnet-latest"].PromptPerMTok, "untouched defaults survive")
}

func TestLoadPricesRejectsGarbage(t *testing.T) {
	t.Setenv(PricesEnvVar, "{not json")
	_, err := LoadPrices()
	require.Error(t, err)
}
