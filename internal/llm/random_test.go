package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

func randomRequest(choices int) Request {
	prompt := "Current situation:\nsomething\n\nAvailable actions:\n"
	for i := 1; i <= choices; i++ {
		prompt += fmt.Sprintf("%d. choice %d\n", i, i)
	}
	return Request{Messages: []schemas.Message{
		{Role: schemas.RoleSystem, Content: "system"},
		{Role: schemas.RoleUser, Content: prompt},
	}}
}

func pickSequence(t *testing.T, seed int64, choices, n int) []string {
	t.Helper()
	p := NewRandomProvider(seed)
	out := make([]string, n)
	for i := range out {
		resp, err := p.Complete(context.Background(), randomRequest(choices))
		require.NoError(t, err)
		out[i] = resp.Content
	}
	return out
}

func TestRandomProviderIsReproducible(t *testing.T) {
	first := pickSequence(t, 1, 3, 20)
	second := pickSequence(t, 1, 3, 20)
	assert.Equal(t, first, second, "same seed must produce the same action sequence")
}

func TestRandomProviderSeedsDiffer(t *testing.T) {
	first := pickSequence(t, 1, 5, 30)
	second := pickSequence(t, 2, 5, 30)
	assert.NotEqual(t, first, second)
}

func TestRandomProviderStaysInRange(t *testing.T) {
	p := NewRandomProvider(7)
	for i := 0; i < 50; i++ {
		resp, err := p.Complete(context.Background(), randomRequest(4))
		require.NoError(t, err)
		assert.Regexp(t, `"result": [1-4]}$`, resp.Content)
	}
}

func TestRandomProviderSingleChoiceFallback(t *testing.T) {
	p := NewRandomProvider(7)
	resp, err := p.Complete(context.Background(), Request{Messages: []schemas.Message{
		{Role: schemas.RoleUser, Content: "no numbered actions here"},
	}})
	require.NoError(t, err)
	assert.Contains(t, resp.Content, `"result": 1`)
}
