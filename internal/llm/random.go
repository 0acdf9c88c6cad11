// File: internal/llm/random.go
package llm

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

// choicePattern matches the numbered action lines of a rendered prompt.
var choicePattern = regexp.MustCompile(`(?m)^\s*(\d+)\.\s+`)

// RandomProvider is the canonical local baseline: no network I/O, a
// uniformly random choice index, reproducible under a fixed seed.
type RandomProvider struct {
	rng *rand.Rand
}

// NewRandomProvider builds a seeded baseline adapter. Each client gets its
// own instance so concurrent runs cannot perturb each other's sequences.
func NewRandomProvider(seed int64) *RandomProvider {
	return &RandomProvider{rng: rand.New(rand.NewSource(seed))}
}

// Name implements Provider.
func (p *RandomProvider) Name() string { return ProviderRandomLocal }

// Complete implements Provider. It counts the numbered choices in the last
// user message and replies with a strict-JSON decision, mirroring the reply
// contract real models are prompted for.
func (p *RandomProvider) Complete(_ context.Context, req Request) (Response, error) {
	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == schemas.RoleUser {
			prompt = req.Messages[i].Content
			break
		}
	}

	n := len(choicePattern.FindAllString(prompt, -1))
	if n < 1 {
		n = 1
	}
	pick := p.rng.Intn(n) + 1

	return Response{
		Content:      fmt.Sprintf(`{"reasoning": "baseline: uniform random pick", "result": %d}`, pick),
		FinishReason: schemas.FinishStop,
	}, nil
}
