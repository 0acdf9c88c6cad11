package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvalExpressions(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"1 + 2", 3},
		{"2 * 3 + 4", 10},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"2 ** 10", 1024},
		{"2 ** 3 ** 2", 512}, // right-associative
		{"-3 + 5", 2},
		{"1.5 * 2", 3},
	}
	for _, tc := range cases {
		got, err := evalExpr(tc.expr)
		assert.NoError(t, err, tc.expr)
		assert.InDelta(t, tc.want, got, 1e-9, tc.expr)
	}
}

func TestEvalRejectsInvalidInput(t *testing.T) {
	for _, expr := range []string{
		"",
		"1 +",
		"(1 + 2",
		"1 / 0",
		"2 + x",
		"1..2",
	} {
		_, err := evalExpr(expr)
		assert.Error(t, err, expr)
	}
}

func TestCalculatorRequestExtraction(t *testing.T) {
	expr, ok := calculatorRequest("I need the total. CALC: 12 * 7 + 3")
	assert.True(t, ok)
	assert.Equal(t, "12 * 7 + 3", expr)

	_, ok = calculatorRequest("no tool use here, just 2+2 talk")
	assert.False(t, ok)
}

func TestEvalCalculatorRendering(t *testing.T) {
	assert.Equal(t, "Calculator result: 87", evalCalculator("12 * 7 + 3"))
	assert.Equal(t, "Calculator result: 2.5", evalCalculator("5 / 2"))
	assert.Contains(t, evalCalculator("1 / 0"), "Calculator error:")
}
