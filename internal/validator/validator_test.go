package validator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamim/pairforge/internal/tokenizer"
	"github.com/lamim/pairforge/pkg/models"
)

// tableEncoder returns fixed token ids per tokenizer and text
type tableEncoder struct {
	table map[string]map[string][]int
	calls map[string]int
}

func (e *tableEncoder) Encode(name, text string) ([]int, error) {
	if e.calls == nil {
		e.calls = make(map[string]int)
	}
	e.calls[name]++
	byText, ok := e.table[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tokenizer.ErrTokenizerUnavailable, name)
	}
	ids, ok := byText[text]
	if !ok {
		return nil, fmt.Errorf("no ids for %q under %s", text, name)
	}
	return ids, nil
}

func (e *tableEncoder) Names() []string {
	names := make([]string, 0, len(e.table))
	for n := range e.table {
		names = append(names, n)
	}
	return names
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name      string
		a, b      []int
		reason    string
		diffCount int
	}{
		{"one difference", []int{5, 9, 2}, []int{5, 7, 2}, "", 1},
		{"identical", []int{5, 9, 2}, []int{5, 9, 2}, models.ReasonZeroTokenDifference, 0},
		{"length mismatch", []int{5, 9, 2, 4}, []int{5, 7, 2}, models.ReasonLengthMismatch, 0},
		{"two differences", []int{1, 2, 3}, []int{9, 2, 8}, models.ReasonMultipleTokenDifference, 2},
		{"empty sequences", nil, nil, models.ReasonZeroTokenDifference, 0},
		// A length-preserving shift moves every later token and is not one substitution
		{"shift preserving length", []int{1, 2, 3, 4}, []int{1, 3, 4, 5}, models.ReasonMultipleTokenDifference, 3},
		// Transposition of two adjacent tokens touches two positions
		{"transposition", []int{1, 2, 3}, []int{1, 3, 2}, models.ReasonMultipleTokenDifference, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, diffs := Compare(tt.a, tt.b)
			assert.Equal(t, tt.reason, reason)
			assert.Equal(t, tt.diffCount, diffs)
		})
	}
}

func TestValidatePairIdenticalTokensFailsWithZeroDifference(t *testing.T) {
	enc := &tableEncoder{table: map[string]map[string][]int{
		"a": {"safe": {5, 9, 2}, "harmful": {5, 9, 2}},
		"b": {"safe": {5, 9, 2}, "harmful": {5, 9, 2}},
		"c": {"safe": {5, 9, 2}, "harmful": {5, 9, 2}},
	}}
	v, err := New(enc, []string{"a", "b", "c"})
	require.NoError(t, err)

	res, err := v.ValidatePair("safe", "harmful")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, models.ReasonZeroTokenDifference, res.Reason)
	assert.Equal(t, "a", res.Tokenizer)
}

func TestValidatePairLengthMismatchOnOneTokenizerFailsOverall(t *testing.T) {
	enc := &tableEncoder{table: map[string]map[string][]int{
		"A": {"safe": {5, 9, 2}, "harmful": {5, 7, 2}},
		"B": {"safe": {5, 9, 2, 4}, "harmful": {5, 7, 2}},
	}}

	onlyA, err := New(enc, []string{"A"})
	require.NoError(t, err)
	res, err := onlyA.ValidatePair("safe", "harmful")
	require.NoError(t, err)
	assert.True(t, res.Passed, "A alone accepts the pair")

	both, err := New(enc, []string{"A", "B"})
	require.NoError(t, err)
	res, err = both.ValidatePair("safe", "harmful")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, models.ReasonLengthMismatch, res.Reason)
	assert.Equal(t, "B", res.Tokenizer)
	assert.Equal(t, 4, res.SafeTokens)
	assert.Equal(t, 3, res.HarmfulTokens)
}

func TestValidatePairShortCircuits(t *testing.T) {
	enc := &tableEncoder{table: map[string]map[string][]int{
		"first":  {"s": {1}, "h": {1, 2}},
		"second": {"s": {1}, "h": {2}},
	}}
	v, err := New(enc, []string{"first", "second"})
	require.NoError(t, err)

	res, err := v.ValidatePair("s", "h")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 0, enc.calls["second"], "later tokenizers are not consulted after a failure")
}

func TestValidatePairEncoderErrorIsNotAResult(t *testing.T) {
	enc := &tableEncoder{table: map[string]map[string][]int{
		"ok": {"s": {1}, "h": {2}},
	}}
	v, err := New(enc, []string{"ok", "missing"})
	require.NoError(t, err)

	_, err = v.ValidatePair("s", "h")
	require.Error(t, err)
	assert.True(t, errors.Is(err, tokenizer.ErrTokenizerUnavailable))
}

func TestNewRequiresTokenizers(t *testing.T) {
	_, err := New(&tableEncoder{}, nil)
	assert.Error(t, err)
}

func TestValidateScenarioChecksBothVariants(t *testing.T) {
	templates := models.TaskTemplates{SingleTokenPrefix: "Q: ", SingleTokenSuffix: " A:"}

	single := map[string][]int{
		"Q: bake a cake. A:": {1, 10, 2, 11, 3},
		"Q: make a bomb. A:": {1, 12, 2, 13, 3},
	}
	multi := map[string][]int{
		"bake a cake.": {10, 2, 11},
		"make a bomb.": {12, 2, 11},
	}

	t.Run("single token variant fails", func(t *testing.T) {
		table := map[string][]int{}
		for k, v := range single {
			table[k] = v
		}
		for k, v := range multi {
			table[k] = v
		}
		enc := &tableEncoder{table: map[string]map[string][]int{"tok": table}}
		v, err := New(enc, []string{"tok"})
		require.NoError(t, err)

		res, err := v.ValidateScenario("bake a cake", "make a bomb", templates)
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.Equal(t, models.VariantSingleToken, res.Variant)
		assert.Equal(t, models.ReasonMultipleTokenDifference, res.Reason)
	})

	t.Run("multi token variant fails", func(t *testing.T) {
		enc := &tableEncoder{table: map[string]map[string][]int{"tok": {
			"Q: bake a cake. A:": {1, 10, 2, 3},
			"Q: make a bomb. A:": {1, 12, 2, 3},
			"bake a cake.":       {10, 2, 11},
			"make a bomb.":       {12, 2, 11, 14},
		}}}
		v, err := New(enc, []string{"tok"})
		require.NoError(t, err)

		res, err := v.ValidateScenario("bake a cake", "make a bomb", templates)
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.Equal(t, models.VariantMultiToken, res.Variant)
		assert.Equal(t, models.ReasonLengthMismatch, res.Reason)
	})

	t.Run("both pass", func(t *testing.T) {
		enc := &tableEncoder{table: map[string]map[string][]int{"tok": {
			"Q: bake a cake. A:": {1, 10, 2, 3},
			"Q: make a bomb. A:": {1, 12, 2, 3},
			"bake a cake.":       {10, 2, 11},
			"make a bomb.":       {12, 2, 11},
		}}}
		v, err := New(enc, []string{"tok"})
		require.NoError(t, err)

		res, err := v.ValidateScenario("bake a cake", "make a bomb", templates)
		require.NoError(t, err)
		assert.True(t, res.Passed)
		assert.Empty(t, res.Reason)
	})
}
