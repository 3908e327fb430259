// Package validator decides whether a safe/harmful pair satisfies the token constraints:
// equal token counts and exactly one differing position, under every configured tokenizer.
package validator

import (
	"errors"
	"fmt"

	"github.com/lamim/pairforge/internal/scenario"
	"github.com/lamim/pairforge/internal/tokenizer"
	"github.com/lamim/pairforge/pkg/models"
)

// Validator checks candidate pairs against a fixed tokenizer set
type Validator struct {
	enc   tokenizer.Encoder
	names []string
}

// New creates a validator over the given tokenizer names.
// An empty set is rejected rather than treated as "always valid".
func New(enc tokenizer.Encoder, names []string) (*Validator, error) {
	if len(names) == 0 {
		return nil, errors.New("validator requires at least one tokenizer")
	}
	return &Validator{enc: enc, names: append([]string(nil), names...)}, nil
}

// Tokenizers returns the tokenizer names checked, in order
func (v *Validator) Tokenizers() []string {
	return append([]string(nil), v.names...)
}

// ValidatePair checks one text pair under every tokenizer, stopping at the first failure.
// Encoding errors are returned as errors, never as a failed result.
func (v *Validator) ValidatePair(safe, harmful string) (models.ValidationResult, error) {
	for _, name := range v.names {
		safeIDs, err := v.enc.Encode(name, safe)
		if err != nil {
			return models.ValidationResult{}, fmt.Errorf("failed to encode safe text: %w", err)
		}
		harmfulIDs, err := v.enc.Encode(name, harmful)
		if err != nil {
			return models.ValidationResult{}, fmt.Errorf("failed to encode harmful text: %w", err)
		}

		reason, diffs := Compare(safeIDs, harmfulIDs)
		if reason != "" {
			return models.ValidationResult{
				Passed:        false,
				Reason:        reason,
				Tokenizer:     name,
				SafeTokens:    len(safeIDs),
				HarmfulTokens: len(harmfulIDs),
				Differences:   diffs,
			}, nil
		}
	}
	return models.ValidationResult{Passed: true}, nil
}

// ValidateScenario checks the single-token framing and then the multi-token framing.
// Both must pass.
func (v *Validator) ValidateScenario(safe, harmful string, t models.TaskTemplates) (models.ValidationResult, error) {
	for _, variant := range scenario.Variants(safe, harmful, t) {
		res, err := v.ValidatePair(variant.Safe, variant.Harmful)
		if err != nil {
			return models.ValidationResult{}, fmt.Errorf("%s variant: %w", variant.Name, err)
		}
		if !res.Passed {
			res.Variant = variant.Name
			return res, nil
		}
	}
	return models.ValidationResult{Passed: true}, nil
}

// Compare returns the rejection reason for two token sequences, or "" when they
// have equal length and differ at exactly one position. Positions are compared
// index by index (Hamming distance); a shifted sequence counts every moved token.
func Compare(a, b []int) (reason string, differences int) {
	if len(a) != len(b) {
		return models.ReasonLengthMismatch, 0
	}
	for i := range a {
		if a[i] != b[i] {
			differences++
		}
	}
	switch {
	case differences == 0:
		return models.ReasonZeroTokenDifference, 0
	case differences > 1:
		return models.ReasonMultipleTokenDifference, differences
	}
	return "", 1
}
