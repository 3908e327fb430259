package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lamim/pairforge/internal/config"
)

// ErrNoContent is returned when a batch output line carries no usable message
var ErrNoContent = errors.New("no content in response")

// ParseBatchOutputLine extracts the assistant message and usage from one line
// of a batch output file
func ParseBatchOutputLine(line []byte) (customID, content string, usage Usage, err error) {
	var out BatchOutputLine
	if err := json.Unmarshal(line, &out); err != nil {
		return "", "", Usage{}, fmt.Errorf("failed to parse output line: %w", err)
	}

	if out.Error != nil && out.Error.Message != "" {
		return out.CustomID, "", Usage{}, fmt.Errorf("request %s failed: %s", out.CustomID, out.Error.Message)
	}
	if out.Response == nil {
		return out.CustomID, "", Usage{}, fmt.Errorf("request %s: %w", out.CustomID, ErrNoContent)
	}
	if out.Response.StatusCode != 0 && out.Response.StatusCode != 200 {
		return out.CustomID, "", out.Response.Body.Usage,
			fmt.Errorf("request %s returned status %d", out.CustomID, out.Response.StatusCode)
	}
	if len(out.Response.Body.Choices) == 0 || out.Response.Body.Choices[0].Message.Content == "" {
		return out.CustomID, "", out.Response.Body.Usage, fmt.Errorf("request %s: %w", out.CustomID, ErrNoContent)
	}

	return out.CustomID, out.Response.Body.Choices[0].Message.Content, out.Response.Body.Usage, nil
}

// Cost converts token usage to dollars. Batch requests get the configured discount.
func Cost(usage Usage, pricing config.PricingConfig, batch bool) float64 {
	cost := float64(usage.PromptTokens)/1000*pricing.InputPer1K +
		float64(usage.CompletionTokens)/1000*pricing.OutputPer1K
	if batch {
		cost *= 1 - pricing.BatchDiscount
	}
	return cost
}
