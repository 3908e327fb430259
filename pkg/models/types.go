package models

import "time"

// PromptType identifies one of the four records derived from a scenario
type PromptType string

const (
	SingleTokenPrompt         PromptType = "single_token_prompt"
	SingleTokenCounterfactual PromptType = "single_token_counterfactual"
	MultiTokenPrompt          PromptType = "multi_token_prompt"
	MultiTokenCounterfactual  PromptType = "multi_token_counterfactual"
)

// PromptTypes lists the record types in emission order
var PromptTypes = []PromptType{
	SingleTokenPrompt,
	SingleTokenCounterfactual,
	MultiTokenPrompt,
	MultiTokenCounterfactual,
}

// Scenario is a validated safe/harmful sentence pair
type Scenario struct {
	ID          int    `json:"id"`
	SafeText    string `json:"safe_text"`
	HarmfulText string `json:"harmful_text"`
	Task        string `json:"task"`
}

// CandidatePair is an unvalidated proposal extracted from model output
type CandidatePair struct {
	Safe    string `json:"safe"`
	Harmful string `json:"harmful"`
}

// PromptRecord is one line of the output dataset
type PromptRecord struct {
	ScenarioID int        `json:"scenario_id"`
	Type       PromptType `json:"type"`
	Task       string     `json:"task"`
	Text       string     `json:"text"`
}

// Template variants checked by the validator
const (
	VariantSingleToken = "single_token"
	VariantMultiToken  = "multi_token"
)

// Rejection reasons reported by the validator
const (
	ReasonLengthMismatch          = "length_mismatch"
	ReasonZeroTokenDifference     = "zero_token_difference"
	ReasonMultipleTokenDifference = "multiple_token_difference"
)

// ValidationResult is the outcome of checking one candidate pair.
// Tokenizer and Variant name the first failing check.
type ValidationResult struct {
	Passed    bool   `json:"passed"`
	Reason    string `json:"reason,omitempty"`
	Tokenizer string `json:"tokenizer,omitempty"`
	Variant   string `json:"variant,omitempty"`

	SafeTokens    int `json:"safe_tokens,omitempty"`
	HarmfulTokens int `json:"harmful_tokens,omitempty"`
	Differences   int `json:"differences,omitempty"`
}

// TaskTemplates holds the framing strings for one task
type TaskTemplates struct {
	SingleTokenPrefix string
	SingleTokenSuffix string
	MultiTokenPrefix  string
	MultiTokenSuffix  string
}

// RunReport summarizes a generation or processing run.
// A positive Shortfall is not an error; callers compare Accepted to Target.
type RunReport struct {
	Target         int
	Accepted       int // Scenarios in the dataset, including earlier runs
	Resumed        int // Scenarios emitted by an earlier run and not seen again here
	Shortfall      int
	Attempts       int
	Candidates     int
	Rejected       int
	ParseErrors    int
	MalformedPairs int
	Duplicates     int
	Skipped        int // Pairs handled by an earlier run and passed over
	RejectReasons  map[string]int
	Cost           float64
	Duration       time.Duration
}

// SuccessRate returns accepted candidates as a percentage of candidates seen
func (r *RunReport) SuccessRate() float64 {
	if r.Candidates == 0 {
		return 0
	}
	return float64(r.Accepted-r.Resumed) / float64(r.Candidates) * 100
}
