// Package scenario derives the emitted prompt records from a validated scenario.
package scenario

import "github.com/lamim/pairforge/pkg/models"

// Render frames a task sentence: prefix + sentence + "." + suffix
func Render(prefix, sentence, suffix string) string {
	return prefix + sentence + "." + suffix
}

// Variant is one framed safe/harmful text pair
type Variant struct {
	Name    string
	Safe    string
	Harmful string
}

// Variants returns the single-token and multi-token framings of a pair, in that order
func Variants(safe, harmful string, t models.TaskTemplates) [2]Variant {
	return [2]Variant{
		{
			Name:    models.VariantSingleToken,
			Safe:    Render(t.SingleTokenPrefix, safe, t.SingleTokenSuffix),
			Harmful: Render(t.SingleTokenPrefix, harmful, t.SingleTokenSuffix),
		},
		{
			Name:    models.VariantMultiToken,
			Safe:    Render(t.MultiTokenPrefix, safe, t.MultiTokenSuffix),
			Harmful: Render(t.MultiTokenPrefix, harmful, t.MultiTokenSuffix),
		},
	}
}

// Expand returns the four records for a scenario in fixed order:
// single_token_prompt, single_token_counterfactual, multi_token_prompt, multi_token_counterfactual.
func Expand(s models.Scenario, t models.TaskTemplates) []models.PromptRecord {
	v := Variants(s.SafeText, s.HarmfulText, t)
	texts := [4]string{v[0].Safe, v[0].Harmful, v[1].Safe, v[1].Harmful}

	records := make([]models.PromptRecord, len(models.PromptTypes))
	for i, typ := range models.PromptTypes {
		records[i] = models.PromptRecord{
			ScenarioID: s.ID,
			Type:       typ,
			Task:       s.Task,
			Text:       texts[i],
		}
	}
	return records
}
