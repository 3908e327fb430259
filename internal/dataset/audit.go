// Package dataset checks an emitted dataset file against the invariants every
// run must hold: four records per scenario in fixed order, contiguous ids from
// 0, and each framed pair still passing the token check.
package dataset

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/lamim/pairforge/internal/writer"
	"github.com/lamim/pairforge/pkg/models"
)

// PairValidator re-checks one framed text pair; *validator.Validator implements it
type PairValidator interface {
	ValidatePair(safe, harmful string) (models.ValidationResult, error)
}

// Finding is one scenario whose framed pair no longer validates
type Finding struct {
	ScenarioID int
	Variant    string
	Result     models.ValidationResult
}

// Report is the outcome of an audit
type Report struct {
	Records    int
	Scenarios  int
	BadLines   int            // lines that are not a JSON record
	Tasks      map[string]int // scenarios per task
	Incomplete []int          // ids without exactly the four record types in order
	Gaps       []int          // ids missing below the highest id seen
	Invalid    []Finding
}

// OK reports whether the dataset passed every check
func (r *Report) OK() bool {
	return r.BadLines == 0 && len(r.Incomplete) == 0 && len(r.Gaps) == 0 && len(r.Invalid) == 0
}

// Audit reads the dataset at path and checks it. v may be nil to skip
// re-validation. Tokenizer failures are returned as errors.
func Audit(path string, v PairValidator, logger *slog.Logger) (*Report, error) {
	records, bad, err := writer.ReadRecords(path)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Records:  len(records),
		BadLines: bad,
		Tasks:    make(map[string]int),
	}

	groups := make(map[int][]models.PromptRecord)
	var order []int
	for _, rec := range records {
		if _, ok := groups[rec.ScenarioID]; !ok {
			order = append(order, rec.ScenarioID)
		}
		groups[rec.ScenarioID] = append(groups[rec.ScenarioID], rec)
	}
	sort.Ints(order)
	report.Scenarios = len(order)

	if len(order) > 0 {
		present := make(map[int]bool, len(order))
		for _, id := range order {
			present[id] = true
		}
		for id := 0; id < order[len(order)-1]; id++ {
			if !present[id] {
				report.Gaps = append(report.Gaps, id)
			}
		}
	}

	for _, id := range order {
		group := groups[id]
		report.Tasks[group[0].Task]++

		if !complete(group) {
			report.Incomplete = append(report.Incomplete, id)
			continue
		}
		if v == nil {
			continue
		}

		pairs := []struct {
			variant string
			safe    string
			harmful string
		}{
			{models.VariantSingleToken, group[0].Text, group[1].Text},
			{models.VariantMultiToken, group[2].Text, group[3].Text},
		}
		for _, p := range pairs {
			res, err := v.ValidatePair(p.safe, p.harmful)
			if err != nil {
				return nil, fmt.Errorf("failed to validate scenario %d: %w", id, err)
			}
			if !res.Passed {
				res.Variant = p.variant
				report.Invalid = append(report.Invalid, Finding{ScenarioID: id, Variant: p.variant, Result: res})
				break
			}
		}
	}

	logger.Info("Dataset audited",
		"path", path,
		"records", report.Records,
		"scenarios", report.Scenarios,
		"bad_lines", report.BadLines,
		"incomplete", len(report.Incomplete),
		"gaps", len(report.Gaps),
		"invalid", len(report.Invalid))

	return report, nil
}

// complete reports whether group holds the four record types in emission order
func complete(group []models.PromptRecord) bool {
	if len(group) != len(models.PromptTypes) {
		return false
	}
	for i, rec := range group {
		if rec.Type != models.PromptTypes[i] || rec.Task != group[0].Task {
			return false
		}
	}
	return true
}
