// Package emitter turns validated candidate pairs into persisted scenarios.
// It is the single place where scenario ids are assigned.
package emitter

import (
	"fmt"
	"log/slog"

	"github.com/lamim/pairforge/internal/candidates"
	"github.com/lamim/pairforge/internal/checkpoint"
	"github.com/lamim/pairforge/internal/metrics"
	"github.com/lamim/pairforge/internal/scenario"
	"github.com/lamim/pairforge/internal/writer"
	"github.com/lamim/pairforge/pkg/models"
)

// Outcome is the decision taken for one candidate pair
type Outcome int

const (
	Accepted Outcome = iota
	Rejected
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Duplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Validator checks a candidate pair for both prompt variants
type Validator interface {
	ValidateScenario(safe, harmful string, t models.TaskTemplates) (models.ValidationResult, error)
}

// Options configures an Emitter
type Options struct {
	Task        string
	Templates   models.TaskTemplates
	Deduplicate bool
	Mode        string // Metrics label
}

// Emitter validates candidates and writes the accepted ones.
// Records are written before the checkpoint is advanced, so a crash between
// the two leaves records the next run removes with writer.Reconcile.
type Emitter struct {
	validator  Validator
	writer     writer.Writer
	checkpoint *checkpoint.Manager
	metrics    *metrics.Collector
	deduper    *candidates.Deduper
	opts       Options
	emitted    int
	logger     *slog.Logger
}

// New creates an emitter
func New(
	v Validator,
	w writer.Writer,
	cp *checkpoint.Manager,
	m *metrics.Collector,
	opts Options,
	logger *slog.Logger,
) *Emitter {
	e := &Emitter{
		validator:  v,
		writer:     w,
		checkpoint: cp,
		metrics:    m,
		opts:       opts,
		logger:     logger,
	}
	if opts.Deduplicate {
		e.deduper = candidates.NewDeduper()
	}
	return e
}

// Offer runs one candidate through validation and, when it passes, emits it
// as the next scenario. Errors are fatal: tokenizer failures or failed writes.
func (e *Emitter) Offer(pair models.CandidatePair) (Outcome, models.ValidationResult, error) {
	if e.deduper != nil && e.deduper.Seen(pair) {
		e.metrics.RecordCandidate(e.opts.Mode, Duplicate.String())
		return Duplicate, models.ValidationResult{}, nil
	}

	result, err := e.validator.ValidateScenario(pair.Safe, pair.Harmful, e.opts.Templates)
	if err != nil {
		return Rejected, result, fmt.Errorf("failed to validate pair: %w", err)
	}

	if !result.Passed {
		e.checkpoint.RecordAttempt(false)
		e.metrics.RecordCandidate(e.opts.Mode, Rejected.String())
		e.metrics.RecordValidationFailure(result.Tokenizer, result.Variant, result.Reason)
		e.logger.Debug("Rejected candidate",
			"safe", pair.Safe,
			"harmful", pair.Harmful,
			"tokenizer", result.Tokenizer,
			"variant", result.Variant,
			"reason", result.Reason)
		return Rejected, result, nil
	}

	id := e.checkpoint.NextScenarioID()
	s := models.Scenario{
		ID:          id,
		SafeText:    pair.Safe,
		HarmfulText: pair.Harmful,
		Task:        e.opts.Task,
	}

	if err := e.writer.WriteScenario(scenario.Expand(s, e.opts.Templates)); err != nil {
		return Rejected, result, fmt.Errorf("failed to write scenario %d: %w", id, err)
	}

	e.checkpoint.RecordAttempt(true)
	if err := e.checkpoint.MarkScenarioEmitted(id); err != nil {
		return Rejected, result, fmt.Errorf("failed to checkpoint scenario %d: %w", id, err)
	}

	e.emitted++
	e.metrics.RecordCandidate(e.opts.Mode, Accepted.String())
	e.logger.Debug("Accepted scenario", "id", id, "safe", pair.Safe, "harmful", pair.Harmful)

	return Accepted, result, nil
}

// Emitted returns the number of scenarios written by this emitter
func (e *Emitter) Emitted() int {
	return e.emitted
}

// Remember marks pairs handled by an earlier run as seen, so duplicates of
// them are still caught after a resume. It does nothing without deduplication.
func (e *Emitter) Remember(pairs ...models.CandidatePair) {
	if e.deduper == nil {
		return
	}
	for _, p := range pairs {
		e.deduper.Seen(p)
	}
}
