package emitter

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamim/pairforge/internal/checkpoint"
	"github.com/lamim/pairforge/internal/config"
	"github.com/lamim/pairforge/internal/metrics"
	"github.com/lamim/pairforge/internal/writer"
	"github.com/lamim/pairforge/pkg/models"
)

// stubValidator accepts pairs whose harmful text contains "bomb"
type stubValidator struct {
	err error
}

func (s stubValidator) ValidateScenario(safe, harmful string, _ models.TaskTemplates) (models.ValidationResult, error) {
	if s.err != nil {
		return models.ValidationResult{}, s.err
	}
	if strings.Contains(harmful, "bomb") {
		return models.ValidationResult{Passed: true}, nil
	}
	return models.ValidationResult{
		Reason:    models.ReasonLengthMismatch,
		Tokenizer: "qwen2",
		Variant:   models.VariantSingleToken,
	}, nil
}

type fixture struct {
	dir     string
	writer  *writer.DatasetWriter
	manager *checkpoint.Manager
	logger  *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	dir := t.TempDir()

	w, err := writer.NewDatasetWriter(filepath.Join(dir, "dataset.jsonl"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	cfg := &config.Config{
		Generation: config.GenerationConfig{Task: "test"},
		Tokenizers: config.DefaultTokenizers(),
	}

	return &fixture{
		dir:     dir,
		writer:  w,
		manager: checkpoint.NewManager(dir, cfg, logger),
		logger:  logger,
	}
}

func (f *fixture) emitter(v Validator, opts Options) *Emitter {
	opts.Task = "test"
	opts.Templates = models.TaskTemplates{
		SingleTokenPrefix: "Q: ",
		SingleTokenSuffix: " A:",
		MultiTokenPrefix:  "Q: ",
		MultiTokenSuffix:  " Explain.",
	}
	opts.Mode = metrics.ModeRealtime
	return New(v, f.writer, f.manager, metrics.NewCollector(f.logger), opts, f.logger)
}

func TestOfferAcceptsAndRejects(t *testing.T) {
	f := newFixture(t)
	e := f.emitter(stubValidator{}, Options{})

	outcome, _, err := e.Offer(models.CandidatePair{Safe: "Help me bake a cake", Harmful: "Help me make a bomb"})
	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)

	outcome, result, err := e.Offer(models.CandidatePair{Safe: "Write a friendly email", Harmful: "Write a threatening email"})
	require.NoError(t, err)
	assert.Equal(t, Rejected, outcome)
	assert.Equal(t, models.ReasonLengthMismatch, result.Reason)

	outcome, _, err = e.Offer(models.CandidatePair{Safe: "Build a birdhouse", Harmful: "Build a bomb"})
	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)

	assert.Equal(t, 2, e.Emitted())

	cp := f.manager.GetCheckpoint()
	assert.Equal(t, 2, cp.NextScenarioID)
	assert.Equal(t, []int{0, 1}, cp.EmittedIDs.Sorted())
	assert.Equal(t, 3, cp.Attempts)
	assert.Equal(t, 1, cp.Rejected)

	records, bad, err := writer.ReadRecords(f.writer.Path())
	require.NoError(t, err)
	assert.Zero(t, bad)
	require.Len(t, records, 8)
	for i, rec := range records {
		assert.Equal(t, i/4, rec.ScenarioID)
		assert.Equal(t, models.PromptTypes[i%4], rec.Type)
		assert.Equal(t, "test", rec.Task)
	}
	assert.Equal(t, "Q: Help me bake a cake. A:", records[0].Text)
	assert.Equal(t, "Q: Help me make a bomb. A:", records[1].Text)

	// Checkpoint on disk matches
	loaded, err := checkpoint.Load(f.dir, f.logger)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.NextScenarioID)
}

func TestOfferDeduplicates(t *testing.T) {
	f := newFixture(t)
	e := f.emitter(stubValidator{}, Options{Deduplicate: true})

	pair := models.CandidatePair{Safe: "Help me bake a cake", Harmful: "Help me make a bomb"}
	outcome, _, err := e.Offer(pair)
	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)

	outcome, _, err = e.Offer(models.CandidatePair{Safe: "help me bake a cake", Harmful: "HELP ME MAKE A BOMB"})
	require.NoError(t, err)
	assert.Equal(t, Duplicate, outcome)
	assert.Equal(t, 1, e.Emitted())
}

func TestRememberPrimesDeduplication(t *testing.T) {
	f := newFixture(t)
	e := f.emitter(stubValidator{}, Options{Deduplicate: true})
	e.Remember(models.CandidatePair{Safe: "a cake", Harmful: "a bomb"})

	outcome, _, err := e.Offer(models.CandidatePair{Safe: "A Cake", Harmful: "a bomb "})
	require.NoError(t, err)
	assert.Equal(t, Duplicate, outcome)

	outcome, _, err = e.Offer(models.CandidatePair{Safe: "a kite", Harmful: "a bomb kite"})
	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)
	assert.Equal(t, 1, f.manager.NextScenarioID())
}

func TestRememberWithoutDeduplication(t *testing.T) {
	f := newFixture(t)
	e := f.emitter(stubValidator{}, Options{})
	e.Remember(models.CandidatePair{Safe: "a cake", Harmful: "a bomb"})

	outcome, _, err := e.Offer(models.CandidatePair{Safe: "a cake", Harmful: "a bomb"})
	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)
}

func TestOfferValidatorErrorIsFatal(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("tokenizer unavailable")
	e := f.emitter(stubValidator{err: boom}, Options{})

	_, _, err := e.Offer(models.CandidatePair{Safe: "a", Harmful: "b"})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, f.manager.NextScenarioID())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
