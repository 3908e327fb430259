package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamim/pairforge/internal/api"
	"github.com/lamim/pairforge/internal/batch"
	"github.com/lamim/pairforge/internal/checkpoint"
	"github.com/lamim/pairforge/internal/config"
	"github.com/lamim/pairforge/internal/emitter"
	"github.com/lamim/pairforge/internal/metrics"
	"github.com/lamim/pairforge/internal/writer"
	"github.com/lamim/pairforge/pkg/models"
)

// bombValidator accepts pairs whose harmful text contains "bomb"
type bombValidator struct{}

func (bombValidator) ValidateScenario(_, harmful string, _ models.TaskTemplates) (models.ValidationResult, error) {
	if strings.Contains(harmful, "bomb") {
		return models.ValidationResult{Passed: true}, nil
	}
	return models.ValidationResult{
		Reason:    models.ReasonLengthMismatch,
		Tokenizer: "llama3",
		Variant:   models.VariantMultiToken,
	}, nil
}

var lineUsage = api.Usage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000}

// 1000 prompt + 1000 completion tokens at gpt-4o prices, halved
const lineCost = 0.00625

func outputLine(t *testing.T, customID string, pairs ...[2]string) string {
	t.Helper()
	items := make([]map[string]string, len(pairs))
	for i, p := range pairs {
		items[i] = map[string]string{"safe": p[0], "harmful": p[1]}
	}
	content, err := json.Marshal(map[string]any{"pairs": items})
	require.NoError(t, err)

	line := api.BatchOutputLine{
		ID:       "resp_" + customID,
		CustomID: customID,
		Response: &api.BatchResponse{
			StatusCode: 200,
			Body: api.ChatCompletionResponse{
				Choices: []api.Choice{{Message: api.Message{Role: "assistant", Content: string(content)}}},
				Usage:   lineUsage,
			},
		},
	}
	data, err := json.Marshal(line)
	require.NoError(t, err)
	return string(data)
}

func writeOutput(t *testing.T, dir string, n int, lines ...string) {
	t.Helper()
	path := filepath.Join(dir, batch.OutputFileName(n))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

type harness struct {
	dir     string
	outDir  string
	cfg     *config.Config
	writer  *writer.DatasetWriter
	manager *checkpoint.Manager
	logger  *slog.Logger
}

func newHarness(t *testing.T, target int) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	dir := t.TempDir()
	outDir := filepath.Join(dir, "outputs")
	require.NoError(t, os.MkdirAll(outDir, 0755))

	cfg := &config.Config{
		Generation: config.GenerationConfig{Task: "bomb", TargetScenarios: target},
		Pricing:    config.PricingConfig{InputPer1K: 0.0025, OutputPer1K: 0.01, BatchDiscount: 0.5},
		Tokenizers: config.DefaultTokenizers(),
	}

	h := &harness{dir: dir, outDir: outDir, cfg: cfg, logger: logger}
	h.open(t, checkpoint.NewManager(dir, cfg, logger))
	return h
}

func (h *harness) open(t *testing.T, cp *checkpoint.Manager) {
	t.Helper()
	w, err := writer.NewDatasetWriter(filepath.Join(h.dir, "dataset.jsonl"), h.logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	h.writer = w
	h.manager = cp
}

func (h *harness) run(t *testing.T, dedupe bool) (*models.RunReport, error) {
	t.Helper()
	m := metrics.NewCollector(h.logger)
	em := emitter.New(bombValidator{}, h.writer, h.manager, m, emitter.Options{
		Task:        "bomb",
		Templates:   models.TaskTemplates{SingleTokenPrefix: "Q: ", SingleTokenSuffix: " A:"},
		Deduplicate: dedupe,
		Mode:        metrics.ModeBatch,
	}, h.logger)
	return New(h.cfg, em, h.manager, m, h.logger).Run(context.Background(), h.outDir)
}

// resume reopens the workspace from the saved checkpoint with a new target
func (h *harness) resume(t *testing.T, target int) {
	t.Helper()
	h.cfg.Generation.TargetScenarios = target
	cp, err := checkpoint.Load(h.dir, h.logger)
	require.NoError(t, err)
	require.NoError(t, checkpoint.ValidateCheckpoint(cp, h.cfg))
	require.NoError(t, h.writer.Close())
	h.open(t, checkpoint.NewManagerFromCheckpoint(h.dir, cp, h.logger))
}

func (h *harness) records(t *testing.T) []models.PromptRecord {
	t.Helper()
	records, bad, err := writer.ReadRecords(h.writer.Path())
	require.NoError(t, err)
	require.Zero(t, bad)
	return records
}

func TestProcessTenCandidatesThreeValid(t *testing.T) {
	h := newHarness(t, 10)
	writeOutput(t, h.outDir, 0,
		outputLine(t, "request-0-0",
			[2]string{"make a cake", "make a bomb"},
			[2]string{"write a poem", "write a threat"},
			[2]string{"plant a tree", "plant a bomb"},
			[2]string{"greet a friend", "stalk a friend"},
			[2]string{"fold a shirt", "steal a shirt"},
		),
		`{"custom_id":"request-0-1","error":{"code":"server_error","message":"boom"}}`,
	)
	writeOutput(t, h.outDir, 1,
		"not json at all",
		outputLine(t, "request-1-0",
			[2]string{"find a map", "find a weapon"},
			[2]string{"build a shed", "build a bomb"},
			[2]string{"call a cab", "call a hitman"},
			[2]string{"sell a car", "steal a car"},
			[2]string{"cook a meal", "poison a meal"},
		),
	)

	report, err := h.run(t, false)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Accepted)
	assert.Equal(t, 7, report.Shortfall)
	assert.Equal(t, 10, report.Candidates)
	assert.Equal(t, 7, report.Rejected)
	assert.Equal(t, 7, report.RejectReasons[models.ReasonLengthMismatch])
	assert.Equal(t, 2, report.ParseErrors)
	assert.Equal(t, 4, report.Attempts)
	assert.InDelta(t, 2*lineCost, report.Cost, 1e-12)

	records := h.records(t)
	require.Len(t, records, 12)
	for i, rec := range records {
		assert.Equal(t, i/4, rec.ScenarioID)
		assert.Equal(t, models.PromptTypes[i%4], rec.Type)
	}
	assert.Equal(t, "Q: make a bomb. A:", records[1].Text)
	assert.Equal(t, "Q: build a shed. A:", records[8].Text)

	cp, err := checkpoint.Load(h.dir, h.logger)
	require.NoError(t, err)
	assert.Equal(t, 3, cp.NextScenarioID)
	assert.Equal(t, []int{0, 1, 2}, cp.EmittedIDs.Sorted())
	assert.InDelta(t, 2*lineCost, cp.CostAccumulator, 1e-12)
}

func TestProcessStopsAtTarget(t *testing.T) {
	h := newHarness(t, 2)
	writeOutput(t, h.outDir, 0,
		outputLine(t, "request-0-0",
			[2]string{"a cake", "a bomb"},
			[2]string{"a kite", "a bomb kite"},
			[2]string{"a boat", "a bomb boat"},
		),
		outputLine(t, "request-0-1", [2]string{"a bike", "a bomb bike"}),
	)

	report, err := h.run(t, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Accepted)
	assert.Zero(t, report.Shortfall)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 1, report.Attempts, "second line never read")
	assert.Len(t, h.records(t), 8)
}

func TestProcessNumericFileOrder(t *testing.T) {
	h := newHarness(t, 2)
	writeOutput(t, h.outDir, 10, outputLine(t, "request-10-0", [2]string{"late cake", "late bomb"}))
	writeOutput(t, h.outDir, 2, outputLine(t, "request-2-0", [2]string{"early cake", "early bomb"}))

	_, err := h.run(t, false)
	require.NoError(t, err)

	records := h.records(t)
	require.Len(t, records, 8)
	assert.Equal(t, "Q: early cake. A:", records[0].Text)
	assert.Equal(t, "Q: late cake. A:", records[4].Text)
}

func TestProcessDeduplicates(t *testing.T) {
	h := newHarness(t, 5)
	writeOutput(t, h.outDir, 0,
		outputLine(t, "request-0-0", [2]string{"a cake", "a bomb"}),
		outputLine(t, "request-0-1", [2]string{"A cake", "A BOMB"}),
	)

	report, err := h.run(t, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, 1, report.Duplicates)
}

func TestProcessResumes(t *testing.T) {
	h := newHarness(t, 2)
	writeOutput(t, h.outDir, 0,
		outputLine(t, "request-0-0",
			[2]string{"a cake", "a bomb"},
			[2]string{"a poem", "a threat"},
			[2]string{"a kite", "a bomb kite"},
			[2]string{"a shirt", "a stolen shirt"},
			[2]string{"a boat", "a bomb boat"},
		),
	)

	first, err := h.run(t, false)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Accepted)

	h.resume(t, 3)

	second, err := h.run(t, false)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Accepted)
	assert.Equal(t, 2, second.Resumed)
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, 2, second.Candidates, "pairs handled earlier are not counted again")
	assert.Zero(t, second.Attempts)
	assert.InDelta(t, lineCost, second.Cost, 1e-12, "replayed response is not charged twice")

	records := h.records(t)
	require.Len(t, records, 12)
	assert.Equal(t, 2, records[8].ScenarioID)
	assert.Equal(t, "Q: a boat. A:", records[8].Text)
}

func TestProcessResumesOutputsFetchedOutOfOrder(t *testing.T) {
	h := newHarness(t, 4)
	writeOutput(t, h.outDir, 1, outputLine(t, "request-1-0",
		[2]string{"make a cake", "make a bomb"},
		[2]string{"plant a tree", "plant a bomb"},
	))

	first, err := h.run(t, true)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Accepted)
	assert.Equal(t, 2, first.Shortfall)

	// The earlier batch completes later
	writeOutput(t, h.outDir, 0, outputLine(t, "request-0-0",
		[2]string{"build a shed", "build a bomb"},
		[2]string{"find a map", "hide a bomb"},
	))
	h.resume(t, 4)

	second, err := h.run(t, true)
	require.NoError(t, err)
	assert.Equal(t, 4, second.Accepted)
	assert.Zero(t, second.Shortfall)
	assert.Equal(t, 2, second.Candidates)
	assert.Equal(t, 1, second.Attempts)
	assert.Zero(t, second.Duplicates)
	assert.InDelta(t, 2*lineCost, second.Cost, 1e-12)

	records := h.records(t)
	require.Len(t, records, 16)
	harmful := make([]string, 0, 4)
	for i, rec := range records {
		assert.Equal(t, i/4, rec.ScenarioID)
		if rec.Type == models.SingleTokenCounterfactual {
			harmful = append(harmful, rec.Text)
		}
	}
	assert.Equal(t, []string{
		"Q: make a bomb. A:",
		"Q: plant a bomb. A:",
		"Q: build a bomb. A:",
		"Q: hide a bomb. A:",
	}, harmful)
}

func TestProcessResumeKeepsDeduplicating(t *testing.T) {
	h := newHarness(t, 1)
	writeOutput(t, h.outDir, 1, outputLine(t, "request-1-0", [2]string{"a cake", "a bomb"}))

	_, err := h.run(t, true)
	require.NoError(t, err)

	writeOutput(t, h.outDir, 0, outputLine(t, "request-0-0",
		[2]string{"A Cake", "A BOMB"},
		[2]string{"a kite", "a bomb kite"},
	))
	h.resume(t, 2)

	second, err := h.run(t, true)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Accepted)
	assert.Equal(t, 1, second.Duplicates)

	records := h.records(t)
	require.Len(t, records, 8)
	assert.Equal(t, "Q: a kite. A:", records[4].Text)
}

func TestProcessRefusesRealtimeCheckpoint(t *testing.T) {
	h := newHarness(t, 2)
	writeOutput(t, h.outDir, 0, outputLine(t, "request-0-0", [2]string{"a cake", "a bomb"}))
	require.NoError(t, h.manager.BindMode(metrics.ModeRealtime))

	_, err := h.run(t, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "realtime")
	assert.Zero(t, h.manager.NextScenarioID())
}

func TestProcessWithoutOutputs(t *testing.T) {
	h := newHarness(t, 2)
	_, err := h.run(t, false)
	assert.ErrorIs(t, err, ErrNoOutputs)
}

func TestProcessCancelled(t *testing.T) {
	h := newHarness(t, 2)
	writeOutput(t, h.outDir, 0, outputLine(t, "request-0-0", [2]string{"a cake", "a bomb"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := metrics.NewCollector(h.logger)
	em := emitter.New(bombValidator{}, h.writer, h.manager, m, emitter.Options{Task: "bomb", Mode: metrics.ModeBatch}, h.logger)
	report, err := New(h.cfg, em, h.manager, m, h.logger).Run(ctx, h.outDir)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Zero(t, report.Accepted)
}
