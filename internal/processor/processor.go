// Package processor turns downloaded batch outputs into dataset records.
// Bad lines and unparseable responses are counted and skipped.
package processor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/lamim/pairforge/internal/api"
	"github.com/lamim/pairforge/internal/batch"
	"github.com/lamim/pairforge/internal/candidates"
	"github.com/lamim/pairforge/internal/checkpoint"
	"github.com/lamim/pairforge/internal/config"
	"github.com/lamim/pairforge/internal/emitter"
	"github.com/lamim/pairforge/internal/metrics"
	"github.com/lamim/pairforge/internal/util"
	"github.com/lamim/pairforge/pkg/models"
)

// maxLineSize bounds one output line; a completion with usage metadata fits easily
const maxLineSize = 10 * 1024 * 1024

// ErrNoOutputs is returned when the output directory holds no batch outputs
var ErrNoOutputs = errors.New("no batch output files")

// Processor reads output_batch<n>.jsonl files in order and emits accepted
// scenarios until the target is reached
type Processor struct {
	cfg        *config.Config
	emitter    *emitter.Emitter
	checkpoint *checkpoint.Manager
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// New creates a processor. Progress through the outputs is kept per response
// in the checkpoint, so outputs fetched in any order resume exactly.
func New(
	cfg *config.Config,
	em *emitter.Emitter,
	cp *checkpoint.Manager,
	m *metrics.Collector,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		cfg:        cfg,
		emitter:    em,
		checkpoint: cp,
		metrics:    m,
		logger:     logger,
	}
}

type pass struct {
	p      *Processor
	report *models.RunReport
	total  int
	bar    *progressbar.ProgressBar
}

// Run processes every output file in outDir. Running out of input before the
// target is a shortfall, not an error.
func (p *Processor) Run(ctx context.Context, outDir string) (*models.RunReport, error) {
	if err := p.checkpoint.BindMode(metrics.ModeBatch); err != nil {
		return nil, err
	}

	start := time.Now()
	target := p.cfg.Generation.TargetScenarios
	already := p.checkpoint.NextScenarioID()

	files, err := batch.OutputFiles(outDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s; run batch fetch first", ErrNoOutputs, outDir)
	}

	r := &pass{
		p: p,
		report: &models.RunReport{
			Target:        target,
			Resumed:       already,
			RejectReasons: make(map[string]int),
		},
		total: already,
	}

	p.logger.Info("Processing batch outputs",
		"files", len(files),
		"target", target,
		"already_emitted", already)

	r.bar = progressbar.Default(int64(target), "Processing batch outputs")
	_ = r.bar.Set(min(already, target))

	err = r.prime(ctx, files)
	for _, path := range files {
		if err != nil || r.total >= target {
			break
		}
		err = r.processFile(ctx, path)
	}
	_ = r.bar.Finish()

	if saveErr := p.checkpoint.SaveSync(); saveErr != nil {
		p.logger.Error("Failed to save final checkpoint", "error", saveErr)
		if err == nil {
			err = fmt.Errorf("failed to save final checkpoint: %w", saveErr)
		}
	}

	cp := p.checkpoint.GetCheckpoint()
	r.report.Accepted = r.total
	r.report.Shortfall = max(0, target-r.total)
	r.report.Cost = cp.CostAccumulator
	r.report.Duration = time.Since(start)
	p.metrics.SetProgress(metrics.ModeBatch, r.total, cp.CostAccumulator)

	if err != nil {
		return r.report, err
	}

	if r.report.Shortfall > 0 {
		p.logger.Warn("Batch outputs exhausted before target",
			"accepted", r.total,
			"target", target,
			"shortfall", r.report.Shortfall)
	}

	p.logger.Info("Batch processing finished",
		"accepted", r.total,
		"target", target,
		"responses", r.report.Attempts,
		"candidates", r.report.Candidates,
		"rejected", r.report.Rejected,
		"parse_errors", r.report.ParseErrors,
		"success_rate", fmt.Sprintf("%.1f%%", r.report.SuccessRate()),
		"cost", fmt.Sprintf("$%.4f", r.report.Cost),
		"duration", r.report.Duration)

	return r.report, nil
}

// prime feeds pairs handled by earlier runs to the deduplicator, so it sees
// them before any new response whatever file order the outputs arrived in
func (r *pass) prime(ctx context.Context, files []string) error {
	if !r.p.checkpoint.HasResponses() {
		return nil
	}
	for _, path := range files {
		err := scanFile(ctx, path, func(line []byte, lineNum int) error {
			customID, content, _, err := api.ParseBatchOutputLine(line)
			if err != nil {
				return nil
			}
			n, _ := r.p.checkpoint.ResponseCursor(responseKey(customID, path, lineNum))
			if n == 0 {
				return nil
			}
			result, err := candidates.Parse(content)
			if err != nil {
				return nil
			}
			r.p.emitter.Remember(result.Pairs[:min(n, len(result.Pairs))]...)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *pass) processFile(ctx context.Context, path string) error {
	r.p.logger.Debug("Processing output file", "file", filepath.Base(path))
	return scanFile(ctx, path, func(line []byte, lineNum int) error {
		if r.total >= r.report.Target {
			return errDone
		}
		return r.processLine(line, path, lineNum)
	})
}

// errDone stops a scan early without failing it
var errDone = errors.New("done")

// scanFile calls fn for each non-empty line of path
func scanFile(ctx context.Context, path string, fn func(line []byte, lineNum int) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if err := fn(scanner.Bytes(), lineNum); err != nil {
			if errors.Is(err, errDone) {
				return nil
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// responseKey identifies a response across runs. Lines without a custom id
// fall back to their position.
func responseKey(customID, path string, lineNum int) string {
	if customID != "" {
		return customID
	}
	return fmt.Sprintf("%s:%d", filepath.Base(path), lineNum)
}

// processLine handles one response. Only emitter and checkpoint failures are returned.
func (r *pass) processLine(line []byte, path string, lineNum int) error {
	p := r.p
	file := filepath.Base(path)

	customID, content, usage, err := api.ParseBatchOutputLine(line)
	key := responseKey(customID, path, lineNum)

	// A seen response was charged and counted by the run that first read it
	handled, seen := p.checkpoint.ResponseCursor(key)
	if !seen {
		r.report.Attempts++
		p.checkpoint.AddCost(api.Cost(usage, p.cfg.Pricing, true), usage.TotalTokens)
		p.checkpoint.SetResponseCursor(key, 0)
	}

	if err != nil {
		if !seen {
			r.report.ParseErrors++
			p.metrics.RecordParseError(metrics.ModeBatch)
			p.logger.Warn("Skipping output line", "file", file, "line", lineNum, "error", err)
		}
		return nil
	}

	result, err := candidates.Parse(content)
	if err != nil {
		if !seen {
			r.report.ParseErrors++
			p.metrics.RecordParseError(metrics.ModeBatch)
			p.logger.Warn("Unparseable response",
				"custom_id", customID,
				"error", err,
				"content", util.TruncateString(content, 200))
		}
		return nil
	}
	if !seen {
		r.report.MalformedPairs += result.Malformed
	}

	for i, pair := range result.Pairs {
		if r.total >= r.report.Target {
			return nil
		}
		if i < handled {
			r.report.Skipped++
			continue
		}

		// The cursor moves before the offer so an accepted pair is saved with it
		p.checkpoint.SetResponseCursor(key, i+1)
		outcome, vr, err := p.emitter.Offer(pair)
		if err != nil {
			p.checkpoint.SetResponseCursor(key, i)
			return err
		}

		r.report.Candidates++
		switch outcome {
		case emitter.Accepted:
			r.total++
			_ = r.bar.Add(1)
		case emitter.Rejected:
			r.report.Rejected++
			r.report.RejectReasons[vr.Reason]++
		case emitter.Duplicate:
			r.report.Duplicates++
		}
	}
	return nil
}
