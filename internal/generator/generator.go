// Package generator implements the real-time backend: one request at a time
// until the target is met or the attempt ceiling is hit.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/lamim/pairforge/internal/api"
	"github.com/lamim/pairforge/internal/candidates"
	"github.com/lamim/pairforge/internal/checkpoint"
	"github.com/lamim/pairforge/internal/config"
	"github.com/lamim/pairforge/internal/emitter"
	"github.com/lamim/pairforge/internal/metrics"
	"github.com/lamim/pairforge/pkg/models"
)

type state int

const (
	stateRequesting state = iota
	stateValidating
	stateAccepted
	stateRejected
	stateDone
)

func (s state) String() string {
	switch s {
	case stateRequesting:
		return "requesting"
	case stateValidating:
		return "validating"
	case stateAccepted:
		return "accepted"
	case stateRejected:
		return "rejected"
	case stateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Generator drives the real-time generation loop
type Generator struct {
	cfg        *config.Config
	source     Source
	emitter    *emitter.Emitter
	checkpoint *checkpoint.Manager
	metrics    *metrics.Collector
	backoff    Backoff
	sleep      func(context.Context, time.Duration) error
	logger     *slog.Logger
}

// New creates a generator
func New(
	cfg *config.Config,
	source Source,
	em *emitter.Emitter,
	cp *checkpoint.Manager,
	m *metrics.Collector,
	logger *slog.Logger,
) *Generator {
	return &Generator{
		cfg:        cfg,
		source:     source,
		emitter:    em,
		checkpoint: cp,
		metrics:    m,
		backoff:    NewBackoff(cfg.Retry),
		sleep:      sleepContext,
		logger:     logger,
	}
}

// run holds the mutable state of one Run call
type run struct {
	g           *Generator
	report      *models.RunReport
	total       int // scenarios in the dataset
	consecutive int // rejected requests in a row
	failures    int // failed requests in a row, drives backoff
	proposal    Proposal
	lastErr     error
	bar         *progressbar.ProgressBar
}

// Run loops Requesting -> Validating -> Accepted|Rejected -> Requesting until
// the target is reached or max_attempts requests were made. Every transition
// back to Requesting passes through a request, and every request increments
// Attempts, so the loop ends after at most max_attempts requests.
//
// A shortfall is reported, not returned as an error. Errors are fatal:
// cancellation, rejected credentials, tokenizer failures and write failures.
func (g *Generator) Run(ctx context.Context) (*models.RunReport, error) {
	if err := g.checkpoint.BindMode(metrics.ModeRealtime); err != nil {
		return nil, err
	}

	start := time.Now()
	target := g.cfg.Generation.TargetScenarios
	already := g.checkpoint.NextScenarioID()

	r := &run{
		g: g,
		report: &models.RunReport{
			Target:        target,
			Resumed:       already,
			RejectReasons: make(map[string]int),
		},
		total: already,
	}

	g.logger.Info("Starting real-time generation",
		"target", target,
		"already_emitted", already,
		"max_attempts", g.cfg.Generation.MaxAttempts,
		"scenarios_per_request", g.cfg.Generation.ScenariosPerRequest)

	r.bar = progressbar.Default(int64(target), "Generating scenarios")
	_ = r.bar.Set(min(already, target))

	err := r.loop(ctx)
	_ = r.bar.Finish()

	if saveErr := g.checkpoint.SaveSync(); saveErr != nil {
		g.logger.Error("Failed to save final checkpoint", "error", saveErr)
		if err == nil {
			err = fmt.Errorf("failed to save final checkpoint: %w", saveErr)
		}
	}

	cp := g.checkpoint.GetCheckpoint()
	r.report.Accepted = r.total
	r.report.Shortfall = max(0, target-r.total)
	r.report.Cost = cp.CostAccumulator
	r.report.Duration = time.Since(start)
	g.metrics.SetProgress(metrics.ModeRealtime, r.total, cp.CostAccumulator)

	if err != nil {
		return r.report, err
	}

	if r.report.Shortfall > 0 {
		g.logger.Warn("Attempt ceiling reached before target",
			"accepted", r.total,
			"target", target,
			"shortfall", r.report.Shortfall,
			"attempts", r.report.Attempts)
	}

	g.logger.Info("Real-time generation finished",
		"accepted", r.total,
		"target", target,
		"attempts", r.report.Attempts,
		"candidates", r.report.Candidates,
		"rejected", r.report.Rejected,
		"success_rate", fmt.Sprintf("%.1f%%", r.report.SuccessRate()),
		"cost", fmt.Sprintf("$%.4f", r.report.Cost),
		"duration", r.report.Duration)

	return r.report, nil
}

func (r *run) loop(ctx context.Context) error {
	st := stateRequesting
	for st != stateDone {
		var err error
		switch st {
		case stateRequesting:
			st, err = r.request(ctx)
		case stateValidating:
			st, err = r.validate()
		case stateAccepted:
			st = r.accepted()
		case stateRejected:
			st, err = r.rejected(ctx)
		}
		if err != nil {
			return err
		}
		r.g.logger.Debug("Generator state", "state", st, "accepted", r.total, "attempts", r.report.Attempts)
	}
	return nil
}

func (r *run) request(ctx context.Context) (state, error) {
	g := r.g
	if r.total >= r.report.Target || r.report.Attempts >= g.cfg.Generation.MaxAttempts {
		return stateDone, nil
	}
	if err := ctx.Err(); err != nil {
		return stateDone, err
	}

	r.report.Attempts++
	proposal, err := g.source.Propose(ctx, g.cfg.Generation.ScenariosPerRequest)

	cost := api.Cost(proposal.Usage, g.cfg.Pricing, false)
	g.checkpoint.AddCost(cost, proposal.Usage.TotalTokens)

	if err != nil {
		if isFatal(ctx, err) {
			return stateDone, err
		}
		if errors.Is(err, candidates.ErrUnparseable) {
			r.report.ParseErrors++
			g.metrics.RecordParseError(metrics.ModeRealtime)
		}
		g.logger.Warn("Generation request failed",
			"attempt", r.report.Attempts,
			"error", err)
		r.lastErr = err
		return stateRejected, nil
	}

	r.lastErr = nil
	r.proposal = proposal
	return stateValidating, nil
}

func (r *run) validate() (state, error) {
	acceptedBefore := r.total
	r.report.MalformedPairs += r.proposal.Malformed

	for _, pair := range r.proposal.Pairs {
		if r.total >= r.report.Target {
			break
		}
		r.report.Candidates++

		outcome, result, err := r.g.emitter.Offer(pair)
		if err != nil {
			return stateDone, err
		}

		switch outcome {
		case emitter.Accepted:
			r.total++
			_ = r.bar.Add(1)
			r.logProgress()
		case emitter.Rejected:
			r.report.Rejected++
			r.report.RejectReasons[result.Reason]++
		case emitter.Duplicate:
			r.report.Duplicates++
		}
	}

	if r.total > acceptedBefore {
		return stateAccepted, nil
	}
	return stateRejected, nil
}

func (r *run) accepted() state {
	r.consecutive = 0
	r.failures = 0
	return stateRequesting
}

func (r *run) rejected(ctx context.Context) (state, error) {
	g := r.g
	r.consecutive++
	if r.consecutive >= g.cfg.Generation.MaxConsecutiveFailures {
		g.logger.Warn("Consecutive rejected requests",
			"count", r.consecutive,
			"accepted", r.total,
			"target", r.report.Target,
			"attempts", r.report.Attempts)
		r.consecutive = 0
	}

	if r.lastErr == nil {
		return stateRequesting, nil
	}

	r.failures++
	delay := g.backoff.Delay(r.failures)
	g.logger.Debug("Backing off", "failures", r.failures, "delay", delay)
	if err := g.sleep(ctx, delay); err != nil {
		return stateDone, err
	}
	return stateRequesting, nil
}

func (r *run) logProgress() {
	interval := r.g.cfg.Generation.CheckpointInterval
	if interval <= 0 || r.total%interval != 0 {
		return
	}
	cp := r.g.checkpoint.GetCheckpoint()
	r.g.metrics.SetProgress(metrics.ModeRealtime, r.total, cp.CostAccumulator)
	r.g.logger.Info("Progress",
		"accepted", r.total,
		"target", r.report.Target,
		"rejected", r.report.Rejected,
		"success_rate", fmt.Sprintf("%.1f%%", r.report.SuccessRate()),
		"cost", fmt.Sprintf("$%.4f", cp.CostAccumulator))
}

// isFatal reports errors that retrying cannot fix
func isFatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrPrompt) {
		return true
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}
