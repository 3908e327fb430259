package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lamim/pairforge/internal/api"
	"github.com/lamim/pairforge/internal/checkpoint"
	"github.com/lamim/pairforge/internal/config"
	"github.com/lamim/pairforge/internal/emitter"
	"github.com/lamim/pairforge/internal/metrics"
	"github.com/lamim/pairforge/internal/tokenizer"
	"github.com/lamim/pairforge/internal/validator"
	"github.com/lamim/pairforge/internal/writer"
	"github.com/lamim/pairforge/pkg/models"
)

// app holds what every command needs
type app struct {
	cfg     *config.Config
	secrets *config.Secrets
	task    *config.TaskConfig
	ws      *writer.Workspace
	logger  *slog.Logger
	logFile *os.File
	metrics *metrics.Collector
	ctx     context.Context
	stop    context.CancelFunc
}

// setup loads env, config and task, prepares the workspace and logger and,
// when requested, starts the metrics server
func setup() (*app, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	task, err := config.LoadTask(cfg.Generation.TaskConfigDir, cfg.Generation.Task)
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	ws, err := writer.NewWorkspace(cfg, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger, logFile, err := writer.SetupLogger(ws, logLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := &app{
		cfg:     cfg,
		secrets: secrets,
		task:    task,
		ws:      ws,
		logger:  logger,
		logFile: logFile,
		metrics: metrics.NewCollector(logger.With("component", "metrics")),
		ctx:     ctx,
		stop:    stop,
	}

	logger.Info("pairforge starting",
		"version", Version,
		"config", configPath,
		"task", cfg.Generation.Task,
		"work_dir", ws.Dir())

	addr := metricsAddr
	if addr == "" {
		addr = cfg.Metrics.ListenAddr
	}
	if addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, addr); err != nil {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	return a, nil
}

func (a *app) close() {
	a.stop()
	if a.logFile != nil {
		_ = a.logFile.Sync()
		_ = a.logFile.Close()
	}
}

func (a *app) apiKey() (string, error) {
	return a.secrets.RequireAPIKey(a.cfg.Models["main"].BaseURL)
}

func (a *app) apiClient() *api.Client {
	return api.NewClient(a.logger.With("component", "api"))
}

// emission is the validate-and-write half shared by generate and batch process
type emission struct {
	checkpoint *checkpoint.Manager
	writer     *writer.DatasetWriter
	emitter    *emitter.Emitter
}

func (e *emission) close(logger *slog.Logger) {
	if err := e.writer.Close(); err != nil {
		logger.Error("failed to close dataset writer", "error", err)
	}
}

// newValidator loads every tokenizer up front so a missing one fails the run
// before any API spend
func (a *app) newValidator() (*validator.Validator, error) {
	registry, err := tokenizer.FromConfig(a.cfg.Tokenizers, tokenizer.Options{
		HuggingFaceToken: a.secrets.HuggingFaceToken,
	}, a.logger.With("component", "tokenizer"))
	if err != nil {
		return nil, err
	}
	if err := registry.Preload(); err != nil {
		return nil, err
	}
	return validator.New(registry, a.cfg.TokenizerNames())
}

// openCheckpoint resumes from the task's checkpoint or starts a new one, and
// trims dataset records the checkpoint does not cover
func (a *app) openCheckpoint() (*checkpoint.Manager, error) {
	cp, err := checkpoint.Load(a.ws.Dir(), a.logger)
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		if info, statErr := os.Stat(a.ws.DatasetPath()); statErr == nil && info.Size() > 0 {
			return nil, fmt.Errorf("dataset %s exists without a checkpoint; move it aside to start over", a.ws.DatasetPath())
		}
		if err := a.ws.BackupConfig(configPath); err != nil {
			return nil, err
		}
		return checkpoint.NewManager(a.ws.Dir(), a.cfg, a.logger.With("component", "checkpoint")), nil
	case err != nil:
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := checkpoint.ValidateCheckpoint(cp, a.cfg); err != nil {
		return nil, fmt.Errorf("checkpoint validation failed: %w", err)
	}

	removed, err := writer.Reconcile(a.ws.DatasetPath(), cp.EmittedIDs, a.logger)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Resuming from checkpoint",
		"next_scenario_id", cp.NextScenarioID,
		"progress", fmt.Sprintf("%.1f%%", checkpoint.GetProgressPercentage(cp, a.cfg.Generation.TargetScenarios)),
		"cost", fmt.Sprintf("$%.4f", cp.CostAccumulator),
		"trimmed_records", removed)

	return checkpoint.NewManagerFromCheckpoint(a.ws.Dir(), cp, a.logger.With("component", "checkpoint")), nil
}

func (a *app) openEmission(mode string) (*emission, error) {
	v, err := a.newValidator()
	if err != nil {
		return nil, err
	}

	cp, err := a.openCheckpoint()
	if err != nil {
		return nil, err
	}
	if err := cp.BindMode(mode); err != nil {
		return nil, err
	}

	w, err := writer.NewDatasetWriter(a.ws.DatasetPath(), a.logger.With("component", "writer"))
	if err != nil {
		return nil, err
	}

	opts := emitter.Options{
		Task:        a.cfg.Generation.Task,
		Templates:   a.task.Framing(),
		Deduplicate: a.cfg.Generation.Deduplicate,
		Mode:        mode,
	}

	return &emission{
		checkpoint: cp,
		writer:     w,
		emitter:    emitter.New(v, w, cp, a.metrics, opts, a.logger.With("component", "emitter")),
	}, nil
}

// printReport writes the run summary to stdout
func printReport(title string, r *models.RunReport) {
	fmt.Println()
	fmt.Println(title)
	fmt.Printf("  Accepted:          %d / %d\n", r.Accepted, r.Target)
	if r.Resumed > 0 {
		fmt.Printf("  From earlier runs: %d\n", r.Resumed)
	}
	fmt.Printf("  Requests:          %d\n", r.Attempts)
	fmt.Printf("  Candidates:        %d (%.1f%% accepted)\n", r.Candidates, r.SuccessRate())
	fmt.Printf("  Rejected:          %d\n", r.Rejected)
	for reason, n := range r.RejectReasons {
		fmt.Printf("    %-28s %d\n", reason, n)
	}
	if r.Duplicates > 0 {
		fmt.Printf("  Duplicates:        %d\n", r.Duplicates)
	}
	fmt.Printf("  Parse errors:      %d (%d malformed pairs)\n", r.ParseErrors, r.MalformedPairs)
	fmt.Printf("  Cost:              $%.4f\n", r.Cost)
	fmt.Printf("  Duration:          %s\n", r.Duration.Round(time.Millisecond))
	if r.Shortfall > 0 {
		fmt.Printf("  Shortfall:         %d scenarios short of target\n", r.Shortfall)
	}
}
