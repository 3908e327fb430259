package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lamim/pairforge/internal/generator"
	"github.com/lamim/pairforge/internal/metrics"
)

func runGenerate(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	apiKey, err := a.apiKey()
	if err != nil {
		return err
	}

	em, err := a.openEmission(metrics.ModeRealtime)
	if err != nil {
		return err
	}
	defer em.close(a.logger)

	source := generator.NewLLMSource(a.apiClient(), a.cfg, apiKey, a.task, a.metrics,
		a.logger.With("component", "source"))
	gen := generator.New(a.cfg, source, em.emitter, em.checkpoint, a.metrics,
		a.logger.With("component", "generator"))

	report, err := gen.Run(a.ctx)
	if report != nil {
		printReport("Real-time generation", report)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Warn("Generation interrupted; re-run to resume from checkpoint",
				"checkpoint", em.checkpoint.Path())
			return fmt.Errorf("generation interrupted")
		}
		return fmt.Errorf("generation failed: %w", err)
	}

	a.logger.Info("Dataset written", "path", a.ws.DatasetPath(), "scenarios", report.Accepted)
	return nil
}
