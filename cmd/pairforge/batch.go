package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lamim/pairforge/internal/batch"
	"github.com/lamim/pairforge/internal/generator"
	"github.com/lamim/pairforge/internal/metrics"
	"github.com/lamim/pairforge/internal/processor"
	"github.com/lamim/pairforge/internal/tokenizer"
)

var (
	batchRequests  int
	statusNoUpdate bool
)

// promptEncoding is used only to estimate request cost
const promptEncoding = "o200k_base"

func newBatchCmd() *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Generate scenarios with the Batch API",
		Long: `Bulk generation in five re-runnable steps:
1. build    write request_batch<n>.jsonl files
2. submit   upload each file and create a batch
3. status   refresh and show batch states
4. fetch    download outputs of completed batches
5. process  validate outputs and append accepted scenarios`,
	}

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Write batch request files",
		Args:  cobra.NoArgs,
		RunE:  runBatchBuild,
	}
	buildCmd.Flags().IntVar(&batchRequests, "requests", 0, "Total requests (overrides batch.total_requests)")

	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload request files and create batches",
		Args:  cobra.NoArgs,
		RunE:  runBatchSubmit,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Refresh and show batch states",
		Args:  cobra.NoArgs,
		RunE:  runBatchStatus,
	}
	statusCmd.Flags().BoolVar(&statusNoUpdate, "no-refresh", false, "Show recorded states without querying the provider")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download outputs of completed batches",
		Args:  cobra.NoArgs,
		RunE:  runBatchFetch,
	}

	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Validate downloaded outputs and write accepted scenarios",
		Args:  cobra.NoArgs,
		RunE:  runBatchProcess,
	}

	batchCmd.AddCommand(buildCmd, submitCmd, statusCmd, fetchCmd, processCmd)
	return batchCmd
}

func runBatchBuild(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	total := a.cfg.Batch.TotalRequests
	if batchRequests > 0 {
		total = batchRequests
	}
	if total == 0 {
		return fmt.Errorf("set batch.total_requests or pass --requests")
	}

	perRequest := a.cfg.Generation.ScenariosPerRequest
	if a.task.BatchSize > 0 {
		perRequest = a.task.BatchSize
	}
	messages, err := generator.Messages(a.cfg.PromptTemplates.BatchSystemPrompt, "", a.task, perRequest)
	if err != nil {
		return err
	}

	opts := batch.BuildOptions{
		TotalRequests:   total,
		RequestsPerFile: a.cfg.Batch.RequestsPerFile,
		Endpoint:        a.cfg.Batch.Endpoint,
		Model:           a.cfg.Models["main"],
	}
	plan, err := batch.Build(a.ws.RequestDir(), messages, opts, tokenizer.NewCounter(promptEncoding),
		a.cfg.Pricing, a.logger.With("component", "batch"))
	if err != nil {
		return err
	}

	fmt.Printf("Wrote %d request files (%d requests) to %s\n", len(plan.Files), plan.Requests, a.ws.RequestDir())
	fmt.Printf("Prompt tokens: ~%d per request, ~%d total\n", plan.PromptTokens, plan.EstimatedTokens)
	fmt.Printf("Estimated cost: $%.2f (prompts only) to $%.2f (every completion at max_output_tokens)\n",
		plan.MinCost, plan.MaxCost)
	return nil
}

func (a *app) batchClient() (batch.API, error) {
	apiKey, err := a.apiKey()
	if err != nil {
		return nil, err
	}
	return a.apiClient().Batches(a.cfg.Models["main"].BaseURL, apiKey), nil
}

func runBatchSubmit(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	client, err := a.batchClient()
	if err != nil {
		return err
	}
	store, err := batch.LoadStore(a.ws.RequestDir())
	if err != nil {
		return err
	}

	opts := batch.SubmitOptions{
		Task:             a.cfg.Generation.Task,
		Endpoint:         a.cfg.Batch.Endpoint,
		CompletionWindow: a.cfg.Batch.CompletionWindow,
	}
	result, err := batch.Submit(a.ctx, client, store, a.ws.RequestDir(), opts, a.logger.With("component", "batch"))
	if err != nil {
		return interrupted(err, "submit")
	}

	fmt.Printf("Submitted %d, already submitted %d, adopted %d, failed %d\n",
		result.Submitted, result.Skipped, result.Adopted, result.Failed)
	fmt.Printf("Batch metadata: %s\n", store.Path())
	if result.Failed > 0 {
		return fmt.Errorf("%d batch files failed to submit; re-run to retry them", result.Failed)
	}
	return nil
}

func runBatchStatus(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	store, err := batch.LoadStore(a.ws.RequestDir())
	if err != nil {
		return err
	}
	if len(store.All()) == 0 {
		fmt.Println("No batches submitted yet. Run batch submit first.")
		return nil
	}

	if !statusNoUpdate {
		client, err := a.batchClient()
		if err != nil {
			return err
		}
		result, err := batch.Poll(a.ctx, client, store, a.cfg.Batch.PollConcurrency, a.logger.With("component", "batch"))
		if err != nil {
			return interrupted(err, "status")
		}
		if result.Failed > 0 {
			a.logger.Warn("Some batches could not be refreshed", "failed", result.Failed)
		}
	}

	a.metrics.SetBatchStatuses(store.StatusCounts())
	batch.RenderStatus(os.Stdout, store.All())

	completed := len(batch.Completed(store.All()))
	fmt.Printf("\n%d of %d batches completed\n", completed, len(store.All()))
	return nil
}

func runBatchFetch(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	client, err := a.batchClient()
	if err != nil {
		return err
	}
	store, err := batch.LoadStore(a.ws.RequestDir())
	if err != nil {
		return err
	}

	result, err := batch.Fetch(a.ctx, client, store, a.ws.OutputDir(), a.cfg.Batch.PollConcurrency,
		a.logger.With("component", "batch"))
	if err != nil {
		return interrupted(err, "fetch")
	}

	fmt.Printf("Downloaded %d, already present %d, not completed %d, failed %d\n",
		result.Downloaded, result.Skipped, result.Pending, result.Failed)
	if result.Failed > 0 {
		return fmt.Errorf("%d batch outputs failed to download; re-run to retry them", result.Failed)
	}
	return nil
}

func runBatchProcess(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	em, err := a.openEmission(metrics.ModeBatch)
	if err != nil {
		return err
	}
	defer em.close(a.logger)

	proc := processor.New(a.cfg, em.emitter, em.checkpoint, a.metrics, a.logger.With("component", "processor"))
	report, err := proc.Run(a.ctx, a.ws.OutputDir())
	if report != nil {
		printReport("Batch processing", report)
	}
	if err != nil {
		return interrupted(err, "process")
	}

	a.logger.Info("Dataset written", "path", a.ws.DatasetPath(), "scenarios", report.Accepted)
	return nil
}

// interrupted turns cancellation into a short message; other errors pass through
func interrupted(err error, step string) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("batch %s interrupted; re-run to continue", step)
	}
	return fmt.Errorf("batch %s failed: %w", step, err)
}
