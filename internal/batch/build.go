package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/lamim/pairforge/internal/api"
	"github.com/lamim/pairforge/internal/config"
	"github.com/lamim/pairforge/internal/util"
)

// TokenCounter estimates prompt sizes; *tokenizer.Counter implements it
type TokenCounter interface {
	Count(text string) int
}

// BuildOptions controls how requests are split into files
type BuildOptions struct {
	TotalRequests   int
	RequestsPerFile int
	Endpoint        string
	Model           config.ModelConfig
}

// Plan summarizes the request files written by Build
type Plan struct {
	Files           []string
	Requests        int
	PromptTokens    int // per request
	EstimatedTokens int // prompt tokens across all requests
	MinCost         float64
	MaxCost         float64
}

// Build writes request_batch<n>.jsonl files into dir. Every request carries
// the same messages; only custom_id varies. Files left over from a larger
// earlier build are removed so the directory matches the plan exactly.
func Build(dir string, messages []api.Message, opts BuildOptions, counter TokenCounter,
	pricing config.PricingConfig, logger *slog.Logger) (*Plan, error) {
	if opts.TotalRequests <= 0 {
		return nil, fmt.Errorf("total requests must be positive (got %d)", opts.TotalRequests)
	}
	if opts.RequestsPerFile <= 0 {
		return nil, fmt.Errorf("requests per file must be positive (got %d)", opts.RequestsPerFile)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create request directory: %w", err)
	}

	body := api.NewChatRequest(opts.Model, messages)
	numFiles := (opts.TotalRequests + opts.RequestsPerFile - 1) / opts.RequestsPerFile

	plan := &Plan{Requests: opts.TotalRequests}
	remaining := opts.TotalRequests
	for n := 0; n < numFiles; n++ {
		count := min(opts.RequestsPerFile, remaining)
		remaining -= count

		data, err := encodeRequestFile(n, count, opts.Endpoint, body)
		if err != nil {
			return nil, err
		}

		path := filepath.Join(dir, RequestFileName(n))
		if err := util.WriteFileAtomic(path, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		plan.Files = append(plan.Files, path)

		logger.Debug("Request file written", "file", filepath.Base(path), "requests", count)
	}

	if err := removeStale(dir, numFiles, logger); err != nil {
		return nil, err
	}

	for _, m := range messages {
		plan.PromptTokens += counter.Count(m.Content)
	}
	plan.EstimatedTokens = plan.PromptTokens * plan.Requests

	minUsage := api.Usage{PromptTokens: plan.EstimatedTokens}
	maxUsage := api.Usage{
		PromptTokens:     plan.EstimatedTokens,
		CompletionTokens: opts.Model.MaxOutputTokens * plan.Requests,
	}
	plan.MinCost = api.Cost(minUsage, pricing, true)
	plan.MaxCost = api.Cost(maxUsage, pricing, true)

	logger.Info("Batch requests built",
		"files", len(plan.Files),
		"requests", plan.Requests,
		"prompt_tokens", plan.EstimatedTokens,
		"estimated_cost", fmt.Sprintf("$%.2f-$%.2f", plan.MinCost, plan.MaxCost))

	return plan, nil
}

func encodeRequestFile(n, count int, endpoint string, body api.ChatCompletionRequest) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for r := 0; r < count; r++ {
		line := api.BatchRequestLine{
			CustomID: CustomID(n, r),
			Method:   http.MethodPost,
			URL:      endpoint,
			Body:     body,
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("failed to encode request %s: %w", line.CustomID, err)
		}
	}
	return buf.Bytes(), nil
}

// removeStale deletes request files numbered keep and above
func removeStale(dir string, keep int, logger *slog.Logger) error {
	files, err := RequestFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		n, _ := RequestFileIndex(path)
		if n < keep {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove stale request file: %w", err)
		}
		logger.Debug("Removed stale request file", "file", filepath.Base(path))
	}
	return nil
}
