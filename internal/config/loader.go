package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return cfg, secrets, nil
}

// Parse decodes TOML bytes, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.ValidateInputs(); err != nil {
		return nil, fmt.Errorf("input validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Generation.TaskConfigDir == "" {
		cfg.Generation.TaskConfigDir = "config"
	}
	if cfg.Generation.ScenariosPerRequest == 0 {
		cfg.Generation.ScenariosPerRequest = 10
	}
	if cfg.Generation.MaxAttempts == 0 {
		// Generous ceiling: validation rejects most candidates
		cfg.Generation.MaxAttempts = max(20, cfg.Generation.TargetScenarios*10)
	}
	if cfg.Generation.MaxConsecutiveFailures == 0 {
		cfg.Generation.MaxConsecutiveFailures = 5
	}
	if cfg.Generation.CheckpointInterval == 0 {
		cfg.Generation.CheckpointInterval = 50
	}
	if cfg.Generation.WorkDir == "" {
		cfg.Generation.WorkDir = "output"
	}
	if cfg.Generation.OutputFile == "" {
		cfg.Generation.OutputFile = "dataset.jsonl"
	}

	if cfg.Retry.BaseDelaySeconds == 0 {
		cfg.Retry.BaseDelaySeconds = 4
	}
	if cfg.Retry.MaxDelaySeconds == 0 {
		cfg.Retry.MaxDelaySeconds = 60
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2
	}

	if cfg.Models == nil {
		cfg.Models = make(map[string]ModelConfig)
	}
	if _, ok := cfg.Models["main"]; !ok {
		cfg.Models["main"] = ModelConfig{
			BaseURL:   "https://api.openai.com/v1",
			ModelName: "gpt-4o",
		}
	}
	for name, model := range cfg.Models {
		if model.Temperature == 0 {
			model.Temperature = 0.8
		}
		if model.TopP == 0 {
			model.TopP = 1.0
		}
		if model.MaxOutputTokens == 0 {
			model.MaxOutputTokens = 2048
		}
		if model.RateLimitPerMinute == 0 {
			model.RateLimitPerMinute = 60
		}
		// 0 means unset; -1 disables HTTP-level retries
		if model.MaxRetries == 0 {
			model.MaxRetries = 3
		}
		if model.HTTPTimeoutSeconds == 0 {
			model.HTTPTimeoutSeconds = 120
		}
		cfg.Models[name] = model
	}

	// gpt-4o list prices
	if cfg.Pricing.InputPer1K == 0 && cfg.Pricing.OutputPer1K == 0 {
		cfg.Pricing.InputPer1K = 0.0025
		cfg.Pricing.OutputPer1K = 0.01
	}
	if cfg.Pricing.BatchDiscount == 0 {
		cfg.Pricing.BatchDiscount = 0.5
	}

	if cfg.Batch.RequestsPerFile == 0 {
		cfg.Batch.RequestsPerFile = 50
	}
	if cfg.Batch.CompletionWindow == "" {
		cfg.Batch.CompletionWindow = "24h"
	}
	if cfg.Batch.Endpoint == "" {
		cfg.Batch.Endpoint = "/v1/chat/completions"
	}
	if cfg.Batch.RequestDir == "" {
		cfg.Batch.RequestDir = "batch_requests"
	}
	if cfg.Batch.OutputDir == "" {
		cfg.Batch.OutputDir = "batch_outputs"
	}
	if cfg.Batch.PollConcurrency == 0 {
		cfg.Batch.PollConcurrency = 4
	}

	if len(cfg.Tokenizers) == 0 {
		cfg.Tokenizers = DefaultTokenizers()
	}

	if cfg.PromptTemplates.RealtimeSystemPrompt == "" {
		cfg.PromptTemplates.RealtimeSystemPrompt = GetDefaultRealtimeSystemPrompt()
	}
	if cfg.PromptTemplates.RealtimeUserPrompt == "" {
		cfg.PromptTemplates.RealtimeUserPrompt = GetDefaultRealtimeUserPrompt()
	}
	if cfg.PromptTemplates.BatchSystemPrompt == "" {
		cfg.PromptTemplates.BatchSystemPrompt = GetDefaultBatchSystemPrompt()
	}
}

// DefaultTokenizers returns the three tokenizers scenarios are validated against
func DefaultTokenizers() []TokenizerConfig {
	return []TokenizerConfig{
		{Name: "qwen2", Backend: BackendHuggingFace, Repo: "Qwen/Qwen1.5-14B-Chat"},
		{Name: "llama3", Backend: BackendHuggingFace, Repo: "meta-llama/Llama-3.1-8B-Instruct"},
		{Name: "solar", Backend: BackendHuggingFace, Repo: "upstage/SOLAR-10.7B-v1.0"},
	}
}

// TokenizerNames returns the configured tokenizer names in order
func (c *Config) TokenizerNames() []string {
	names := make([]string, len(c.Tokenizers))
	for i, tc := range c.Tokenizers {
		names[i] = tc.Name
	}
	return names
}
