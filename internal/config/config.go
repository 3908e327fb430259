package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ErrMissingCredentials is returned when a required secret is not set
var ErrMissingCredentials = errors.New("missing credentials")

// Config represents the complete application configuration
type Config struct {
	Generation      GenerationConfig       `toml:"generation"`
	Retry           RetryConfig            `toml:"retry"`
	Models          map[string]ModelConfig `toml:"models"`
	Pricing         PricingConfig          `toml:"pricing"`
	Batch           BatchConfig            `toml:"batch"`
	Tokenizers      []TokenizerConfig      `toml:"tokenizers"`
	PromptTemplates PromptTemplates        `toml:"prompt_templates"`
	Metrics         MetricsConfig          `toml:"metrics"`
}

// GenerationConfig holds generation-specific settings
type GenerationConfig struct {
	Task                   string `toml:"task"`
	TaskConfigDir          string `toml:"task_config_dir"`          // Directory holding tasks/<task>.yaml
	TargetScenarios        int    `toml:"target_scenarios"`         // Number of valid scenarios to emit
	ScenariosPerRequest    int    `toml:"scenarios_per_request"`    // Candidate pairs asked for per API call
	MaxAttempts            int    `toml:"max_attempts"`             // Ceiling on API requests in real-time mode
	MaxConsecutiveFailures int    `toml:"max_consecutive_failures"` // Rejections in a row before a warning (default: 5)
	CheckpointInterval     int    `toml:"checkpoint_interval"`      // Log a progress summary every N accepted scenarios
	Deduplicate            bool   `toml:"deduplicate"`              // Drop repeated candidate pairs (case-insensitive)
	WorkDir                string `toml:"work_dir"`                 // Root for dataset, checkpoint and logs (default: output)
	OutputFile             string `toml:"output_file"`              // Dataset filename inside work_dir
}

// RetryConfig is the backoff schedule used after rejected or failed attempts
type RetryConfig struct {
	BaseDelaySeconds float64 `toml:"base_delay_seconds"`
	MaxDelaySeconds  float64 `toml:"max_delay_seconds"`
	Multiplier       float64 `toml:"multiplier"`
}

// ModelConfig represents configuration for a single model endpoint
type ModelConfig struct {
	BaseURL            string  `toml:"base_url"`
	ModelName          string  `toml:"model_name"`
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"`
	MaxRetries         int     `toml:"max_retries"`          // HTTP-level retries for transient errors (default 3)
	HTTPTimeoutSeconds int     `toml:"http_timeout_seconds"` // HTTP request timeout (default 120)
	UseJSONMode        bool    `toml:"use_json_mode"`        // Request response_format json_object
}

// PricingConfig holds per-1K-token prices used for the cost accumulator
type PricingConfig struct {
	InputPer1K    float64 `toml:"input_per_1k"`
	OutputPer1K   float64 `toml:"output_per_1k"`
	BatchDiscount float64 `toml:"batch_discount"` // Fraction taken off batch requests (0.5 = 50%)
}

// BatchConfig holds Batch API pipeline settings
type BatchConfig struct {
	TotalRequests    int    `toml:"total_requests"`
	RequestsPerFile  int    `toml:"requests_per_file"`
	CompletionWindow string `toml:"completion_window"`
	Endpoint         string `toml:"endpoint"`
	RequestDir       string `toml:"request_dir"`
	OutputDir        string `toml:"output_dir"`
	PollConcurrency  int    `toml:"poll_concurrency"`
}

// TokenizerConfig names one tokenizer the validator checks against
type TokenizerConfig struct {
	Name     string `toml:"name"`
	Backend  string `toml:"backend"`  // huggingface or tiktoken
	Repo     string `toml:"repo"`     // HuggingFace repository id
	Encoding string `toml:"encoding"` // tiktoken encoding name
	Revision string `toml:"revision"`
}

// PromptTemplates holds the customizable generation prompts
type PromptTemplates struct {
	RealtimeSystemPrompt string `toml:"realtime_system_prompt"`
	RealtimeUserPrompt   string `toml:"realtime_user_prompt"`
	BatchSystemPrompt    string `toml:"batch_system_prompt"`
}

// MetricsConfig controls the optional Prometheus endpoint
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKeys          map[string]string
	HuggingFaceToken string
}

const (
	// MaxTargetScenarios is the maximum allowed target
	MaxTargetScenarios = 1_000_000
	// MaxScenariosPerRequest bounds the candidates asked for in one call
	MaxScenariosPerRequest = 200
	// MaxRequestsPerFile is the provider's per-file request limit
	MaxRequestsPerFile = 50_000
)

// Tokenizer backends
const (
	BackendHuggingFace = "huggingface"
	BackendTiktoken    = "tiktoken"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Generation.Task == "" {
		return fmt.Errorf("generation.task is required")
	}
	if c.Generation.TargetScenarios < 1 {
		return fmt.Errorf("generation.target_scenarios must be at least 1")
	}
	if c.Generation.TargetScenarios > MaxTargetScenarios {
		return fmt.Errorf("generation.target_scenarios must not exceed %d (got %d)", MaxTargetScenarios, c.Generation.TargetScenarios)
	}
	if c.Generation.ScenariosPerRequest < 1 || c.Generation.ScenariosPerRequest > MaxScenariosPerRequest {
		return fmt.Errorf("generation.scenarios_per_request must be between 1 and %d (got %d)", MaxScenariosPerRequest, c.Generation.ScenariosPerRequest)
	}
	if c.Generation.MaxAttempts < 1 {
		return fmt.Errorf("generation.max_attempts must be at least 1")
	}
	if c.Generation.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("generation.max_consecutive_failures must be at least 1")
	}

	if c.Retry.BaseDelaySeconds < 0 {
		return fmt.Errorf("retry.base_delay_seconds must not be negative")
	}
	if c.Retry.MaxDelaySeconds < c.Retry.BaseDelaySeconds {
		return fmt.Errorf("retry.max_delay_seconds (%.1f) must not be less than base_delay_seconds (%.1f)", c.Retry.MaxDelaySeconds, c.Retry.BaseDelaySeconds)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1 (got %.2f)", c.Retry.Multiplier)
	}

	mainModel, ok := c.Models["main"]
	if !ok {
		return fmt.Errorf("models.main is required")
	}
	if err := validateModelConfig("main", mainModel); err != nil {
		return err
	}

	if c.Pricing.InputPer1K < 0 || c.Pricing.OutputPer1K < 0 {
		return fmt.Errorf("pricing values must not be negative")
	}
	if c.Pricing.BatchDiscount < 0 || c.Pricing.BatchDiscount >= 1 {
		return fmt.Errorf("pricing.batch_discount must be in [0, 1) (got %.2f)", c.Pricing.BatchDiscount)
	}

	if c.Batch.RequestsPerFile < 1 || c.Batch.RequestsPerFile > MaxRequestsPerFile {
		return fmt.Errorf("batch.requests_per_file must be between 1 and %d (got %d)", MaxRequestsPerFile, c.Batch.RequestsPerFile)
	}
	if c.Batch.TotalRequests < 0 {
		return fmt.Errorf("batch.total_requests must not be negative")
	}
	if c.Batch.PollConcurrency < 1 {
		return fmt.Errorf("batch.poll_concurrency must be at least 1")
	}

	if len(c.Tokenizers) == 0 {
		return fmt.Errorf("at least one [[tokenizers]] entry is required")
	}
	seen := make(map[string]bool, len(c.Tokenizers))
	for i, tc := range c.Tokenizers {
		if tc.Name == "" {
			return fmt.Errorf("tokenizers[%d].name is required", i)
		}
		if seen[tc.Name] {
			return fmt.Errorf("tokenizers[%d].name %q is duplicated", i, tc.Name)
		}
		seen[tc.Name] = true
		switch tc.Backend {
		case BackendHuggingFace:
			if tc.Repo == "" {
				return fmt.Errorf("tokenizers.%s.repo is required for backend %s", tc.Name, tc.Backend)
			}
		case BackendTiktoken:
			if tc.Encoding == "" {
				return fmt.Errorf("tokenizers.%s.encoding is required for backend %s", tc.Name, tc.Backend)
			}
		default:
			return fmt.Errorf("tokenizers.%s.backend must be one of: huggingface, tiktoken (got %q)", tc.Name, tc.Backend)
		}
	}

	if c.PromptTemplates.RealtimeSystemPrompt == "" {
		return fmt.Errorf("prompt_templates.realtime_system_prompt is required")
	}
	if c.PromptTemplates.BatchSystemPrompt == "" {
		return fmt.Errorf("prompt_templates.batch_system_prompt is required")
	}

	return nil
}

func validateModelConfig(name string, mc ModelConfig) error {
	if mc.BaseURL == "" {
		return fmt.Errorf("models.%s.base_url is required", name)
	}
	if mc.ModelName == "" {
		return fmt.Errorf("models.%s.model_name is required", name)
	}
	if mc.Temperature < 0 || mc.Temperature > 2 {
		return fmt.Errorf("models.%s.temperature must be between 0 and 2", name)
	}
	if mc.TopP < 0 || mc.TopP > 1 {
		return fmt.Errorf("models.%s.top_p must be between 0 and 1", name)
	}
	if mc.MaxOutputTokens < 1 {
		return fmt.Errorf("models.%s.max_output_tokens must be at least 1", name)
	}
	if mc.RateLimitPerMinute < 1 {
		return fmt.Errorf("models.%s.rate_limit_per_minute must be at least 1", name)
	}
	if mc.HTTPTimeoutSeconds < 0 {
		return fmt.Errorf("models.%s.http_timeout_seconds must not be negative", name)
	}
	return nil
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment.
// Variables already set are not overridden. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{
		APIKeys: make(map[string]string),
	}

	// Generic key for any OpenAI-compatible provider
	if key := os.Getenv("API_KEY"); key != "" {
		secrets.APIKeys["generic"] = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		secrets.APIKeys["openai"] = key
	}

	secrets.HuggingFaceToken = firstNonEmpty(os.Getenv("HUGGING_FACE_TOKEN"), os.Getenv("HF_TOKEN"))

	return secrets, nil
}

// GetAPIKey returns the API key for a given base URL
func (s *Secrets) GetAPIKey(baseURL string) string {
	if strings.Contains(baseURL, "openai.com") {
		if key := s.APIKeys["openai"]; key != "" {
			return key
		}
	}
	if key := s.APIKeys["generic"]; key != "" {
		return key
	}
	return s.APIKeys["openai"]
}

// RequireAPIKey returns the key for baseURL or ErrMissingCredentials.
// Local servers without auth are allowed through.
func (s *Secrets) RequireAPIKey(baseURL string) (string, error) {
	key := s.GetAPIKey(baseURL)
	if key == "" && !isLocalURL(baseURL) {
		return "", fmt.Errorf("%w: set OPENAI_API_KEY or API_KEY for %s", ErrMissingCredentials, baseURL)
	}
	return key, nil
}

func isLocalURL(baseURL string) bool {
	return strings.Contains(baseURL, "localhost") || strings.Contains(baseURL, "127.0.0.1")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
