package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalTOML = `
[generation]
task = "refusal"
target_scenarios = 100
`

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Parse([]byte(minimalTOML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return cfg
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg := validConfig(t)

	if cfg.Generation.ScenariosPerRequest != 10 {
		t.Errorf("ScenariosPerRequest = %d, want 10", cfg.Generation.ScenariosPerRequest)
	}
	if cfg.Generation.MaxConsecutiveFailures != 5 {
		t.Errorf("MaxConsecutiveFailures = %d, want 5", cfg.Generation.MaxConsecutiveFailures)
	}
	if cfg.Generation.MaxAttempts != 1000 {
		t.Errorf("MaxAttempts = %d, want 1000", cfg.Generation.MaxAttempts)
	}
	if cfg.Batch.RequestsPerFile != 50 {
		t.Errorf("RequestsPerFile = %d, want 50", cfg.Batch.RequestsPerFile)
	}
	if cfg.Pricing.BatchDiscount != 0.5 {
		t.Errorf("BatchDiscount = %v, want 0.5", cfg.Pricing.BatchDiscount)
	}
	main := cfg.Models["main"]
	if main.ModelName != "gpt-4o" || main.Temperature != 0.8 || main.MaxOutputTokens != 2048 {
		t.Errorf("unexpected main model defaults: %+v", main)
	}

	names := cfg.TokenizerNames()
	want := []string{"qwen2", "llama3", "solar"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("TokenizerNames() = %v, want %v", names, want)
	}
}

func TestParseOverrides(t *testing.T) {
	data := `
[generation]
task = "refusal"
target_scenarios = 5
max_attempts = 7

[retry]
base_delay_seconds = 1
max_delay_seconds = 8
multiplier = 3

[[tokenizers]]
name = "gpt4"
backend = "tiktoken"
encoding = "cl100k_base"
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Generation.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", cfg.Generation.MaxAttempts)
	}
	if cfg.Retry.Multiplier != 3 || cfg.Retry.MaxDelaySeconds != 8 {
		t.Errorf("unexpected retry config: %+v", cfg.Retry)
	}
	if len(cfg.Tokenizers) != 1 || cfg.Tokenizers[0].Backend != BackendTiktoken {
		t.Errorf("unexpected tokenizers: %+v", cfg.Tokenizers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing task",
			mutate:  func(c *Config) { c.Generation.Task = "" },
			wantErr: "generation.task is required",
		},
		{
			name:    "zero target",
			mutate:  func(c *Config) { c.Generation.TargetScenarios = 0 },
			wantErr: "target_scenarios must be at least 1",
		},
		{
			name:    "max delay below base",
			mutate:  func(c *Config) { c.Retry.MaxDelaySeconds = 1 },
			wantErr: "max_delay_seconds",
		},
		{
			name:    "multiplier below one",
			mutate:  func(c *Config) { c.Retry.Multiplier = 0.5 },
			wantErr: "retry.multiplier",
		},
		{
			name:    "no tokenizers",
			mutate:  func(c *Config) { c.Tokenizers = nil },
			wantErr: "at least one [[tokenizers]]",
		},
		{
			name: "duplicate tokenizer",
			mutate: func(c *Config) {
				c.Tokenizers = append(c.Tokenizers, c.Tokenizers[0])
			},
			wantErr: "duplicated",
		},
		{
			name: "unknown backend",
			mutate: func(c *Config) {
				c.Tokenizers[0].Backend = "sentencepiece"
			},
			wantErr: "backend must be one of",
		},
		{
			name: "huggingface without repo",
			mutate: func(c *Config) {
				c.Tokenizers[1].Repo = ""
			},
			wantErr: "repo is required",
		},
		{
			name:    "batch discount of one",
			mutate:  func(c *Config) { c.Pricing.BatchDiscount = 1 },
			wantErr: "batch_discount",
		},
		{
			name:    "missing main model",
			mutate:  func(c *Config) { delete(c.Models, "main") },
			wantErr: "models.main is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(minimalTOML), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, secrets, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Generation.Task != "refusal" {
		t.Errorf("Task = %q, want refusal", cfg.Generation.Task)
	}
	if got := secrets.GetAPIKey(cfg.Models["main"].BaseURL); got != "sk-test" {
		t.Errorf("GetAPIKey() = %q, want sk-test", got)
	}

	if _, _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("Load() of missing file expected error, got nil")
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nPAIRFORGE_TEST_KEY=from-file\nexport PAIRFORGE_QUOTED=\"quoted value\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PAIRFORGE_TEST_KEY", "")
	os.Unsetenv("PAIRFORGE_TEST_KEY")
	t.Setenv("PAIRFORGE_QUOTED", "already-set")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
	if got := os.Getenv("PAIRFORGE_TEST_KEY"); got != "from-file" {
		t.Errorf("PAIRFORGE_TEST_KEY = %q, want from-file", got)
	}
	if got := os.Getenv("PAIRFORGE_QUOTED"); got != "already-set" {
		t.Errorf("existing variable overridden: got %q", got)
	}

	if err := LoadEnvFile(filepath.Join(dir, "absent.env")); err != nil {
		t.Errorf("LoadEnvFile() of absent file error = %v, want nil", err)
	}
}

func TestLoadSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key-123")
	t.Setenv("API_KEY", "generic-key")
	t.Setenv("HUGGING_FACE_TOKEN", "hf-token")

	secrets, err := LoadSecrets()
	if err != nil {
		t.Fatalf("LoadSecrets() error = %v", err)
	}

	if secrets.APIKeys["openai"] != "test-key-123" {
		t.Errorf("Expected OpenAI key to be 'test-key-123', got %s", secrets.APIKeys["openai"])
	}
	if secrets.HuggingFaceToken != "hf-token" {
		t.Errorf("Expected HuggingFace token 'hf-token', got %s", secrets.HuggingFaceToken)
	}
}

func TestGetAPIKey(t *testing.T) {
	secrets := &Secrets{
		APIKeys: map[string]string{
			"openai":  "openai-key",
			"generic": "generic-key",
		},
	}

	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{
			name:    "OpenAI URL",
			baseURL: "https://api.openai.com/v1",
			want:    "openai-key",
		},
		{
			name:    "Other provider falls back to generic",
			baseURL: "https://example.com/v1",
			want:    "generic-key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := secrets.GetAPIKey(tt.baseURL); got != tt.want {
				t.Errorf("GetAPIKey(%s) = %s, want %s", tt.baseURL, got, tt.want)
			}
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	empty := &Secrets{APIKeys: map[string]string{}}

	if _, err := empty.RequireAPIKey("https://api.openai.com/v1"); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("RequireAPIKey() error = %v, want ErrMissingCredentials", err)
	}
	if _, err := empty.RequireAPIKey("http://localhost:8080/v1"); err != nil {
		t.Errorf("RequireAPIKey() for local server error = %v, want nil", err)
	}
}
