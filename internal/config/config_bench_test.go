package config

import (
	"os"
	"path/filepath"
	"testing"
)

// BenchmarkLoad benchmarks config loading
func BenchmarkLoad(b *testing.B) {
	tempDir := b.TempDir()
	configPath := filepath.Join(tempDir, "config.toml")

	configContent := `
[generation]
task = "refusal"
target_scenarios = 1000
scenarios_per_request = 20

[models.main]
base_url = "https://api.openai.com/v1"
model_name = "gpt-4o"
temperature = 0.8
max_output_tokens = 2048
rate_limit_per_minute = 500

[batch]
total_requests = 500
requests_per_file = 50

[[tokenizers]]
name = "qwen2"
backend = "huggingface"
repo = "Qwen/Qwen1.5-14B-Chat"

[[tokenizers]]
name = "gpt4"
backend = "tiktoken"
encoding = "cl100k_base"
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := Load(configPath); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkValidate benchmarks config validation
func BenchmarkValidate(b *testing.B) {
	cfg, err := Parse([]byte(minimalTOML))
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := cfg.Validate(); err != nil {
			b.Fatal(err)
		}
	}
}
