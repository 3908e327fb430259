package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lamim/pairforge/pkg/models"
)

// TaskConfig is the per-task YAML file under <task_config_dir>/tasks
type TaskConfig struct {
	TaskName               string        `yaml:"task_name"`
	Templates              TaskTemplates `yaml:"templates"`
	Examples               []TaskExample `yaml:"examples"`
	GenerationInstructions string        `yaml:"generation_instructions"`
	BatchSize              int           `yaml:"batch_size"`
}

// TaskTemplates holds the framing for both response settings
type TaskTemplates struct {
	SingleToken TemplatePair `yaml:"single_token"`
	MultiToken  TemplatePair `yaml:"multi_token"`
}

// TemplatePair is a prefix/suffix wrapped around the task sentence
type TemplatePair struct {
	Prefix *string `yaml:"prefix"`
	Suffix *string `yaml:"suffix"`
}

// TaskExample is one few-shot pair shown to the model
type TaskExample struct {
	Safe    string `yaml:"safe"`
	Harmful string `yaml:"harmful"`
}

// TaskPath returns the location of a task file
func TaskPath(configDir, taskName string) string {
	return filepath.Join(configDir, "tasks", taskName+".yaml")
}

// LoadTask reads and validates tasks/<taskName>.yaml
func LoadTask(configDir, taskName string) (*TaskConfig, error) {
	path := TaskPath(configDir, taskName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task config %s: %w", path, err)
	}
	task, err := ParseTask(data)
	if err != nil {
		return nil, fmt.Errorf("task config %s: %w", path, err)
	}
	return task, nil
}

// ParseTask decodes and validates task YAML
func ParseTask(data []byte) (*TaskConfig, error) {
	var task TaskConfig
	if err := yaml.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to parse task config: %w", err)
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return &task, nil
}

// Validate checks the required fields are present
func (t *TaskConfig) Validate() error {
	if t.TaskName == "" {
		return fmt.Errorf("missing required field: task_name")
	}
	for _, f := range []struct {
		name  string
		value *string
	}{
		{"templates.single_token.prefix", t.Templates.SingleToken.Prefix},
		{"templates.single_token.suffix", t.Templates.SingleToken.Suffix},
		{"templates.multi_token.prefix", t.Templates.MultiToken.Prefix},
		{"templates.multi_token.suffix", t.Templates.MultiToken.Suffix},
	} {
		// Empty strings are valid framing, absent keys are not
		if f.value == nil {
			return fmt.Errorf("missing required field: %s", f.name)
		}
	}
	if len(t.Examples) == 0 {
		return fmt.Errorf("missing required field: examples")
	}
	for i, ex := range t.Examples {
		if ex.Safe == "" || ex.Harmful == "" {
			return fmt.Errorf("examples[%d] must have both safe and harmful", i)
		}
	}
	if strings.TrimSpace(t.GenerationInstructions) == "" {
		return fmt.Errorf("missing required field: generation_instructions")
	}
	if t.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative")
	}
	return nil
}

// Framing returns the four template strings consumed by the validator and normalizer
func (t *TaskConfig) Framing() models.TaskTemplates {
	return models.TaskTemplates{
		SingleTokenPrefix: deref(t.Templates.SingleToken.Prefix),
		SingleTokenSuffix: deref(t.Templates.SingleToken.Suffix),
		MultiTokenPrefix:  deref(t.Templates.MultiToken.Prefix),
		MultiTokenSuffix:  deref(t.Templates.MultiToken.Suffix),
	}
}

// FormatExamples renders the few-shot block used in generation prompts
func (t *TaskConfig) FormatExamples() string {
	lines := make([]string, 0, len(t.Examples))
	for _, ex := range t.Examples {
		lines = append(lines, fmt.Sprintf("- Safe: %q\n  Harmful: %q", ex.Safe, ex.Harmful))
	}
	return strings.Join(lines, "\n")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
