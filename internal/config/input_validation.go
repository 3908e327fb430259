package config

import (
	"fmt"
	"net/url"
	"regexp"
	"unicode"

	"github.com/lamim/pairforge/internal/util"
)

const (
	// MaxTaskNameLength is the maximum allowed length for a task name
	MaxTaskNameLength = 100

	// MaxModelNameLength is the maximum allowed length for model names
	MaxModelNameLength = 100

	// MaxTemplateSize is the maximum allowed size for template content
	MaxTemplateSize = 50 * 1024 // 50KB
)

// Task names become file names
var taskNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidateInputs performs additional validation on user-controllable fields
func (c *Config) ValidateInputs() error {
	if err := validateTaskName(c.Generation.Task); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	for name, mc := range c.Models {
		if err := validateModelName(mc.ModelName, name); err != nil {
			return err
		}

		if err := validateBaseURL(mc.BaseURL, name); err != nil {
			return err
		}
	}

	if err := c.validateTemplates(); err != nil {
		return err
	}

	return nil
}

func validateTaskName(task string) error {
	if len(task) > MaxTaskNameLength {
		return fmt.Errorf("exceeds maximum length of %d characters (got %d)",
			MaxTaskNameLength, len(task))
	}
	if !taskNamePattern.MatchString(task) {
		return fmt.Errorf("%q must contain only letters, digits, '.', '_' or '-'", task)
	}
	return nil
}

// validateModelName checks model name for security issues
func validateModelName(modelName, configKey string) error {
	if len(modelName) > MaxModelNameLength {
		return fmt.Errorf("model '%s' name exceeds maximum length of %d (got %d)",
			configKey, MaxModelNameLength, len(modelName))
	}

	if containsControlChars(modelName) {
		return fmt.Errorf("model '%s' name contains invalid control characters", configKey)
	}

	return nil
}

// validateBaseURL checks that the base URL is properly formatted and safe
func validateBaseURL(baseURL, configKey string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("model '%s' has invalid base_url: %w", configKey, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("model '%s' base_url must use http or https scheme (got %s)",
			configKey, u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("model '%s' base_url must have a host", configKey)
	}

	return nil
}

// validateTemplates checks that templates parse and are within reasonable size limits
func (c *Config) validateTemplates() error {
	templates := []struct {
		name  string
		value string
	}{
		{"realtime_system_prompt", c.PromptTemplates.RealtimeSystemPrompt},
		{"realtime_user_prompt", c.PromptTemplates.RealtimeUserPrompt},
		{"batch_system_prompt", c.PromptTemplates.BatchSystemPrompt},
	}

	for _, tmpl := range templates {
		if len(tmpl.value) > MaxTemplateSize {
			return fmt.Errorf("template '%s' exceeds maximum size of %d bytes (got %d)",
				tmpl.name, MaxTemplateSize, len(tmpl.value))
		}
		if err := util.ValidateTemplate(tmpl.value); err != nil {
			return fmt.Errorf("template '%s' is invalid: %w", tmpl.name, err)
		}
	}

	return nil
}

// containsControlChars checks if a string contains control characters
// (excluding newlines, tabs, and carriage returns which are acceptable)
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}
