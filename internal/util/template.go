package util

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Parsed templates keyed by source text
var templateCache sync.Map

// Block: call (function calls), define (template definition), template (template inclusion)
var forbiddenDirectives = []string{"{{call", "{{define", "{{template", "{{block"}

// RenderTemplate renders a template string with the given data
// Includes validation to prevent template injection attacks
func RenderTemplate(tmpl string, data map[string]interface{}) (string, error) {
	t, err := checkTemplate(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// ValidateTemplate reports whether tmpl would be accepted by RenderTemplate.
// Missing keys are only detected when rendering.
func ValidateTemplate(tmpl string) error {
	_, err := checkTemplate(tmpl)
	return err
}

func checkTemplate(tmpl string) (*template.Template, error) {
	for _, directive := range forbiddenDirectives {
		if strings.Contains(tmpl, directive) {
			return nil, fmt.Errorf("template contains forbidden directive: %s", directive)
		}
	}
	return parseCached(tmpl)
}

func parseCached(tmpl string) (*template.Template, error) {
	if cached, ok := templateCache.Load(tmpl); ok {
		return cached.(*template.Template), nil
	}

	t, err := template.New("prompt").
		Option("missingkey=error"). // Fail on missing keys to prevent silent errors
		Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	actual, _ := templateCache.LoadOrStore(tmpl, t)
	return actual.(*template.Template), nil
}

// ClearTemplateCache drops all parsed templates
func ClearTemplateCache() {
	templateCache.Range(func(key, _ any) bool {
		templateCache.Delete(key)
		return true
	})
}

// TruncateString truncates a string to maxLen runes (Unicode-safe)
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
