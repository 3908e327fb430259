package writer

import "github.com/lamim/pairforge/pkg/models"

// Writer is the interface for dataset writers
type Writer interface {
	// WriteScenario writes the records of one scenario as a unit.
	// It returns only after the records are durable.
	WriteScenario(records []models.PromptRecord) error

	// Close closes the writer
	Close() error
}
