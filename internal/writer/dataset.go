package writer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/lamim/pairforge/pkg/models"
)

// DatasetWriter appends prompt records to a JSONL dataset file
type DatasetWriter struct {
	file    *os.File
	path    string
	written int
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewDatasetWriter opens the dataset file for appending, creating it if needed
func NewDatasetWriter(path string, logger *slog.Logger) (*DatasetWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}

	logger.Info("Opened dataset file", "path", path)

	return &DatasetWriter{
		file:   file,
		path:   path,
		logger: logger,
	}, nil
}

// WriteScenario writes all records in a single write and syncs the file
func (dw *DatasetWriter) WriteScenario(records []models.PromptRecord) error {
	var buf bytes.Buffer
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	dw.mu.Lock()
	defer dw.mu.Unlock()

	if _, err := dw.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}
	if err := dw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync dataset file: %w", err)
	}

	dw.written += len(records)
	return nil
}

// Written returns the number of records written by this writer
func (dw *DatasetWriter) Written() int {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return dw.written
}

// Path returns the dataset file path
func (dw *DatasetWriter) Path() string {
	return dw.path
}

// Close closes the dataset file
func (dw *DatasetWriter) Close() error {
	if err := dw.file.Sync(); err != nil {
		dw.logger.Warn("Failed to sync dataset file", "error", err)
	}

	if err := dw.file.Close(); err != nil {
		return fmt.Errorf("failed to close dataset file: %w", err)
	}

	dw.logger.Info("Closed dataset file", "records_written", dw.written)
	return nil
}
