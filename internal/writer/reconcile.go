package writer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lamim/pairforge/internal/util"
	"github.com/lamim/pairforge/pkg/models"
)

const maxLineSize = 1024 * 1024

// ReadRecords reads every well-formed record from a JSONL dataset.
// Lines that do not decode are counted and skipped.
func ReadRecords(path string) ([]models.PromptRecord, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return decodeRecords(file)
}

func decodeRecords(r io.Reader) ([]models.PromptRecord, int, error) {
	var records []models.PromptRecord
	bad := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec models.PromptRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			bad++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, bad, fmt.Errorf("failed to read dataset file: %w", err)
	}
	return records, bad, nil
}

// Reconcile drops every record whose scenario id is not in emitted, along with
// torn lines left by an interrupted write. The file is rewritten atomically and
// only when something was dropped. It returns the number of lines removed.
func Reconcile(path string, emitted models.IDSet, logger *slog.Logger) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read dataset file: %w", err)
	}

	var kept bytes.Buffer
	removed := 0

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec models.PromptRecord
		if err := json.Unmarshal(line, &rec); err != nil || !emitted.Has(rec.ScenarioID) {
			removed++
			continue
		}
		kept.Write(line)
		kept.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan dataset file: %w", err)
	}

	if removed == 0 {
		return 0, nil
	}

	if err := util.WriteFileAtomic(path, kept.Bytes(), 0644); err != nil {
		return 0, fmt.Errorf("failed to rewrite dataset file: %w", err)
	}

	logger.Warn("Removed records not covered by checkpoint", "path", path, "removed", removed)
	return removed, nil
}
