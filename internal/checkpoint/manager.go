package checkpoint

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lamim/pairforge/internal/config"
	"github.com/lamim/pairforge/internal/util"
	"github.com/lamim/pairforge/pkg/models"
)

const CheckpointFilename = "checkpoint.json"

// ErrNoCheckpoint is returned by Load when no checkpoint file exists
var ErrNoCheckpoint = errors.New("no checkpoint")

// Manager owns the checkpoint of the active run. It is the only writer.
type Manager struct {
	dir        string
	checkpoint *models.Checkpoint
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewManager creates a manager with a fresh checkpoint
func NewManager(dir string, cfg *config.Config, logger *slog.Logger) *Manager {
	return &Manager{
		dir: dir,
		checkpoint: &models.Checkpoint{
			EmittedIDs: models.NewIDSet(),
			SessionID:  uuid.New().String(),
			Task:       cfg.Generation.Task,
			ConfigHash: computeConfigHash(cfg),
		},
		logger: logger,
	}
}

// NewManagerFromCheckpoint creates a manager from existing checkpoint
func NewManagerFromCheckpoint(dir string, cp *models.Checkpoint, logger *slog.Logger) *Manager {
	if cp.EmittedIDs == nil {
		cp.EmittedIDs = models.NewIDSet()
	}
	return &Manager{
		dir:        dir,
		checkpoint: cp,
		logger:     logger,
	}
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return filepath.Join(m.dir, CheckpointFilename)
}

// NextScenarioID returns the id the next accepted scenario will receive
func (m *Manager) NextScenarioID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoint.NextScenarioID
}

// IsEmitted reports whether id was already written
func (m *Manager) IsEmitted(id int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoint.EmittedIDs.Has(id)
}

// AddCost accumulates spend without saving; it is persisted with the next save
func (m *Manager) AddCost(cost float64, tokens int) {
	m.mu.Lock()
	m.checkpoint.CostAccumulator += cost
	m.checkpoint.TotalTokens += tokens
	m.mu.Unlock()
}

// BindMode ties the checkpoint to the backend emitting into it. A checkpoint
// already bound to the other backend is refused: its progress is not
// expressed in terms the other backend can replay.
func (m *Manager) BindMode(mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.checkpoint.Mode {
	case mode:
		return nil
	case "":
		m.checkpoint.Mode = mode
		return nil
	default:
		return fmt.Errorf("checkpoint was written by %s mode and cannot be resumed in %s mode", m.checkpoint.Mode, mode)
	}
}

// ResponseCursor returns how many candidate pairs of the batch response key
// were already handled, and whether the response was seen at all
func (m *Manager) ResponseCursor(key string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.checkpoint.Responses[key]
	return n, ok
}

// SetResponseCursor records that the first pairs candidates of response key
// were handled. It is persisted with the next save.
func (m *Manager) SetResponseCursor(key string, pairs int) {
	m.mu.Lock()
	if m.checkpoint.Responses == nil {
		m.checkpoint.Responses = make(map[string]int)
	}
	m.checkpoint.Responses[key] = pairs
	m.mu.Unlock()
}

// HasResponses reports whether any batch response was handled
func (m *Manager) HasResponses() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checkpoint.Responses) > 0
}

// RecordAttempt counts one candidate decision
func (m *Manager) RecordAttempt(accepted bool) {
	m.mu.Lock()
	m.checkpoint.Attempts++
	if !accepted {
		m.checkpoint.Rejected++
	}
	m.mu.Unlock()
}

// MarkScenarioEmitted records that all records for id were written and saves.
// Ids must be emitted in order, starting at NextScenarioID.
func (m *Manager) MarkScenarioEmitted(id int) error {
	m.mu.Lock()
	if id != m.checkpoint.NextScenarioID {
		next := m.checkpoint.NextScenarioID
		m.mu.Unlock()
		return fmt.Errorf("scenario %d emitted out of order (next is %d)", id, next)
	}
	m.checkpoint.EmittedIDs.Add(id)
	m.checkpoint.NextScenarioID = id + 1
	m.mu.Unlock()

	return m.SaveSync()
}

// SaveSync performs synchronous checkpoint write
func (m *Manager) SaveSync() error {
	m.mu.RLock()
	cpCopy := m.copyCheckpoint()
	m.mu.RUnlock()

	return m.writeCheckpointToDisk(cpCopy)
}

// writeCheckpointToDisk replaces the checkpoint file atomically
func (m *Manager) writeCheckpointToDisk(cp *models.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := util.WriteFileAtomic(m.Path(), data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	m.logger.Debug("Checkpoint saved", "path", m.Path(), "next_scenario_id", cp.NextScenarioID)
	return nil
}

// copyCheckpoint creates a deep copy of the checkpoint
func (m *Manager) copyCheckpoint() *models.Checkpoint {
	cp := *m.checkpoint
	cp.EmittedIDs = m.checkpoint.EmittedIDs.Clone()
	cp.Responses = maps.Clone(m.checkpoint.Responses)
	return &cp
}

// GetCheckpoint returns a read-only copy of the current checkpoint
func (m *Manager) GetCheckpoint() *models.Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyCheckpoint()
}

// Remove deletes the checkpoint file once a run is complete
func (m *Manager) Remove() error {
	if err := os.Remove(m.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}

// Load reads checkpoint from disk. It returns ErrNoCheckpoint when none exists.
func Load(dir string, logger *slog.Logger) (*models.Checkpoint, error) {
	checkpointPath := filepath.Join(dir, CheckpointFilename)

	data, err := os.ReadFile(checkpointPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if cp.EmittedIDs == nil {
		cp.EmittedIDs = models.NewIDSet()
	}

	if err := CheckConsistency(&cp); err != nil {
		return nil, err
	}

	logger.Info("Checkpoint loaded",
		"session_id", cp.SessionID,
		"next_scenario_id", cp.NextScenarioID,
		"cost", fmt.Sprintf("$%.4f", cp.CostAccumulator))

	return &cp, nil
}

func computeConfigHash(cfg *config.Config) string {
	// Changing the task or tokenizer set invalidates already-emitted scenarios
	data := fmt.Sprintf("%s:%s", cfg.Generation.Task, strings.Join(cfg.TokenizerNames(), ","))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash[:8]) // First 8 bytes
}
