package writer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lamim/pairforge/internal/config"
)

// Workspace manages the work directory of a task
type Workspace struct {
	root       string
	task       string
	dataset    string
	requestDir string
	outputDir  string
	logger     *slog.Logger
}

// NewWorkspace creates the work directory layout for the configured task
func NewWorkspace(cfg *config.Config, logger *slog.Logger) (*Workspace, error) {
	ws := &Workspace{
		root:       cfg.Generation.WorkDir,
		task:       cfg.Generation.Task,
		dataset:    cfg.Generation.OutputFile,
		requestDir: cfg.Batch.RequestDir,
		outputDir:  cfg.Batch.OutputDir,
		logger:     logger,
	}

	for _, dir := range []string{ws.Dir(), ws.RequestDir(), ws.OutputDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return ws, nil
}

// Dir returns the task directory, which also holds the checkpoint
func (ws *Workspace) Dir() string {
	return filepath.Join(ws.root, ws.task)
}

// Task returns the task name
func (ws *Workspace) Task() string {
	return ws.task
}

// DatasetPath returns the full path to the dataset file
func (ws *Workspace) DatasetPath() string {
	return filepath.Join(ws.Dir(), ws.dataset)
}

// LogPath returns the full path to the log file
func (ws *Workspace) LogPath() string {
	return filepath.Join(ws.Dir(), "pairforge.log")
}

// RequestDir holds generated batch request files and batch metadata
func (ws *Workspace) RequestDir() string {
	return filepath.Join(ws.Dir(), ws.requestDir)
}

// OutputDir holds downloaded batch outputs
func (ws *Workspace) OutputDir() string {
	return filepath.Join(ws.Dir(), ws.outputDir)
}

// GetConfigBackupPath returns the full path to the config backup
func (ws *Workspace) GetConfigBackupPath() string {
	return filepath.Join(ws.Dir(), "config.toml.bak")
}

// BackupConfig copies the config file to the work directory
func (ws *Workspace) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := ws.GetConfigBackupPath()
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	ws.logger.Info("Backed up config file", "path", backupPath)
	return nil
}
