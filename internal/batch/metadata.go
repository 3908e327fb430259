package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lamim/pairforge/internal/util"
	"github.com/lamim/pairforge/pkg/models"
)

// MetadataFilename is written next to the request files
const MetadataFilename = "batch_metadata.json"

// Store is the batch metadata file. Every mutation is saved atomically and
// mutations are serialized, so parallel pollers never interleave writes.
type Store struct {
	path    string
	batches []models.BatchInfo
	mu      sync.Mutex
}

// LoadStore reads dir/batch_metadata.json; a missing file yields an empty store
func LoadStore(dir string) (*Store, error) {
	s := &Store{path: filepath.Join(dir, MetadataFilename)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read batch metadata: %w", err)
	}

	if err := json.Unmarshal(data, &s.batches); err != nil {
		return nil, fmt.Errorf("failed to parse batch metadata: %w", err)
	}
	return s, nil
}

// Path returns the metadata file location
func (s *Store) Path() string {
	return s.path
}

// All returns a copy of every batch record
func (s *Store) All() []models.BatchInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.BatchInfo, len(s.batches))
	copy(out, s.batches)
	return out
}

// Find returns the record for a request file name
func (s *Store) Find(batchFile string) (models.BatchInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.batches {
		if b.BatchFile == batchFile {
			return b, true
		}
	}
	return models.BatchInfo{}, false
}

// Add records a newly submitted batch and saves
func (s *Store) Add(info models.BatchInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.batches {
		if b.BatchFile == info.BatchFile {
			return fmt.Errorf("batch file %s already submitted as %s", info.BatchFile, b.BatchID)
		}
	}
	s.batches = append(s.batches, info)
	return s.saveLocked()
}

// Update replaces the record with the same batch id and saves
func (s *Store) Update(info models.BatchInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.batches {
		if s.batches[i].BatchID == info.BatchID {
			s.batches[i] = info
			return s.saveLocked()
		}
	}
	return fmt.Errorf("unknown batch %s", info.BatchID)
}

// StatusCounts tallies batches by status
func (s *Store) StatusCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, b := range s.batches {
		counts[string(b.Status)]++
	}
	return counts
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.batches, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal batch metadata: %w", err)
	}
	if err := util.WriteFileAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write batch metadata: %w", err)
	}
	return nil
}
