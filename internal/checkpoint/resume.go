package checkpoint

import (
	"fmt"

	"github.com/lamim/pairforge/internal/config"
	"github.com/lamim/pairforge/pkg/models"
)

// ValidateCheckpoint verifies checkpoint is compatible with current config
func ValidateCheckpoint(cp *models.Checkpoint, cfg *config.Config) error {
	expectedHash := computeConfigHash(cfg)
	if cp.ConfigHash != expectedHash {
		return fmt.Errorf("checkpoint config mismatch: checkpoint was created with a different task or tokenizer set (hash: %s vs %s)", cp.ConfigHash, expectedHash)
	}
	return CheckConsistency(cp)
}

// CheckConsistency verifies emitted_ids is exactly {0, ..., next_scenario_id-1}
func CheckConsistency(cp *models.Checkpoint) error {
	if cp.NextScenarioID < 0 {
		return fmt.Errorf("checkpoint has negative next_scenario_id %d", cp.NextScenarioID)
	}
	if len(cp.EmittedIDs) != cp.NextScenarioID {
		return fmt.Errorf("checkpoint inconsistent: %d emitted ids but next_scenario_id is %d", len(cp.EmittedIDs), cp.NextScenarioID)
	}
	for id := range cp.EmittedIDs {
		if id < 0 || id >= cp.NextScenarioID {
			return fmt.Errorf("checkpoint inconsistent: emitted id %d outside [0, %d)", id, cp.NextScenarioID)
		}
	}
	if cp.CostAccumulator < 0 {
		return fmt.Errorf("checkpoint has negative cost %.4f", cp.CostAccumulator)
	}
	return nil
}

// GetCompletedCount returns the number of emitted scenarios
func GetCompletedCount(cp *models.Checkpoint) int {
	return len(cp.EmittedIDs)
}

// GetProgressPercentage returns completion percentage against target
func GetProgressPercentage(cp *models.Checkpoint, target int) float64 {
	if target <= 0 {
		return 0.0
	}
	pct := float64(GetCompletedCount(cp)) / float64(target) * 100.0
	if pct > 100 {
		return 100
	}
	return pct
}
