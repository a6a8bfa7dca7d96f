package orchestrator

import (
	"fmt"

	"github.com/compozy/releasemirror/internal/domain"
)

// ValidateWorkers checks the size of the planning worker pool.
func ValidateWorkers(workers int) error {
	if workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", workers)
	}
	if workers > MaxWorkers {
		return fmt.Errorf("workers too high: %d (max: %d)", workers, MaxWorkers)
	}
	return nil
}

// ValidateLatestTag checks that the default branch tag is usable as an image tag.
func ValidateLatestTag(tag string) error {
	if err := domain.ValidateImageTag(tag, ""); err != nil {
		return fmt.Errorf("invalid latest tag: %w", err)
	}
	return nil
}

// ValidateSyncConfig validates a SyncConfig after defaults have been applied.
func ValidateSyncConfig(cfg SyncConfig) error {
	if err := ValidateWorkers(cfg.Workers); err != nil {
		return err
	}
	return ValidateLatestTag(cfg.LatestTag)
}
