package usecase

import (
	"context"
	"fmt"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/compozy/releasemirror/internal/service"
)

// PublishImageUseCase builds and pushes one resolved release.

type PublishImageUseCase struct {
	Builder service.BuilderService
}

// Execute runs the build for a tracker in the Resolved state.
func (uc *PublishImageUseCase) Execute(ctx context.Context, tracker *domain.ReleaseTracker, task domain.PublishTask) error {
	if err := tracker.Advance(domain.ReleaseStateBuilding); err != nil {
		return err
	}
	if err := uc.Builder.BuildAndPush(ctx, task); err != nil {
		return fail(tracker, fmt.Errorf("failed to publish %s: %w", task.Tag, err))
	}
	return tracker.Advance(domain.ReleaseStatePublished)
}
