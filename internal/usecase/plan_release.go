package usecase

import (
	"context"
	"fmt"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/compozy/releasemirror/internal/repository"
)

// PlanReleaseUseCase decides whether a release still has to be published.

type PlanReleaseUseCase struct {
	Probe       repository.RegistryProbe
	Resolver    repository.RevisionResolver
	ReservedTag string
}

// Execute returns the publish task for a release missing from the registry, or nil when the
// release is already published. The tracker is advanced through every step, including Failed.
func (uc *PlanReleaseUseCase) Execute(ctx context.Context, tracker *domain.ReleaseTracker) (*domain.PublishTask, error) {
	if err := domain.ValidateImageTag(tracker.Tag, uc.ReservedTag); err != nil {
		return nil, fail(tracker, err)
	}
	exists, err := uc.Probe.Exists(ctx, tracker.Tag)
	if err != nil {
		return nil, fail(tracker, fmt.Errorf("failed to probe registry: %w", err))
	}
	if err := tracker.Advance(domain.ReleaseStateProbed); err != nil {
		return nil, err
	}
	if exists {
		return nil, tracker.Advance(domain.ReleaseStateSkipped)
	}
	if err := tracker.Advance(domain.ReleaseStateResolving); err != nil {
		return nil, err
	}
	commit, err := uc.Resolver.ResolveTag(ctx, tracker.Tag)
	if err != nil {
		return nil, fail(tracker, fmt.Errorf("failed to resolve tag: %w", err))
	}
	tracker.Commit = commit
	if err := tracker.Advance(domain.ReleaseStateResolved); err != nil {
		return nil, err
	}
	return &domain.PublishTask{Tag: tracker.Tag, Commit: commit}, nil
}

// fail moves the tracker to Failed and returns cause.
func fail(tracker *domain.ReleaseTracker, cause error) error {
	if err := tracker.Advance(domain.ReleaseStateFailed); err != nil {
		return fmt.Errorf("%w (%v)", cause, err)
	}
	return cause
}
