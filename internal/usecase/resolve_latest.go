package usecase

import (
	"context"
	"fmt"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/compozy/releasemirror/internal/repository"
)

// ResolveLatestUseCase turns the default branch head into the "latest" publish task.

type ResolveLatestUseCase struct {
	Source repository.ReleaseSource
}

// Execute resolves the head commit on a tracker created by domain.NewLatestTracker.
func (uc *ResolveLatestUseCase) Execute(ctx context.Context, tracker *domain.ReleaseTracker) (*domain.PublishTask, error) {
	commit, err := uc.Source.LatestDefaultBranchCommit(ctx)
	if err != nil {
		return nil, fail(tracker, fmt.Errorf("failed to get default branch head: %w", err))
	}
	tracker.Commit = commit
	if err := tracker.Advance(domain.ReleaseStateResolved); err != nil {
		return nil, err
	}
	return &domain.PublishTask{Tag: tracker.Tag, Commit: commit}, nil
}
