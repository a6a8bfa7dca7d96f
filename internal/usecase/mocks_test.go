package usecase

import (
	"context"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/stretchr/testify/mock"
)

const (
	commitA = domain.CommitRef("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	commitB = domain.CommitRef("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

// Mock for RegistryProbe
type mockRegistryProbe struct {
	mock.Mock
}

func (m *mockRegistryProbe) Exists(ctx context.Context, tag string) (bool, error) {
	args := m.Called(ctx, tag)
	return args.Bool(0), args.Error(1)
}

// Mock for UpstreamRepository
type mockUpstream struct {
	mock.Mock
}

func (m *mockUpstream) ListReleases(ctx context.Context) ([]domain.Release, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Release), args.Error(1)
}

func (m *mockUpstream) LatestDefaultBranchCommit(ctx context.Context) (domain.CommitRef, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.CommitRef), args.Error(1)
}

func (m *mockUpstream) ResolveTag(ctx context.Context, tag string) (domain.CommitRef, error) {
	args := m.Called(ctx, tag)
	return args.Get(0).(domain.CommitRef), args.Error(1)
}

// Mock for BuilderService
type mockBuilder struct {
	mock.Mock
}

func (m *mockBuilder) Login(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockBuilder) BuildAndPush(ctx context.Context, task domain.PublishTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}
