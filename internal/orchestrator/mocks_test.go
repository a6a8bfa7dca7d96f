package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/stretchr/testify/mock"
)

// Mock for UpstreamRepository
type mockUpstream struct{ mock.Mock }

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

// Mock for RegistryProbe
type mockProbe struct{ mock.Mock }

func (m *mockProbe) Exists(ctx context.Context, tag string) (bool, error) {
	args := m.Called(ctx, tag)
	return args.Bool(0), args.Error(1)
}

// Mock for BuilderService
type mockBuilder struct{ mock.Mock }

func (m *mockBuilder) Login(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *mockBuilder) BuildAndPush(ctx context.Context, task domain.PublishTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

// builtTags returns the tags passed to BuildAndPush, in call order
func (m *mockBuilder) builtTags() []string {
	var tags []string
	for _, call := range m.Calls {
		if call.Method == "BuildAndPush" {
			tags = append(tags, call.Arguments.Get(1).(domain.PublishTask).Tag)
		}
	}
	return tags
}

// Mock for RunLock
type mockRunLock struct{ mock.Mock }

func (m *mockRunLock) Acquire(ctx context.Context) (func() error, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func() error), args.Error(1)
}

// concurrencyProbe tracks the peak number of in-flight probes.
type concurrencyProbe struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	calls    atomic.Int32
	release  chan struct{}
}

func (p *concurrencyProbe) Exists(ctx context.Context, _ string) (bool, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	p.mu.Unlock()
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
	return true, nil
}

// fakeRegistry is an in-memory registry shared with fakeBuilder, so that pushed tags are
// visible to later probes.
type fakeRegistry struct {
	mu   sync.Mutex
	tags map[string]domain.CommitRef
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{tags: make(map[string]domain.CommitRef)}
}

func (r *fakeRegistry) Exists(_ context.Context, tag string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tags[tag]
	return ok, nil
}

// fakeBuilder pushes into a fakeRegistry and records every build.
type fakeBuilder struct {
	registry *fakeRegistry
	built    []string
}

func (b *fakeBuilder) Login(context.Context) error { return nil }

func (b *fakeBuilder) BuildAndPush(_ context.Context, task domain.PublishTask) error {
	b.built = append(b.built, task.Tag)
	b.registry.mu.Lock()
	defer b.registry.mu.Unlock()
	b.registry.tags[task.Tag] = task.Commit
	return nil
}

// reset forgets the builds of a previous run.
func (b *fakeBuilder) reset() {
	b.built = nil
}
