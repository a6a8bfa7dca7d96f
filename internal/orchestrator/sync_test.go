package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/compozy/releasemirror/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	commit1    = domain.CommitRef("1111111111111111111111111111111111111111")
	commit2    = domain.CommitRef("2222222222222222222222222222222222222222")
	commit3    = domain.CommitRef("3333333333333333333333333333333333333333")
	headCommit = domain.CommitRef("ffffffffffffffffffffffffffffffffffffffff")
	testImage  = "docker.io/acme/widgets"
)

func releases(tags ...string) []domain.Release {
	out := make([]domain.Release, 0, len(tags))
	for _, tag := range tags {
		out = append(out, domain.Release{Tag: tag})
	}
	return out
}

type syncFixture struct {
	upstream *mockUpstream
	probe    *mockProbe
	builder  *mockBuilder
}

func newSyncFixture() *syncFixture {
	return &syncFixture{
		upstream: new(mockUpstream),
		probe:    new(mockProbe),
		builder:  new(mockBuilder),
	}
}

func (f *syncFixture) orchestrator(t *testing.T, opts ...Option) *SyncOrchestrator {
	return NewSyncOrchestrator(f.upstream, f.probe, f.builder, testImage, zaptest.NewLogger(t), opts...)
}

func TestSyncOrchestrator_Execute(t *testing.T) {
	t.Run("Should build nothing but latest when every release is mirrored", func(t *testing.T) {
		f := newSyncFixture()
		f.upstream.On("ListReleases", mock.Anything).Return(releases("v1.0.0", "v2.0.0", "v3.0.0"), nil)
		f.probe.On("Exists", mock.Anything, mock.Anything).Return(true, nil)
		f.upstream.On("LatestDefaultBranchCommit", mock.Anything).Return(headCommit, nil)
		f.builder.On("Login", mock.Anything).Return(nil)
		f.builder.On("BuildAndPush", mock.Anything, domain.PublishTask{Tag: "latest", Commit: headCommit}).Return(nil)

		report, err := f.orchestrator(t).Execute(context.Background(), SyncConfig{})
		require.NoError(t, err)
		assert.Equal(t, []string{"latest"}, f.builder.builtTags())
		assert.Equal(t, 3, report.Counts()[domain.OutcomeSkipped])
		require.NotNil(t, report.Latest)
		assert.Equal(t, domain.OutcomePublished, report.Latest.Status)
		assert.Equal(t, headCommit, report.Latest.Commit)
		assert.False(t, report.HasFailures())
		f.upstream.AssertNotCalled(t, "ResolveTag", mock.Anything, mock.Anything)
	})

	t.Run("Should build only latest when run again after a full mirror", func(t *testing.T) {
		upstream := new(mockUpstream)
		upstream.On("ListReleases", mock.Anything).Return(releases("v3.0.0", "v1.0.0", "v2.0.0"), nil)
		upstream.On("ResolveTag", mock.Anything, "v1.0.0").Return(commit1, nil)
		upstream.On("ResolveTag", mock.Anything, "v2.0.0").Return(commit2, nil)
		upstream.On("ResolveTag", mock.Anything, "v3.0.0").Return(commit3, nil)
		upstream.On("LatestDefaultBranchCommit", mock.Anything).Return(headCommit, nil)
		registry := newFakeRegistry()
		builder := &fakeBuilder{registry: registry}
		orch := NewSyncOrchestrator(upstream, registry, builder, testImage, zaptest.NewLogger(t))

		first, err := orch.Execute(context.Background(), SyncConfig{Workers: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"v1.0.0", "v2.0.0", "v3.0.0", "latest"}, builder.built)
		assert.Equal(t, 3, first.Counts()[domain.OutcomePublished])

		builder.reset()
		second, err := orch.Execute(context.Background(), SyncConfig{Workers: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"latest"}, builder.built)
		assert.Equal(t, 3, second.Counts()[domain.OutcomeSkipped])
		assert.Zero(t, second.Counts()[domain.OutcomePublished])
		assert.Equal(t, domain.OutcomePublished, second.Latest.Status)
		assert.False(t, second.HasFailures())
		upstream.AssertNumberOfCalls(t, "ResolveTag", 3)
		upstream.AssertNumberOfCalls(t, "LatestDefaultBranchCommit", 2)
	})

	t.Run("Should build only missing releases, in order, before latest", func(t *testing.T) {
		f := newSyncFixture()
		f.upstream.On("ListReleases", mock.Anything).Return(releases("v3.0.0", "v1.0.0", "v2.0.0"), nil)
		f.probe.On("Exists", mock.Anything, "v1.0.0").Return(true, nil)
		f.probe.On("Exists", mock.Anything, "v2.0.0").Return(false, nil)
		f.probe.On("Exists", mock.Anything, "v3.0.0").Return(false, nil)
		f.upstream.On("ResolveTag", mock.Anything, "v2.0.0").Return(commit2, nil)
		f.upstream.On("ResolveTag", mock.Anything, "v3.0.0").Return(commit3, nil)
		f.upstream.On("LatestDefaultBranchCommit", mock.Anything).Return(headCommit, nil)
		f.builder.On("Login", mock.Anything).Return(nil).Once()
		f.builder.On("BuildAndPush", mock.Anything, mock.Anything).Return(nil)

		report, err := f.orchestrator(t).Execute(context.Background(), SyncConfig{Workers: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"v2.0.0", "v3.0.0", "latest"}, f.builder.builtTags())
		f.builder.AssertCalled(t, "BuildAndPush", mock.Anything, domain.PublishTask{Tag: "v2.0.0", Commit: commit2})
		f.builder.AssertCalled(t, "BuildAndPush", mock.Anything, domain.PublishTask{Tag: "v3.0.0", Commit: commit3})
		f.builder.AssertNumberOfCalls(t, "Login", 1)
		skipped, ok := report.Outcome("v1.0.0")
		require.True(t, ok)
		assert.Equal(t, domain.OutcomeSkipped, skipped.Status)
		published, ok := report.Outcome("v3.0.0")
		require.True(t, ok)
		assert.Equal(t, domain.OutcomePublished, published.Status)
		assert.Equal(t, domain.ReleaseStatePublished, published.State)
		assert.Equal(t, commit3, published.Commit)
	})

	t.Run("Should isolate a resolution failure to its release", func(t *testing.T) {
		f := newSyncFixture()
		f.upstream.On("ListReleases", mock.Anything).Return(releases("v1.0.0", "v2.0.0", "v3.0.0"), nil)
		f.probe.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
		f.upstream.On("ResolveTag", mock.Anything, "v1.0.0").Return(commit1, nil)
		f.upstream.On("ResolveTag", mock.Anything, "v2.0.0").
			Return(domain.CommitRef(""), fmt.Errorf("%w: v2.0.0", domain.ErrTagNotFound))
		f.upstream.On("ResolveTag", mock.Anything, "v3.0.0").Return(commit3, nil)
		f.upstream.On("LatestDefaultBranchCommit", mock.Anything).Return(headCommit, nil)
		f.builder.On("Login", mock.Anything).Return(nil)
		f.builder.On("BuildAndPush", mock.Anything, mock.Anything).Return(nil)

		report, err := f.orchestrator(t).Execute(context.Background(), SyncConfig{})
		require.NoError(t, err)
		assert.Equal(t, []string{"v1.0.0", "v3.0.0", "latest"}, f.builder.builtTags())
		failed, ok := report.Outcome("v2.0.0")
		require.True(t, ok)
		assert.Equal(t, domain.OutcomeFailed, failed.Status)
		assert.Equal(t, domain.FailureKindTagNotFound, failed.FailureKind)
		assert.Equal(t, 2, report.Counts()[domain.OutcomePublished])
		assert.True(t, report.HasFailures())
		assert.Equal(t, domain.FailureKindNone, report.RunFailure)
	})

	t.Run("Should abort without builds when listing releases fails", func(t *testing.T) {
		f := newSyncFixture()
		f.upstream.On("ListReleases", mock.Anything).
			Return(nil, fmt.Errorf("%w: listing releases page 2: 502", domain.ErrUpstreamUnavailable))

		report, err := f.orchestrator(t).Execute(context.Background(), SyncConfig{})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
		require.NotNil(t, report)
		assert.Equal(t, domain.FailureKindUpstreamUnavailable, report.RunFailure)
		assert.Empty(t, report.Releases)
		assert.Nil(t, report.Latest)
		assert.True(t, report.HasFailures())
		f.probe.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
		f.builder.AssertNotCalled(t, "Login", mock.Anything)
		f.builder.AssertNotCalled(t, "BuildAndPush", mock.Anything, mock.Anything)
		f.upstream.AssertNotCalled(t, "LatestDefaultBranchCommit", mock.Anything)
	})

	t.Run("Should keep going after a build failure and still build latest", func(t *testing.T) {
		f := newSyncFixture()
		f.upstream.On("ListReleases", mock.Anything).Return(releases("v1.0.0", "v2.0.0"), nil)
		f.probe.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
		f.upstream.On("ResolveTag", mock.Anything, "v1.0.0").Return(commit1, nil)
		f.upstream.On("ResolveTag", mock.Anything, "v2.0.0").Return(commit2, nil)
		f.upstream.On("LatestDefaultBranchCommit", mock.Anything).Return(headCommit, nil)
		f.builder.On("Login", mock.Anything).Return(nil)
		f.builder.On("BuildAndPush", mock.Anything, domain.PublishTask{Tag: "v1.0.0", Commit: commit1}).
			Return(fmt.Errorf("%w: exit status 1", domain.ErrBuildPublish))
		f.builder.On("BuildAndPush", mock.Anything, mock.Anything).Return(nil)

		report, err := f.orchestrator(t).Execute(context.Background(), SyncConfig{})
		require.NoError(t, err)
		assert.Equal(t, []string{"v1.0.0", "v2.0.0", "latest"}, f.builder.builtTags())
		failed, _ := report.Outcome("v1.0.0")
		assert.Equal(t, domain.FailureKindBuildPublish, failed.FailureKind)
		assert.Equal(t, commit1, failed.Commit)
		published, _ := report.Outcome("v2.0.0")
		assert.Equal(t, domain.OutcomePublished, published.Status)
		assert.Equal(t, domain.OutcomePublished, report.Latest.Status)
	})

	t.Run("Should record a latest failure without affecting releases", func(t *testing.T) {
		f := newSyncFixture()
		f.upstream.On("ListReleases", mock.Anything).Return(releases("v1.0.0"), nil)
		f.probe.On("Exists", mock.Anything, "v1.0.0").Return(true, nil)
		f.upstream.On("LatestDefaultBranchCommit", mock.Anything).
			Return(domain.CommitRef(""), fmt.Errorf("%w: 503", domain.ErrUpstreamUnavailable))
		f.builder.On("Login", mock.Anything).Return(nil)

		report, err := f.orchestrator(t).Execute(context.Background(), SyncConfig{})
		require.NoError(t, err)
		require.NotNil(t, report.Latest)
		assert.Equal(t, domain.OutcomeFailed, report.Latest.Status)
		assert.Equal(t, domain.FailureKindUpstreamUnavailable, report.Latest.FailureKind)
		assert.Equal(t, domain.FailureKindNone, report.RunFailure)
		assert.True(t, report.HasFailures())
		f.builder.AssertNotCalled(t, "BuildAndPush", mock.Anything, mock.Anything)
	})

	t.Run("Should record probe failures without resolving", func(t *testing.T) {
		f := newSyncFixture()
		f.upstream.On("ListReleases", mock.Anything).Return(releases("v1.0.0", "v2.0.0"), nil)
		f.probe.On("Exists", mock.Anything, "v1.0.0").
			Return(false, fmt.Errorf("%w: 500", domain.ErrRegistryUnavailable))
		f.probe.On("Exists", mock.Anything, "v2.0.0").Return(true, nil)
		f.upstream.On("LatestDefaultBranchCommit", mock.Anything).Return(headCommit, nil)
		f.builder.On("Login", mock.Anything).Return(nil)
		f.builder.On("BuildAndPush", mock.Anything, mock.Anything).Return(nil)

		report, err := f.orchestrator(t).Execute(context.Background(), SyncConfig{})
		require.NoError(t, err)
		failed, _ := report.Outcome("v1.0.0")
		assert.Equal(t, domain.FailureKindRegistryUnavailable, failed.FailureKind)
		assert.Equal(t, domain.ReleaseStateFailed, failed.State)
		f.upstream.AssertNotCalled(t, "ResolveTag", mock.Anything, "v1.0.0")
		assert.Equal(t, []string{"latest"}, f.builder.builtTags())
	})

	t.Run("Should plan without building in dry-run mode", func(t *testing.T) {
		f := newSyncFixture()
		f.upstream.On("ListReleases", mock.Anything).Return(releases("v1.0.0", "v2.0.0"), nil)
		f.probe.On("Exists", mock.Anything, "v1.0.0").Return(true, nil)
		f.probe.On("Exists", mock.Anything, "v2.0.0").Return(false, nil)
		f.upstream.On("ResolveTag", mock.Anything, "v2.0.0").Return(commit2, nil)
		f.upstream.On("LatestDefaultBranchCommit", mock.Anything).Return(headCommit, nil)

		report, err := f.orchestrator(t).Execute(context.Background(), SyncConfig{DryRun: true})
		require.NoError(t, err)
		assert.True(t, report.DryRun)
		planned, _ := report.Outcome("v2.0.0")
		assert.Equal(t, domain.OutcomePlanned, planned.Status)
		assert.Equal(t, commit2, planned.Commit)
		require.NotNil(t, report.Latest)
		assert.Equal(t, domain.OutcomePlanned, report.Latest.Status)
		assert.Equal(t, headCommit, report.Latest.Commit)
		assert.False(t, report.HasFailures())
		f.builder.AssertNotCalled(t, "Login", mock.Anything)
		f.builder.AssertNotCalled(t, "BuildAndPush", mock.Anything, mock.Anything)
	})

	t.Run("Should fail reserved and invalid tags without probing them", func(t *testing.T) {
		f := newSyncFixture()
		f.upstream.On("ListReleases", mock.Anything).Return(releases("latest", "feature/x", "v1.0.0"), nil)
		f.probe.On("Exists", mock.Anything, "v1.0.0").Return(true, nil)
		f.upstream.On("LatestDefaultBranchCommit", mock.Anything).Return(headCommit, nil)
		f.builder.On("Login", mock.Anything).Return(nil)
		f.builder.On("BuildAndPush", mock.Anything, mock.Anything).Return(nil)

		report, err := f.orchestrator(t).Execute(context.Background(), SyncConfig{})
		require.NoError(t, err)
		reserved, _ := report.Outcome("latest")
		assert.Equal(t, domain.FailureKindInvalidTag, reserved.FailureKind)
		invalid, _ := report.Outcome("feature/x")
		assert.Equal(t, domain.FailureKindInvalidTag, invalid.FailureKind)
		f.probe.AssertNumberOfCalls(t, "Exists", 1)
		assert.Equal(t, []string{"latest"}, f.builder.builtTags())
		assert.Equal(t, domain.OutcomePublished, report.Latest.Status)
	})

	t.Run("Should process duplicate release tags once", func(t *testing.T) {
		f := newSyncFixture()
		f.upstream.On("ListReleases", mock.Anything).Return(releases("v1.0.0", "v1.0.0"), nil)
		f.probe.On("Exists", mock.Anything, "v1.0.0").Return(false, nil)
		f.upstream.On("ResolveTag", mock.Anything, "v1.0.0").Return(commit1, nil)
		f.upstream.On("LatestDefaultBranchCommit", mock.Anything).Return(headCommit, nil)
		f.builder.On("Login", mock.Anything).Return(nil)
		f.builder.On("BuildAndPush", mock.Anything, mock.Anything).Return(nil)

		report, err := f.orchestrator(t).Execute(context.Background(), SyncConfig{})
		require.NoError(t, err)
		assert.Len(t, report.Releases, 1)
		f.probe.AssertNumberOfCalls(t, "Exists", 1)
		assert.Equal(t, []string{"v1.0.0", "latest"}, f.builder.builtTags())
	})

	t.Run("Should fail every publish when login fails", func(t *testing.T) {
		f := newSyncFixture()
		f.upstream.On("ListReleases", mock.Anything).Return(releases("v1.0.0"), nil)
		f.probe.On("Exists", mock.Anything, "v1.0.0").Return(false, nil)
		f.upstream.On("ResolveTag", mock.Anything, "v1.0.0").Return(commit1, nil)
		f.upstream.On("LatestDefaultBranchCommit", mock.Anything).Return(headCommit, nil)
		f.builder.On("Login", mock.Anything).Return(errors.New("unauthorized"))

		report, err := f.orchestrator(t).Execute(context.Background(), SyncConfig{})
		require.NoError(t, err)
		failed, _ := report.Outcome("v1.0.0")
		assert.Equal(t, domain.FailureKindBuildPublish, failed.FailureKind)
		assert.Contains(t, failed.Reason, "unauthorized")
		assert.Equal(t, domain.OutcomeFailed, report.Latest.Status)
		f.builder.AssertNotCalled(t, "BuildAndPush", mock.Anything, mock.Anything)
		f.builder.AssertNumberOfCalls(t, "Login", int(LoginRetryCount)+1)
	})

	t.Run("Should refuse to run while another run holds the lock", func(t *testing.T) {
		f := newSyncFixture()
		lock := new(mockRunLock)
		lock.On("Acquire", mock.Anything).Return(nil, fmt.Errorf("%w: .release-mirror.lock", domain.ErrRunInProgress))

		report, err := f.orchestrator(t, WithRunLock(lock)).Execute(context.Background(), SyncConfig{})
		assert.ErrorIs(t, err, domain.ErrRunInProgress)
		assert.Equal(t, domain.FailureKindRunInProgress, report.RunFailure)
		f.upstream.AssertNotCalled(t, "ListReleases", mock.Anything)
	})

	t.Run("Should release the run lock when finished", func(t *testing.T) {
		f := newSyncFixture()
		released := false
		lock := new(mockRunLock)
		lock.On("Acquire", mock.Anything).Return(func() error {
			released = true
			return nil
		}, nil)
		f.upstream.On("ListReleases", mock.Anything).Return(releases(), nil)
		f.upstream.On("LatestDefaultBranchCommit", mock.Anything).Return(headCommit, nil)
		f.builder.On("Login", mock.Anything).Return(nil)
		f.builder.On("BuildAndPush", mock.Anything, mock.Anything).Return(nil)

		_, err := f.orchestrator(t, WithRunLock(lock)).Execute(context.Background(), SyncConfig{})
		require.NoError(t, err)
		assert.True(t, released)
	})

	t.Run("Should bound concurrent probes by the worker count", func(t *testing.T) {
		f := newSyncFixture()
		probe := &concurrencyProbe{release: make(chan struct{})}
		f.upstream.On("ListReleases", mock.Anything).
			Return(releases("v1.0.0", "v2.0.0", "v3.0.0", "v4.0.0", "v5.0.0", "v6.0.0"), nil)
		f.upstream.On("LatestDefaultBranchCommit", mock.Anything).Return(headCommit, nil)
		f.builder.On("Login", mock.Anything).Return(nil)
		f.builder.On("BuildAndPush", mock.Anything, mock.Anything).Return(nil)
		orch := NewSyncOrchestrator(f.upstream, probe, f.builder, testImage, zaptest.NewLogger(t))
		go func() {
			time.Sleep(100 * time.Millisecond)
			close(probe.release)
		}()

		report, err := orch.Execute(context.Background(), SyncConfig{Workers: 2})
		require.NoError(t, err)
		assert.Equal(t, int32(6), probe.calls.Load())
		assert.LessOrEqual(t, probe.peak, 2)
		assert.Equal(t, 6, report.Counts()[domain.OutcomeSkipped])
	})

	t.Run("Should record build and run metrics", func(t *testing.T) {
		f := newSyncFixture()
		m := metrics.NewSyncMetrics()
		f.upstream.On("ListReleases", mock.Anything).Return(releases("v1.0.0"), nil)
		f.probe.On("Exists", mock.Anything, "v1.0.0").Return(false, nil)
		f.upstream.On("ResolveTag", mock.Anything, "v1.0.0").Return(commit1, nil)
		f.upstream.On("LatestDefaultBranchCommit", mock.Anything).Return(headCommit, nil)
		f.builder.On("Login", mock.Anything).Return(nil)
		f.builder.On("BuildAndPush", mock.Anything, mock.Anything).Return(nil)

		_, err := f.orchestrator(t, WithMetrics(m)).Execute(context.Background(), SyncConfig{})
		require.NoError(t, err)
		count, err := testutil.GatherAndCount(m.Registry(), "release_mirror_run_success")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		expected := `
# HELP release_mirror_builds_total Image builds attempted, by result
# TYPE release_mirror_builds_total counter
release_mirror_builds_total{result="success"} 2
`
		assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "release_mirror_builds_total"))
	})

	t.Run("Should reject an invalid configuration", func(t *testing.T) {
		f := newSyncFixture()
		_, err := f.orchestrator(t).Execute(context.Background(), SyncConfig{Workers: -1})
		assert.Error(t, err)
		f.upstream.AssertNotCalled(t, "ListReleases", mock.Anything)
	})
}
