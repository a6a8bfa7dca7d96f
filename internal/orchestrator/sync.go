package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/compozy/releasemirror/internal/metrics"
	"github.com/compozy/releasemirror/internal/repository"
	"github.com/compozy/releasemirror/internal/service"
	"github.com/compozy/releasemirror/internal/usecase"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SyncConfig contains configuration for one sync run.
type SyncConfig struct {
	DryRun    bool
	Workers   int
	LatestTag string
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.LatestTag == "" {
		c.LatestTag = DefaultLatestTag
	}
	return c
}

// SyncOrchestrator mirrors upstream releases into the image registry.
type SyncOrchestrator struct {
	upstream repository.UpstreamRepository
	probe    repository.RegistryProbe
	builder  service.BuilderService
	image    string
	logger   *zap.Logger
	lock     repository.RunLock
	metrics  *metrics.SyncMetrics
}

// Option customizes a SyncOrchestrator.
type Option func(*SyncOrchestrator)

// WithRunLock makes every run hold lock for its whole duration.
func WithRunLock(lock repository.RunLock) Option {
	return func(o *SyncOrchestrator) {
		o.lock = lock
	}
}

// WithMetrics records build and run metrics.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(o *SyncOrchestrator) {
		o.metrics = m
	}
}

// NewSyncOrchestrator creates a new sync orchestrator for the given image repository.
func NewSyncOrchestrator(
	upstream repository.UpstreamRepository,
	probe repository.RegistryProbe,
	builder service.BuilderService,
	image string,
	logger *zap.Logger,
	opts ...Option,
) *SyncOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &SyncOrchestrator{
		upstream: upstream,
		probe:    probe,
		builder:  builder,
		image:    image,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type plannedRelease struct {
	tracker *domain.ReleaseTracker
	task    domain.PublishTask
}

// Execute runs one sync. The returned report is always non-nil once the configuration is valid;
// an error is returned only when the run aborted before any release was processed.
func (o *SyncOrchestrator) Execute(ctx context.Context, cfg SyncConfig) (*domain.SyncReport, error) {
	cfg = cfg.withDefaults()
	if err := ValidateSyncConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid sync configuration: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultWorkflowTimeout)
	defer cancel()
	report := domain.NewSyncReport(o.image, cfg.DryRun)
	logger := o.logger.With(zap.String("run_id", report.RunID), zap.String("image", o.image))
	if o.lock != nil {
		release, err := o.lock.Acquire(ctx)
		if err != nil {
			return o.abort(report, logger, err)
		}
		defer func() {
			if err := release(); err != nil {
				logger.Warn("failed to release run lock", zap.Error(err))
			}
		}()
	}
	logger.Info("listing upstream releases")
	releases, err := o.upstream.ListReleases(ctx)
	if err != nil {
		return o.abort(report, logger, fmt.Errorf("failed to list releases: %w", err))
	}
	logger.Info("planning releases", zap.Int("releases", len(releases)), zap.Int("workers", cfg.Workers))
	planned := o.plan(ctx, logger, cfg, releases, report)
	if cfg.DryRun {
		for _, p := range planned {
			logger.Info("would build release", zap.String("tag", p.task.Tag), zap.String("commit", p.task.Commit.Short()))
			report.Record(p.tracker.Outcome(nil))
		}
		o.planLatest(ctx, logger, cfg, report)
	} else {
		loginErr := o.login(ctx, logger)
		o.publish(ctx, logger, planned, loginErr, report)
		o.publishLatest(ctx, logger, cfg, loginErr, report)
	}
	report.Finish()
	o.metrics.ObserveReport(report)
	counts := report.Counts()
	logger.Info("sync finished",
		zap.Int("skipped", counts[domain.OutcomeSkipped]),
		zap.Int("published", counts[domain.OutcomePublished]),
		zap.Int("planned", counts[domain.OutcomePlanned]),
		zap.Int("failed", counts[domain.OutcomeFailed]),
		zap.Duration("duration", report.Duration()),
	)
	return report, nil
}

func (o *SyncOrchestrator) abort(report *domain.SyncReport, logger *zap.Logger, err error) (*domain.SyncReport, error) {
	logger.Error("sync aborted", zap.Error(err))
	report.Abort(err)
	o.metrics.ObserveReport(report)
	return report, err
}

// plan probes and resolves releases concurrently. Failures are recorded per release;
// releases that must be built are returned in tag order.
func (o *SyncOrchestrator) plan(
	ctx context.Context,
	logger *zap.Logger,
	cfg SyncConfig,
	releases []domain.Release,
	report *domain.SyncReport,
) []plannedRelease {
	planner := &usecase.PlanReleaseUseCase{
		Probe:       o.probe,
		Resolver:    o.upstream,
		ReservedTag: cfg.LatestTag,
	}
	var (
		mu      sync.Mutex
		planned []plannedRelease
		g       errgroup.Group
	)
	g.SetLimit(cfg.Workers)
	seen := make(map[string]struct{}, len(releases))
	for _, release := range releases {
		if _, dup := seen[release.Tag]; dup {
			logger.Warn("duplicate release tag ignored", zap.String("tag", release.Tag))
			continue
		}
		seen[release.Tag] = struct{}{}
		g.Go(func() error {
			tracker := domain.NewReleaseTracker(release.Tag)
			task, err := planner.Execute(ctx, tracker)
			switch {
			case err != nil:
				logger.Warn("release failed", zap.String("tag", release.Tag), zap.Error(err))
				report.Record(tracker.Outcome(err))
			case task == nil:
				logger.Info("already published; skipping", zap.String("tag", release.Tag))
				report.Record(tracker.Outcome(nil))
			default:
				mu.Lock()
				planned = append(planned, plannedRelease{tracker: tracker, task: *task})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.SliceStable(planned, func(i, j int) bool {
		return domain.CompareTags(planned[i].task.Tag, planned[j].task.Tag) < 0
	})
	return planned
}

// login authenticates once before the first publish, retrying transient failures.
func (o *SyncOrchestrator) login(ctx context.Context, logger *zap.Logger) error {
	err := retry.Do(
		ctx,
		retry.WithMaxRetries(LoginRetryCount, retry.NewExponential(LoginRetryDelay)),
		func(ctx context.Context) error {
			if err := o.builder.Login(ctx); err != nil {
				logger.Warn("registry login failed", zap.Error(err))
				return retry.RetryableError(err)
			}
			return nil
		},
	)
	if err != nil {
		logger.Error("registry login failed; nothing will be published", zap.Error(err))
	}
	return err
}

// publish builds the planned releases one at a time.
func (o *SyncOrchestrator) publish(
	ctx context.Context,
	logger *zap.Logger,
	planned []plannedRelease,
	loginErr error,
	report *domain.SyncReport,
) {
	publisher := &usecase.PublishImageUseCase{Builder: o.builder}
	for _, p := range planned {
		report.Record(p.tracker.Outcome(o.publishOne(ctx, logger, publisher, p.tracker, p.task, loginErr)))
	}
}

// publishLatest always rebuilds the default branch head, after every release was attempted.
func (o *SyncOrchestrator) publishLatest(
	ctx context.Context,
	logger *zap.Logger,
	cfg SyncConfig,
	loginErr error,
	report *domain.SyncReport,
) {
	tracker := domain.NewLatestTracker(cfg.LatestTag)
	resolver := &usecase.ResolveLatestUseCase{Source: o.upstream}
	task, err := resolver.Execute(ctx, tracker)
	if err != nil {
		logger.Error("failed to resolve latest", zap.Error(err))
		report.SetLatest(tracker.Outcome(err))
		return
	}
	publisher := &usecase.PublishImageUseCase{Builder: o.builder}
	report.SetLatest(tracker.Outcome(o.publishOne(ctx, logger, publisher, tracker, *task, loginErr)))
}

func (o *SyncOrchestrator) publishOne(
	ctx context.Context,
	logger *zap.Logger,
	publisher *usecase.PublishImageUseCase,
	tracker *domain.ReleaseTracker,
	task domain.PublishTask,
	loginErr error,
) error {
	if loginErr != nil {
		err := fmt.Errorf("%w: registry login: %w", domain.ErrBuildPublish, loginErr)
		if advErr := tracker.Advance(domain.ReleaseStateFailed); advErr != nil {
			logger.Warn("unexpected release state", zap.String("tag", task.Tag), zap.Error(advErr))
		}
		return err
	}
	logger.Info("building and pushing", zap.String("tag", task.Tag), zap.String("commit", task.Commit.Short()))
	start := time.Now()
	err := publisher.Execute(ctx, tracker, task)
	o.metrics.ObserveBuild(err, time.Since(start))
	if err != nil {
		logger.Error("publish failed", zap.String("tag", task.Tag), zap.Error(err))
		return err
	}
	logger.Info("published", zap.String("tag", task.Tag), zap.Duration("duration", time.Since(start)))
	return nil
}

// planLatest resolves the default branch head without building it.
func (o *SyncOrchestrator) planLatest(ctx context.Context, logger *zap.Logger, cfg SyncConfig, report *domain.SyncReport) {
	tracker := domain.NewLatestTracker(cfg.LatestTag)
	resolver := &usecase.ResolveLatestUseCase{Source: o.upstream}
	task, err := resolver.Execute(ctx, tracker)
	if err != nil {
		logger.Error("failed to resolve latest", zap.Error(err))
		report.SetLatest(tracker.Outcome(err))
		return
	}
	logger.Info("would build latest", zap.String("tag", task.Tag), zap.String("commit", task.Commit.Short()))
	report.SetLatest(tracker.Outcome(nil))
}
