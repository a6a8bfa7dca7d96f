package cmd

import (
	"context"
	"fmt"

	"github.com/compozy/releasemirror/internal/config"
	"github.com/compozy/releasemirror/internal/metrics"
	"github.com/compozy/releasemirror/internal/orchestrator"
	"github.com/compozy/releasemirror/internal/repository"
	"github.com/compozy/releasemirror/internal/service"
	"go.uber.org/zap"
)

// container holds all the dependencies for the application.
type container struct {
	cfg    *config.Config
	logger *zap.Logger

	fsRepo   repository.FileSystemRepository
	upstream repository.UpstreamRepository
	probe    repository.RegistryProbe
	builder  service.BuilderService
	lock     repository.RunLock
	metrics  *metrics.SyncMetrics
}

// containerLoader builds the container when a command runs, so that commands
// without dependencies work with an incomplete configuration.
type containerLoader func(ctx context.Context) (*container, error)

// newContainer creates a new container with all the dependencies.
func newContainer(ctx context.Context) (*container, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	upstream, err := newUpstream(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	probe, err := repository.NewRegistryProbe(cfg.ImageName(), repository.RegistryOptions{
		Username:       cfg.RegistryUsername,
		Password:       cfg.RegistryPassword,
		Insecure:       cfg.InsecureRegistry,
		RequestTimeout: cfg.RequestTimeout,
		RetryCount:     uint64(cfg.RetryCount),
		RetryDelay:     cfg.RetryDelay,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	builder, err := newBuilder(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &container{
		cfg:      cfg,
		logger:   logger,
		fsRepo:   repository.NewOSFileSystem(),
		upstream: upstream,
		probe:    probe,
		builder:  builder,
		lock:     repository.NewFileRunLock(cfg.LockFile, cfg.LockTimeout),
		metrics:  metrics.NewSyncMetrics(),
	}, nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level: %w", err)
	}
	zcfg := zap.NewDevelopmentConfig()
	if format == config.LogFormatJSON {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

func newUpstream(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.UpstreamRepository, error) {
	opts := repository.UpstreamOptions{
		PerPage:        cfg.PerPage,
		MaxTagHops:     cfg.MaxTagHops,
		RequestTimeout: cfg.RequestTimeout,
		CloneTimeout:   cfg.CloneTimeout,
		RetryCount:     uint64(cfg.RetryCount),
		RetryDelay:     cfg.RetryDelay,
		Logger:         logger,
	}
	if cfg.Source == config.SourceGit {
		return repository.NewGitSourceRepository(ctx, cfg.GitURL, cfg.GithubToken, opts)
	}
	return repository.NewGithubRepository(cfg.GithubToken, cfg.GithubOwner, cfg.GithubRepo, opts)
}

func newBuilder(cfg *config.Config, logger *zap.Logger) (service.BuilderService, error) {
	opts := service.BuildOptions{
		ImageName:    cfg.ImageName(),
		Registry:     cfg.Registry,
		Dockerfile:   cfg.Dockerfile,
		BuildContext: cfg.BuildContext,
		BuildArg:     cfg.BuildArg,
		Username:     cfg.RegistryUsername,
		Password:     cfg.RegistryPassword,
		SkipLogin:    cfg.SkipLogin,
		Timeout:      cfg.BuildTimeout,
		Logger:       logger,
	}
	switch cfg.Builder {
	case config.BuilderDockerAPI:
		return service.NewDockerAPIBuilder(opts)
	case config.BuilderDocker, config.BuilderPodman:
		return service.NewCLIBuilder(cfg.Builder, opts)
	default:
		return nil, fmt.Errorf("unsupported builder: %s", cfg.Builder)
	}
}

func (c *container) orchestrator() *orchestrator.SyncOrchestrator {
	return orchestrator.NewSyncOrchestrator(
		c.upstream,
		c.probe,
		c.builder,
		c.cfg.ImageName(),
		c.logger,
		orchestrator.WithRunLock(c.lock),
		orchestrator.WithMetrics(c.metrics),
	)
}

func (c *container) reportRepository(path string) repository.ReportRepository {
	return repository.NewJSONReportRepository(c.fsRepo, path, c.logger)
}

func (c *container) close() {
	_ = c.logger.Sync()
}

// InitCommands initializes all commands with their dependencies
func InitCommands() error {
	rootCmd.AddCommand(
		NewSyncCmd(newContainer),
		NewPlanCmd(newContainer),
		newVersionCmd(),
	)
	return nil
}
