package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/compozy/releasemirror/internal/domain"
	"go.uber.org/zap"
)

// commandRunner executes an external command and returns its stdout.
type commandRunner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

// Run runs a command with proper resource cleanup and stderr in the error.
func (execRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	label := name
	if len(args) > 0 {
		label += " " + args[0]
	}
	err := cmd.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", label, ctxErr)
		}
		if errMsg := truncateOutput(stderr.String()); errMsg != "" {
			return nil, fmt.Errorf("%s failed: %w (stderr: %s)", label, err, errMsg)
		}
		return nil, fmt.Errorf("%s failed: %w", label, err)
	}
	return stdout.Bytes(), nil
}

// cliBuilder drives a docker compatible CLI such as podman or docker.
type cliBuilder struct {
	binary string
	opts   BuildOptions
	runner commandRunner
	logger *zap.Logger
}

// NewCLIBuilder creates a BuilderService shelling out to binary (podman or docker).
func NewCLIBuilder(binary string, opts BuildOptions) (BuilderService, error) {
	return newCLIBuilder(binary, opts, execRunner{})
}

func newCLIBuilder(binary string, opts BuildOptions, runner commandRunner) (*cliBuilder, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(binary) == "" {
		return nil, errors.New("builder binary cannot be empty")
	}
	return &cliBuilder{
		binary: binary,
		opts:   opts,
		runner: runner,
		logger: opts.Logger.With(zap.String("builder", binary)),
	}, nil
}

func (b *cliBuilder) Login(ctx context.Context) error {
	if !b.opts.loginRequired() {
		b.logger.Info("skipping registry login, using stored credentials")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultLoginTimeout)
	defer cancel()
	args := []string{"login", "--username", b.opts.Username, "--password-stdin"}
	if b.opts.Registry != "" {
		args = append(args, b.opts.Registry)
	}
	if _, err := b.runner.Run(ctx, strings.NewReader(b.opts.Password), b.binary, args...); err != nil {
		return fmt.Errorf("%w: registry login: %w", domain.ErrBuildPublish, err)
	}
	b.logger.Info("logged in to registry", zap.String("registry", b.opts.Registry))
	return nil
}

// BuildAndPush builds the Dockerfile with the commit as build argument, then pushes the tag.
func (b *cliBuilder) BuildAndPush(ctx context.Context, task domain.PublishTask) error {
	ref, err := b.opts.imageReference(task)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()
	buildArgs := []string{
		"build",
		"-f", b.opts.Dockerfile,
		"-t", ref,
		"--build-arg", fmt.Sprintf("%s=%s", b.opts.BuildArg, task.Commit),
		b.opts.BuildContext,
	}
	b.logger.Info("building image", zap.String("image", ref), zap.String("commit", task.Commit.Short()))
	if _, err := b.runner.Run(ctx, nil, b.binary, buildArgs...); err != nil {
		return fmt.Errorf("%w: building %s: %w", domain.ErrBuildPublish, ref, err)
	}
	b.logger.Info("pushing image", zap.String("image", ref))
	if _, err := b.runner.Run(ctx, nil, b.binary, "push", ref); err != nil {
		return fmt.Errorf("%w: pushing %s: %w", domain.ErrBuildPublish, ref, err)
	}
	return nil
}
