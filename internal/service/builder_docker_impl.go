package service

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

// dockerAPI is the subset of the Docker Engine client used for publishing.
type dockerAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ImagePush(ctx context.Context, image string, options image.PushOptions) (io.ReadCloser, error)
	RegistryLogin(ctx context.Context, auth registry.AuthConfig) (registry.AuthenticateOKBody, error)
}

// dockerAPIBuilder talks to the Docker Engine API directly instead of shelling out.
type dockerAPIBuilder struct {
	api    dockerAPI
	opts   BuildOptions
	logger *zap.Logger
}

// NewDockerAPIBuilder creates a BuilderService using the daemon configured by DOCKER_HOST.
func NewDockerAPIBuilder(opts BuildOptions) (BuilderService, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newDockerAPIBuilder(cli, opts)
}

func newDockerAPIBuilder(api dockerAPI, opts BuildOptions) (*dockerAPIBuilder, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &dockerAPIBuilder{
		api:    api,
		opts:   opts,
		logger: opts.Logger.With(zap.String("builder", "docker-api")),
	}, nil
}

func (b *dockerAPIBuilder) authConfig() registry.AuthConfig {
	return registry.AuthConfig{
		Username:      b.opts.Username,
		Password:      b.opts.Password,
		ServerAddress: b.opts.Registry,
	}
}

func (b *dockerAPIBuilder) Login(ctx context.Context) error {
	if !b.opts.loginRequired() {
		if b.opts.hasCredentials() {
			b.logger.Info("skipping registry login; credentials are sent with each push")
		} else {
			// The Engine API has no credential store of its own, so pushes go out anonymously.
			b.logger.Warn("no registry credentials configured; pushing without authentication",
				zap.String("registry", b.opts.Registry))
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultLoginTimeout)
	defer cancel()
	resp, err := b.api.RegistryLogin(ctx, b.authConfig())
	if err != nil {
		return fmt.Errorf("%w: registry login: %w", domain.ErrBuildPublish, err)
	}
	b.logger.Info("logged in to registry", zap.String("registry", b.opts.Registry), zap.String("status", resp.Status))
	return nil
}

func (b *dockerAPIBuilder) BuildAndPush(ctx context.Context, task domain.PublishTask) error {
	ref, err := b.opts.imageReference(task)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()
	commit := task.Commit.String()
	buildContext := createBuildContext(b.opts.BuildContext)
	defer buildContext.Close()
	b.logger.Info("building image", zap.String("image", ref), zap.String("commit", task.Commit.Short()))
	resp, err := b.api.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:       []string{ref},
		Dockerfile: b.opts.Dockerfile,
		BuildArgs:  map[string]*string{b.opts.BuildArg: &commit},
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("%w: building %s: %w", domain.ErrBuildPublish, ref, err)
	}
	if err := b.drainJSONStream(resp.Body); err != nil {
		return fmt.Errorf("%w: building %s: %w", domain.ErrBuildPublish, ref, err)
	}
	var pushOpts image.PushOptions
	if b.opts.hasCredentials() {
		encodedAuth, err := registry.EncodeAuthConfig(b.authConfig())
		if err != nil {
			return fmt.Errorf("%w: encoding registry credentials: %w", domain.ErrBuildPublish, err)
		}
		pushOpts.RegistryAuth = encodedAuth
	}
	b.logger.Info("pushing image", zap.String("image", ref))
	pushBody, err := b.api.ImagePush(ctx, ref, pushOpts)
	if err != nil {
		return fmt.Errorf("%w: pushing %s: %w", domain.ErrBuildPublish, ref, err)
	}
	if err := b.drainJSONStream(pushBody); err != nil {
		return fmt.Errorf("%w: pushing %s: %w", domain.ErrBuildPublish, ref, err)
	}
	return nil
}

// drainJSONStream forwards daemon progress to the debug log and surfaces
// errors reported inside the stream.
func (b *dockerAPIBuilder) drainJSONStream(body io.ReadCloser) error {
	defer body.Close()
	out := &zapio.Writer{Log: b.logger, Level: zap.DebugLevel}
	defer out.Close()
	return jsonmessage.DisplayJSONMessagesStream(body, out, 0, false, nil)
}

// createBuildContext streams root as a tar archive, skipping the .git directory
// and anything that is neither a regular file nor a directory.
func createBuildContext(root string) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		tw := tar.NewWriter(pw)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && d.Name() == ".git" {
				return filepath.SkipDir
			}
			if !d.IsDir() && !d.Type().IsRegular() {
				return nil
			}
			relPath, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if relPath == "." {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			header.Name = filepath.ToSlash(relPath)
			if err := tw.WriteHeader(header); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(tw, f)
			return err
		})
		if err == nil {
			err = tw.Close()
		}
		pw.CloseWithError(err)
	}()
	return pr
}
