package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/compozy/releasemirror/pkg/version"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"go.uber.org/zap"
)

// RegistryProbe answers whether an image tag is already present in the target registry.
type RegistryProbe interface {
	Exists(ctx context.Context, tag string) (bool, error)
}

// RegistryOptions configures access to the target registry.
type RegistryOptions struct {
	Username       string
	Password       string
	Insecure       bool
	RequestTimeout time.Duration
	RetryCount     uint64
	RetryDelay     time.Duration
	Logger         *zap.Logger
}

type registryProbe struct {
	repository name.Repository
	options    []remote.Option
	timeout    time.Duration
	logger     *zap.Logger
}

// NewRegistryProbe creates a probe for the image repository, e.g. docker.io/org/image.
func NewRegistryProbe(imageName string, opts RegistryOptions) (RegistryProbe, error) {
	var nameOpts []name.Option
	if opts.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	repository, err := name.NewRepository(imageName, nameOpts...)
	if err != nil {
		return nil, fmt.Errorf("invalid image repository %q: %w", imageName, err)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	var auth authn.Authenticator = authn.Anonymous
	if strings.TrimSpace(opts.Username) != "" {
		auth = &authn.Basic{Username: opts.Username, Password: opts.Password}
	}
	return &registryProbe{
		repository: repository,
		options: []remote.Option{
			remote.WithAuth(auth),
			remote.WithUserAgent(version.UserAgent()),
			remote.WithRetryBackoff(remote.Backoff{
				Duration: opts.RetryDelay,
				Factor:   2,
				Jitter:   0.1,
				Steps:    int(opts.RetryCount) + 1,
			}),
		},
		timeout: opts.RequestTimeout,
		logger:  opts.Logger.With(zap.String("image", repository.Name())),
	}, nil
}

// Exists issues a single manifest HEAD. Only a 404 means the tag is missing.
func (p *registryProbe) Exists(ctx context.Context, tag string) (bool, error) {
	ref := p.repository.Tag(tag)
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	desc, err := remote.Head(ref, append(p.options, remote.WithContext(callCtx))...)
	if err == nil {
		p.logger.Debug("tag present in registry", zap.String("tag", tag), zap.String("digest", desc.Digest.String()))
		return true, nil
	}
	var terr *transport.Error
	if errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound {
		p.logger.Debug("tag missing from registry", zap.String("tag", tag))
		return false, nil
	}
	return false, fmt.Errorf("%w: %s: %w", domain.ErrRegistryUnavailable, ref.String(), err)
}
