package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"go.uber.org/zap"
)

// gitSourceRepository treats every tag of a plain git repository as a release.
// HEAD is used as the default branch head.
type gitSourceRepository struct {
	repo   *git.Repository
	opts   UpstreamOptions
	logger *zap.Logger
	// go-git object caches are not safe for concurrent use
	mu sync.Mutex
}

// NewGitSourceRepository opens location when it is a local directory, otherwise clones it
// into memory without a worktree.
func NewGitSourceRepository(
	ctx context.Context,
	location, token string,
	opts UpstreamOptions,
) (UpstreamRepository, error) {
	opts = opts.withDefaults()
	if strings.TrimSpace(location) == "" {
		return nil, fmt.Errorf("git location cannot be empty")
	}
	if info, err := os.Stat(location); err == nil && info.IsDir() {
		repo, err := git.PlainOpen(location)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open git repository %s: %w", domain.ErrUpstreamUnavailable, location, err)
		}
		return newGitSourceRepository(repo, opts), nil
	}
	cloneCtx, cancel := context.WithTimeout(ctx, opts.CloneTimeout)
	defer cancel()
	repo, err := git.CloneContext(cloneCtx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:        location,
		Auth:       gitAuth(token),
		Tags:       git.AllTags,
		NoCheckout: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to clone %s: %w", domain.ErrUpstreamUnavailable, location, err)
	}
	return newGitSourceRepository(repo, opts), nil
}

func newGitSourceRepository(repo *git.Repository, opts UpstreamOptions) *gitSourceRepository {
	opts = opts.withDefaults()
	return &gitSourceRepository{
		repo:   repo,
		opts:   opts,
		logger: opts.Logger.With(zap.String("upstream", "git")),
	}
}

// gitAuth uses x-access-token as username for GitHub token authentication
func gitAuth(token string) transport.AuthMethod {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return &http.BasicAuth{
		Username: "x-access-token",
		Password: strings.TrimSpace(token),
	}
}

// ListReleases returns one release per tag reference, ordered by version.
func (r *gitSourceRepository) ListReleases(ctx context.Context) ([]domain.Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tagRefs, err := r.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tags: %w", domain.ErrUpstreamUnavailable, err)
	}
	var tags []string
	err = tagRefs.ForEach(func(ref *plumbing.Reference) error {
		tags = append(tags, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to iterate tags: %w", domain.ErrUpstreamUnavailable, err)
	}
	domain.SortTags(tags)
	releases := make([]domain.Release, 0, len(tags))
	for _, tag := range tags {
		releases = append(releases, domain.Release{Tag: tag})
	}
	r.logger.Debug("listed releases", zap.Int("count", len(releases)))
	return releases, nil
}

// LatestDefaultBranchCommit returns the commit HEAD points to.
func (r *gitSourceRepository) LatestDefaultBranchCommit(ctx context.Context) (domain.CommitRef, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("%w: failed to get HEAD: %w", domain.ErrUpstreamUnavailable, err)
	}
	commit, err := domain.NewCommitRef(head.Hash().String())
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	return commit, nil
}

// ResolveTag walks from the tag reference through annotated tag objects to a commit.
func (r *gitSourceRepository) ResolveTag(ctx context.Context, tag string) (domain.CommitRef, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrTagResolution, tag, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, err := r.repo.Reference(plumbing.NewTagReferenceName(tag), false)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", fmt.Errorf("%w: %s", domain.ErrTagNotFound, tag)
		}
		return "", fmt.Errorf("%w: %s: reading reference: %w", domain.ErrTagResolution, tag, err)
	}
	hash := ref.Hash()
	for hops := 0; ; hops++ {
		obj, err := r.repo.Storer.EncodedObject(plumbing.AnyObject, hash)
		if err != nil {
			return "", fmt.Errorf("%w: %s: object %s: %w", domain.ErrMalformedObjectGraph, tag, hash, err)
		}
		switch obj.Type() {
		case plumbing.CommitObject:
			commit, err := domain.NewCommitRef(hash.String())
			if err != nil {
				return "", fmt.Errorf("%w: %s: %w", domain.ErrMalformedObjectGraph, tag, err)
			}
			r.logger.Debug("resolved tag",
				zap.String("tag", tag), zap.String("commit", commit.Short()), zap.Int("hops", hops))
			return commit, nil
		case plumbing.TagObject:
			if hops >= r.opts.MaxTagHops {
				return "", fmt.Errorf("%w: %s: more than %d tag objects in chain",
					domain.ErrMalformedObjectGraph, tag, r.opts.MaxTagHops)
			}
			tagObj, err := object.DecodeTag(r.repo.Storer, obj)
			if err != nil {
				return "", fmt.Errorf("%w: %s: decoding tag object %s: %w", domain.ErrMalformedObjectGraph, tag, hash, err)
			}
			hash = tagObj.Target
		default:
			return "", fmt.Errorf("%w: %s: unexpected object type %q", domain.ErrMalformedObjectGraph, tag, obj.Type())
		}
	}
}
