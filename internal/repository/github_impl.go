package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/compozy/releasemirror/internal/config"
	"github.com/compozy/releasemirror/internal/domain"
	"github.com/compozy/releasemirror/pkg/version"
	"github.com/google/go-github/v74/github"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	gitObjectTypeCommit = "commit"
	gitObjectTypeTag    = "tag"
)

// githubRepository reads releases and git objects through the GitHub REST API.
type githubRepository struct {
	client *github.Client
	owner  string
	repo   string
	opts   UpstreamOptions
	logger *zap.Logger
}

// NewGithubRepository creates an UpstreamRepository backed by the GitHub API.
// The token is optional; without it requests are anonymous and subject to lower rate limits.
func NewGithubRepository(token, owner, repo string, opts UpstreamOptions) (UpstreamRepository, error) {
	if err := config.ValidateGitHubOwnerRepo(owner, repo); err != nil {
		return nil, fmt.Errorf("invalid repository configuration: %w", err)
	}
	var httpClient *http.Client
	if strings.TrimSpace(token) != "" {
		if err := config.ValidateGitHubToken(token); err != nil {
			return nil, fmt.Errorf("invalid GitHub token: %w", err)
		}
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: strings.TrimSpace(token)},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	client := github.NewClient(httpClient)
	client.UserAgent = version.UserAgent()
	return newGithubRepository(client, owner, repo, opts), nil
}

func newGithubRepository(client *github.Client, owner, repo string, opts UpstreamOptions) *githubRepository {
	opts = opts.withDefaults()
	return &githubRepository{
		client: client,
		owner:  owner,
		repo:   repo,
		opts:   opts,
		logger: opts.Logger.With(zap.String("upstream", owner+"/"+repo)),
	}
}

// Releases lazily walks the release listing page by page, stopping at the first empty page.
// Each call starts over from page 1.
func (r *githubRepository) Releases(ctx context.Context) iter.Seq2[domain.Release, error] {
	return func(yield func(domain.Release, error) bool) {
		for page := 1; ; page++ {
			releases, err := r.listReleasePage(ctx, page)
			if err != nil {
				yield(domain.Release{}, err)
				return
			}
			if len(releases) == 0 {
				return
			}
			for _, rel := range releases {
				if rel.GetDraft() {
					r.logger.Debug("ignoring draft release", zap.String("tag", rel.GetTagName()))
					continue
				}
				if !yield(domain.Release{Tag: rel.GetTagName()}, nil) {
					return
				}
			}
		}
	}
}

// ListReleases collects every release; a failure on any page discards what was already read.
func (r *githubRepository) ListReleases(ctx context.Context) ([]domain.Release, error) {
	releases := []domain.Release{}
	for release, err := range r.Releases(ctx) {
		if err != nil {
			return nil, err
		}
		releases = append(releases, release)
	}
	r.logger.Debug("listed releases", zap.Int("count", len(releases)))
	return releases, nil
}

func (r *githubRepository) listReleasePage(ctx context.Context, page int) ([]*github.RepositoryRelease, error) {
	var releases []*github.RepositoryRelease
	err := r.call(ctx, "list releases", func(ctx context.Context) (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		releases, resp, err = r.client.Repositories.ListReleases(ctx, r.owner, r.repo, &github.ListOptions{
			Page:    page,
			PerPage: r.opts.PerPage,
		})
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing releases page %d: %w", domain.ErrUpstreamUnavailable, page, err)
	}
	return releases, nil
}

// LatestDefaultBranchCommit returns the first entry of the default branch commit listing.
func (r *githubRepository) LatestDefaultBranchCommit(ctx context.Context) (domain.CommitRef, error) {
	var commits []*github.RepositoryCommit
	err := r.call(ctx, "list commits", func(ctx context.Context) (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		commits, resp, err = r.client.Repositories.ListCommits(ctx, r.owner, r.repo, &github.CommitsListOptions{
			ListOptions: github.ListOptions{PerPage: 1},
		})
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("%w: listing default branch commits: %w", domain.ErrUpstreamUnavailable, err)
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("%w: default branch has no commits", domain.ErrUpstreamUnavailable)
	}
	commit, err := domain.NewCommitRef(commits[0].GetSHA())
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	return commit, nil
}

// ResolveTag follows the tag reference through any annotated tag objects until it reaches a commit.
func (r *githubRepository) ResolveTag(ctx context.Context, tag string) (domain.CommitRef, error) {
	var ref *github.Reference
	err := r.call(ctx, "get tag reference", func(ctx context.Context) (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		ref, resp, err = r.client.Git.GetRef(ctx, r.owner, r.repo, "tags/"+tag)
		return resp, err
	})
	if err != nil {
		if isGithubNotFound(err) {
			return "", fmt.Errorf("%w: %s", domain.ErrTagNotFound, tag)
		}
		return "", fmt.Errorf("%w: %s: fetching reference: %w", domain.ErrTagResolution, tag, err)
	}
	objType, sha := ref.GetObject().GetType(), ref.GetObject().GetSHA()
	for hops := 0; ; hops++ {
		switch objType {
		case gitObjectTypeCommit:
			commit, err := domain.NewCommitRef(sha)
			if err != nil {
				return "", fmt.Errorf("%w: %s: %w", domain.ErrMalformedObjectGraph, tag, err)
			}
			r.logger.Debug("resolved tag",
				zap.String("tag", tag), zap.String("commit", commit.Short()), zap.Int("hops", hops))
			return commit, nil
		case gitObjectTypeTag:
			if hops >= r.opts.MaxTagHops {
				return "", fmt.Errorf("%w: %s: more than %d tag objects in chain",
					domain.ErrMalformedObjectGraph, tag, r.opts.MaxTagHops)
			}
			tagObj, err := r.getTagObject(ctx, sha)
			if err != nil {
				if isGithubNotFound(err) {
					return "", fmt.Errorf("%w: %s: tag object %s not found", domain.ErrMalformedObjectGraph, tag, sha)
				}
				return "", fmt.Errorf("%w: %s: fetching tag object %s: %w", domain.ErrTagResolution, tag, sha, err)
			}
			objType, sha = tagObj.GetObject().GetType(), tagObj.GetObject().GetSHA()
		default:
			return "", fmt.Errorf("%w: %s: unexpected object type %q", domain.ErrMalformedObjectGraph, tag, objType)
		}
	}
}

func (r *githubRepository) getTagObject(ctx context.Context, sha string) (*github.Tag, error) {
	var tagObj *github.Tag
	err := r.call(ctx, "get tag object", func(ctx context.Context) (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		tagObj, resp, err = r.client.Git.GetTag(ctx, r.owner, r.repo, sha)
		return resp, err
	})
	return tagObj, err
}

// call runs one API request under the per-call timeout, retrying transient failures.
func (r *githubRepository) call(
	ctx context.Context,
	operation string,
	fn func(ctx context.Context) (*github.Response, error),
) error {
	backoff := retry.WithMaxRetries(r.opts.RetryCount, retry.NewExponential(r.opts.RetryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
		defer cancel()
		resp, err := fn(callCtx)
		if err == nil {
			return nil
		}
		if isTransient(resp, err) {
			r.logger.Debug("retrying upstream call", zap.String("operation", operation), zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
}

// isTransient reports whether a failed request is worth retrying: network errors and 5xx responses.
func isTransient(resp *github.Response, err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return false
	}
	if resp == nil || resp.Response == nil {
		return true
	}
	return resp.StatusCode >= http.StatusInternalServerError
}

func isGithubNotFound(err error) bool {
	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return errResp.Response.StatusCode == http.StatusNotFound
	}
	return false
}
