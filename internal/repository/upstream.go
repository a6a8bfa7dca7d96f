package repository

import (
	"context"
	"time"

	"github.com/compozy/releasemirror/internal/domain"
	"go.uber.org/zap"
)

const (
	// DefaultPerPage is the page size requested from paginated upstream listings
	DefaultPerPage = 100
	// DefaultMaxTagHops bounds how many annotated tag objects are dereferenced before giving up
	DefaultMaxTagHops = 5
	// DefaultRequestTimeout bounds every single upstream or registry call
	DefaultRequestTimeout = 30 * time.Second
	// DefaultCloneTimeout bounds the initial clone of a git source, which fetches every tag and its history
	DefaultCloneTimeout = 30 * time.Minute
	// DefaultRetryDelay is the initial delay for exponential backoff
	DefaultRetryDelay = time.Second
)

// ReleaseSource is a read-only view over an upstream repository's releases and default branch.
type ReleaseSource interface {
	// ListReleases returns every published release. A failure on any page discards the partial result.
	ListReleases(ctx context.Context) ([]domain.Release, error)
	// LatestDefaultBranchCommit returns the most recent commit on the default branch.
	LatestDefaultBranchCommit(ctx context.Context) (domain.CommitRef, error)
}

// RevisionResolver maps a release tag to the commit it points to.
type RevisionResolver interface {
	ResolveTag(ctx context.Context, tag string) (domain.CommitRef, error)
}

// UpstreamRepository is implemented by every upstream backend.
type UpstreamRepository interface {
	ReleaseSource
	RevisionResolver
}

// UpstreamOptions tunes how an upstream backend talks to its remote.
type UpstreamOptions struct {
	PerPage        int
	MaxTagHops     int
	RequestTimeout time.Duration
	CloneTimeout   time.Duration
	RetryCount     uint64
	RetryDelay     time.Duration
	Logger         *zap.Logger
}

func (o UpstreamOptions) withDefaults() UpstreamOptions {
	if o.PerPage <= 0 {
		o.PerPage = DefaultPerPage
	}
	if o.MaxTagHops <= 0 {
		o.MaxTagHops = DefaultMaxTagHops
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.CloneTimeout <= 0 {
		o.CloneTimeout = DefaultCloneTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
