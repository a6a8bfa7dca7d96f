package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable aborts the whole run: an incomplete release list corrupts the diff.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrTagResolution is the parent of all release-scoped resolution failures.
	ErrTagResolution = errors.New("tag resolution failed")
	// ErrTagNotFound means the tag reference itself does not exist upstream.
	ErrTagNotFound = fmt.Errorf("%w: tag not found", ErrTagResolution)
	// ErrMalformedObjectGraph means the reference exists but does not lead to a commit.
	ErrMalformedObjectGraph = fmt.Errorf("%w: malformed object graph", ErrTagResolution)
	// ErrRegistryUnavailable means the registry could not answer an existence probe.
	ErrRegistryUnavailable = errors.New("registry unavailable")
	// ErrBuildPublish means the external build or push step failed.
	ErrBuildPublish = errors.New("build/publish failed")
	// ErrInvalidTag means a release tag cannot be used as an image tag.
	ErrInvalidTag = errors.New("invalid image tag")
	// ErrRunInProgress means another run holds the workspace lock.
	ErrRunInProgress = errors.New("another sync run is in progress")
)

// FailureKind classifies a recorded failure in the sync report.
type FailureKind string

const (
	FailureKindNone                FailureKind = ""
	FailureKindUpstreamUnavailable FailureKind = "upstream_unavailable"
	FailureKindTagNotFound         FailureKind = "tag_not_found"
	FailureKindMalformedObject     FailureKind = "malformed_object_graph"
	FailureKindTagResolution       FailureKind = "tag_resolution"
	FailureKindRegistryUnavailable FailureKind = "registry_unavailable"
	FailureKindBuildPublish        FailureKind = "build_publish"
	FailureKindInvalidTag          FailureKind = "invalid_tag"
	FailureKindRunInProgress       FailureKind = "run_in_progress"
	FailureKindTimeout             FailureKind = "timeout"
	FailureKindUnknown             FailureKind = "unknown"
)

// ClassifyError maps an error onto the failure kind recorded in reports.
func ClassifyError(err error) FailureKind {
	switch {
	case err == nil:
		return FailureKindNone
	case errors.Is(err, ErrUpstreamUnavailable):
		return FailureKindUpstreamUnavailable
	case errors.Is(err, ErrTagNotFound):
		return FailureKindTagNotFound
	case errors.Is(err, ErrMalformedObjectGraph):
		return FailureKindMalformedObject
	case errors.Is(err, ErrTagResolution):
		return FailureKindTagResolution
	case errors.Is(err, ErrRegistryUnavailable):
		return FailureKindRegistryUnavailable
	case errors.Is(err, ErrBuildPublish):
		return FailureKindBuildPublish
	case errors.Is(err, ErrInvalidTag):
		return FailureKindInvalidTag
	case errors.Is(err, ErrRunInProgress):
		return FailureKindRunInProgress
	case errors.Is(err, context.DeadlineExceeded):
		return FailureKindTimeout
	default:
		return FailureKindUnknown
	}
}
