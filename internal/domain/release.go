package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	commitHashRegex = regexp.MustCompile(`^([a-f0-9]{40}|[a-f0-9]{64})$`)
	imageTagRegex   = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)
)

// Release is a published upstream release, identified by its tag.
type Release struct {
	Tag string `json:"tag"`
}

// CommitRef names an exact repository revision by its content hash.
type CommitRef string

// NewCommitRef validates and normalizes a commit hash.
func NewCommitRef(hash string) (CommitRef, error) {
	normalized := strings.ToLower(strings.TrimSpace(hash))
	if !commitHashRegex.MatchString(normalized) {
		return "", fmt.Errorf("invalid commit hash: %q", hash)
	}
	return CommitRef(normalized), nil
}

// String returns the full hash.
func (c CommitRef) String() string {
	return string(c)
}

// Short returns the abbreviated hash used in log and report output.
func (c CommitRef) Short() string {
	if len(c) <= 12 {
		return string(c)
	}
	return string(c[:12])
}

// PublishTask pairs an artifact tag with the revision it must be built from.
type PublishTask struct {
	Tag    string
	Commit CommitRef
}

// ImageReference returns the fully qualified reference for the task within the given image repository.
func (t PublishTask) ImageReference(image string) string {
	return fmt.Sprintf("%s:%s", image, t.Tag)
}

// ValidateImageTag checks that a release tag can be published as an image tag and does not
// collide with the reserved tag rebuilt on every run.
func ValidateImageTag(tag, reserved string) error {
	if tag == "" {
		return fmt.Errorf("%w: empty tag", ErrInvalidTag)
	}
	if reserved != "" && tag == reserved {
		return fmt.Errorf("%w: %s is reserved for the default branch image", ErrInvalidTag, tag)
	}
	if !imageTagRegex.MatchString(tag) {
		return fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	return nil
}
