package domain

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Version wraps semver.Version for release tags that follow semantic versioning.
type Version struct {
	*semver.Version
}

// NewVersion creates a new Version from a string.
func NewVersion(s string) (*Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil, err
	}
	return &Version{v}, nil
}

// Compare compares two versions.
func (v *Version) Compare(other *Version) int {
	return v.Version.Compare(other.Version)
}

// CompareTags orders release tags: semantic versions first, ascending, then everything else lexically.
func CompareTags(a, b string) int {
	va, errA := NewVersion(a)
	vb, errB := NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		if c := va.Compare(vb); c != 0 {
			return c
		}
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SortTags sorts release tags in place using CompareTags.
func SortTags(tags []string) {
	sort.SliceStable(tags, func(i, j int) bool {
		return CompareTags(tags[i], tags[j]) < 0
	})
}

// SortOutcomes sorts report outcomes by tag using CompareTags.
func SortOutcomes(outcomes []Outcome) {
	sort.SliceStable(outcomes, func(i, j int) bool {
		return CompareTags(outcomes[i].Tag, outcomes[j].Tag) < 0
	})
}
