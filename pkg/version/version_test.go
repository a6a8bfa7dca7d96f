package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withVersion(t *testing.T, v, commit string) {
	t.Helper()
	oldVersion, oldCommit := Version, CommitHash
	Version, CommitHash = v, commit
	t.Cleanup(func() {
		Version, CommitHash = oldVersion, oldCommit
	})
}

func TestSummary(t *testing.T) {
	t.Run("Should return the version when the commit is unknown", func(t *testing.T) {
		withVersion(t, "v1.2.0", "unknown")
		assert.Equal(t, "v1.2.0", Summary())
	})
	t.Run("Should append the short commit", func(t *testing.T) {
		withVersion(t, "v1.2.0", "0123456789abcdef")
		assert.Equal(t, "v1.2.0+0123456", Summary())
	})
	t.Run("Should fall back to dev for an empty version", func(t *testing.T) {
		withVersion(t, " ", "")
		assert.Equal(t, "dev", Summary())
	})
}

func TestUserAgent(t *testing.T) {
	t.Run("Should name the tool and platform", func(t *testing.T) {
		withVersion(t, "v1.2.0", "unknown")
		assert.Equal(t, "release-mirror/v1.2.0 ("+runtime.GOOS+"/"+runtime.GOARCH+")", UserAgent())
	})
}
