package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Set at build time with -ldflags "-X github.com/compozy/releasemirror/pkg/version.Version=..."
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// Summary returns the version, with the short commit when it is known.
func Summary() string {
	v := orDefault(Version, "dev")
	commit := strings.TrimSpace(CommitHash)
	if commit == "" || commit == "unknown" {
		return v
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s+%s", v, commit)
}

// UserAgent identifies the tool to GitHub and to image registries.
func UserAgent() string {
	return fmt.Sprintf("release-mirror/%s (%s/%s)", Summary(), runtime.GOOS, runtime.GOARCH)
}

func orDefault(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
