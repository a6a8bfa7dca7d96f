package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/google/go-containerregistry/pkg/name"
	"go.uber.org/zap"
)

// BuilderService builds an image from an exact commit and publishes it under the task's tag.
type BuilderService interface {
	// Login authenticates against the registry once before the first publish.
	Login(ctx context.Context) error
	BuildAndPush(ctx context.Context, task domain.PublishTask) error
}

// BuildOptions is shared by every builder implementation.
type BuildOptions struct {
	// ImageName is the fully qualified repository, e.g. docker.io/org/image
	ImageName    string
	Registry     string
	Dockerfile   string
	BuildContext string
	// BuildArg names the build argument receiving the commit hash
	BuildArg  string
	Username  string
	Password  string
	SkipLogin bool
	Timeout   time.Duration
	Logger    *zap.Logger
}

var buildArgRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (o BuildOptions) withDefaults() BuildOptions {
	if o.Dockerfile == "" {
		o.Dockerfile = "Dockerfile"
	}
	if o.BuildContext == "" {
		o.BuildContext = "."
	}
	if o.BuildArg == "" {
		o.BuildArg = "COMMIT"
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultBuildTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func (o BuildOptions) validate() error {
	if strings.TrimSpace(o.ImageName) == "" {
		return fmt.Errorf("image name cannot be empty")
	}
	if _, err := name.NewRepository(o.ImageName); err != nil {
		return fmt.Errorf("invalid image name: %w", err)
	}
	if !buildArgRegex.MatchString(o.BuildArg) {
		return fmt.Errorf("invalid build argument name: %s", o.BuildArg)
	}
	return nil
}

// loginRequired reports whether credentials were supplied; without them the
// builder relies on credentials already stored by the container tool.
func (o BuildOptions) loginRequired() bool {
	return !o.SkipLogin && o.hasCredentials()
}

func (o BuildOptions) hasCredentials() bool {
	return strings.TrimSpace(o.Username) != ""
}

// imageReference returns the validated name:tag reference for a task.
func (o BuildOptions) imageReference(task domain.PublishTask) (string, error) {
	ref := task.ImageReference(o.ImageName)
	if _, err := name.NewTag(ref, name.StrictValidation); err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrInvalidTag, task.Tag, err)
	}
	return ref, nil
}

func truncateOutput(out string) string {
	out = strings.TrimSpace(out)
	if len(out) <= maxErrorOutput {
		return out
	}
	return "..." + out[len(out)-maxErrorOutput:]
}
