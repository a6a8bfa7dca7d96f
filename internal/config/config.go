package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SourceGithub = "github"
	SourceGit    = "git"

	BuilderPodman    = "podman"
	BuilderDocker    = "docker"
	BuilderDockerAPI = "docker-api"

	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

var (
	imageRepositoryRegex = regexp.MustCompile(`^[a-z0-9]+(?:(?:[._]|__|-+)[a-z0-9]+)*(?:/[a-z0-9]+(?:(?:[._]|__|-+)[a-z0-9]+)*)*$`)
	registryHostRegex    = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9.-]*[a-zA-Z0-9])?(?::[0-9]+)?$`)
	buildArgRegex        = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

type Config struct {
	GithubToken string `mapstructure:"github_token"`
	GithubOwner string `mapstructure:"github_owner"`
	GithubRepo  string `mapstructure:"github_repo"`
	Source      string `mapstructure:"source"`
	GitURL      string `mapstructure:"git_url"`

	Registry         string `mapstructure:"registry"`
	Image            string `mapstructure:"image"`
	RegistryUsername string `mapstructure:"registry_username"`
	RegistryPassword string `mapstructure:"registry_password"`
	InsecureRegistry bool   `mapstructure:"insecure_registry"`

	Builder      string `mapstructure:"builder"`
	Dockerfile   string `mapstructure:"dockerfile"`
	BuildContext string `mapstructure:"build_context"`
	BuildArg     string `mapstructure:"build_arg"`
	SkipLogin    bool   `mapstructure:"skip_login"`
	LatestTag    string `mapstructure:"latest_tag"`

	Workers        int           `mapstructure:"workers"`
	PerPage        int           `mapstructure:"per_page"`
	MaxTagHops     int           `mapstructure:"max_tag_hops"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CloneTimeout   time.Duration `mapstructure:"clone_timeout"`
	BuildTimeout   time.Duration `mapstructure:"build_timeout"`
	RetryCount     int           `mapstructure:"retry_count"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`

	ReportFile     string        `mapstructure:"report_file"`
	LockFile       string        `mapstructure:"lock_file"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
	PushgatewayURL string        `mapstructure:"pushgateway_url"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		GithubOwner:    "ucb-bar",
		GithubRepo:     "chipyard",
		Source:         SourceGithub,
		Registry:       "docker.io",
		Image:          "vijaysharma4/chipyard-image",
		Builder:        BuilderPodman,
		Dockerfile:     "Dockerfile",
		BuildContext:   ".",
		BuildArg:       "COMMIT",
		LatestTag:      "latest",
		Workers:        4,
		PerPage:        100,
		MaxTagHops:     5,
		RequestTimeout: 30 * time.Second,
		CloneTimeout:   30 * time.Minute,
		BuildTimeout:   2 * time.Hour,
		RetryCount:     3,
		RetryDelay:     time.Second,
		LockFile:       ".release-mirror.lock",
		LogLevel:       "info",
		LogFormat:      LogFormatConsole,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// GitHub token is optional - public repositories can be read anonymously
	if c.GithubToken != "" {
		if err := ValidateGitHubToken(c.GithubToken); err != nil {
			return fmt.Errorf("invalid github_token: %w", err)
		}
	}
	switch c.Source {
	case SourceGithub:
		if err := ValidateGitHubOwnerRepo(c.GithubOwner, c.GithubRepo); err != nil {
			return fmt.Errorf("invalid github configuration: %w", err)
		}
	case SourceGit:
		if strings.TrimSpace(c.GitURL) == "" {
			return fmt.Errorf("git_url is required when source is %q", SourceGit)
		}
	default:
		return fmt.Errorf("unsupported source: %s", c.Source)
	}
	if err := ValidateImageRepository(c.Registry, c.Image); err != nil {
		return fmt.Errorf("invalid image configuration: %w", err)
	}
	switch c.Builder {
	case BuilderPodman, BuilderDocker, BuilderDockerAPI:
	default:
		return fmt.Errorf("unsupported builder: %s", c.Builder)
	}
	if c.Dockerfile == "" {
		return fmt.Errorf("dockerfile cannot be empty")
	}
	if c.BuildContext == "" {
		return fmt.Errorf("build_context cannot be empty")
	}
	if !buildArgRegex.MatchString(c.BuildArg) {
		return fmt.Errorf("invalid build_arg name: %q", c.BuildArg)
	}
	if c.LatestTag == "" {
		return fmt.Errorf("latest_tag cannot be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.PerPage < 1 || c.PerPage > 100 {
		return fmt.Errorf("per_page must be between 1 and 100")
	}
	if c.MaxTagHops < 1 {
		return fmt.Errorf("max_tag_hops must be at least 1")
	}
	if c.RequestTimeout <= 0 || c.BuildTimeout <= 0 {
		return fmt.Errorf("request_timeout and build_timeout must be positive")
	}
	if c.CloneTimeout <= 0 {
		return fmt.Errorf("clone_timeout must be positive")
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("retry_count cannot be negative")
	}
	if c.LogFormat != LogFormatConsole && c.LogFormat != LogFormatJSON {
		return fmt.Errorf("unsupported log_format: %s", c.LogFormat)
	}
	return nil
}

// ImageName returns the image repository qualified with its registry host
func (c *Config) ImageName() string {
	return c.Registry + "/" + c.Image
}

// ValidateGitHubToken validates GitHub token format (exported for reuse)
func ValidateGitHubToken(token string) error {
	token = strings.TrimSpace(token)
	if len(token) < 40 {
		return fmt.Errorf("token too short: expected at least 40 characters")
	}
	classicPAT := regexp.MustCompile(`^[a-fA-F0-9]{40}$`)
	fineGrainedPAT := regexp.MustCompile(`^github_pat_[a-zA-Z0-9_]{82}$`)
	appToken := regexp.MustCompile(`^ghs_[a-zA-Z0-9]{36}$`)
	oauthToken := regexp.MustCompile(`^gho_[a-zA-Z0-9]{36}$`)
	classicToken := regexp.MustCompile(`^ghp_[a-zA-Z0-9]{36}$`)
	if !classicPAT.MatchString(token) &&
		!fineGrainedPAT.MatchString(token) &&
		!appToken.MatchString(token) &&
		!oauthToken.MatchString(token) &&
		!classicToken.MatchString(token) {
		return fmt.Errorf("invalid token format")
	}
	return nil
}

// ValidateGitHubOwnerRepo validates GitHub owner and repository names (exported for reuse)
func ValidateGitHubOwnerRepo(owner, repo string) error {
	if owner == "" {
		return fmt.Errorf("owner cannot be empty")
	}
	if repo == "" {
		return fmt.Errorf("repository cannot be empty")
	}
	validName := regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-_.]*[a-zA-Z0-9]$|^[a-zA-Z0-9]$`)
	if !validName.MatchString(owner) {
		return fmt.Errorf("invalid owner format: %s", owner)
	}
	if len(owner) > 39 {
		return fmt.Errorf("owner too long: maximum 39 characters")
	}
	if !validName.MatchString(repo) {
		return fmt.Errorf("invalid repository format: %s", repo)
	}
	if len(repo) > 100 {
		return fmt.Errorf("repository too long: maximum 100 characters")
	}
	return nil
}

// ValidateImageRepository validates the registry host and image repository path
func ValidateImageRepository(registry, image string) error {
	if registry == "" {
		return fmt.Errorf("registry cannot be empty")
	}
	if !registryHostRegex.MatchString(registry) {
		return fmt.Errorf("invalid registry host: %s", registry)
	}
	if image == "" {
		return fmt.Errorf("image cannot be empty")
	}
	if len(image) > 255 {
		return fmt.Errorf("image too long: maximum 255 characters")
	}
	if !imageRepositoryRegex.MatchString(image) {
		return fmt.Errorf("invalid image repository: %s", image)
	}
	return nil
}

func LoadConfig() (*Config, error) {
	return loadConfig(viper.New())
}

func loadConfig(v *viper.Viper) (*Config, error) {
	v.SetConfigName(".release-mirror")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	// Configure environment variables
	v.SetEnvPrefix("RELEASE_MIRROR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// BindEnv allows multiple env vars - it will check them in order
	aliases := map[string][]string{
		"github_token":      {"GITHUB_TOKEN", "RELEASE_MIRROR_GITHUB_TOKEN"},
		"github_owner":      {"GITHUB_OWNER", "RELEASE_MIRROR_GITHUB_OWNER"},
		"github_repo":       {"GITHUB_REPO", "RELEASE_MIRROR_GITHUB_REPO"},
		"registry_username": {"REGISTRY_USERNAME", "RELEASE_MIRROR_REGISTRY_USERNAME"},
		"registry_password": {"REGISTRY_PASSWORD", "RELEASE_MIRROR_REGISTRY_PASSWORD"},
		"pushgateway_url":   {"PUSHGATEWAY_URL", "RELEASE_MIRROR_PUSHGATEWAY_URL"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s env: %w", key, err)
		}
	}
	setDefaults(v, DefaultConfig())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper, defaults *Config) {
	v.SetDefault("github_owner", defaults.GithubOwner)
	v.SetDefault("github_repo", defaults.GithubRepo)
	v.SetDefault("source", defaults.Source)
	v.SetDefault("git_url", "")
	v.SetDefault("registry", defaults.Registry)
	v.SetDefault("image", defaults.Image)
	v.SetDefault("insecure_registry", false)
	v.SetDefault("builder", defaults.Builder)
	v.SetDefault("dockerfile", defaults.Dockerfile)
	v.SetDefault("build_context", defaults.BuildContext)
	v.SetDefault("build_arg", defaults.BuildArg)
	v.SetDefault("skip_login", false)
	v.SetDefault("latest_tag", defaults.LatestTag)
	v.SetDefault("workers", defaults.Workers)
	v.SetDefault("per_page", defaults.PerPage)
	v.SetDefault("max_tag_hops", defaults.MaxTagHops)
	v.SetDefault("request_timeout", defaults.RequestTimeout)
	v.SetDefault("clone_timeout", defaults.CloneTimeout)
	v.SetDefault("build_timeout", defaults.BuildTimeout)
	v.SetDefault("retry_count", defaults.RetryCount)
	v.SetDefault("retry_delay", defaults.RetryDelay)
	v.SetDefault("report_file", "")
	v.SetDefault("lock_file", defaults.LockFile)
	v.SetDefault("lock_timeout", time.Duration(0))
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
}
