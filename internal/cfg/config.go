// Package cfg loads and validates the prmirror configuration file.
package cfg

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pelletier/go-toml"
)

const (
	defUpstreamDefaultBranch = "main"
	defLookbackDays          = 7
	defMaxCandidatesPerRun   = 5
	defOverlayRef            = "overlay"
	defOverlayFilePath       = ".github/workflows/analysis.yml"
	defLogFormat             = "logfmt"
	defLogLevel              = "info"
)

// Config is the process-wide configuration.
// It is constructed once at startup and passed into the components,
// nothing reads configuration values ad hoc from the environment.
type Config struct {
	// UpstreamRepository is the repository whose pull requests are
	// mirrored, in "owner/name" notation.
	UpstreamRepository string `toml:"upstream_repository"`
	// DownstreamRepository receives mirror branches and mirror pull
	// requests, in "owner/name" notation.
	DownstreamRepository string `toml:"downstream_repository"`
	// UpstreamDefaultBranch is the branch upstream pull requests must
	// target to be considered for mirroring. The same branch name is
	// used as default base for mirror pull requests downstream.
	UpstreamDefaultBranch string `toml:"upstream_default_branch"`
	// LookbackDays excludes pull requests in scheduled runs that were
	// neither created nor updated in the last N days.
	LookbackDays int `toml:"lookback_days"`
	// MaxCandidatesPerRun stops discovery after N mirror records were
	// emitted in a single run.
	MaxCandidatesPerRun int `toml:"max_candidates_per_run"`
	// OverlayRef is the downstream branch holding the current contents
	// of the overlay workflow file.
	OverlayRef string `toml:"overlay_ref"`
	// OverlayFilePath is the path of the file that is injected into
	// every overlay base branch.
	OverlayFilePath string `toml:"overlay_file_path"`

	GithubAPIToken string `toml:"github_api_token"`

	// GitWorkDir is the directory of a local git repository used as
	// object cache for fetches, merge-base and merge-tree computations.
	GitWorkDir string `toml:"git_work_dir"`

	LogFormat  string `toml:"log_format"`
	LogTimeKey string `toml:"log_time_key"`
	LogLevel   string `toml:"log_level"`
}

func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	result.applyDefaults()

	if err := result.Validate(); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Config) applyDefaults() {
	if c.UpstreamDefaultBranch == "" {
		c.UpstreamDefaultBranch = defUpstreamDefaultBranch
	}

	if c.LookbackDays == 0 {
		c.LookbackDays = defLookbackDays
	}

	if c.MaxCandidatesPerRun == 0 {
		c.MaxCandidatesPerRun = defMaxCandidatesPerRun
	}

	if c.OverlayRef == "" {
		c.OverlayRef = defOverlayRef
	}

	if c.OverlayFilePath == "" {
		c.OverlayFilePath = defOverlayFilePath
	}

	if c.LogFormat == "" {
		c.LogFormat = defLogFormat
	}

	if c.LogLevel == "" {
		c.LogLevel = defLogLevel
	}
}

func (c *Config) Validate() error {
	if c.UpstreamRepository == "" {
		return errors.New("upstream_repository is unset")
	}

	if c.DownstreamRepository == "" {
		return errors.New("downstream_repository is unset")
	}

	if _, _, err := SplitRepository(c.UpstreamRepository); err != nil {
		return fmt.Errorf("upstream_repository is invalid: %w", err)
	}

	if _, _, err := SplitRepository(c.DownstreamRepository); err != nil {
		return fmt.Errorf("downstream_repository is invalid: %w", err)
	}

	if c.LookbackDays < 0 {
		return errors.New("lookback_days must be >= 0")
	}

	if c.MaxCandidatesPerRun < 0 {
		return errors.New("max_candidates_per_run must be >= 0")
	}

	return nil
}

// SplitRepository splits an "owner/name" repository identifier.
func SplitRepository(repository string) (owner, name string, err error) {
	owner, name, found := strings.Cut(repository, "/")
	if !found || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("expected repository in owner/name notation, got: %q", repository)
	}

	return owner, name, nil
}

// GitURL returns an https clone URL for an "owner/name" repository,
// embedding the API token for authentication when one is set.
// The returned URL must not be logged.
func (c *Config) GitURL(repository string) string {
	if c.GithubAPIToken == "" {
		return fmt.Sprintf("https://github.com/%s.git", repository)
	}

	return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", c.GithubAPIToken, repository)
}
