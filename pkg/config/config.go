package config

import (
	"runtime"
	"time"

	"github.com/arthur-debert/keg/pkg/errors"
)

// Config policies for files installed into the shared etc/ directory.
const (
	ConfigPolicyPreserve = "preserve"
	ConfigPolicyRefresh  = "refresh"
)

// Config is keg's complete runtime configuration.
type Config struct {
	Paths    PathsConfig    `koanf:"paths"`
	Build    BuildConfig    `koanf:"build"`
	Fetch    FetchConfig    `koanf:"fetch"`
	Link     LinkConfig     `koanf:"link"`
	Stage    StageConfig    `koanf:"stage"`
	Platform PlatformConfig `koanf:"platform"`
}

type PathsConfig struct {
	Root     string   `koanf:"root"`
	Formulae []string `koanf:"formulae"`
}

type BuildConfig struct {
	Jobs          int           `koanf:"jobs"`
	Concurrency   int           `koanf:"concurrency"`
	ActionTimeout time.Duration `koanf:"action_timeout"`
	KillGrace     time.Duration `koanf:"kill_grace"`
	TailLines     int           `koanf:"tail_lines"`
	KeepBuildDirs bool          `koanf:"keep_build_dirs"`
}

// EffectiveJobs resolves Jobs, where 0 means one per CPU.
func (b BuildConfig) EffectiveJobs() int {
	if b.Jobs > 0 {
		return b.Jobs
	}
	return runtime.NumCPU()
}

type FetchConfig struct {
	Attempts       int           `koanf:"attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
	Timeout        time.Duration `koanf:"timeout"`
	UserAgent      string        `koanf:"user_agent"`
}

type LinkConfig struct {
	Dirs []string `koanf:"dirs"`
}

type StageConfig struct {
	ConfigPolicy string `koanf:"config_policy"`
}

// PlatformConfig overrides host detection. Empty fields are detected.
type PlatformConfig struct {
	OS      string `koanf:"os"`
	Arch    string `koanf:"arch"`
	Version string `koanf:"version"`
}

// Validate checks values that decode fine but make no sense.
func (c *Config) Validate() error {
	switch {
	case c.Build.Concurrency < 1:
		return invalid("build.concurrency", c.Build.Concurrency, "must be at least 1")
	case c.Build.Jobs < 0:
		return invalid("build.jobs", c.Build.Jobs, "must not be negative")
	case c.Build.ActionTimeout < 0:
		return invalid("build.action_timeout", c.Build.ActionTimeout, "must not be negative")
	case c.Build.TailLines < 1:
		return invalid("build.tail_lines", c.Build.TailLines, "must be at least 1")
	case c.Fetch.Attempts < 1:
		return invalid("fetch.attempts", c.Fetch.Attempts, "must be at least 1")
	case len(c.Link.Dirs) == 0:
		return invalid("link.dirs", c.Link.Dirs, "must list at least one directory")
	}
	switch c.Stage.ConfigPolicy {
	case ConfigPolicyPreserve, ConfigPolicyRefresh:
	default:
		return invalid("stage.config_policy", c.Stage.ConfigPolicy,
			"must be "+ConfigPolicyPreserve+" or "+ConfigPolicyRefresh)
	}
	return nil
}

func invalid(key string, value interface{}, msg string) error {
	return errors.Newf(errors.ErrConfigValid, "%s %s", key, msg).
		WithDetail("key", key).
		WithDetail("value", value)
}
