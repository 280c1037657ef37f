// Package config loads, validates, and writes SBDK project configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ConfigFileName is the canonical project config file name.
const ConfigFileName = "sbdk_config.json"

// Default configuration values.
const (
	DefaultTarget      = "dev"
	DefaultTemplate    = "default"
	DefaultPipelines   = "pipelines"
	DefaultTransform   = "dbt"
	DefaultProfilesDir = "~/.dbt"
	DefaultWebhookHost = "0.0.0.0"
	DefaultWebhookPort = 8000
)

// DefaultWatchPaths are the directories watched in dev mode when none are configured.
var DefaultWatchPaths = []string{"pipelines", "dbt/models"}

// ErrNotFound is returned when no project config file can be located.
// The CLI surfaces it with a suggestion to run `sbdk init`.
var ErrNotFound = errors.New("config not found")

// Config is the strongly typed project configuration backing sbdk_config.json.
// Path fields are resolved to absolute paths against the config file's
// directory at load time; a freshly constructed Config holds them relative.
type Config struct {
	// Project is the project name, used for the database file, the dbt
	// profile entry, and the dbt project name.
	Project string `koanf:"project" json:"project"`

	// Template names the scaffold the project was created from.
	Template string `koanf:"template" json:"template,omitempty"`

	// Target selects the dbt target within the project's profile.
	Target string `koanf:"target" json:"target"`

	// DatabasePath is the DuckDB database file. Defaults to
	// data/<project>.duckdb when empty.
	DatabasePath string `koanf:"database_path" json:"database_path"`

	// PipelinesPath holds extraction scripts and pipeline assets.
	PipelinesPath string `koanf:"pipelines_path" json:"pipelines_path"`

	// TransformPath is the dbt project directory (or its parent, see
	// the transform runner's marker search).
	TransformPath string `koanf:"transform_path" json:"transform_path"`

	// ProfilesDir is where dbt profiles.yml lives. Supports ~ expansion.
	ProfilesDir string `koanf:"profiles_dir" json:"profiles_dir"`

	WebhookHost string `koanf:"webhook_host" json:"webhook_host"`
	WebhookPort int    `koanf:"webhook_port" json:"webhook_port"`

	// AutoReload enables auto-rerun on file changes in dev mode.
	AutoReload bool `koanf:"auto_reload" json:"auto_reload"`

	// WatchPaths are the directories observed by the watch loop.
	WatchPaths []string `koanf:"watch_paths" json:"watch_paths"`

	// ProjectRoot is the directory containing the config file. Derived at
	// load time, never serialized.
	ProjectRoot string `koanf:"-" json:"-"`
}

var projectNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// New returns a Config for a freshly initialized project, with all defaults
// applied and paths still relative.
func New(project string) *Config {
	return &Config{
		Project:       project,
		Template:      DefaultTemplate,
		Target:        DefaultTarget,
		DatabasePath:  filepath.Join("data", project+".duckdb"),
		PipelinesPath: DefaultPipelines,
		TransformPath: DefaultTransform,
		ProfilesDir:   DefaultProfilesDir,
		WebhookHost:   DefaultWebhookHost,
		WebhookPort:   DefaultWebhookPort,
		AutoReload:    true,
		WatchPaths:    append([]string(nil), DefaultWatchPaths...),
	}
}

// Validate checks field-level invariants. Called after every load and before
// every write, so a bad config fails fast rather than deep inside a run.
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("project name is required")
	}
	if !projectNameRe.MatchString(c.Project) {
		return fmt.Errorf("invalid project name %q: must start with a letter and contain only letters, digits, _ or -", c.Project)
	}
	if c.Target == "" {
		return fmt.Errorf("target is required")
	}
	if c.WebhookPort < 1 || c.WebhookPort > 65535 {
		return fmt.Errorf("webhook_port %d out of range 1-65535", c.WebhookPort)
	}
	for _, p := range c.WatchPaths {
		if p == "" {
			return fmt.Errorf("watch_paths must not contain empty entries")
		}
	}
	return nil
}

// DataDir returns the directory holding the database file.
func (c *Config) DataDir() string {
	return filepath.Dir(c.DatabasePath)
}

// StatePath returns the per-project run-history database location.
func (c *Config) StatePath() string {
	root := c.ProjectRoot
	if root == "" {
		root = "."
	}
	return filepath.Join(root, ".sbdk", "state.db")
}

// ConfigPath returns the path of the project's config file.
func (c *Config) ConfigPath() string {
	root := c.ProjectRoot
	if root == "" {
		root = "."
	}
	return filepath.Join(root, ConfigFileName)
}

// Write marshals the config as indented JSON to path.
func Write(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("refusing to write invalid config: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
