package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/packwright/packwright/types"
)

// Config represents a packwright.yaml configuration file.
// All values act as defaults for the CLI commands; flags always override
// config values.
type Config struct {
	Pack     PackConfig   `yaml:"pack"`
	Sync     SyncConfig   `yaml:"sync"`
	Loader   LoaderConfig `yaml:"loader"`
	Paths    PathsConfig  `yaml:"paths"`
	LogLevel string       `yaml:"log_level"`
}

// PackConfig identifies the pack and its mirror set.
type PackConfig struct {
	// ID is the expected pack id; a manifest for a different pack is
	// rejected.
	ID string `yaml:"id"`
	// Primary is the declared primary origin, tried first for manifests.
	Primary string `yaml:"primary"`
	// Mirrors are the remaining candidate origins.
	Mirrors []string `yaml:"mirrors"`
	// ManifestPath is the origin-relative manifest location.
	ManifestPath string `yaml:"manifest_path"`
	// CDNMarkers override the built-in fast-host substrings.
	CDNMarkers []string `yaml:"cdn_markers"`
}

// SyncConfig tunes the reconciliation engine.
type SyncConfig struct {
	// InstanceDir is the root the manifest's paths resolve under.
	InstanceDir string `yaml:"instance_dir"`
	// AllowedRoots constrain manifest paths; empty means the defaults.
	AllowedRoots []string `yaml:"allowed_roots"`
	// UserMutable lists prefixes the user owns once present locally.
	UserMutable []string `yaml:"user_mutable"`
	// Concurrency bounds parallel blob transfers.
	Concurrency int64 `yaml:"concurrency"`
}

// LoaderConfig describes the mod-loader install.
type LoaderConfig struct {
	Type          string `yaml:"type"`
	Version       string `yaml:"version"`
	MCVersion     string `yaml:"mc_version"`
	InstallerURL  string `yaml:"installer_url"`
	JavaPath      string `yaml:"java_path"`
	GameDir       string `yaml:"game_dir"`
	CanonicalHost string `yaml:"canonical_host"`
	// Mirrors carry the upstream maven tree for installer downloads and
	// JAR patching.
	Mirrors        []string `yaml:"mirrors"`
	ArchiveBase    string   `yaml:"archive_base"`
	StallWindow    Duration `yaml:"stall_window"`
	OverallTimeout Duration `yaml:"overall_timeout"`
}

// PathsConfig locates local persisted documents.
type PathsConfig struct {
	StateFile   string `yaml:"state_file"`
	MirrorStats string `yaml:"mirror_stats"`
	CacheDir    string `yaml:"cache_dir"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ApplyDefaults fills unset fields with their defaults. Called after
// flag merging so explicit values always win.
func (c *Config) ApplyDefaults() {
	if c.Pack.ManifestPath == "" {
		c.Pack.ManifestPath = "pack.json"
	}
	if len(c.Sync.AllowedRoots) == 0 {
		c.Sync.AllowedRoots = append([]string(nil), types.DefaultAllowedRoots...)
	}
	if len(c.Sync.UserMutable) == 0 {
		c.Sync.UserMutable = []string{"config/"}
	}
	if c.Sync.Concurrency <= 0 {
		c.Sync.Concurrency = 6
	}
	if c.Sync.InstanceDir == "" {
		c.Sync.InstanceDir = "."
	}
	if c.Loader.GameDir == "" {
		c.Loader.GameDir = c.Sync.InstanceDir
	}
	if c.Paths.StateFile == "" {
		c.Paths.StateFile = filepath.Join(c.Sync.InstanceDir, "pack_state.json")
	}
	if c.Paths.MirrorStats == "" {
		c.Paths.MirrorStats = filepath.Join(c.Sync.InstanceDir, "mirror_stats.json")
	}
	if c.Paths.CacheDir == "" {
		c.Paths.CacheDir = filepath.Join(c.Sync.InstanceDir, ".packwright")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the fields a sync cannot run without.
func (c *Config) Validate() error {
	if c.Pack.Primary == "" && len(c.Pack.Mirrors) == 0 {
		return fmt.Errorf("config: pack.primary or pack.mirrors is required")
	}
	return nil
}
