package cmd

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/packwright/packwright/cli/config"
	"github.com/packwright/packwright/log"
)

// loadConfig reads the config file and merges CLI flags over it. Flags
// always win; defaults are applied last. A missing config file is only
// an error when --config was given explicitly.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")

	var cfg *config.Config
	if _, err := os.Stat(path); os.IsNotExist(err) && !c.IsSet("config") {
		cfg = &config.Config{}
	} else {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}

	mergeFlags(cfg, c)
	cfg.ApplyDefaults()
	return cfg, nil
}

// mergeFlags overlays set flags onto the config. Only flags the command
// actually declares are consulted; String returns "" for the rest.
func mergeFlags(cfg *config.Config, c *cli.Context) {
	if v := c.String("pack-id"); v != "" {
		cfg.Pack.ID = v
	}
	if v := c.String("primary"); v != "" {
		cfg.Pack.Primary = v
	}
	if v := c.StringSlice("mirror"); len(v) > 0 {
		cfg.Pack.Mirrors = v
	}
	if v := c.String("manifest-path"); v != "" {
		cfg.Pack.ManifestPath = v
	}
	if v := c.String("instance-dir"); v != "" {
		cfg.Sync.InstanceDir = v
	}
	if v := c.StringSlice("user-mutable"); len(v) > 0 {
		cfg.Sync.UserMutable = v
	}
	if v := c.Int64("concurrency"); v > 0 {
		cfg.Sync.Concurrency = v
	}
	if v := c.String("loader-type"); v != "" {
		cfg.Loader.Type = v
	}
	if v := c.String("loader-version"); v != "" {
		cfg.Loader.Version = v
	}
	if v := c.String("mc-version"); v != "" {
		cfg.Loader.MCVersion = v
	}
	if v := c.String("installer-url"); v != "" {
		cfg.Loader.InstallerURL = v
	}
	if v := c.String("java"); v != "" {
		cfg.Loader.JavaPath = v
	}
	if v := c.String("game-dir"); v != "" {
		cfg.Loader.GameDir = v
	}
	if c.Bool("debug") {
		cfg.LogLevel = "debug"
	}
}

// newLogger builds the session logger from the merged config.
func newLogger(cfg *config.Config, sessionID string) *log.Logger {
	ctx := log.Context{PackID: cfg.Pack.ID, SessionID: sessionID}
	if cfg.LogLevel == "debug" {
		return log.NewDebug(ctx)
	}
	return log.New(ctx)
}
