package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/packwright/packwright/cli/render"
	"github.com/packwright/packwright/loader"
	"github.com/packwright/packwright/mirror"
	"github.com/packwright/packwright/remote"
	"github.com/packwright/packwright/types"
)

// InstallLoaderCommand returns the install-loader command.
func InstallLoaderCommand() *cli.Command {
	return &cli.Command{
		Name:  "install-loader",
		Usage: "Install the mod loader for the configured pack",
		Flags: []cli.Flag{
			ConfigFlag,
			FormatFlag,
			DebugFlag,
			&cli.StringFlag{
				Name:  "loader-type",
				Usage: "Loader type (e.g. neoforge, forge, fabric)",
			},
			&cli.StringFlag{
				Name:  "loader-version",
				Usage: "Loader version",
			},
			&cli.StringFlag{
				Name:  "mc-version",
				Usage: "Base game version",
			},
			&cli.StringFlag{
				Name:  "installer-url",
				Usage: "Canonical installer JAR URL",
			},
			&cli.StringFlag{
				Name:  "java",
				Usage: "Java binary to run the installer with",
			},
			&cli.StringFlag{
				Name:  "game-dir",
				Usage: "Base game directory holding versions/",
			},
		},
		Action: installLoaderAction,
	}
}

func installLoaderAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	if cfg.Loader.Type == "" || cfg.Loader.Version == "" {
		return cli.Exit("loader.type and loader.version are required", exitConfigError)
	}

	sessionID := uuid.NewString()
	logger := newLogger(cfg, sessionID)

	stats := mirror.NewStore(cfg.Paths.MirrorStats)
	seed, err := stats.Load()
	if err != nil {
		return fmt.Errorf("load mirror stats: %w", err)
	}
	tracker := mirror.NewTrackerFrom(seed)

	emitter := types.NewEmitter(sessionID, 0)
	go func() {
		// Heartbeat and output events are already logged; drain so the
		// emitter never backs up.
		for range emitter.Events() {
		}
	}()

	inst := loader.New(loader.Options{
		JavaPath:       cfg.Loader.JavaPath,
		GameDir:        cfg.Loader.GameDir,
		CacheDir:       cfg.Paths.CacheDir,
		CanonicalHost:  cfg.Loader.CanonicalHost,
		Mirrors:        cfg.Loader.Mirrors,
		ArchiveBase:    cfg.Loader.ArchiveBase,
		StallWindow:    cfg.Loader.StallWindow.Duration,
		OverallTimeout: cfg.Loader.OverallTimeout.Duration,
	}, remote.NewClient(), tracker, emitter, logger)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	versionID, err := inst.EnsureInstalled(ctx, cfg.Loader.MCVersion, cfg.Loader.Type, cfg.Loader.Version, cfg.Loader.InstallerURL)
	emitter.Close()
	if saveErr := stats.Save(tracker); saveErr != nil {
		logger.Sugar().Warnf("persist mirror stats failed: %v", saveErr)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("install loader: %v", err), exitSyncFailed)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	return r.Render(InstallLoaderResponse{
		VersionID: versionID,
		Type:      cfg.Loader.Type,
		Version:   cfg.Loader.Version,
		GameDir:   cfg.Loader.GameDir,
	})
}

// InstallLoaderResponse is the rendered result of install-loader.
type InstallLoaderResponse struct {
	VersionID string `json:"version_id" yaml:"version_id"`
	Type      string `json:"type" yaml:"type"`
	Version   string `json:"version" yaml:"version"`
	GameDir   string `json:"game_dir" yaml:"game_dir"`
}
