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
	"github.com/packwright/packwright/cli/tui"
	"github.com/packwright/packwright/engine"
	"github.com/packwright/packwright/metrics"
	"github.com/packwright/packwright/mirror"
	"github.com/packwright/packwright/remote"
	"github.com/packwright/packwright/state"
	"github.com/packwright/packwright/types"
)

// Exit codes for the sync command.
const (
	exitSuccess = 0
	// exitSyncFailed covers fetch, verification, and placement failures.
	exitSyncFailed = 1
	// exitConfigError covers invalid configuration and usage.
	exitConfigError = 2
	// exitPendingRestart means every file succeeded but at least one was
	// parked as a pending sidecar behind a locked destination.
	exitPendingRestart = 3
)

// SyncCommand returns the sync command, the only command that mutates
// the instance directory.
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Reconcile the instance directory against the pack manifest",
		Flags: []cli.Flag{
			ConfigFlag,
			FormatFlag,
			DebugFlag,
			&cli.StringFlag{
				Name:  "pack-id",
				Usage: "Expected pack id; a manifest for a different pack is rejected",
			},
			&cli.StringFlag{
				Name:  "primary",
				Usage: "Primary origin, tried first for manifests",
			},
			&cli.StringSliceFlag{
				Name:  "mirror",
				Usage: "Mirror origin (repeatable)",
			},
			&cli.StringFlag{
				Name:  "manifest-path",
				Usage: "Origin-relative manifest location",
			},
			&cli.StringFlag{
				Name:  "instance-dir",
				Usage: "Instance directory the manifest paths resolve under",
			},
			&cli.StringSliceFlag{
				Name:  "user-mutable",
				Usage: "Path prefix the user owns once present locally (repeatable)",
			},
			&cli.Int64Flag{
				Name:  "concurrency",
				Usage: "Max parallel blob transfers",
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show live progress instead of log lines",
			},
		},
		Action: syncAction,
	}
}

type syncResult struct {
	report *engine.Report
	err    error
}

func syncAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	sessionID := uuid.NewString()
	logger := newLogger(cfg, sessionID)

	stats := mirror.NewStore(cfg.Paths.MirrorStats)
	seed, err := stats.Load()
	if err != nil {
		return fmt.Errorf("load mirror stats: %w", err)
	}
	tracker := mirror.NewTrackerFrom(seed)

	client := remote.NewClient()
	fetcher := remote.NewFetcher(client, tracker, logger, cfg.Pack.ManifestPath, cfg.Pack.CDNMarkers)
	downloader := remote.NewDownloader(client, tracker, logger)
	states := state.NewStore(cfg.Paths.StateFile)
	collector := metrics.NewCollector(cfg.Pack.ID, sessionID)
	emitter := types.NewEmitter(sessionID, 0)

	orch := engine.New(engine.Options{
		InstanceDir:  cfg.Sync.InstanceDir,
		PackID:       cfg.Pack.ID,
		Primary:      cfg.Pack.Primary,
		Mirrors:      cfg.Pack.Mirrors,
		AllowedRoots: cfg.Sync.AllowedRoots,
		UserMutable:  cfg.Sync.UserMutable,
		CDNMarkers:   cfg.Pack.CDNMarkers,
		Concurrency:  cfg.Sync.Concurrency,
	}, fetcher, downloader, tracker, stats, states, collector, emitter, logger)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	done := make(chan syncResult, 1)
	go func() {
		report, syncErr := orch.Sync(ctx)
		emitter.Close()
		done <- syncResult{report: report, err: syncErr}
	}()

	// The engine produces events regardless of the consumer; the plain
	// path drains them so the emitter never stalls on its terminal send.
	if c.Bool("tui") {
		title := cfg.Pack.ID
		if title == "" {
			title = "pack sync"
		}
		if err := tui.Run(title, emitter.Events()); err != nil {
			logger.Sugar().Warnf("tui failed: %v", err)
		}
	}
	for range emitter.Events() {
	}

	res := <-done
	if res.err != nil {
		return cli.Exit(fmt.Sprintf("sync failed: %v", res.err), exitSyncFailed)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	if err := r.Render(syncResponse(res.report)); err != nil {
		return err
	}

	if res.report.Pending > 0 {
		return cli.Exit("some files are pending; close the game and run sync again", exitPendingRestart)
	}
	return nil
}

// SyncResponse is the rendered summary of one sync run.
type SyncResponse struct {
	Identity        string `json:"identity" yaml:"identity"`
	Applied         int    `json:"applied" yaml:"applied"`
	Verified        int    `json:"verified" yaml:"verified"`
	Skipped         int    `json:"skipped" yaml:"skipped"`
	Pending         int    `json:"pending" yaml:"pending"`
	Failed          int    `json:"failed" yaml:"failed"`
	Deleted         int    `json:"deleted" yaml:"deleted"`
	Pruned          int    `json:"pruned" yaml:"pruned"`
	BytesDownloaded int64  `json:"bytes_downloaded" yaml:"bytes_downloaded"`
	Retries         int64  `json:"retries" yaml:"retries"`
	Failovers       int64  `json:"failovers" yaml:"failovers"`
}

func syncResponse(rep *engine.Report) SyncResponse {
	return SyncResponse{
		Identity:        rep.Identity,
		Applied:         rep.Applied,
		Verified:        rep.Verified,
		Skipped:         rep.Skipped,
		Pending:         rep.Pending,
		Failed:          rep.Failed,
		Deleted:         rep.Deleted,
		Pruned:          rep.Pruned,
		BytesDownloaded: rep.Metrics.BytesDownloaded,
		Retries:         rep.Metrics.DownloadRetries,
		Failovers:       rep.Metrics.OriginFailovers,
	}
}
