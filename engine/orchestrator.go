// Package engine reconciles a local instance directory against a remotely
// published manifest: per-file verification, bounded parallel downloads,
// pending-sidecar promotion, and manifest-directed deletes and prunes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/packwright/packwright/log"
	"github.com/packwright/packwright/metrics"
	"github.com/packwright/packwright/mirror"
	"github.com/packwright/packwright/remote"
	"github.com/packwright/packwright/state"
	"github.com/packwright/packwright/types"
)

// ErrSyncInProgress is returned when Sync is called while another sync on
// the same orchestrator is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// defaultConcurrency bounds simultaneous blob transfers.
const defaultConcurrency = 6

// manifestFetcher retrieves the pack manifest, reporting the origin that
// actually served it.
type manifestFetcher interface {
	Fetch(ctx context.Context, primary string, mirrors []string) (string, *types.Manifest, error)
}

// blobDownloader fetches one blob from one origin, verifying inline.
type blobDownloader interface {
	Download(ctx context.Context, origin, blobPath string, f types.PackFile, destPath string) (remote.Outcome, error)
}

// Options configure one orchestrator instance.
type Options struct {
	// InstanceDir is the root the manifest's relative paths resolve under.
	InstanceDir string
	// PackID, when set, is the only pack this instance accepts; a manifest
	// for any other pack fails the sync before touching a file.
	PackID string
	// Primary is the declared primary origin, may be empty.
	Primary string
	// Mirrors are the configured blob/manifest origins.
	Mirrors []string
	// AllowedRoots constrain manifest paths; empty means the defaults.
	AllowedRoots []string
	// UserMutable lists path prefixes the user owns once present locally.
	UserMutable []string
	// CDNMarkers identify fast CDN-class hosts; empty means the defaults.
	CDNMarkers []string
	// Concurrency bounds parallel blob transfers; 0 means the default.
	Concurrency int64
}

// Orchestrator runs the sync. One orchestrator serves one instance
// directory; Sync may be called repeatedly but never concurrently.
type Orchestrator struct {
	opts Options

	fetcher    manifestFetcher
	downloader blobDownloader
	tracker    *mirror.Tracker
	mirrors    *mirror.Store
	states     *state.Store
	collector  *metrics.Collector
	emitter    *types.Emitter
	log        *log.Logger

	syncing atomic.Bool
}

// New wires an orchestrator. emitter and collector may be nil.
func New(opts Options, fetcher manifestFetcher, downloader blobDownloader,
	tracker *mirror.Tracker, mirrors *mirror.Store, states *state.Store,
	collector *metrics.Collector, emitter *types.Emitter, logger *log.Logger) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if len(opts.CDNMarkers) == 0 {
		opts.CDNMarkers = []string{"cdn.", ".b-cdn.net", "cloudfront.net", "fastly", "r2.dev"}
	}
	return &Orchestrator{
		opts:       opts,
		fetcher:    fetcher,
		downloader: downloader,
		tracker:    tracker,
		mirrors:    mirrors,
		states:     states,
		collector:  collector,
		emitter:    emitter,
		log:        logger,
	}
}

// Report summarizes one sync run.
type Report struct {
	Identity string
	Applied  int
	Verified int
	Skipped  int
	Pending  int
	Failed   int
	Deleted  int
	Pruned   int
	Metrics  metrics.Snapshot
}

// fileOutcome is one file's terminal disposition within a run.
type fileOutcome int

const (
	outcomeVerified fileOutcome = iota
	outcomeApplied
	outcomeSkipped
	outcomePending
	outcomeFailed
)

// Sync fetches the manifest and reconciles the instance directory to it.
// Partial failure is not fatal: every file is attempted, errors are
// joined, and completed files stay in place.
func (o *Orchestrator) Sync(ctx context.Context) (*Report, error) {
	if !o.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer o.syncing.Store(false)

	origin, manifest, err := o.fetcher.Fetch(ctx, o.opts.Primary, o.opts.Mirrors)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	if err := manifest.Validate(o.opts.AllowedRoots); err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	if o.opts.PackID != "" && manifest.PackID != o.opts.PackID {
		return nil, fmt.Errorf("manifest is for pack %q, this instance expects %q", manifest.PackID, o.opts.PackID)
	}
	o.log.Info("manifest fetched",
		zap.String("identity", manifest.Identity()),
		zap.String("origin", origin),
		zap.Int("files", len(manifest.Files)))

	packState, err := o.states.Load(manifest.PackID)
	if err != nil {
		return nil, fmt.Errorf("load pack state: %w", err)
	}

	origins := o.orderBlobOrigins(origin, manifest)
	report := &Report{Identity: manifest.Identity()}
	total := int64(len(manifest.Files))

	// Read-only snapshot for the parallel phase; the live state map is
	// mutated only under the results mutex.
	cached := make(map[string]types.FileRecord, len(packState.Files))
	for path, rec := range packState.Files {
		cached[path] = rec
	}

	var (
		mu       sync.Mutex
		done     int64
		failures []error
	)
	record := func(outcome fileOutcome, path string, rec *types.FileRecord, ferr error) {
		mu.Lock()
		defer mu.Unlock()
		done++
		switch outcome {
		case outcomeVerified, outcomeApplied:
			if outcome == outcomeVerified {
				report.Verified++
			} else {
				report.Applied++
			}
			if rec != nil {
				packState.Record(path, *rec)
			}
		case outcomeSkipped:
			report.Skipped++
		case outcomePending:
			report.Pending++
		case outcomeFailed:
			report.Failed++
			failures = append(failures, ferr)
			packState.Forget(path)
		}
		o.emitter.Emit(types.Event{Type: types.EventProgress, Done: done, Total: total, Path: path})
		_ = o.mirrors.MaybeSave(o.tracker)
	}

	sem := semaphore.NewWeighted(o.opts.Concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range manifest.Files {
		f := f
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			outcome, rec, ferr := o.syncFile(gctx, f, origins, cached)
			record(outcome, f.Path, rec, ferr)
			// Per-file failures are aggregated, not propagated, so one bad
			// file never cancels the rest of the run.
			if ferr != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = o.states.Save(packState)
		return report, err
	}

	deleted, pruned, cleanupErrs := o.cleanup(manifest, packState)
	report.Deleted = deleted
	report.Pruned = pruned
	failures = append(failures, cleanupErrs...)

	packState.PruneTo(manifest.WantedSet())
	// The applied identity is withheld while anything is unresolved so the
	// next run re-reconciles instead of trusting a half-applied build.
	if report.Pending == 0 && report.Failed == 0 && len(cleanupErrs) == 0 {
		packState.AppliedManifest = manifest.Identity()
	}
	if err := o.states.Save(packState); err != nil {
		failures = append(failures, err)
	}
	if err := o.mirrors.Save(o.tracker); err != nil {
		o.log.Warn("persist mirror stats failed", zap.Error(err))
	}

	report.Metrics = o.collector.Snapshot()
	o.emitter.Emit(types.Event{
		Type:    types.EventSyncComplete,
		Done:    done,
		Total:   total,
		Message: fmt.Sprintf("%s: %d applied, %d verified, %d pending, %d failed", report.Identity, report.Applied, report.Verified, report.Pending, report.Failed),
	})

	if len(failures) > 0 {
		return report, fmt.Errorf("sync incomplete: %w", errors.Join(failures...))
	}
	return report, nil
}

// orderBlobOrigins builds the per-run blob origin preference list: the
// manifest-serving origin first, then the best-scoring CDN-class origin,
// then everything else by blob health score. The declared primary gets no
// special placement unless it served the manifest.
func (o *Orchestrator) orderBlobOrigins(serving string, m *types.Manifest) []string {
	pool := make([]string, 0, len(o.opts.Mirrors)+1)
	if len(m.Mirrors) > 0 {
		pool = append(pool, m.Mirrors...)
	} else {
		pool = append(pool, o.opts.Mirrors...)
		if o.opts.Primary != "" {
			pool = append(pool, o.opts.Primary)
		}
	}

	seen := map[string]bool{}
	ordered := make([]string, 0, len(pool)+1)
	add := func(origin string) {
		if origin == "" || seen[origin] {
			return
		}
		seen[origin] = true
		ordered = append(ordered, origin)
	}

	add(serving)

	var cdn, rest []string
	for _, origin := range pool {
		if seen[origin] {
			continue
		}
		if o.isCDN(origin) {
			cdn = append(cdn, origin)
		} else {
			rest = append(rest, origin)
		}
	}
	cdn = o.tracker.Order(cdn, mirror.ClassBlob)
	if len(cdn) > 0 {
		add(cdn[0])
	}

	for _, origin := range o.tracker.Order(append(rest, cdn...), mirror.ClassBlob) {
		add(origin)
	}
	return ordered
}

func (o *Orchestrator) isCDN(origin string) bool {
	lowered := strings.ToLower(origin)
	for _, marker := range o.opts.CDNMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// isUserMutable reports whether path falls under a user-owned prefix.
func (o *Orchestrator) isUserMutable(path string) bool {
	for _, prefix := range o.opts.UserMutable {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
