// Package loader ensures a third-party mod-loader version is installed:
// it resolves the installer JAR, downloads it through the mirror
// machinery, rewrites the JAR's embedded upstream URLs to a live mirror,
// and supervises the installer child process.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/packwright/packwright/log"
	"github.com/packwright/packwright/mirror"
	"github.com/packwright/packwright/remote"
	"github.com/packwright/packwright/types"
)

// ErrInstallerStall means the child produced no output for longer than
// the stall window and was killed.
var ErrInstallerStall = errors.New("installer produced no output and was killed")

// ErrInstallerTimeout means the child exceeded the overall wall-time
// bound.
var ErrInstallerTimeout = errors.New("installer exceeded overall timeout")

// ErrInstallFailed means the installer ran but the expected version
// directory never appeared.
var ErrInstallFailed = errors.New("installer finished but version is not present")

// errUnrecognizedOption is an internal signal: the child rejected a CLI
// flag spelling, so remaining spellings are pointless and the fallback
// strategy runs instead.
var errUnrecognizedOption = errors.New("installer rejected the argument spelling")

const (
	defaultCanonicalHost  = "maven.neoforged.net"
	defaultStallWindow    = 5 * time.Minute
	defaultOverallTimeout = 20 * time.Minute
	// canonicalTimeout bounds requests to the canonical upstream, which
	// is known to hang rather than fail from some networks.
	canonicalTimeout = 8 * time.Second
)

// Options configure the installer.
type Options struct {
	// JavaPath is the java binary; empty means "java" from PATH.
	JavaPath string
	// GameDir is the base-game directory holding versions/.
	GameDir string
	// CacheDir stores downloaded and patched installer JARs.
	CacheDir string
	// CanonicalHost is the upstream host the installer hard-codes.
	CanonicalHost string
	// Mirrors are origins mirroring the canonical host's tree.
	Mirrors []string
	// ArchiveBase is an optional source-archive fallback origin.
	ArchiveBase string
	// StallWindow kills the child after this much output silence.
	StallWindow time.Duration
	// OverallTimeout bounds total installer wall time.
	OverallTimeout time.Duration
}

// Installer drives mod-loader installs. Safe for concurrent use; calls
// for the same loader version collapse into one install.
type Installer struct {
	opts    Options
	client  *remote.Client
	tracker *mirror.Tracker
	emitter *types.Emitter
	log     *log.Logger

	mu    sync.Mutex
	gates map[string]*sync.Mutex
}

// New creates an installer. emitter may be nil.
func New(opts Options, client *remote.Client, tracker *mirror.Tracker, emitter *types.Emitter, logger *log.Logger) *Installer {
	if opts.JavaPath == "" {
		opts.JavaPath = "java"
	}
	if opts.CanonicalHost == "" {
		opts.CanonicalHost = defaultCanonicalHost
	}
	if opts.StallWindow <= 0 {
		opts.StallWindow = defaultStallWindow
	}
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = defaultOverallTimeout
	}
	return &Installer{
		opts:    opts,
		client:  client,
		tracker: tracker,
		emitter: emitter,
		log:     logger,
		gates:   make(map[string]*sync.Mutex),
	}
}

// gate returns the per-version install mutex, created lazily and never
// removed for the process lifetime.
func (i *Installer) gate(versionID string) *sync.Mutex {
	i.mu.Lock()
	defer i.mu.Unlock()
	g, ok := i.gates[versionID]
	if !ok {
		g = &sync.Mutex{}
		i.gates[versionID] = g
	}
	return g
}

// VersionID derives the loader version directory name.
func VersionID(loaderType, loaderVersion string) string {
	return fmt.Sprintf("%s-%s", loaderType, loaderVersion)
}

// EnsureInstalled makes sure the given loader version exists under the
// game directory, returning its version id. Concurrent calls for the
// same version serialize through a per-version gate: the second caller
// finds the first caller's install already present and returns
// immediately.
func (i *Installer) EnsureInstalled(ctx context.Context, mcVersion, loaderType, loaderVersion, installerURL string) (string, error) {
	versionID := VersionID(loaderType, loaderVersion)
	gate := i.gate(versionID)
	gate.Lock()
	defer gate.Unlock()

	if i.present(versionID) {
		// Installed earlier; stale embedded URLs in the cached installer
		// are refreshed opportunistically for the next actual install.
		i.repatchCached(installerURL)
		return versionID, nil
	}

	jarPath, err := i.downloadInstaller(ctx, installerURL)
	if err != nil {
		return "", fmt.Errorf("download installer: %w", err)
	}

	runJar, mirrorBase, err := i.patchIfNeeded(jarPath, installerURL)
	if err != nil {
		return "", fmt.Errorf("patch installer: %w", err)
	}

	if err := i.execute(ctx, runJar, mirrorBase); err != nil {
		return "", err
	}

	if !i.present(versionID) {
		return "", fmt.Errorf("%w: %s", ErrInstallFailed, versionID)
	}
	i.log.Info("loader installed",
		zap.String("version", versionID),
		zap.String("mc_version", mcVersion))
	return versionID, nil
}

// present reports whether the version directory and its JSON descriptor
// already exist.
func (i *Installer) present(versionID string) bool {
	descriptor := filepath.Join(i.opts.GameDir, "versions", versionID, versionID+".json")
	info, err := os.Stat(descriptor)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// patchIfNeeded rewrites the installer JAR when it references the
// canonical host, returning the JAR to execute and the mirror base the
// patch points at (empty when unpatched).
func (i *Installer) patchIfNeeded(jarPath, installerURL string) (string, string, error) {
	upstreamBase := "https://" + i.opts.CanonicalHost
	needs, err := NeedsPatch(jarPath, i.opts.CanonicalHost)
	if err != nil {
		return "", "", err
	}
	if !needs || len(i.opts.Mirrors) == 0 {
		return jarPath, "", nil
	}

	mirrorBase := i.pickMirror()
	patched := patchedPath(jarPath)
	if err := PatchJar(jarPath, patched, upstreamBase, mirrorBase); err != nil {
		return "", "", err
	}
	i.log.Info("installer patched",
		zap.String("upstream", upstreamBase),
		zap.String("mirror", mirrorBase))
	return patched, mirrorBase, nil
}

// repatchCached refreshes the patched copy of an already-downloaded
// installer. Best effort only.
func (i *Installer) repatchCached(installerURL string) {
	jarPath := i.cachedJarPath(installerURL)
	if _, err := os.Stat(jarPath); err != nil {
		return
	}
	if _, _, err := i.patchIfNeeded(jarPath, installerURL); err != nil {
		i.log.Debug("installer re-patch skipped", zap.Error(err))
	}
}

// pickMirror chooses the healthiest configured mirror for patching.
func (i *Installer) pickMirror() string {
	ordered := i.tracker.Order(i.opts.Mirrors, mirror.ClassBlob)
	return ordered[0]
}

func patchedPath(jarPath string) string {
	ext := filepath.Ext(jarPath)
	return jarPath[:len(jarPath)-len(ext)] + ".patched" + ext
}
