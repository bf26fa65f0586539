// Package launch declares the boundary to the base-game installation and
// launch library. The sync engine never parses base-game manifests
// itself; it drives an implementation of this interface.
package launch

import (
	"context"
	"os/exec"
)

// Request describes one game launch.
type Request struct {
	// VersionID is the (loader) version directory to launch.
	VersionID string
	// Username is the player profile name.
	Username string
	// RAMMb is the JVM heap budget in MiB.
	RAMMb int
	// ServerIP optionally auto-connects to a server on start.
	ServerIP string
}

// Launcher is implemented by the base-game library.
type Launcher interface {
	// InstallBaseVersion ensures the vanilla version id is installed.
	InstallBaseVersion(ctx context.Context, versionID string) error
	// BuildAndLaunch starts the game process for a version. The caller
	// owns the returned handle.
	BuildAndLaunch(ctx context.Context, req Request) (*exec.Cmd, error)
}
