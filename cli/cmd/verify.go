package cmd

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/packwright/packwright/cli/render"
	"github.com/packwright/packwright/integrity"
	"github.com/packwright/packwright/state"
)

// VerifyCommand returns the verify command: an offline integrity check
// of the local tree against the cached pack state. Every recorded file
// is re-hashed; the size/mtime fast path is deliberately not used.
func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:   "verify",
		Usage:  "Re-hash local files against the cached pack state (no network)",
		Flags:  ReadOnlyFlags(),
		Action: verifyAction,
	}
}

// VerifyRow is one mismatching or missing file in the verify report.
type VerifyRow struct {
	Path   string `json:"path" yaml:"path"`
	Status string `json:"status" yaml:"status"`
}

// VerifyResponse is the rendered result of verify.
type VerifyResponse struct {
	PackID   string      `json:"pack_id" yaml:"pack_id"`
	Applied  string      `json:"applied,omitempty" yaml:"applied,omitempty"`
	Checked  int         `json:"checked" yaml:"checked"`
	Matched  int         `json:"matched" yaml:"matched"`
	Problems []VerifyRow `json:"problems,omitempty" yaml:"problems,omitempty"`
}

func verifyAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	packState, err := state.NewStore(cfg.Paths.StateFile).Load(cfg.Pack.ID)
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(packState.Files))
	for path := range packState.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	resp := VerifyResponse{
		PackID:  packState.PackID,
		Applied: packState.AppliedManifest,
	}
	for _, path := range paths {
		rec := packState.Files[path]
		dest := filepath.Join(cfg.Sync.InstanceDir, filepath.FromSlash(path))
		resp.Checked++

		if _, err := os.Stat(dest); os.IsNotExist(err) {
			resp.Problems = append(resp.Problems, VerifyRow{Path: path, Status: "missing"})
			continue
		}
		sum, n, err := integrity.HashFile(dest)
		if err != nil {
			resp.Problems = append(resp.Problems, VerifyRow{Path: path, Status: "unreadable"})
			continue
		}
		if n != rec.Size || sum != rec.SHA256 {
			resp.Problems = append(resp.Problems, VerifyRow{Path: path, Status: "modified"})
			continue
		}
		resp.Matched++
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if err := r.Render(resp); err != nil {
		return err
	}
	if len(resp.Problems) > 0 {
		return cli.Exit("", exitSyncFailed)
	}
	return nil
}
