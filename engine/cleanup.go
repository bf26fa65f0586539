package engine

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/packwright/packwright/remote"
	"github.com/packwright/packwright/types"
)

// cleanup applies the manifest's delete list and prune subtrees after the
// file phase. Deletes are explicit author directives and apply even to
// user-mutable paths; prunes sweep only managed, non-user-mutable
// subtrees. Runs after the parallel phase, so packState access is safe.
func (o *Orchestrator) cleanup(m *types.Manifest, packState *types.PackState) (deleted, pruned int, errs []error) {
	wanted := m.WantedSet()

	for _, rel := range m.Delete {
		if _, ok := wanted[strings.TrimSuffix(rel, "/")]; ok {
			// A manifest that both ships and deletes a path is taken to
			// mean ship; deletion would immediately undo the sync.
			continue
		}
		abs := filepath.Join(o.opts.InstanceDir, filepath.FromSlash(strings.TrimSuffix(rel, "/")))
		if err := removePath(abs); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", rel, err))
			continue
		}
		_ = os.Remove(abs + remote.PendingSuffix)
		packState.Forget(strings.TrimSuffix(rel, "/"))
		o.collector.IncFileDeleted()
		deleted++
		o.log.Info("deleted", zap.String("path", rel))
	}

	for _, root := range m.Prune {
		n, perrs := o.pruneSubtree(root, wanted, packState)
		pruned += n
		errs = append(errs, perrs...)
	}
	return deleted, pruned, errs
}

// pruneSubtree removes every file under root (slash-terminated, relative)
// that the manifest does not want, skipping user-mutable paths and the
// sidecars of wanted files.
func (o *Orchestrator) pruneSubtree(root string, wanted map[string]struct{}, packState *types.PackState) (int, []error) {
	if o.isUserMutable(root) {
		return 0, nil
	}

	absRoot := filepath.Join(o.opts.InstanceDir, filepath.FromSlash(strings.TrimSuffix(root, "/")))
	var (
		pruned int
		errs   []error
	)
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(o.opts.InstanceDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if o.isUserMutable(rel) {
			return nil
		}
		if _, ok := wanted[rel]; ok {
			return nil
		}
		if base, found := strings.CutSuffix(rel, remote.PendingSuffix); found {
			if _, ok := wanted[base]; ok {
				// A parked sidecar for a wanted file survives the sweep.
				return nil
			}
		}

		if rerr := os.Remove(path); rerr != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", rel, rerr))
			return nil
		}
		packState.Forget(rel)
		o.collector.IncFilePruned()
		pruned++
		o.log.Info("pruned", zap.String("path", rel))
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		errs = append(errs, fmt.Errorf("prune %s: %w", root, walkErr))
	}
	return pruned, errs
}

// removePath deletes a file or an entire directory tree.
func removePath(abs string) error {
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return os.RemoveAll(abs)
	}
	return os.Remove(abs)
}
