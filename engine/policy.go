package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/packwright/packwright/integrity"
	"github.com/packwright/packwright/iox"
	"github.com/packwright/packwright/remote"
	"github.com/packwright/packwright/types"
)

// syncFile reconciles one manifest entry, in policy order: pending
// sidecar promotion, integrity fast path, user-mutable skip, empty-file
// materialization, then download. cached is a read-only snapshot of the
// pack state taken before the parallel phase started.
func (o *Orchestrator) syncFile(ctx context.Context, f types.PackFile, origins []string, cached map[string]types.FileRecord) (fileOutcome, *types.FileRecord, error) {
	dest := filepath.Join(o.opts.InstanceDir, filepath.FromSlash(f.Path))

	if outcome, rec, handled := o.promotePending(f, dest); handled {
		return outcome, rec, nil
	}

	var cachedRec *types.FileRecord
	if rec, ok := cached[f.Path]; ok {
		cachedRec = &rec
	}

	res, err := integrity.Check(dest, f, cachedRec)
	if err != nil {
		o.collector.IncFileFailed()
		o.emitter.Emit(types.Event{Type: types.EventFileFailed, Path: f.Path, Message: err.Error()})
		return outcomeFailed, nil, fmt.Errorf("check %s: %w", f.Path, err)
	}
	if res.Hashed {
		o.collector.IncHashComputed()
	}

	switch res.Status {
	case integrity.StatusMatch:
		o.collector.IncFileVerified()
		rec := res.Record
		return outcomeVerified, &rec, nil

	case integrity.StatusMismatch:
		if o.isUserMutable(f.Path) {
			o.log.Info("changed locally, leaving as is", zap.String("path", f.Path))
			o.collector.IncFileSkipped()
			o.emitter.Emit(types.Event{Type: types.EventFileSkipped, Path: f.Path, Message: "changed locally"})
			return outcomeSkipped, nil, nil
		}
	}

	// Missing, or present with wrong content on a managed path.
	if f.IsEmpty() {
		if err := iox.WriteFileAtomic(dest, nil, 0o644); err != nil {
			o.collector.IncFileFailed()
			return outcomeFailed, nil, fmt.Errorf("materialize empty %s: %w", f.Path, err)
		}
		rec, err := integrity.Observe(dest, f)
		if err != nil {
			return outcomeFailed, nil, err
		}
		o.collector.IncFileDownloaded(0)
		o.emitter.Emit(types.Event{Type: types.EventFileApplied, Path: f.Path})
		return outcomeApplied, &rec, nil
	}

	outcome, err := o.downloadFile(ctx, f, dest, origins)
	if err != nil {
		o.collector.IncFileFailed()
		o.emitter.Emit(types.Event{Type: types.EventFileFailed, Path: f.Path, Message: err.Error()})
		return outcomeFailed, nil, err
	}
	if outcome == remote.OutcomeSavedPending {
		o.collector.IncFilePending()
		o.emitter.Emit(types.Event{Type: types.EventFilePending, Path: f.Path, Bytes: f.Size})
		return outcomePending, nil, nil
	}

	rec, err := integrity.Observe(dest, f)
	if err != nil {
		return outcomeFailed, nil, err
	}
	o.collector.IncFileDownloaded(f.Size)
	o.emitter.Emit(types.Event{Type: types.EventFileApplied, Path: f.Path, Bytes: f.Size})
	return outcomeApplied, &rec, nil
}

// promotePending resolves a leftover .pending sidecar before any network
// work. A sidecar matching the manifest is promoted in place of a fresh
// download; a locked destination keeps it parked for the next run; a
// sidecar for different content is stale and removed.
func (o *Orchestrator) promotePending(f types.PackFile, dest string) (fileOutcome, *types.FileRecord, bool) {
	pendingPath := dest + remote.PendingSuffix
	if _, err := os.Stat(pendingPath); err != nil {
		return 0, nil, false
	}

	if o.isUserMutable(f.Path) {
		if _, err := os.Stat(dest); err == nil {
			// The user owns the destination now; the parked copy is moot.
			_ = os.Remove(pendingPath)
			return 0, nil, false
		}
	}

	digest, size, err := integrity.HashFile(pendingPath)
	if err != nil || digest != f.SHA256 || size != f.Size {
		_ = os.Remove(pendingPath)
		o.log.Debug("stale pending sidecar removed", zap.String("path", f.Path))
		return 0, nil, false
	}
	o.collector.IncHashComputed()

	if err := iox.ReplaceFile(pendingPath, dest); err != nil {
		if iox.IsLocked(err) {
			o.log.Info("destination still locked, pending kept", zap.String("path", f.Path))
			o.collector.IncFilePending()
			o.emitter.Emit(types.Event{Type: types.EventFilePending, Path: f.Path, Bytes: f.Size})
			return outcomePending, nil, true
		}
		_ = os.Remove(pendingPath)
		return 0, nil, false
	}

	rec, err := integrity.Observe(dest, f)
	if err != nil {
		return 0, nil, false
	}
	o.log.Info("pending sidecar promoted", zap.String("path", f.Path))
	o.collector.IncFileDownloaded(0)
	o.emitter.Emit(types.Event{Type: types.EventFileApplied, Path: f.Path, Bytes: f.Size})
	return outcomeApplied, &rec, true
}
