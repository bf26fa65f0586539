package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/packwright/packwright/iox"
	"github.com/packwright/packwright/log"
	"github.com/packwright/packwright/mirror"
	"github.com/packwright/packwright/types"
)

// Outcome describes how a downloaded blob ended up on disk.
type Outcome int

const (
	// OutcomeApplied means the verified blob now sits at its destination.
	OutcomeApplied Outcome = iota
	// OutcomeSavedPending means the destination was locked by another
	// process, so the verified blob was parked as a .pending sidecar to be
	// promoted on the next run.
	OutcomeSavedPending
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSavedPending:
		return "saved-pending"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// PendingSuffix is appended to a destination path to form its sidecar.
const PendingSuffix = ".pending"

// overageTolerance returns how many bytes past the declared size a stream
// may run before it is abandoned. Origins that prepend error pages or
// serve the wrong object blow well past this.
func overageTolerance(declared int64) int64 {
	tol := declared / 20
	if tol < 1<<20 {
		tol = 1 << 20
	}
	return tol
}

// BlobPathVariants returns the mirror-relative paths a file's body may be
// served from, in preference order. A 404 on one variant means try the
// next before giving up on the origin. User-mutable destinations are
// commonly published under their literal path, so that variant leads for
// them; managed files lead with the content-addressed layout.
func BlobPathVariants(f types.PackFile, userMutable bool) []string {
	content := fmt.Sprintf("blobs/%s/%s", f.SHA256[:2], f.SHA256)
	var variants []string
	if f.Blob != "" {
		variants = append(variants, strings.TrimLeft(f.Blob, "/"))
	}
	if userMutable {
		variants = append(variants, f.Path, content)
	} else {
		variants = append(variants, content, f.Path)
	}

	seen := make(map[string]bool, len(variants))
	out := variants[:0]
	for _, v := range variants {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Downloader streams blob bodies to disk with inline verification.
type Downloader struct {
	client  *Client
	tracker *mirror.Tracker
	log     *log.Logger

	// place is swappable in tests to simulate a locked destination.
	place func(src, dest string) error
}

// NewDownloader creates a blob downloader recording health into tracker.
func NewDownloader(client *Client, tracker *mirror.Tracker, logger *log.Logger) *Downloader {
	return &Downloader{
		client:  client,
		tracker: tracker,
		log:     logger,
		place:   iox.ReplaceFile,
	}
}

// Download fetches one blob from origin at blobPath, verifies size and
// digest while streaming, and atomically places the body at destPath.
// The temp file lives in the destination directory so the final rename
// never crosses filesystems. Any verification failure deletes the temp
// file; nothing unverified ever reaches destPath.
func (d *Downloader) Download(ctx context.Context, origin, blobPath string, f types.PackFile, destPath string) (Outcome, error) {
	start := time.Now()

	resp, err := d.client.get(ctx, joinURL(origin, blobPath), 0)
	if err != nil {
		d.tracker.RecordFailure(origin, mirror.ClassBlob)
		return 0, err
	}
	defer resp.Body.Close()

	if isHTMLResponse(resp) {
		d.tracker.RecordFailure(origin, mirror.ClassBlob)
		return 0, &FetchError{Kind: KindPermanent, Origin: origin, Err: ErrHTMLResponse}
	}
	limit := f.Size + overageTolerance(f.Size)
	if resp.ContentLength > limit {
		d.tracker.RecordFailure(origin, mirror.ClassBlob)
		return 0, &FetchError{Kind: KindPermanent, Origin: origin, Err: ErrSizeTooLarge}
	}

	destDir := filepath.Dir(destPath)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, fmt.Errorf("create dir %s: %w", destDir, err)
	}
	tmp, err := os.CreateTemp(destDir, filepath.Base(destPath)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	discard := func() {
		iox.DiscardClose(tmp)
		_ = os.Remove(tmpName)
	}

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(resp.Body, limit+1))
	if err != nil {
		discard()
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		d.tracker.RecordFailure(origin, mirror.ClassBlob)
		return 0, &FetchError{Kind: KindTransient, Origin: origin, Err: err}
	}
	if n > limit {
		discard()
		d.tracker.RecordFailure(origin, mirror.ClassBlob)
		return 0, &FetchError{Kind: KindPermanent, Origin: origin, Err: ErrSizeTooLarge}
	}
	if n != f.Size {
		discard()
		d.tracker.RecordFailure(origin, mirror.ClassBlob)
		return 0, &FetchError{
			Kind:   KindPermanent,
			Origin: origin,
			Err:    fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, n, f.Size),
		}
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); got != f.SHA256 {
		discard()
		d.tracker.RecordFailure(origin, mirror.ClassBlob)
		return 0, &FetchError{
			Kind:   KindPermanent,
			Origin: origin,
			Err:    fmt.Errorf("%w: got %s, want %s", ErrIntegrity, got, f.SHA256),
		}
	}

	if err := tmp.Sync(); err != nil {
		discard()
		return 0, fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("chmod %s: %w", tmpName, err)
	}

	d.tracker.RecordSuccess(origin, mirror.ClassBlob, time.Since(start), f.Size)

	outcome, err := d.placeVerified(tmpName, destPath)
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	return outcome, nil
}

// placeVerified moves a verified temp file to its destination, parking it
// as a sidecar when the destination is held open by another process.
func (d *Downloader) placeVerified(tmpName, destPath string) (Outcome, error) {
	err := d.place(tmpName, destPath)
	if err == nil {
		return OutcomeApplied, nil
	}
	if !iox.IsLocked(err) {
		return 0, fmt.Errorf("place %s: %w", destPath, err)
	}

	pending := destPath + PendingSuffix
	// A stale sidecar from an earlier run is superseded.
	_ = os.Remove(pending)
	if perr := os.Rename(tmpName, pending); perr != nil {
		return 0, fmt.Errorf("park pending for locked %s: %w", destPath, perr)
	}
	d.log.Warn("destination locked, parked pending sidecar",
		zap.String("path", destPath))
	return OutcomeSavedPending, nil
}
