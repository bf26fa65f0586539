// Package integrity verifies local files against their manifest entries,
// using cached size+mtime observations to skip re-hashing unchanged files.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/packwright/packwright/types"
)

// Status is the verdict for one local file against its manifest entry.
type Status int

const (
	// StatusMissing means no file exists at the path.
	StatusMissing Status = iota
	// StatusMatch means the file matches the manifest entry. When the
	// verdict came from the cached record no bytes were read.
	StatusMatch
	// StatusMismatch means a file exists but its content differs.
	StatusMismatch
)

func (s Status) String() string {
	switch s {
	case StatusMissing:
		return "missing"
	case StatusMatch:
		return "match"
	case StatusMismatch:
		return "mismatch"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result carries the verdict plus a fresh record for the state cache.
// Record is only meaningful for StatusMatch.
type Result struct {
	Status Status
	// Hashed reports whether the file body was actually read. False means
	// the cached record short-circuited the check.
	Hashed bool
	Record types.FileRecord
}

// HashFile streams path through sha256 and returns the hex digest and
// byte count.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Check compares the file at path against its manifest entry. A cached
// record whose size and mtime still match the file on disk is trusted
// without re-reading the body; cached may be nil to force a full hash.
func Check(path string, want types.PackFile, cached *types.FileRecord) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Status: StatusMissing}, nil
		}
		return Result{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Result{Status: StatusMismatch}, nil
	}

	if cached != nil && cached.Matches(info.Size(), info.ModTime()) {
		if cached.SHA256 == want.SHA256 && cached.Size == want.Size {
			return Result{Status: StatusMatch, Record: *cached}, nil
		}
		// The file is unchanged but the manifest wants different content.
		return Result{Status: StatusMismatch}, nil
	}

	// Cheap pre-check before hashing: a wrong size can never match.
	if info.Size() != want.Size {
		return Result{Status: StatusMismatch, Hashed: false}, nil
	}

	digest, size, err := HashFile(path)
	if err != nil {
		return Result{}, err
	}
	if digest != want.SHA256 || size != want.Size {
		return Result{Status: StatusMismatch, Hashed: true}, nil
	}

	// Re-stat after hashing so the cached mtime describes the bytes that
	// were actually hashed; a concurrent writer invalidates the record.
	info, err = os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return Result{
		Status: StatusMatch,
		Hashed: true,
		Record: types.FileRecord{
			Size:          size,
			SHA256:        digest,
			MtimeUnixNano: info.ModTime().UnixNano(),
		},
	}, nil
}

// Observe builds a fresh record for a file just placed at path, assumed
// to hold exactly the entry's verified content.
func Observe(path string, want types.PackFile) (types.FileRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.FileRecord{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return types.FileRecord{
		Size:          want.Size,
		SHA256:        want.SHA256,
		MtimeUnixNano: info.ModTime().UnixNano(),
	}, nil
}
