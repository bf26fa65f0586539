package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/packwright/packwright/types"
)

func writeTemp(t *testing.T, body []byte) (string, types.PackFile) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file.bin")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	sum := sha256.Sum256(body)
	return path, types.PackFile{
		Path:   "mods/file.bin",
		SHA256: hex.EncodeToString(sum[:]),
		Size:   int64(len(body)),
	}
}

func TestCheck_Missing(t *testing.T) {
	res, err := Check(filepath.Join(t.TempDir(), "absent"), types.PackFile{}, nil)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Status != StatusMissing {
		t.Errorf("status = %v, want missing", res.Status)
	}
}

func TestCheck_FullHashMatch(t *testing.T) {
	path, want := writeTemp(t, []byte("payload"))

	res, err := Check(path, want, nil)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Status != StatusMatch {
		t.Fatalf("status = %v, want match", res.Status)
	}
	if !res.Hashed {
		t.Error("no cached record, body should have been hashed")
	}
	if res.Record.SHA256 != want.SHA256 || res.Record.Size != want.Size {
		t.Errorf("record = %+v", res.Record)
	}
}

func TestCheck_CachedRecordSkipsHash(t *testing.T) {
	path, want := writeTemp(t, []byte("payload"))
	info, _ := os.Stat(path)
	cached := types.FileRecord{
		Size:          want.Size,
		SHA256:        want.SHA256,
		MtimeUnixNano: info.ModTime().UnixNano(),
	}

	res, err := Check(path, want, &cached)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Status != StatusMatch {
		t.Fatalf("status = %v, want match", res.Status)
	}
	if res.Hashed {
		t.Error("valid cached record should skip hashing")
	}
}

func TestCheck_StaleCacheFallsBackToHash(t *testing.T) {
	path, want := writeTemp(t, []byte("payload"))
	cached := types.FileRecord{
		Size:          want.Size,
		SHA256:        want.SHA256,
		MtimeUnixNano: time.Now().Add(-time.Hour).UnixNano(),
	}

	res, err := Check(path, want, &cached)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Status != StatusMatch {
		t.Fatalf("status = %v, want match", res.Status)
	}
	if !res.Hashed {
		t.Error("stale mtime must force a full hash")
	}
}

func TestCheck_UnchangedFileWrongManifest(t *testing.T) {
	// The file matches its cached record but the manifest now wants
	// different content: mismatch without touching the body.
	path, oldWant := writeTemp(t, []byte("old content"))
	info, _ := os.Stat(path)
	cached := types.FileRecord{
		Size:          oldWant.Size,
		SHA256:        oldWant.SHA256,
		MtimeUnixNano: info.ModTime().UnixNano(),
	}
	newWant := oldWant
	newWant.SHA256 = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

	res, err := Check(path, newWant, &cached)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Status != StatusMismatch {
		t.Errorf("status = %v, want mismatch", res.Status)
	}
	if res.Hashed {
		t.Error("cached record covers the file, no hash needed")
	}
}

func TestCheck_SizeMismatchSkipsHash(t *testing.T) {
	path, want := writeTemp(t, []byte("payload"))
	want.Size += 3

	res, err := Check(path, want, nil)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Status != StatusMismatch {
		t.Errorf("status = %v, want mismatch", res.Status)
	}
	if res.Hashed {
		t.Error("size mismatch needs no hashing")
	}
}

func TestCheck_ContentMismatch(t *testing.T) {
	path, want := writeTemp(t, []byte("actual bytes"))
	want.SHA256 = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

	res, err := Check(path, want, nil)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Status != StatusMismatch {
		t.Errorf("status = %v, want mismatch", res.Status)
	}
}

func TestHashFile(t *testing.T) {
	path, want := writeTemp(t, []byte("hash me"))
	digest, size, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if digest != want.SHA256 || size != want.Size {
		t.Errorf("digest=%s size=%d, want %s/%d", digest, size, want.SHA256, want.Size)
	}
}
