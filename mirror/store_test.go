package mirror

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror_stats.json")
	store := NewStore(path)

	tr := NewTracker()
	tr.RecordSuccess("https://a.example", ClassBlob, 100*time.Millisecond, 1<<20)
	tr.RecordFailure("https://b.example", ClassManifest)

	if err := store.Save(tr); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded["https://a.example"].Blob.Success != 1 {
		t.Errorf("loaded blob success = %d", loaded["https://a.example"].Blob.Success)
	}
	if loaded["https://b.example"].Manifest.Failure != 1 {
		t.Errorf("loaded manifest failure = %d", loaded["https://b.example"].Manifest.Failure)
	}
}

func TestStore_MissingFileYieldsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.json"))
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("loaded %d origins, want 0", len(loaded))
	}
}

func TestStore_CorruptFileDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror_stats.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	loaded, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("corrupt stats should be discarded, got %d origins", len(loaded))
	}
}

func TestStore_MaybeSaveRateLimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror_stats.json")
	store := NewStore(path)

	tr := NewTracker()
	tr.RecordFailure("https://a.example", ClassBlob)
	if err := store.Save(tr); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	before, _ := os.Stat(path)

	// Within the rate-limit window a dirty tracker is still skipped.
	tr.RecordFailure("https://a.example", ClassBlob)
	if err := store.MaybeSave(tr); err != nil {
		t.Fatalf("MaybeSave failed: %v", err)
	}
	after, _ := os.Stat(path)
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("MaybeSave wrote inside the rate-limit window")
	}
}
