package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/packwright/packwright/types"
)

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack_state.json")
	store := NewStore(path)

	st := types.NewPackState("demo")
	st.AppliedManifest = "demo/default/1.2.0"
	st.Record("mods/a.jar", types.FileRecord{Size: 10, SHA256: "aa", MtimeUnixNano: 42})

	if err := store.Save(st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := NewStore(path).Load("demo")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.AppliedManifest != "demo/default/1.2.0" {
		t.Errorf("AppliedManifest = %q", loaded.AppliedManifest)
	}
	rec, ok := loaded.Lookup("mods/a.jar")
	if !ok || rec.MtimeUnixNano != 42 {
		t.Errorf("record = %+v ok=%v", rec, ok)
	}
}

func TestStore_MissingYieldsFresh(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.json"))
	st, err := store.Load("demo")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st.PackID != "demo" || len(st.Files) != 0 {
		t.Errorf("fresh state = %+v", st)
	}
}

func TestStore_CorruptDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack_state.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	st, err := NewStore(path).Load("demo")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(st.Files) != 0 {
		t.Error("corrupt state should be discarded")
	}
}

func TestStore_PackIDMismatchDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack_state.json")
	store := NewStore(path)

	other := types.NewPackState("other-pack")
	other.Record("mods/a.jar", types.FileRecord{Size: 1})
	if err := store.Save(other); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	st, err := store.Load("demo")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st.PackID != "demo" || len(st.Files) != 0 {
		t.Errorf("state for wrong pack leaked through: %+v", st)
	}
}
