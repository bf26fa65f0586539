package types

import (
	"encoding/json"
	"strings"
	"testing"
)

const testHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const otherHash = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "mods/a.jar", want: "mods/a.jar"},
		{in: "./mods/a.jar", want: "mods/a.jar"},
		{in: "mods\\sub\\a.jar", want: "mods/sub/a.jar"},
		{in: "/mods/a.jar", want: "mods/a.jar"},
		{in: "mods//a.jar", want: "mods/a.jar"},
		{in: "mods/./a.jar", want: "mods/a.jar"},
		{in: "../escape.jar", wantErr: true},
		{in: "mods/../../escape.jar", wantErr: true},
		{in: "C:/windows/system32", wantErr: true},
		{in: "~/secrets", wantErr: true},
		{in: "", wantErr: true},
		{in: "./", wantErr: true},
	}

	for _, tc := range cases {
		got, err := NormalizePath(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizePath(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizePath(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestManifest_Validate_RejectsOutsideAllowedRoots(t *testing.T) {
	m := &Manifest{
		PackID:  "pack",
		Version: "1.0",
		Files: []PackFile{
			{Path: "saves/world/level.dat", SHA256: testHash, Size: 10},
		},
	}
	if err := m.Validate(nil); err == nil {
		t.Fatal("expected error for path outside allowed roots")
	}
}

func TestManifest_Validate_DuplicatePaths(t *testing.T) {
	t.Run("identical duplicates dedupe silently", func(t *testing.T) {
		m := &Manifest{
			PackID:  "pack",
			Version: "1.0",
			Files: []PackFile{
				{Path: "mods/a.jar", SHA256: testHash, Size: 10},
				{Path: "./mods/a.jar", SHA256: testHash, Size: 10},
			},
		}
		if err := m.Validate(nil); err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if len(m.Files) != 1 {
			t.Errorf("len(Files) = %d, want 1", len(m.Files))
		}
	})

	t.Run("conflicting duplicates are a hard error", func(t *testing.T) {
		m := &Manifest{
			PackID:  "pack",
			Version: "1.0",
			Files: []PackFile{
				{Path: "mods/a.jar", SHA256: testHash, Size: 10},
				{Path: "mods/a.jar", SHA256: otherHash, Size: 10},
			},
		}
		if err := m.Validate(nil); err == nil {
			t.Fatal("expected error for conflicting duplicate paths")
		}
	})
}

func TestManifest_Validate_EmptyFileRule(t *testing.T) {
	m := &Manifest{
		PackID:  "pack",
		Version: "1.0",
		Files: []PackFile{
			{Path: "config/empty.cfg", SHA256: otherHash, Size: 0},
		},
	}
	if err := m.Validate(nil); err == nil {
		t.Fatal("expected error for size 0 with non-empty hash")
	}

	m.Files[0].SHA256 = EmptyFileSHA256
	if err := m.Validate(nil); err != nil {
		t.Fatalf("Validate failed for legitimate empty file: %v", err)
	}
	if !m.Files[0].IsEmpty() {
		t.Error("IsEmpty() = false, want true")
	}
}

func TestManifest_Validate_MalformedHash(t *testing.T) {
	m := &Manifest{
		PackID:  "pack",
		Version: "1.0",
		Files: []PackFile{
			{Path: "mods/a.jar", SHA256: "NOT-A-HASH", Size: 10},
		},
	}
	if err := m.Validate(nil); err == nil {
		t.Fatal("expected error for malformed sha256")
	}
}

func TestPackFile_BlobPath(t *testing.T) {
	f := PackFile{Path: "mods/a.jar", SHA256: testHash, Size: 10}
	want := "blobs/aa/" + testHash
	if got := f.BlobPath(); got != want {
		t.Errorf("BlobPath() = %q, want %q", got, want)
	}

	f.Blob = "/custom/location.bin"
	if got := f.BlobPath(); got != "custom/location.bin" {
		t.Errorf("BlobPath() with override = %q, want %q", got, "custom/location.bin")
	}
}

func TestManifest_UnmarshalJSON_VersionAlias(t *testing.T) {
	t.Run("legacy version key", func(t *testing.T) {
		var m Manifest
		if err := json.Unmarshal([]byte(`{"packId":"p","version":"2.1","files":[]}`), &m); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if m.Version != "2.1" {
			t.Errorf("Version = %q, want %q", m.Version, "2.1")
		}
	})

	t.Run("packVersion preferred over version", func(t *testing.T) {
		var m Manifest
		if err := json.Unmarshal([]byte(`{"packId":"p","packVersion":"3.0","version":"2.1"}`), &m); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if m.Version != "3.0" {
			t.Errorf("Version = %q, want %q", m.Version, "3.0")
		}
	})
}

func TestManifest_Identity(t *testing.T) {
	m := &Manifest{PackID: "pack", Channel: "beta", Version: "1.2", Build: "45"}
	if got := m.Identity(); got != "pack/beta/1.2+45" {
		t.Errorf("Identity() = %q", got)
	}

	m = &Manifest{PackID: "pack", Version: "1.2"}
	if got := m.Identity(); got != "pack/default/1.2" {
		t.Errorf("Identity() without channel/build = %q", got)
	}
}

func TestManifest_Validate_RejectsDeleteAndPruneOutsideRoots(t *testing.T) {
	t.Run("prune outside allowed roots", func(t *testing.T) {
		m := &Manifest{PackID: "pack", Version: "1.0", Prune: []string{"saves/"}}
		if err := m.Validate(nil); err == nil {
			t.Fatal("expected error for prune root outside allowed roots")
		}
	})

	t.Run("delete outside allowed roots", func(t *testing.T) {
		m := &Manifest{PackID: "pack", Version: "1.0", Delete: []string{"saves/world/level.dat"}}
		if err := m.Validate(nil); err == nil {
			t.Fatal("expected error for delete path outside allowed roots")
		}
	})

	t.Run("delete of a whole allowed root is fine", func(t *testing.T) {
		m := &Manifest{PackID: "pack", Version: "1.0", Delete: []string{"resourcepacks"}}
		if err := m.Validate(nil); err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
	})
}

func TestManifest_Validate_NormalizesDeleteAndPrune(t *testing.T) {
	m := &Manifest{
		PackID:  "pack",
		Version: "1.0",
		Delete:  []string{"mods/old.jar", "resourcepacks/legacy/"},
		Prune:   []string{"mods"},
	}
	if err := m.Validate(nil); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if m.Delete[1] != "resourcepacks/legacy/" {
		t.Errorf("Delete[1] = %q, trailing slash should survive", m.Delete[1])
	}
	if !strings.HasSuffix(m.Prune[0], "/") {
		t.Errorf("Prune[0] = %q, want trailing slash", m.Prune[0])
	}
}
