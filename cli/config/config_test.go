package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packwright.yaml")
	doc := `
pack:
  id: demo
  primary: https://pack.example
  mirrors:
    - https://cdn.example
    - https://m2.example
  manifest_path: channels/stable/pack.json
sync:
  instance_dir: /opt/instance
  user_mutable:
    - config/
    - scripts/local/
  concurrency: 4
loader:
  type: neoforge
  version: "21.1.77"
  mc_version: "1.21.1"
  stall_window: 2m
  overall_timeout: 30m
log_level: debug
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pack.ID != "demo" || cfg.Pack.Primary != "https://pack.example" {
		t.Errorf("pack = %+v", cfg.Pack)
	}
	if len(cfg.Pack.Mirrors) != 2 {
		t.Errorf("mirrors = %v", cfg.Pack.Mirrors)
	}
	if cfg.Sync.Concurrency != 4 {
		t.Errorf("concurrency = %d", cfg.Sync.Concurrency)
	}
	if cfg.Loader.StallWindow.Duration != 2*time.Minute {
		t.Errorf("stall window = %v", cfg.Loader.StallWindow)
	}
	if cfg.Loader.OverallTimeout.Duration != 30*time.Minute {
		t.Errorf("overall timeout = %v", cfg.Loader.OverallTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packwright.yaml")
	if err := os.WriteFile(path, []byte("loader:\n  stall_window: fast\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Sync.InstanceDir = "/opt/instance"
	cfg.ApplyDefaults()

	if cfg.Pack.ManifestPath != "pack.json" {
		t.Errorf("manifest path = %q", cfg.Pack.ManifestPath)
	}
	if len(cfg.Sync.UserMutable) != 1 || cfg.Sync.UserMutable[0] != "config/" {
		t.Errorf("user mutable = %v", cfg.Sync.UserMutable)
	}
	if cfg.Sync.Concurrency != 6 {
		t.Errorf("concurrency = %d", cfg.Sync.Concurrency)
	}
	if cfg.Paths.StateFile != filepath.Join("/opt/instance", "pack_state.json") {
		t.Errorf("state file = %q", cfg.Paths.StateFile)
	}
	if cfg.Loader.GameDir != "/opt/instance" {
		t.Errorf("game dir = %q", cfg.Loader.GameDir)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("config without origins must not validate")
	}
	cfg.Pack.Primary = "https://pack.example"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}
