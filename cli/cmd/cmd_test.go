package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/packwright/packwright/cli/config"
)

// runWith parses args through a throwaway app so flag values land in a
// real cli.Context.
func runWith(t *testing.T, flags []cli.Flag, args []string, action cli.ActionFunc) {
	t.Helper()
	app := &cli.App{
		Name: "packwright",
		Commands: []*cli.Command{{
			Name:   "probe",
			Flags:  flags,
			Action: action,
		}},
	}
	if err := app.Run(append([]string{"packwright", "probe"}, args...)); err != nil {
		t.Fatalf("app run: %v", err)
	}
}

func TestMergeFlags_FlagsWinOverConfig(t *testing.T) {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "primary"},
		&cli.StringSliceFlag{Name: "mirror"},
		&cli.Int64Flag{Name: "concurrency"},
	}
	args := []string{
		"--primary", "https://flag.example",
		"--mirror", "https://m1.example",
		"--mirror", "https://m2.example",
		"--concurrency", "3",
	}
	runWith(t, flags, args, func(c *cli.Context) error {
		cfg := &config.Config{}
		cfg.Pack.Primary = "https://file.example"
		cfg.Sync.Concurrency = 9

		mergeFlags(cfg, c)

		if cfg.Pack.Primary != "https://flag.example" {
			t.Errorf("primary = %q", cfg.Pack.Primary)
		}
		if len(cfg.Pack.Mirrors) != 2 {
			t.Errorf("mirrors = %v", cfg.Pack.Mirrors)
		}
		if cfg.Sync.Concurrency != 3 {
			t.Errorf("concurrency = %d", cfg.Sync.Concurrency)
		}
		return nil
	})
}

func TestLoadConfig_MissingDefaultFileIsFine(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	runWith(t, []cli.Flag{ConfigFlag, &cli.StringFlag{Name: "primary"}},
		[]string{"--primary", "https://p.example"},
		func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				t.Fatalf("loadConfig: %v", err)
			}
			if cfg.Pack.Primary != "https://p.example" {
				t.Errorf("primary = %q", cfg.Pack.Primary)
			}
			if cfg.Sync.Concurrency != 6 {
				t.Errorf("defaults not applied: concurrency = %d", cfg.Sync.Concurrency)
			}
			return nil
		})
}

func TestLoadConfig_ExplicitMissingFileErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	runWith(t, []cli.Flag{ConfigFlag}, []string{"--config", missing},
		func(c *cli.Context) error {
			if _, err := loadConfig(c); err == nil {
				t.Error("expected error for explicit missing config file")
			}
			return nil
		})
}

func TestLoadConfig_ReadsFileAndMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packwright.yaml")
	doc := `
pack:
  id: demo
  primary: https://file.example
sync:
  instance_dir: /tmp/instance
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	runWith(t, []cli.Flag{ConfigFlag, &cli.StringFlag{Name: "primary"}},
		[]string{"--config", path, "--primary", "https://flag.example"},
		func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				t.Fatalf("loadConfig: %v", err)
			}
			if cfg.Pack.ID != "demo" {
				t.Errorf("pack id = %q", cfg.Pack.ID)
			}
			if cfg.Pack.Primary != "https://flag.example" {
				t.Errorf("flag should win: primary = %q", cfg.Pack.Primary)
			}
			if cfg.Paths.StateFile != filepath.Join("/tmp/instance", "pack_state.json") {
				t.Errorf("state file = %q", cfg.Paths.StateFile)
			}
			return nil
		})
}

func TestSyncCommand_DeclaresFlags(t *testing.T) {
	cmd := SyncCommand()
	names := map[string]bool{}
	for _, f := range cmd.Flags {
		names[f.Names()[0]] = true
	}
	for _, want := range []string{"config", "primary", "mirror", "instance-dir", "concurrency", "tui"} {
		if !names[want] {
			t.Errorf("sync is missing --%s", want)
		}
	}
}
