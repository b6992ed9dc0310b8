package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no stray frigo.yaml is picked up.
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServeAddr != ":8080" || cfg.DashboardPort != 8765 {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.WatchDebounce != 500*time.Millisecond {
		t.Fatalf("WatchDebounce = %v", cfg.WatchDebounce)
	}
	if cfg.DBPath() != filepath.Join(cfg.DataDir, "frigo.db") {
		t.Fatalf("DBPath = %q", cfg.DBPath())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frigo.yaml")
	content := "data_dir: /var/lib/frigo\nserve_addr: \":9999\"\ndb_file: /tmp/other.db\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/var/lib/frigo" || cfg.ServeAddr != ":9999" {
		t.Fatalf("got %+v", cfg)
	}
	// Absolute paths are not re-rooted under the data dir.
	if cfg.DBPath() != "/tmp/other.db" {
		t.Fatalf("DBPath = %q", cfg.DBPath())
	}
	if cfg.KVPath() != "/var/lib/frigo/local.json" {
		t.Fatalf("KVPath = %q", cfg.KVPath())
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FRIGO_SERVE_ADDR", ":7777")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServeAddr != ":7777" {
		t.Fatalf("ServeAddr = %q, want env override", cfg.ServeAddr)
	}
}
