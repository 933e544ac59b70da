package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.SuccessfulNodeCapacity != 1024 {
		t.Fatalf("SuccessfulNodeCapacity = %d, want 1024", cfg.Cache.SuccessfulNodeCapacity)
	}
	if cfg.Tick.IntervalDuration().Seconds() != 2 {
		t.Fatalf("default tick interval = %v, want 2s", cfg.Tick.IntervalDuration())
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "store:\n  dsn: file:custom.db\ncache:\n  successful_node_capacity: 64\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.DSN != "file:custom.db" {
		t.Fatalf("Store.DSN = %q, want %q", cfg.Store.DSN, "file:custom.db")
	}
	if cfg.Cache.SuccessfulNodeCapacity != 64 {
		t.Fatalf("SuccessfulNodeCapacity = %d, want 64", cfg.Cache.SuccessfulNodeCapacity)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("unset fields should keep defaults; Log.Level = %q", cfg.Log.Level)
	}
}

func TestTickConfig_IntervalDuration_InvalidFallsBackToDefault(t *testing.T) {
	tc := TickConfig{Interval: "not-a-duration"}
	if tc.IntervalDuration().Seconds() != 2 {
		t.Fatalf("invalid interval should fall back to 2s, got %v", tc.IntervalDuration())
	}
}
