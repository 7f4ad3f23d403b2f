package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Track.BufferCap != 1000 {
		t.Errorf("BufferCap = %d, want 1000", cfg.Track.BufferCap)
	}
	if cfg.Realtime.BackoffMax != 30*time.Second {
		t.Errorf("BackoffMax = %s, want 30s", cfg.Realtime.BackoffMax)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "dispatch"
	cfg.Track.PanThresholdM = 500
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "dispatch" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "dispatch")
	}
	if loaded.Track.PanThresholdM != 500 {
		t.Errorf("PanThresholdM = %v, want 500", loaded.Track.PanThresholdM)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CARGOMART_API_BASE_URL", "https://staging.cargomart.io")
	t.Setenv("CARGOMART_TRACK_BUFFER_CAP", "250")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIBaseURL != "https://staging.cargomart.io" {
		t.Errorf("APIBaseURL = %q, want env override", cfg.APIBaseURL)
	}
	if cfg.Track.BufferCap != 250 {
		t.Errorf("BufferCap = %d, want 250", cfg.Track.BufferCap)
	}
}

func TestValidateRejectsBadBackoff(t *testing.T) {
	cfg := Default()
	cfg.Realtime.BackoffMax = cfg.Realtime.BackoffInitial / 2
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject max < initial")
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
