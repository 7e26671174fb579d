package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Detect.StartSpeedMph != 10 {
		t.Errorf("StartSpeedMph = %v, want 10", cfg.Detect.StartSpeedMph)
	}
	if cfg.Detect.MinStartDwell.Std() != 30*time.Second {
		t.Errorf("MinStartDwell = %v, want 30s", cfg.Detect.MinStartDwell.Std())
	}
	if cfg.Detect.MinStopDwell.Std() != 5*time.Minute {
		t.Errorf("MinStopDwell = %v, want 5m", cfg.Detect.MinStopDwell.Std())
	}
	if cfg.Detect.SpeedWindowSize != 10 {
		t.Errorf("SpeedWindowSize = %v, want 10", cfg.Detect.SpeedWindowSize)
	}
	if cfg.Trip.MileageRate != 0.67 {
		t.Errorf("MileageRate = %v, want 0.67", cfg.Trip.MileageRate)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "milepost.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address == "" {
		t.Error("expected default server address")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file was not created: %v", err)
	}
}

func TestLoadMergesWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "milepost.yaml")

	partial := `
detect:
  min_stop_dwell: 2m
server:
  address: "localhost:9999"
`
	if err := os.WriteFile(path, []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Detect.MinStopDwell.Std() != 2*time.Minute {
		t.Errorf("MinStopDwell = %v, want 2m", cfg.Detect.MinStopDwell.Std())
	}
	if cfg.Server.Address != "localhost:9999" {
		t.Errorf("Address = %q, want localhost:9999", cfg.Server.Address)
	}
	// Untouched fields keep defaults.
	if cfg.Detect.StartSpeedMph != 10 {
		t.Errorf("StartSpeedMph = %v, want default 10", cfg.Detect.StartSpeedMph)
	}
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "milepost.yaml")

	bad := `
detect:
  start_speed_mph: 2
  continue_speed_mph: 3
`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected validation error for start speed below continue speed")
	}
}
