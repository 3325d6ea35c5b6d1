package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("CAMTRAP_CONFIG", filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected defaults, got error: %v", err)
	}
	if cfg.Processing.ParallelJobs != defaultParallel {
		t.Fatalf("expected default parallel jobs %d, got %d", defaultParallel, cfg.Processing.ParallelJobs)
	}
	if cfg.Ingest.SkipFrames != 9 {
		t.Fatalf("expected default skip frames 9, got %d", cfg.Ingest.SkipFrames)
	}
	if cfg.Detect.MinArea != 50 {
		t.Fatalf("expected default min area 50, got %d", cfg.Detect.MinArea)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"processing": {"parallel_jobs": 8},
		"ingest": {"video_formats": ["mov"], "skip_frames": 4, "max_time_gap_secs": 60},
		"detect": {"threshold": 40, "min_area": 120},
		"server": {"addr": ":9999"}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CAMTRAP_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Processing.ParallelJobs != 8 {
		t.Fatalf("expected 8 parallel jobs, got %d", cfg.Processing.ParallelJobs)
	}
	if len(cfg.Ingest.VideoFormats) != 1 || cfg.Ingest.VideoFormats[0] != "mov" {
		t.Fatalf("unexpected video formats: %v", cfg.Ingest.VideoFormats)
	}
	if cfg.Detect.Threshold != 40 {
		t.Fatalf("expected threshold 40, got %d", cfg.Detect.Threshold)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("expected addr :9999, got %s", cfg.Server.Addr)
	}
	if got := cfg.Ingest.MaxTimeGap().Seconds(); got != 60 {
		t.Fatalf("expected 60s gap, got %vs", got)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CAMTRAP_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestExpandUser(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got, err := expandUser("~/x/y.json")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(home, "x", "y.json")
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
