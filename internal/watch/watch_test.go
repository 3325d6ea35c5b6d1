package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"camtrap/internal/config"
	"camtrap/internal/pipeline"
	"camtrap/internal/storage"
)

func newTestWatcher(t *testing.T, dataFolder string) (*Watcher, *storage.Store, *pipeline.Pipeline) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if _, err := store.InsertProject(storage.ProjectRecord{Name: "survey", DataFolder: dataFolder}); err != nil {
		t.Fatalf("insert project: %v", err)
	}

	cfg := config.Default()
	pipe := pipeline.New(context.Background(), 1, slog.Default(), store, cfg)
	t.Cleanup(pipe.Stop)

	w, err := New("survey", dataFolder, pipe, slog.Default())
	if err != nil {
		t.Fatalf("create watcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, store, pipe
}

func TestHandleEventMarksLocationPending(t *testing.T) {
	dataFolder := t.TempDir()
	w, _, _ := newTestWatcher(t, dataFolder)

	w.handleEvent(fsnotify.Event{
		Name: filepath.Join(dataFolder, "ridge-north", "20231104_211500.mkv"),
		Op:   fsnotify.Create,
	})
	w.handleEvent(fsnotify.Event{
		Name: filepath.Join(dataFolder, "ridge-north", "20231104_213000.mkv"),
		Op:   fsnotify.Write,
	})

	pending := w.PendingLocations()
	if len(pending) != 1 || pending[0] != "ridge-north" {
		t.Fatalf("expected single pending location, got %v", pending)
	}
}

func TestNonVideoEventsIgnored(t *testing.T) {
	dataFolder := t.TempDir()
	w, _, _ := newTestWatcher(t, dataFolder)

	w.handleEvent(fsnotify.Event{
		Name: filepath.Join(dataFolder, "ridge-north", "notes.txt"),
		Op:   fsnotify.Create,
	})
	w.handleEvent(fsnotify.Event{
		Name: filepath.Join(dataFolder, "ridge-north", "20231104_211500.mkv"),
		Op:   fsnotify.Chmod,
	})

	if pending := w.PendingLocations(); len(pending) != 0 {
		t.Fatalf("expected no pending locations, got %v", pending)
	}
}

func TestFlushQueuesScanAndAnalyze(t *testing.T) {
	dataFolder := t.TempDir()
	w, store, _ := newTestWatcher(t, dataFolder)
	w.Debounce = 0

	w.handleEvent(fsnotify.Event{
		Name: filepath.Join(dataFolder, "ridge-north", "20231104_211500.mkv"),
		Op:   fsnotify.Create,
	})
	w.flushQuiet()

	if pending := w.PendingLocations(); len(pending) != 0 {
		t.Fatalf("flush should clear pending, got %v", pending)
	}

	// Submit records the queued rows synchronously.
	jobs, err := store.RecentJobs(10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected scan and analyze jobs, got %d", len(jobs))
	}
	types := map[string]bool{}
	for _, j := range jobs {
		types[j.JobType] = true
	}
	if !types["scan"] || !types["analyze"] {
		t.Fatalf("expected scan and analyze job types, got %v", types)
	}
}

func TestDebounceHoldsRecentChanges(t *testing.T) {
	dataFolder := t.TempDir()
	w, store, _ := newTestWatcher(t, dataFolder)
	w.Debounce = time.Hour

	w.handleEvent(fsnotify.Event{
		Name: filepath.Join(dataFolder, "ridge-north", "20231104_211500.mkv"),
		Op:   fsnotify.Create,
	})
	w.flushQuiet()

	if pending := w.PendingLocations(); len(pending) != 1 {
		t.Fatalf("recent change should still be pending, got %v", pending)
	}
	jobs, err := store.RecentJobs(10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs yet, got %d", len(jobs))
	}
}
