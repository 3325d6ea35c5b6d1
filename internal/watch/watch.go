package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"camtrap/internal/fsutil"
	"camtrap/internal/pipeline"
)

// defaultDebounce is how long a location must be quiet before its pending
// changes are turned into a job. Cameras upload clips in bursts, so a
// per-file job would thrash the analyzer.
const defaultDebounce = 30 * time.Second

// Watcher monitors a project's data folder and queues a rescan job when
// new clips settle.
type Watcher struct {
	project    string
	dataFolder string
	pipe       *pipeline.Pipeline
	log        *slog.Logger

	Debounce time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string]time.Time // location name -> last event
}

// New creates a watcher over the project's data folder.
func New(project, dataFolder string, pipe *pipeline.Pipeline, log *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		project:    project,
		dataFolder: dataFolder,
		pipe:       pipe,
		log:        log,
		Debounce:   defaultDebounce,
		watcher:    fsWatcher,
		done:       make(chan struct{}),
		pending:    make(map[string]time.Time),
	}, nil
}

// Start watches the data folder and all current location directories.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dataFolder); err != nil {
		return fmt.Errorf("watch %s: %w", w.dataFolder, err)
	}
	dirs, err := fsutil.ListSubdirs(w.dataFolder)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.log.Info("watching data folder", "path", w.dataFolder, "locations", len(dirs))

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.flushLoop(ctx)
	return nil
}

// Stop terminates watching. Pending debounced changes are dropped.
func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()
	w.wg.Wait()
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)

		case <-ctx.Done():
			return
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	// A new directory directly under the data folder is a new location.
	if event.Op&fsnotify.Create != 0 && filepath.Dir(event.Name) == filepath.Clean(w.dataFolder) {
		if filepath.Ext(event.Name) == "" {
			if err := w.watcher.Add(event.Name); err == nil {
				w.log.Info("watching new location", "path", event.Name)
			}
			return
		}
	}

	if !fsutil.IsVideoFile(event.Name) {
		return
	}

	location := filepath.Base(filepath.Dir(event.Name))
	w.mu.Lock()
	w.pending[location] = time.Now()
	w.mu.Unlock()
	w.log.Debug("clip change noted", "path", event.Name, "location", location)
}

// flushLoop promotes quiet locations into scan-then-analyze jobs.
func (w *Watcher) flushLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.flushQuiet()
		}
	}
}

func (w *Watcher) flushQuiet() {
	now := time.Now()
	var ripe []string

	w.mu.Lock()
	for location, last := range w.pending {
		if now.Sub(last) >= w.Debounce {
			ripe = append(ripe, location)
			delete(w.pending, location)
		}
	}
	w.mu.Unlock()

	for _, location := range ripe {
		w.enqueue(location)
	}
}

func (w *Watcher) enqueue(location string) {
	scanJob := pipeline.Job{
		ID:        fmt.Sprintf("watch-scan-%s", uuid.NewString()),
		Type:      pipeline.JobScan,
		InputPath: w.dataFolder,
		Options: map[string]any{
			"project":   w.project,
			"locations": []string{location},
		},
	}
	if err := w.pipe.Submit(scanJob); err != nil {
		w.log.Error("failed to queue scan", "location", location, "error", err)
		return
	}

	analyzeJob := pipeline.Job{
		ID:        fmt.Sprintf("watch-analyze-%s", uuid.NewString()),
		Type:      pipeline.JobAnalyze,
		InputPath: filepath.Join(w.dataFolder, location),
		Options: map[string]any{
			"project":  w.project,
			"location": location,
		},
	}
	if err := w.pipe.Submit(analyzeJob); err != nil {
		w.log.Error("failed to queue analysis", "location", location, "error", err)
	}
	w.log.Info("queued analysis for changed location", "location", location)
}

// PendingLocations returns locations with changes still inside the
// debounce window.
func (w *Watcher) PendingLocations() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.pending))
	for location := range w.pending {
		out = append(out, location)
	}
	return out
}
