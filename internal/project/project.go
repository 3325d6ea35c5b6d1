package project

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"camtrap/internal/config"
	"camtrap/internal/fsutil"
	"camtrap/internal/storage"
	"camtrap/internal/video"
)

// ScanSummary reports what a data-folder scan found and registered.
type ScanSummary struct {
	Locations     int
	Videos        int
	MetadataFails int
}

// Scanner walks a project's data folder, registering each subdirectory as
// a camera location and every video under it. The folder layout is fixed:
// dataFolder/<location>/<clips...>.
type Scanner struct {
	store *storage.Store
	cfg   config.IngestConfig
	log   *slog.Logger

	// RestrictTo limits the scan to the named locations when non-empty.
	RestrictTo []string
}

// NewScanner builds a scanner over the given store.
func NewScanner(store *storage.Store, cfg config.IngestConfig, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{store: store, cfg: cfg, log: log}
}

// Scan registers the project's locations and videos. Already-known videos
// are refreshed in place, so rescanning after new clips arrive is cheap.
func (s *Scanner) Scan(ctx context.Context, proj storage.ProjectRecord) (ScanSummary, error) {
	var summary ScanSummary

	dirs, err := fsutil.ListSubdirs(proj.DataFolder)
	if err != nil {
		return summary, fmt.Errorf("list locations in %s: %w", proj.DataFolder, err)
	}

	for _, dir := range dirs {
		name := filepath.Base(dir)
		if len(s.RestrictTo) > 0 && !contains(s.RestrictTo, name) {
			continue
		}

		loc, err := s.store.LocationByName(proj.ID, name)
		if err != nil {
			id, err := s.store.InsertLocation(storage.LocationRecord{ProjectID: proj.ID, Name: name})
			if err != nil {
				return summary, fmt.Errorf("register location %s: %w", name, err)
			}
			loc = storage.LocationRecord{ID: id, ProjectID: proj.ID, Name: name}
		}
		summary.Locations++

		n, fails, err := s.scanLocation(ctx, proj, loc, dir)
		if err != nil {
			return summary, err
		}
		summary.Videos += n
		summary.MetadataFails += fails
	}
	return summary, nil
}

func (s *Scanner) scanLocation(ctx context.Context, proj storage.ProjectRecord, loc storage.LocationRecord, dir string) (int, int, error) {
	paths, err := fsutil.ListVideos(dir, s.cfg.VideoFormats)
	if err != nil {
		return 0, 0, fmt.Errorf("list videos in %s: %w", dir, err)
	}

	priority := "sidecar"
	if !s.cfg.SidecarPriority {
		priority = "ffprobe"
	}

	count, fails := 0, 0
	for _, path := range paths {
		if ctx.Err() != nil {
			return count, fails, ctx.Err()
		}

		meta, err := video.LoadMetadata(ctx, path, priority, s.cfg.FilenameSeparator, s.cfg.Clock24h)
		if err != nil {
			s.log.Warn("metadata unavailable", "path", path, "error", err)
			fails++
		}

		rec := storage.VideoRecord{
			LocationID:   loc.ID,
			Path:         relativeOrAbs(proj, path),
			StartedAt:    meta.StartTime,
			DurationSecs: meta.Duration().Seconds(),
			FPS:          meta.FPS,
			Width:        meta.Width,
			Height:       meta.Height,
		}
		if _, err := s.store.UpsertVideo(rec); err != nil {
			return count, fails, fmt.Errorf("register video %s: %w", path, err)
		}
		count++
	}
	return count, fails, nil
}

// Items resolves a location's registered videos into loader items in
// chronological order.
func Items(ctx context.Context, store *storage.Store, proj storage.ProjectRecord, locationID int64, cfg config.IngestConfig) ([]video.Item, error) {
	recs, err := store.VideosByLocation(locationID)
	if err != nil {
		return nil, err
	}

	items := make([]video.Item, 0, len(recs))
	for _, rec := range recs {
		path := rec.Path
		if proj.RelativePaths {
			path = filepath.Join(proj.DataFolder, rec.Path)
		}

		meta := video.Metadata{
			StartTime: rec.StartedAt,
			FPS:       rec.FPS,
			Width:     rec.Width,
			Height:    rec.Height,
		}
		if rec.DurationSecs > 0 && !rec.StartedAt.IsZero() {
			meta.StopTime = rec.StartedAt.Add(time.Duration(rec.DurationSecs * float64(time.Second)))
		}
		// Dimensions missing from the scan get probed on demand.
		if meta.Width == 0 || meta.Height == 0 {
			probed, err := video.Probe(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("probe %s: %w", path, err)
			}
			meta = meta.Merge(probed)
		}
		items = append(items, video.Item{VideoID: rec.ID, Path: path, Meta: meta})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Meta.StartTime.Before(items[j].Meta.StartTime)
	})
	return items, nil
}

func relativeOrAbs(proj storage.ProjectRecord, path string) string {
	if !proj.RelativePaths {
		return path
	}
	rel, err := filepath.Rel(proj.DataFolder, path)
	if err != nil {
		return path
	}
	return rel
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
