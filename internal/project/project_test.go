package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"camtrap/internal/config"
	"camtrap/internal/storage"
)

// touchClip writes an empty video file plus a sidecar carrying the full
// metadata set so the scan never needs ffprobe.
func touchClip(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".mkv"), nil, 0o644))

	sidecar := `<video>
        <starttime>2023-11-04T21:15:00Z</starttime>
        <stoptime>2023-11-04T21:16:00Z</stoptime>
        <fps>30</fps>
        <width>640</width>
        <height>480</height>
    </video>`
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".xml"), []byte(sidecar), 0o644))
}

func TestScanRegistersLocationsAndVideos(t *testing.T) {
	dataFolder := t.TempDir()
	touchClip(t, filepath.Join(dataFolder, "ridge-north"), "20231104_211500")
	touchClip(t, filepath.Join(dataFolder, "ridge-north"), "20231104_213000")
	touchClip(t, filepath.Join(dataFolder, "creek"), "20231104_220000")

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Close()

	pid, err := store.InsertProject(storage.ProjectRecord{
		Name: "survey", DataFolder: dataFolder, RelativePaths: true,
	})
	require.NoError(t, err)
	proj, err := store.ProjectByName("survey")
	require.NoError(t, err)
	require.Equal(t, pid, proj.ID)

	s := NewScanner(store, config.Default().Ingest, nil)
	summary, err := s.Scan(context.Background(), proj)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Locations)
	require.Equal(t, 3, summary.Videos)

	locs, err := store.LocationsByProject(pid)
	require.NoError(t, err)
	require.Len(t, locs, 2)

	// Rescan is idempotent.
	summary, err = s.Scan(context.Background(), proj)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Videos)
	for _, loc := range locs {
		vids, err := store.VideosByLocation(loc.ID)
		require.NoError(t, err)
		for _, v := range vids {
			require.NotContains(t, v.Path, dataFolder, "paths should be relative")
			require.Equal(t, 640, v.Width)
		}
	}
}

func TestScanFfprobePriorityStillReadsSidecar(t *testing.T) {
	dataFolder := t.TempDir()
	touchClip(t, filepath.Join(dataFolder, "ridge-north"), "20231104_211500")

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.InsertProject(storage.ProjectRecord{Name: "survey", DataFolder: dataFolder, RelativePaths: true})
	require.NoError(t, err)
	proj, err := store.ProjectByName("survey")
	require.NoError(t, err)

	// With probe-first metadata the sidecar still fills whatever the
	// probe cannot supply, so an empty clip registers fully.
	cfg := config.Default().Ingest
	cfg.SidecarPriority = false
	s := NewScanner(store, cfg, nil)

	summary, err := s.Scan(context.Background(), proj)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Videos)

	locs, err := store.LocationsByProject(proj.ID)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	vids, err := store.VideosByLocation(locs[0].ID)
	require.NoError(t, err)
	require.Len(t, vids, 1)
	require.Equal(t, 640, vids[0].Width)
	require.False(t, vids[0].StartedAt.IsZero())
}

func TestScanRestrictTo(t *testing.T) {
	dataFolder := t.TempDir()
	touchClip(t, filepath.Join(dataFolder, "ridge-north"), "20231104_211500")
	touchClip(t, filepath.Join(dataFolder, "creek"), "20231104_220000")

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.InsertProject(storage.ProjectRecord{Name: "survey", DataFolder: dataFolder, RelativePaths: true})
	require.NoError(t, err)
	proj, err := store.ProjectByName("survey")
	require.NoError(t, err)

	s := NewScanner(store, config.Default().Ingest, nil)
	s.RestrictTo = []string{"creek"}

	summary, err := s.Scan(context.Background(), proj)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Locations)
	require.Equal(t, 1, summary.Videos)
}

func TestItemsSortedByStartTime(t *testing.T) {
	dataFolder := t.TempDir()
	locDir := filepath.Join(dataFolder, "ridge-north")
	// Created out of order on disk; Items must sort by start time.
	touchClipAt(t, locDir, "20231104_223000", "2023-11-04T22:30:00Z")
	touchClipAt(t, locDir, "20231104_211500", "2023-11-04T21:15:00Z")

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.InsertProject(storage.ProjectRecord{Name: "survey", DataFolder: dataFolder, RelativePaths: true})
	require.NoError(t, err)
	proj, err := store.ProjectByName("survey")
	require.NoError(t, err)

	s := NewScanner(store, config.Default().Ingest, nil)
	_, err = s.Scan(context.Background(), proj)
	require.NoError(t, err)

	locs, err := store.LocationsByProject(proj.ID)
	require.NoError(t, err)
	require.Len(t, locs, 1)

	items, err := Items(context.Background(), store, proj, locs[0].ID, config.Default().Ingest)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.True(t, items[0].Meta.StartTime.Before(items[1].Meta.StartTime))
	require.Contains(t, items[0].Path, "20231104_211500")
}

func touchClipAt(t *testing.T, dir, name, start string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".mkv"), nil, 0o644))
	sidecar := `<video>
        <starttime>` + start + `</starttime>
        <fps>30</fps>
        <width>640</width>
        <height>480</height>
    </video>`
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".xml"), []byte(sidecar), 0o644))
}
