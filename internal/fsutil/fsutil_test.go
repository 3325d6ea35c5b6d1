package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListVideosRecursiveAndFiltered(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a", "20240101_120000.mkv"))
	touch(t, filepath.Join(dir, "a", "20240101_120000.xml"))
	touch(t, filepath.Join(dir, "b", "clip.mp4"))
	touch(t, filepath.Join(dir, "b", "notes.txt"))

	all, err := ListVideos(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 videos, got %d: %v", len(all), all)
	}

	onlyMkv, err := ListVideos(dir, []string{"mkv"})
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyMkv) != 1 || filepath.Ext(onlyMkv[0]) != ".mkv" {
		t.Fatalf("expected one mkv, got %v", onlyMkv)
	}
}

func TestListSubdirs(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "north", "x.mkv"))
	touch(t, filepath.Join(dir, "south", "y.mkv"))
	touch(t, filepath.Join(dir, "stray.mkv"))

	dirs, err := ListSubdirs(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 2 {
		t.Fatalf("expected 2 subdirs, got %v", dirs)
	}
	// Results must be usable from any working directory.
	for _, d := range dirs {
		if !filepath.IsAbs(d) {
			t.Fatalf("expected absolute path, got %s", d)
		}
		if _, err := os.Stat(d); err != nil {
			t.Fatalf("stat %s: %v", d, err)
		}
	}
}

func TestSidecarPath(t *testing.T) {
	got := SidecarPath("/data/north/20240101_120000.mkv")
	want := "/data/north/20240101_120000.xml"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestIsVideoFile(t *testing.T) {
	if !IsVideoFile("clip.MP4") {
		t.Fatal("expected .MP4 to be a video")
	}
	if IsVideoFile("clip.xml") {
		t.Fatal("expected .xml not to be a video")
	}
}
