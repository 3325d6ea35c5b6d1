package fsutil

import (
	"os"
	"path/filepath"
	"strings"
)

var defaultVideoExts = map[string]struct{}{
	".mkv":  {},
	".mp4":  {},
	".avi":  {},
	".mov":  {},
	".webm": {},
	".m4v":  {},
	".mts":  {},
	".seq":  {}, // FLIR thermal sequence container
}

// ListVideos returns all video files under root, recursively. When formats is
// non-empty only those extensions (without leading dot) are matched, otherwise
// the default set applies.
func ListVideos(root string, formats []string) ([]string, error) {
	exts := defaultVideoExts
	if len(formats) > 0 {
		exts = make(map[string]struct{}, len(formats))
		for _, f := range formats {
			exts["."+strings.ToLower(strings.TrimPrefix(f, "."))] = struct{}{}
		}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := exts[ext]; ok {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// ListSubdirs returns the full paths of the immediate subdirectories of
// root, joined against root so callers can use them regardless of the
// working directory.
func ListSubdirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs, nil
}

// IsVideoFile checks whether path has one of the default video extensions.
func IsVideoFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := defaultVideoExts[ext]
	return ok
}

// SidecarPath returns the XML sidecar path for a video file.
func SidecarPath(videoPath string) string {
	ext := filepath.Ext(videoPath)
	return strings.TrimSuffix(videoPath, ext) + ".xml"
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
