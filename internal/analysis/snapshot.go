package analysis

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"gopkg.in/gographics/imagick.v3/imagick"

	"camtrap/internal/storage"
)

// snapshotMargin is the padding in pixels added around the detection
// bounding box when cropping.
const snapshotMargin = 16

// ExportResult describes one written snapshot.
type ExportResult struct {
	TrackID    string `json:"track_id"`
	OutputFile string `json:"output"`
	FrameIndex int    `json:"frame_index"`
}

// Exporter writes review snapshots for finished tracks: the frame of the
// track's largest detection, cropped to the animal and contrast-stretched.
type Exporter struct {
	store *storage.Store
	proj  storage.ProjectRecord
}

// NewExporter builds an exporter for one project.
func NewExporter(store *storage.Store, proj storage.ProjectRecord) *Exporter {
	return &Exporter{store: store, proj: proj}
}

// ExportTrack renders the snapshot for a single track into outDir.
func (e *Exporter) ExportTrack(ctx context.Context, trackID, outDir string) (ExportResult, error) {
	var res ExportResult

	dets, err := e.store.DetectionsByTrack(trackID)
	if err != nil {
		return res, err
	}
	if len(dets) == 0 {
		return res, fmt.Errorf("track %s has no detections", trackID)
	}

	best := dets[0]
	for _, d := range dets[1:] {
		if d.Area > best.Area {
			best = d
		}
	}

	videoPath, err := e.videoPath(best.VideoID)
	if err != nil {
		return res, err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return res, err
	}

	rawFrame := filepath.Join(outDir, fmt.Sprintf(".%s_frame.png", trackID))
	defer os.Remove(rawFrame)
	if err := extractFrame(ctx, videoPath, best.FrameIndex, rawFrame); err != nil {
		return res, err
	}

	outFile := filepath.Join(outDir, fmt.Sprintf("%s.png", trackID))
	if err := cropAndWrite(rawFrame, outFile, best); err != nil {
		return res, err
	}

	res = ExportResult{TrackID: trackID, OutputFile: outFile, FrameIndex: best.FrameIndex}
	return res, nil
}

// ExportLocation renders snapshots for every saved track of a location.
func (e *Exporter) ExportLocation(ctx context.Context, locationID int64, outDir string) ([]ExportResult, error) {
	tracks, err := e.store.TracksByLocation(locationID)
	if err != nil {
		return nil, err
	}

	var results []ExportResult
	for _, tr := range tracks {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := e.ExportTrack(ctx, tr.ID, outDir)
		if err != nil {
			return results, fmt.Errorf("export %s: %w", tr.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Exporter) videoPath(videoID int64) (string, error) {
	var path string
	var locationID int64
	err := e.store.DB.QueryRow(`SELECT path, location_id FROM videos WHERE id = ?;`, videoID).Scan(&path, &locationID)
	if err != nil {
		return "", fmt.Errorf("resolve video %d: %w", videoID, err)
	}
	if e.proj.RelativePaths {
		path = filepath.Join(e.proj.DataFolder, path)
	}
	return path, nil
}

// extractFrame pulls a single frame out of the clip by index.
func extractFrame(ctx context.Context, videoPath string, frameIndex int, outFile string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-v", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf("select=eq(n\\,%d)", frameIndex),
		"-frames:v", "1",
		"-y",
		outFile)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("extract frame %d from %s: %w: %s", frameIndex, videoPath, err, output)
	}
	return nil
}

// cropAndWrite crops the frame to the detection box plus margin and
// stretches contrast so dim thermal detail survives review.
func cropAndWrite(inFile, outFile string, det storage.DetectionRecord) error {
	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(inFile); err != nil {
		return fmt.Errorf("read frame: %w", err)
	}

	imgW := int(mw.GetImageWidth())
	imgH := int(mw.GetImageHeight())

	x := det.X - snapshotMargin
	y := det.Y - snapshotMargin
	w := det.W + 2*snapshotMargin
	h := det.H + 2*snapshotMargin
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x+w > imgW {
		w = imgW - x
	}
	if y+h > imgH {
		h = imgH - y
	}
	if w <= 0 || h <= 0 {
		return fmt.Errorf("detection box outside frame bounds")
	}

	if err := mw.CropImage(uint(w), uint(h), x, y); err != nil {
		return fmt.Errorf("crop: %w", err)
	}
	if err := mw.NormalizeImage(); err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	if err := mw.WriteImage(outFile); err != nil {
		return fmt.Errorf("write %s: %w", outFile, err)
	}
	return nil
}
