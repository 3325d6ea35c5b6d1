package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"camtrap/internal/config"
	"camtrap/internal/detect"
	"camtrap/internal/project"
	"camtrap/internal/storage"
	"camtrap/internal/track"
	"camtrap/internal/transform"
	"camtrap/internal/video"
)

// detectionBatchSize is the number of detection rows buffered before a
// transactional insert.
const detectionBatchSize = 256

// Summary reports the outcome of analyzing one location.
type Summary struct {
	Frames         int `json:"frames"`
	Detections     int `json:"detections"`
	TracksSaved    int `json:"tracks_saved"`
	SequenceBreaks int `json:"sequence_breaks"`

	Metrics track.Metrics `json:"metrics"`
}

// Analyzer runs the full motion analysis for a camera location: decode,
// background subtraction, blob detection, tracking, persistence.
type Analyzer struct {
	store *storage.Store
	cfg   *config.Config
	log   *slog.Logger
}

// NewAnalyzer wires an analyzer over the store with the given tuning.
func NewAnalyzer(store *storage.Store, cfg *config.Config, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{store: store, cfg: cfg, log: log}
}

// Run analyzes every registered video of a location in chronological order.
// Tracks continue across clip boundaries unless the recording gap exceeds
// the configured maximum, in which case all motion state is reset.
func (a *Analyzer) Run(ctx context.Context, proj storage.ProjectRecord, locationID int64) (Summary, error) {
	var summary Summary

	items, err := project.Items(ctx, a.store, proj, locationID, a.cfg.Ingest)
	if err != nil {
		return summary, err
	}
	if len(items) == 0 {
		return summary, fmt.Errorf("location %d has no registered videos", locationID)
	}

	loader := video.NewLoader(a.cfg.Ingest, items, a.log)
	loader.Transform = a.preprocessor().Apply

	subtractor := transform.NewBackgroundSubtractor(a.cfg.Detect.LearningRate, a.cfg.Detect.Threshold)
	detector := detect.New(a.cfg.Detect.MinArea)
	tracker := track.NewTracker(a.cfg.Track)

	var pending []storage.DetectionRecord
	var lastTimestamp time.Time

	// Analysis may run on a downscaled frame, but detections are persisted
	// in native coordinates so snapshot crops land on the full-size frame.
	coordScale := nativeScale(a.cfg.Detect.ResizePct)

	frames := loader.Start(ctx)
	for frame := range frames {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		if frame.SequenceBreak {
			summary.SequenceBreaks++
			saved, err := a.finalize(tracker.Flush(frame.Timestamp), locationID)
			if err != nil {
				return summary, err
			}
			summary.TracksSaved += saved
			subtractor.Reset()
		}

		mask := subtractor.Apply(frame.Gray)
		blobs := detector.Detect(mask, frame.Gray)
		tracker.Update(blobs, frame.Timestamp)
		assoc := tracker.LastAssociations()

		for i, blob := range blobs {
			trackID := ""
			if i < len(assoc) {
				trackID = assoc[i]
			}
			pending = append(pending, detectionRecord(frame, blob, trackID, coordScale))
		}
		summary.Frames++
		summary.Detections += len(blobs)
		lastTimestamp = frame.Timestamp

		if len(pending) >= detectionBatchSize {
			if err := a.store.InsertDetections(pending); err != nil {
				return summary, fmt.Errorf("persist detections: %w", err)
			}
			pending = pending[:0]
		}
	}

	if len(pending) > 0 {
		if err := a.store.InsertDetections(pending); err != nil {
			return summary, fmt.Errorf("persist detections: %w", err)
		}
	}

	// A decode failure closes the frame channel early; the job must fail
	// rather than record a silently truncated analysis as completed.
	if err := loader.Err(); err != nil {
		return summary, err
	}

	if lastTimestamp.IsZero() {
		lastTimestamp = time.Now()
	}
	saved, err := a.finalize(tracker.Flush(lastTimestamp), locationID)
	if err != nil {
		return summary, err
	}
	summary.TracksSaved += saved
	summary.Metrics = tracker.CurrentMetrics()

	a.log.Info("analysis complete",
		"location_id", locationID,
		"frames", summary.Frames,
		"detections", summary.Detections,
		"tracks", summary.TracksSaved,
		"sequence_breaks", summary.SequenceBreaks)
	return summary, nil
}

// preprocessor builds the per-frame transform chain applied on the decode
// goroutine, before background subtraction.
func (a *Analyzer) preprocessor() transform.Chain {
	var chain transform.Chain
	if a.cfg.Detect.BlurRadius > 0 {
		chain = append(chain, transform.BoxBlur{Radius: a.cfg.Detect.BlurRadius})
	}
	if a.cfg.Detect.Gamma != 0 && a.cfg.Detect.Gamma != 1 {
		chain = append(chain, transform.NewGamma(a.cfg.Detect.Gamma))
	}
	if a.cfg.Detect.ResizePct > 0 && a.cfg.Detect.ResizePct != 100 {
		chain = append(chain, transform.Resize{Percent: a.cfg.Detect.ResizePct})
	}
	return chain
}

func (a *Analyzer) finalize(finished []*track.Track, locationID int64) (int, error) {
	for _, tr := range finished {
		trail := make([][2]float64, len(tr.Trail))
		for i, p := range tr.Trail {
			trail[i] = [2]float64{p.X, p.Y}
		}
		trailJSON, _ := json.Marshal(trail)

		stats := track.ComputeSpeedStats(tr)
		rec := storage.TrackRecord{
			ID:               tr.ID,
			LocationID:       locationID,
			State:            string(tr.State),
			FirstTsNanos:     tr.FirstUnixNanos,
			LastTsNanos:      tr.LastUnixNanos,
			ObservationCount: tr.ObservationCount,
			AvgArea:          tr.AreaAvg,
			AvgSpeedPps:      stats.Mean,
			PeakSpeedPps:     tr.PeakSpeedPps,
			BBoxWidthAvg:     tr.BBoxWidthAvg,
			BBoxHeightAvg:    tr.BBoxHeightAvg,
			TrailJSON:        string(trailJSON),
		}
		if err := a.store.SaveTrack(rec); err != nil {
			return 0, fmt.Errorf("save track %s: %w", tr.ID, err)
		}
	}
	return len(finished), nil
}

// nativeScale maps analysis-space coordinates back to the native frame.
func nativeScale(resizePct int) float64 {
	if resizePct > 0 && resizePct != 100 {
		return 100.0 / float64(resizePct)
	}
	return 1.0
}

func detectionRecord(frame video.Frame, blob detect.Blob, trackID string, scale float64) storage.DetectionRecord {
	return storage.DetectionRecord{
		VideoID:    frame.VideoID,
		TrackID:    trackID,
		FrameIndex: frame.Index,
		TsNanos:    frame.Timestamp.UnixNano(),
		CX:         blob.CentroidX * scale,
		CY:         blob.CentroidY * scale,
		X:          int(math.Round(float64(blob.Bounds.Min.X) * scale)),
		Y:          int(math.Round(float64(blob.Bounds.Min.Y) * scale)),
		W:          int(math.Round(float64(blob.Bounds.Dx()) * scale)),
		H:          int(math.Round(float64(blob.Bounds.Dy()) * scale)),
		Area:       int(math.Round(float64(blob.Area) * scale * scale)),
	}
}

// AnalyzeFrames runs the subtraction, detection and tracking stages over an
// in-memory frame sequence, without persistence. Useful for tuning work and
// for exercising the stage wiring without a video decoder.
func AnalyzeFrames(cfg *config.Config, frames []video.Frame) (int, []*track.Track) {
	subtractor := transform.NewBackgroundSubtractor(cfg.Detect.LearningRate, cfg.Detect.Threshold)
	detector := detect.New(cfg.Detect.MinArea)
	tracker := track.NewTracker(cfg.Track)

	detections := 0
	var finished []*track.Track
	var lastTimestamp time.Time
	for _, frame := range frames {
		if frame.SequenceBreak {
			finished = append(finished, tracker.Flush(frame.Timestamp)...)
			subtractor.Reset()
		}
		mask := subtractor.Apply(frame.Gray)
		blobs := detector.Detect(mask, frame.Gray)
		tracker.Update(blobs, frame.Timestamp)
		detections += len(blobs)
		lastTimestamp = frame.Timestamp
	}
	if lastTimestamp.IsZero() {
		lastTimestamp = time.Now()
	}
	return detections, append(finished, tracker.Flush(lastTimestamp)...)
}
