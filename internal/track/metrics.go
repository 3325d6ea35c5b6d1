package track

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Metrics summarizes tracker quality over a run.
type Metrics struct {
	ActiveTracks    int `json:"active_tracks"`
	TracksCreated   int `json:"tracks_created"`
	TracksConfirmed int `json:"tracks_confirmed"`

	// FragmentationRatio is the fraction of created tracks that never
	// confirmed. High values mean the detector is feeding noise or the
	// gate is too tight.
	FragmentationRatio float64 `json:"fragmentation_ratio"`
}

// CurrentMetrics snapshots tracker-level quality counters.
func (t *Tracker) CurrentMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := Metrics{
		TracksCreated:   t.TracksCreated,
		TracksConfirmed: t.TracksConfirmed,
	}
	for _, tr := range t.Tracks {
		if tr.State != Deleted {
			m.ActiveTracks++
		}
	}
	if t.TracksCreated > 0 {
		m.FragmentationRatio = 1.0 - float64(t.TracksConfirmed)/float64(t.TracksCreated)
	}
	return m
}

// SpeedStats holds the speed distribution of a single track.
type SpeedStats struct {
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P85  float64 `json:"p85"`
	P95  float64 `json:"p95"`
	Max  float64 `json:"max"`
}

// ComputeSpeedStats derives distribution statistics from a track's speed
// history. Returns the zero value when the track has no samples.
func ComputeSpeedStats(tr *Track) SpeedStats {
	samples := tr.SpeedHistory()
	if len(samples) == 0 {
		return SpeedStats{}
	}
	sort.Float64s(samples)

	return SpeedStats{
		Mean: stat.Mean(samples, nil),
		P50:  stat.Quantile(0.50, stat.Empirical, samples, nil),
		P85:  stat.Quantile(0.85, stat.Empirical, samples, nil),
		P95:  stat.Quantile(0.95, stat.Empirical, samples, nil),
		Max:  samples[len(samples)-1],
	}
}

// TrailLength sums the Euclidean distance along a track's trail in pixels.
func TrailLength(tr *Track) float64 {
	var total float64
	for i := 1; i < len(tr.Trail); i++ {
		dx := tr.Trail[i].X - tr.Trail[i-1].X
		dy := tr.Trail[i].Y - tr.Trail[i-1].Y
		total += math.Hypot(dx, dy)
	}
	return total
}
