package track

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camtrap/internal/config"
	"camtrap/internal/detect"
)

func testConfig() config.TrackConfig {
	return config.Default().Track
}

func blobAt(x, y float64) detect.Blob {
	return detect.Blob{
		Bounds:    image.Rect(int(x)-5, int(y)-5, int(x)+5, int(y)+5),
		CentroidX: x,
		CentroidY: y,
		Area:      100,
	}
}

func frameTime(i int) time.Time {
	base := time.Date(2023, 11, 4, 21, 15, 0, 0, time.UTC)
	return base.Add(time.Duration(i) * 100 * time.Millisecond)
}

func TestTrackConfirmation(t *testing.T) {
	tk := NewTracker(testConfig())

	for i := 0; i < tk.Config.HitsToConfirm+1; i++ {
		tk.Update([]detect.Blob{blobAt(100+float64(i)*2, 100)}, frameTime(i))
	}

	total, _, confirmed, _ := tk.Counts()
	require.Equal(t, 1, total)
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 1, tk.TracksConfirmed)
}

func TestTentativeTrackDeletedAfterMisses(t *testing.T) {
	tk := NewTracker(testConfig())

	tk.Update([]detect.Blob{blobAt(100, 100)}, frameTime(0))
	require.Len(t, tk.ActiveTracks(), 1)

	// Feed empty frames until the tentative miss budget is exhausted.
	for i := 1; i <= tk.Config.MaxMisses; i++ {
		tk.Update(nil, frameTime(i))
	}
	assert.Empty(t, tk.ActiveTracks())
}

func TestConfirmedTrackCoastsLonger(t *testing.T) {
	tk := NewTracker(testConfig())

	for i := 0; i < tk.Config.HitsToConfirm; i++ {
		tk.Update([]detect.Blob{blobAt(100, 100)}, frameTime(i))
	}
	require.Len(t, tk.ConfirmedTracks(), 1)

	// More misses than the tentative budget but fewer than the confirmed
	// budget: the track must survive.
	start := tk.Config.HitsToConfirm
	for i := 0; i < tk.Config.MaxMisses+2; i++ {
		tk.Update(nil, frameTime(start+i))
	}
	assert.Len(t, tk.ActiveTracks(), 1)

	for i := 0; i < tk.Config.MaxMissesConfirmed; i++ {
		tk.Update(nil, frameTime(start+tk.Config.MaxMisses+2+i))
	}
	assert.Empty(t, tk.ActiveTracks())
}

func TestAssociationFollowsMovingBlob(t *testing.T) {
	tk := NewTracker(testConfig())

	// 5 px per frame at 10 fps = 50 px/s, well inside plausibility limits.
	for i := 0; i < 10; i++ {
		tk.Update([]detect.Blob{blobAt(100+float64(i)*5, 200)}, frameTime(i))
	}

	tracks := tk.ConfirmedTracks()
	require.Len(t, tracks, 1)
	tr := tracks[0]
	assert.Equal(t, 10, tr.ObservationCount)
	assert.Greater(t, tr.VX, 10.0, "velocity should point along +x")
	assert.InDelta(t, 0, tr.VY, 5.0)
}

func TestMovingBlobDoesNotFragment(t *testing.T) {
	tk := NewTracker(testConfig())

	// Steady 50 px/s motion must stay one track for the whole pass. A
	// filter seeded with near-zero velocity uncertainty lags the target
	// until the innovation walks out of the gate and the track splits.
	for i := 0; i < 30; i++ {
		tk.Update([]detect.Blob{blobAt(100+float64(i)*5, 200)}, frameTime(i))
	}

	assert.Equal(t, 1, tk.TracksCreated)
	tracks := tk.ConfirmedTracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, 30, tracks[0].ObservationCount)
	assert.InDelta(t, 50, tracks[0].VX, 10)
}

func TestDistantBlobSpawnsNewTrack(t *testing.T) {
	cfg := testConfig()
	tk := NewTracker(cfg)

	tk.Update([]detect.Blob{blobAt(50, 50)}, frameTime(0))
	// Far beyond MaxPositionJumpPx from the first track.
	tk.Update([]detect.Blob{
		blobAt(52, 50),
		blobAt(50+cfg.MaxPositionJumpPx+100, 50),
	}, frameTime(1))

	total, _, _, _ := tk.Counts()
	assert.Equal(t, 2, total)
}

func TestTwoBlobsKeepSeparateTracks(t *testing.T) {
	tk := NewTracker(testConfig())

	for i := 0; i < 8; i++ {
		tk.Update([]detect.Blob{
			blobAt(100+float64(i)*3, 100),
			blobAt(400-float64(i)*3, 300),
		}, frameTime(i))
	}

	confirmed := tk.ConfirmedTracks()
	require.Len(t, confirmed, 2)
	for _, tr := range confirmed {
		assert.Equal(t, 8, tr.ObservationCount)
	}
}

func TestFlushReturnsConfirmedTracks(t *testing.T) {
	tk := NewTracker(testConfig())

	for i := 0; i < tk.Config.HitsToConfirm+2; i++ {
		tk.Update([]detect.Blob{blobAt(100, 100)}, frameTime(i))
	}
	// A second, too-young track.
	tk.Update([]detect.Blob{blobAt(100, 100), blobAt(500, 400)}, frameTime(10))

	finished := tk.Flush(frameTime(11))
	require.Len(t, finished, 1)
	assert.Equal(t, Confirmed, finished[0].State)
	assert.Empty(t, tk.ActiveTracks())
	assert.Zero(t, tk.LastUpdateNanos)
}

func TestBestObservationKept(t *testing.T) {
	tk := NewTracker(testConfig())

	small := blobAt(100, 100)
	small.Area = 60
	big := blobAt(103, 100)
	big.Area = 240

	tk.Update([]detect.Blob{small}, frameTime(0))
	tk.Update([]detect.Blob{big}, frameTime(1))
	tk.Update([]detect.Blob{small}, frameTime(2))

	tracks := tk.ActiveTracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, 240, tracks[0].BestObservation.Area)
}

func TestMaxTracksCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTracks = 2
	tk := NewTracker(cfg)

	tk.Update([]detect.Blob{
		blobAt(50, 50),
		blobAt(300, 50),
		blobAt(50, 300),
	}, frameTime(0))

	total, _, _, _ := tk.Counts()
	assert.Equal(t, 2, total)
}

func TestSpeedStats(t *testing.T) {
	tk := NewTracker(testConfig())
	for i := 0; i < 12; i++ {
		tk.Update([]detect.Blob{blobAt(100+float64(i)*4, 100)}, frameTime(i))
	}

	tracks := tk.ConfirmedTracks()
	require.Len(t, tracks, 1)

	stats := ComputeSpeedStats(tracks[0])
	assert.Greater(t, stats.Mean, 0.0)
	assert.GreaterOrEqual(t, stats.P95, stats.P50)
	assert.GreaterOrEqual(t, stats.Max, stats.P95)

	assert.Greater(t, TrailLength(tracks[0]), 0.0)
}

func TestFragmentationRatio(t *testing.T) {
	tk := NewTracker(testConfig())

	// One track confirms, one is noise that never repeats.
	for i := 0; i < tk.Config.HitsToConfirm; i++ {
		tk.Update([]detect.Blob{blobAt(100, 100)}, frameTime(i))
	}
	tk.Update([]detect.Blob{blobAt(100, 100), blobAt(500, 400)}, frameTime(5))

	m := tk.CurrentMetrics()
	assert.Equal(t, 2, m.TracksCreated)
	assert.Equal(t, 1, m.TracksConfirmed)
	assert.InDelta(t, 0.5, m.FragmentationRatio, 1e-9)
}
