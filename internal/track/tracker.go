package track

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"camtrap/internal/config"
	"camtrap/internal/detect"
)

// State is the lifecycle state of a track.
type State string

const (
	Tentative State = "tentative" // new track, needs confirmation
	Confirmed State = "confirmed" // stable track with sufficient history
	Deleted   State = "deleted"   // track marked for removal
)

// Internal numerical stability constants, not user-tunable.
const (
	// minDeterminant is the minimum determinant for covariance inversion.
	minDeterminant = 1e-9
	// singularRejection is the distance returned when covariance is singular.
	singularRejection = 1e12
	// maxPredictDt caps the time step per predict so decode stalls do not
	// balloon the gating ellipse.
	maxPredictDt = 1.0
	// maxCovarianceDiag caps covariance growth during long coasting.
	maxCovarianceDiag = 1e6
)

// TrailPoint is one position sample in a track's history.
type TrailPoint struct {
	X         float64
	Y         float64
	UnixNanos int64
}

// Track is a single object followed across frames. Position and velocity
// are in image coordinates: pixels and pixels per second.
type Track struct {
	ID    string
	State State

	Hits   int // consecutive successful associations
	Misses int // consecutive missed associations

	FirstUnixNanos int64
	LastUnixNanos  int64

	// Kalman state [x, y, vx, vy] and 4x4 row-major covariance.
	X, Y   float64
	VX, VY float64
	P      [16]float64

	ObservationCount int
	BBoxWidthAvg     float64
	BBoxHeightAvg    float64
	AreaAvg          float64
	IntensityAvg     float64
	AvgSpeedPps      float64
	PeakSpeedPps     float64

	// BestObservation is the largest blob associated so far, kept for
	// snapshot export.
	BestObservation detect.Blob
	BestFrameNanos  int64

	Trail []TrailPoint

	speedHistory []float64
}

// Speed returns the current speed magnitude in pixels per second.
func (tr *Track) Speed() float64 {
	return math.Hypot(tr.VX, tr.VY)
}

// Heading returns the current heading in radians.
func (tr *Track) Heading() float64 {
	return math.Atan2(tr.VY, tr.VX)
}

// SpeedHistory returns a copy of the per-observation speed samples.
func (tr *Track) SpeedHistory() []float64 {
	if tr.speedHistory == nil {
		return nil
	}
	out := make([]float64, len(tr.speedHistory))
	copy(out, tr.speedHistory)
	return out
}

// Tracker follows multiple objects across frames with a constant-velocity
// Kalman filter per track and Mahalanobis-gated association.
type Tracker struct {
	Tracks map[string]*Track
	Config config.TrackConfig

	LastUpdateNanos int64

	// Fragmentation counters.
	TracksCreated   int
	TracksConfirmed int

	// lastAssociations maps blob index to track ID for the most recent
	// Update call, including freshly spawned tracks.
	lastAssociations []string

	mu sync.RWMutex
}

// NewTracker creates a tracker with the given tuning.
func NewTracker(cfg config.TrackConfig) *Tracker {
	return &Tracker{
		Tracks: make(map[string]*Track),
		Config: cfg,
	}
}

// Update processes one frame of blobs.
func (t *Tracker) Update(blobs []detect.Blob, timestamp time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nowNanos := timestamp.UnixNano()

	var dt float64
	if t.LastUpdateNanos > 0 {
		dt = float64(nowNanos-t.LastUpdateNanos) / 1e9
	} else {
		dt = 0.1
	}
	if dt > maxPredictDt {
		dt = maxPredictDt
	}
	if dt <= 0 {
		dt = 1e-3
	}
	t.LastUpdateNanos = nowNanos

	// Step 1: predict all active tracks to current time.
	for _, tr := range t.Tracks {
		if tr.State != Deleted {
			t.predict(tr, dt)
		}
	}

	// Step 2: associate blobs to tracks using gating.
	associations := t.associate(blobs, dt)

	// Step 3: update matched tracks.
	matched := make(map[string]bool)
	for blobIdx, trackID := range associations {
		if trackID == "" {
			continue
		}
		tr := t.Tracks[trackID]
		t.update(tr, blobs[blobIdx], nowNanos)
		tr.Hits++
		tr.Misses = 0
		matched[trackID] = true

		if tr.State == Tentative && tr.Hits >= t.Config.HitsToConfirm {
			tr.State = Confirmed
			t.TracksConfirmed++
		}
	}

	// Step 4: unmatched tracks coast. Confirmed tracks get a larger miss
	// budget, and the covariance is inflated so the gate widens for
	// re-association when the animal reappears from behind cover.
	for trackID, tr := range t.Tracks {
		if matched[trackID] || tr.State == Deleted {
			continue
		}
		tr.Misses++
		tr.Hits = 0

		if t.Config.OcclusionCovInflation > 0 {
			tr.P[0*4+0] += t.Config.OcclusionCovInflation
			tr.P[1*4+1] += t.Config.OcclusionCovInflation
			if tr.P[0*4+0] > maxCovarianceDiag {
				tr.P[0*4+0] = maxCovarianceDiag
			}
			if tr.P[1*4+1] > maxCovarianceDiag {
				tr.P[1*4+1] = maxCovarianceDiag
			}
		}

		tr.appendTrail(nowNanos, t.Config.MaxTrailLength)

		maxMisses := t.Config.MaxMisses
		if tr.State == Confirmed && t.Config.MaxMissesConfirmed > 0 {
			maxMisses = t.Config.MaxMissesConfirmed
		}
		if tr.Misses >= maxMisses {
			tr.State = Deleted
			tr.LastUnixNanos = nowNanos
		}
	}

	// Step 5: spawn new tracks from unassociated blobs.
	for blobIdx, trackID := range associations {
		if trackID == "" && len(t.Tracks) < t.Config.MaxTracks {
			tr := t.initTrack(blobs[blobIdx], nowNanos)
			associations[blobIdx] = tr.ID
		}
	}
	t.lastAssociations = associations

	// Step 6: drop deleted tracks past the grace period.
	t.cleanupDeleted(nowNanos)
}

// LastAssociations returns a copy of the blob-to-track assignment from the
// most recent Update, indexed by blob position.
func (t *Tracker) LastAssociations() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastAssociations == nil {
		return nil
	}
	out := make([]string, len(t.lastAssociations))
	copy(out, t.lastAssociations)
	return out
}

// predict applies the constant velocity prediction step.
func (t *Tracker) predict(tr *Track, dt float64) {
	tr.X += tr.VX * dt
	tr.Y += tr.VY * dt

	// P' = F * P * F^T + Q with F the constant velocity transition.
	P := tr.P
	var FP [16]float64
	for j := 0; j < 4; j++ {
		FP[0*4+j] = P[0*4+j] + dt*P[2*4+j]
		FP[1*4+j] = P[1*4+j] + dt*P[3*4+j]
		FP[2*4+j] = P[2*4+j]
		FP[3*4+j] = P[3*4+j]
	}
	for i := 0; i < 4; i++ {
		tr.P[i*4+0] = FP[i*4+0] + dt*FP[i*4+2]
		tr.P[i*4+1] = FP[i*4+1] + dt*FP[i*4+3]
		tr.P[i*4+2] = FP[i*4+2]
		tr.P[i*4+3] = FP[i*4+3]
	}

	tr.P[0*4+0] += t.Config.ProcessNoisePos * dt
	tr.P[1*4+1] += t.Config.ProcessNoisePos * dt
	tr.P[2*4+2] += t.Config.ProcessNoiseVel * dt
	tr.P[3*4+3] += t.Config.ProcessNoiseVel * dt

	for i := 0; i < 4; i++ {
		if tr.P[i*4+i] > maxCovarianceDiag {
			tr.P[i*4+i] = maxCovarianceDiag
		}
	}

	if !isFiniteState(tr) {
		t.resetState(tr)
		return
	}
	t.clampVelocity(tr)
}

// associate matches blobs to tracks greedily by ascending Mahalanobis
// distance, gated by GatingDistanceSquared.
func (t *Tracker) associate(blobs []detect.Blob, dt float64) []string {
	associations := make([]string, len(blobs))
	if len(blobs) == 0 || len(t.Tracks) == 0 {
		return associations
	}

	activeIDs := make([]string, 0, len(t.Tracks))
	for id, tr := range t.Tracks {
		if tr.State != Deleted {
			activeIDs = append(activeIDs, id)
		}
	}
	if len(activeIDs) == 0 {
		return associations
	}

	type candidate struct {
		blobIdx  int
		trackIdx int
		dist2    float64
	}
	var candidates []candidate
	for bi := range blobs {
		for ti, trackID := range activeIDs {
			dist2 := t.mahalanobisSquared(t.Tracks[trackID], blobs[bi], dt)
			if dist2 <= t.Config.GatingDistanceSquared {
				candidates = append(candidates, candidate{bi, ti, dist2})
			}
		}
	}

	// Greedy: take the globally closest pair, remove both, repeat.
	usedBlob := make([]bool, len(blobs))
	usedTrack := make([]bool, len(activeIDs))
	for range candidates {
		best := -1
		for i, c := range candidates {
			if usedBlob[c.blobIdx] || usedTrack[c.trackIdx] {
				continue
			}
			if best < 0 || c.dist2 < candidates[best].dist2 {
				best = i
			}
		}
		if best < 0 {
			break
		}
		c := candidates[best]
		associations[c.blobIdx] = activeIDs[c.trackIdx]
		usedBlob[c.blobIdx] = true
		usedTrack[c.trackIdx] = true
	}
	return associations
}

// mahalanobisSquared computes the gating distance between a track's
// predicted position and a blob centroid, with physical plausibility
// checks that reject impossible jumps outright.
func (t *Tracker) mahalanobisSquared(tr *Track, blob detect.Blob, dt float64) float64 {
	dx := blob.CentroidX - tr.X
	dy := blob.CentroidY - tr.Y

	euclidean := math.Hypot(dx, dy)
	if euclidean > t.Config.MaxPositionJumpPx {
		return singularRejection
	}
	if dt > 0 && euclidean/dt > t.Config.MaxReasonableSpeedPps {
		return singularRejection
	}

	// Innovation covariance S = H*P*H^T + R with H extracting position.
	S00 := tr.P[0*4+0] + t.Config.MeasurementNoise
	S01 := tr.P[0*4+1]
	S10 := tr.P[1*4+0]
	S11 := tr.P[1*4+1] + t.Config.MeasurementNoise

	det := S00*S11 - S01*S10
	if det < minDeterminant {
		return singularRejection
	}

	invS00 := S11 / det
	invS01 := -S01 / det
	invS10 := -S10 / det
	invS11 := S00 / det

	return dx*dx*invS00 + dx*dy*(invS01+invS10) + dy*dy*invS11
}

// update applies the Kalman measurement update and refreshes aggregates.
func (t *Tracker) update(tr *Track, blob detect.Blob, nowNanos int64) {
	yX := blob.CentroidX - tr.X
	yY := blob.CentroidY - tr.Y

	S00 := tr.P[0*4+0] + t.Config.MeasurementNoise
	S01 := tr.P[0*4+1]
	S10 := tr.P[1*4+0]
	S11 := tr.P[1*4+1] + t.Config.MeasurementNoise

	det := S00*S11 - S01*S10
	if det < minDeterminant {
		return
	}

	invS00 := S11 / det
	invS01 := -S01 / det
	invS10 := -S10 / det
	invS11 := S00 / det

	// Kalman gain K = P * H^T * S^-1 (4x2).
	var K [8]float64
	for i := 0; i < 4; i++ {
		K[i*2+0] = tr.P[i*4+0]*invS00 + tr.P[i*4+1]*invS10
		K[i*2+1] = tr.P[i*4+0]*invS01 + tr.P[i*4+1]*invS11
	}

	tr.X += K[0*2+0]*yX + K[0*2+1]*yY
	tr.Y += K[1*2+0]*yX + K[1*2+1]*yY
	tr.VX += K[2*2+0]*yX + K[2*2+1]*yY
	tr.VY += K[3*2+0]*yX + K[3*2+1]*yY

	// P' = (I - K*H) * P.
	var IminusKH [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			identity := 0.0
			if i == j {
				identity = 1
			}
			var kh float64
			if j == 0 {
				kh = K[i*2+0]
			} else if j == 1 {
				kh = K[i*2+1]
			}
			IminusKH[i*4+j] = identity - kh
		}
	}
	var newP [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += IminusKH[i*4+k] * tr.P[k*4+j]
			}
			newP[i*4+j] = sum
		}
	}
	tr.P = newP

	if !isFiniteState(tr) {
		t.resetState(tr)
		return
	}
	t.clampVelocity(tr)

	tr.LastUnixNanos = nowNanos
	tr.ObservationCount++

	n := float64(tr.ObservationCount)
	tr.BBoxWidthAvg = ((n-1)*tr.BBoxWidthAvg + float64(blob.Width())) / n
	tr.BBoxHeightAvg = ((n-1)*tr.BBoxHeightAvg + float64(blob.Height())) / n
	tr.AreaAvg = ((n-1)*tr.AreaAvg + float64(blob.Area)) / n
	tr.IntensityAvg = ((n-1)*tr.IntensityAvg + blob.MeanIntensity) / n

	if blob.Area > tr.BestObservation.Area {
		tr.BestObservation = blob
		tr.BestFrameNanos = nowNanos
	}

	speed := tr.Speed()
	tr.AvgSpeedPps = ((n-1)*tr.AvgSpeedPps + speed) / n
	if speed > tr.PeakSpeedPps {
		tr.PeakSpeedPps = speed
	}
	tr.speedHistory = append(tr.speedHistory, speed)
	if len(tr.speedHistory) > t.Config.MaxTrailLength {
		tr.speedHistory = tr.speedHistory[1:]
	}

	tr.appendTrail(nowNanos, t.Config.MaxTrailLength)
}

func (tr *Track) appendTrail(nowNanos int64, maxLen int) {
	tr.Trail = append(tr.Trail, TrailPoint{X: tr.X, Y: tr.Y, UnixNanos: nowNanos})
	if maxLen > 0 && len(tr.Trail) > maxLen {
		tr.Trail = tr.Trail[len(tr.Trail)-maxLen:]
	}
}

// initTrack spawns a tentative track from an unassociated blob. IDs are
// UUIDs so they stay unique across runs and restarts.
func (t *Tracker) initTrack(blob detect.Blob, nowNanos int64) *Track {
	tr := &Track{
		ID:    fmt.Sprintf("trk_%s", uuid.NewString()),
		State: Tentative,
		Hits:  1,

		FirstUnixNanos: nowNanos,
		LastUnixNanos:  nowNanos,

		X: blob.CentroidX,
		Y: blob.CentroidY,

		P: t.initialCovariance(),

		ObservationCount: 1,
		BBoxWidthAvg:     float64(blob.Width()),
		BBoxHeightAvg:    float64(blob.Height()),
		AreaAvg:          float64(blob.Area),
		IntensityAvg:     blob.MeanIntensity,
		BestObservation:  blob,
		BestFrameNanos:   nowNanos,

		Trail: []TrailPoint{{X: blob.CentroidX, Y: blob.CentroidY, UnixNanos: nowNanos}},
	}
	t.Tracks[tr.ID] = tr
	t.TracksCreated++
	return tr
}

func (t *Tracker) cleanupDeleted(nowNanos int64) {
	graceNanos := int64(t.Config.GracePeriod())
	for id, tr := range t.Tracks {
		if tr.State == Deleted && nowNanos-tr.LastUnixNanos > graceNanos {
			delete(t.Tracks, id)
		}
	}
}

func (t *Tracker) clampVelocity(tr *Track) {
	speed := tr.Speed()
	if speed > t.Config.MaxReasonableSpeedPps && speed > 0 {
		scale := t.Config.MaxReasonableSpeedPps / speed
		tr.VX *= scale
		tr.VY *= scale
	}
}

func isFiniteState(tr *Track) bool {
	for _, v := range []float64{tr.X, tr.Y, tr.VX, tr.VY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for i := 0; i < 4; i++ {
		v := tr.P[i*4+i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// initialCovariance seeds a fresh track's uncertainty. Velocity is
// completely unknown at birth, so its variance must admit any plausible
// speed; seeding it tight makes the filter lag behind moving targets and
// the innovation walks out of the association gate within a few frames.
func (t *Tracker) initialCovariance() [16]float64 {
	velSigma := t.Config.MaxReasonableSpeedPps / 3
	if velSigma <= 0 {
		velSigma = 100
	}
	velVar := velSigma * velSigma
	return [16]float64{
		10, 0, 0, 0,
		0, 10, 0, 0,
		0, 0, velVar, 0,
		0, 0, 0, velVar,
	}
}

func (t *Tracker) resetState(tr *Track) {
	tr.X, tr.Y, tr.VX, tr.VY = 0, 0, 0, 0
	tr.P = t.initialCovariance()
	tr.State = Deleted
}

// Flush force-deletes every live track and returns the ones that gathered
// at least one confirmed observation run. Called at sequence breaks and at
// end of input so finished tracks reach persistence.
func (t *Tracker) Flush(timestamp time.Time) []*Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	nowNanos := timestamp.UnixNano()
	var finished []*Track
	for id, tr := range t.Tracks {
		if tr.State == Confirmed {
			// Copy before tombstoning so the returned track keeps its
			// confirmed state for persistence.
			done := copyTrack(tr)
			done.LastUnixNanos = nowNanos
			finished = append(finished, done)
		}
		tr.State = Deleted
		tr.LastUnixNanos = nowNanos
		delete(t.Tracks, id)
	}
	t.LastUpdateNanos = 0
	t.lastAssociations = nil
	return finished
}

// ActiveTracks returns copies of all non-deleted tracks, safe to read
// without the tracker lock.
func (t *Tracker) ActiveTracks() []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	active := make([]*Track, 0, len(t.Tracks))
	for _, tr := range t.Tracks {
		if tr.State != Deleted {
			active = append(active, copyTrack(tr))
		}
	}
	return active
}

// ConfirmedTracks returns copies of confirmed tracks only.
func (t *Tracker) ConfirmedTracks() []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var confirmed []*Track
	for _, tr := range t.Tracks {
		if tr.State == Confirmed {
			confirmed = append(confirmed, copyTrack(tr))
		}
	}
	return confirmed
}

// TrackByID returns the live track with the given ID, or nil.
func (t *Tracker) TrackByID(id string) *Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Tracks[id]
}

// Counts returns track totals by state.
func (t *Tracker) Counts() (total, tentative, confirmed, deleted int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, tr := range t.Tracks {
		total++
		switch tr.State {
		case Tentative:
			tentative++
		case Confirmed:
			confirmed++
		case Deleted:
			deleted++
		}
	}
	return
}

func copyTrack(tr *Track) *Track {
	copied := *tr
	if len(tr.Trail) > 0 {
		copied.Trail = make([]TrailPoint, len(tr.Trail))
		copy(copied.Trail, tr.Trail)
	}
	if len(tr.speedHistory) > 0 {
		copied.speedHistory = make([]float64, len(tr.speedHistory))
		copy(copied.speedHistory, tr.speedHistory)
	}
	return &copied
}
