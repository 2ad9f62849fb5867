// Package track maintains the per-contact Kalman filters and their lifecycle:
// detections from the bearing scan associate to existing tracks through a
// pluggable assignment strategy, unmatched detections spawn tentative tracks,
// and stale tracks age out through an explicit deleted state.
package track

import (
	"math"
	"sync"
	"time"

	"github.com/tidewater-data/contact.report/internal/config"
	"github.com/tidewater-data/contact.report/internal/monitoring"
)

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // New track, needs confirmation
	TrackConfirmed TrackState = "confirmed" // Stable track with sufficient history
	TrackDeleted   TrackState = "deleted"   // Track marked for removal
)

// Internal numerical stability constants — not user-tunable.
const (
	// MinDeterminantThreshold is the minimum determinant for innovation
	// covariance inversion.
	MinDeterminantThreshold = 1e-9
)

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	MaxTracks               int           // Maximum number of concurrent tracks
	MaxMisses               int           // Consecutive misses before tentative track deletion
	MaxMissesConfirmed      int           // Consecutive misses before confirmed track deletion (coasting)
	HitsToConfirm           int           // Consecutive hits needed for confirmation
	GatingDistance          float64       // Euclidean gating distance for association (distance units)
	ProcessNoisePos         float64       // Process noise for position, applied × dt²
	ProcessNoiseVel         float64       // Process noise for velocity, applied × dt
	MeasurementNoise        float64       // Measurement noise (σ²)
	MaxTrackHistoryLength   int           // Maximum position trail length
	DeletedTrackGracePeriod time.Duration // How long to keep deleted tracks before cleanup

	// Assigner resolves detection-to-track assignment. Nil selects
	// HungarianAssigner.
	Assigner Assigner
}

// DefaultTrackerConfig returns tracker configuration loaded from the
// canonical tuning defaults file (config/tuning.defaults.json).
// Panics if the file cannot be found — intended for tests and binaries
// that have already validated config availability.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromTuning(config.MustLoadDefaultConfig())
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	tc := TrackerConfig{
		MaxTracks:               cfg.GetMaxTracks(),
		MaxMisses:               cfg.GetMaxMisses(),
		MaxMissesConfirmed:      cfg.GetMaxMissesConfirmed(),
		HitsToConfirm:           cfg.GetHitsToConfirm(),
		GatingDistance:          cfg.GetGatingDistance(),
		ProcessNoisePos:         cfg.GetProcessNoisePos(),
		ProcessNoiseVel:         cfg.GetProcessNoiseVel(),
		MeasurementNoise:        cfg.GetMeasurementNoise(),
		MaxTrackHistoryLength:   cfg.GetMaxTrackHistoryLength(),
		DeletedTrackGracePeriod: cfg.GetDeletedTrackGracePeriod(),
	}
	if cfg.GetAssociation() == "greedy" {
		tc.Assigner = GreedyAssigner{}
	} else {
		tc.Assigner = HungarianAssigner{}
	}
	return tc
}

// Observation is one 2D position measurement handed to the tracker,
// typically a detection converted from bearing and estimated range.
type Observation struct {
	X           float64
	Y           float64
	BearingDeg  float64
	RangeMetres float64
	Magnitude   float64
}

// TrackPoint is a single point in a track's history.
type TrackPoint struct {
	X         float64
	Y         float64
	Timestamp int64 // Unix nanos
}

// Track is a single tracked contact. IDs are monotonically increasing and
// never reused, including across Reset.
type Track struct {
	ID    int64
	State TrackState

	// Lifecycle counters
	Hits   int // Consecutive successful associations
	Misses int // Consecutive missed associations

	FirstUnixNanos int64
	LastUnixNanos  int64

	// Kalman state: [x, y, vx, vy]
	X  float64
	Y  float64
	VX float64
	VY float64

	// Kalman covariance (4x4, row-major)
	P [16]float64

	// Aggregated features
	ObservationCount int
	AvgMagnitude     float64
	PeakMagnitude    float64
	LastBearingDeg   float64
	LastRangeMetres  float64

	History []TrackPoint

	// Classification, written back by the pipeline
	Label           string
	LabelConfidence float64
}

// Speed returns the current speed magnitude.
func (tr *Track) Speed() float64 {
	return math.Hypot(tr.VX, tr.VY)
}

// Heading returns the current course in radians.
func (tr *Track) Heading() float64 {
	return math.Atan2(tr.VY, tr.VX)
}

// initialCovariance is the covariance of a freshly created track: high
// position uncertainty, lower velocity uncertainty.
func initialCovariance() [16]float64 {
	return [16]float64{
		10, 0, 0, 0,
		0, 10, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Tracker manages multi-contact tracking with explicit lifecycle states.
// The id→track map is exclusively owned by the tracker; external readers
// receive snapshot copies.
type Tracker struct {
	tracks map[int64]*Track
	nextID int64
	Config TrackerConfig

	// Last update timestamp for dt computation
	lastUpdateNanos int64

	// Fragmentation counters
	TracksCreated   int
	TracksConfirmed int

	// lastAssignments[i] is the track ID observation i was associated with
	// in the most recent Update, or 0 if it spawned a new track or was
	// dropped.
	lastAssignments []int64

	mu sync.RWMutex
}

// NewTracker creates a new tracker with the specified configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Assigner == nil {
		cfg.Assigner = HungarianAssigner{}
	}
	return &Tracker{
		tracks: make(map[int64]*Track),
		nextID: 1,
		Config: cfg,
	}
}

// Reset clears all tracks. The ID counter is deliberately not reset so that
// IDs stay unique across resets.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[int64]*Track)
	t.lastUpdateNanos = 0
	t.lastAssignments = nil
	t.TracksCreated = 0
	t.TracksConfirmed = 0
}

// UpdateConfig applies fn to the tracker's configuration under the tracker
// lock.
func (t *Tracker) UpdateConfig(fn func(*TrackerConfig)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.Config)
}

// Predict propagates every non-deleted track dt seconds forward without
// consuming a measurement.
func (t *Tracker) Predict(dt float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range t.tracks {
		if tr.State != TrackDeleted {
			t.predict(tr, dt)
		}
	}
}

// Update processes one cycle's observations: predict all tracks to the given
// timestamp, associate, correct matched tracks, age unmatched ones, spawn
// tracks for unmatched observations, and clean up expired deleted tracks.
func (t *Tracker) Update(observations []Observation, timestamp time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nowNanos := timestamp.UnixNano()

	var dt float64
	if t.lastUpdateNanos > 0 {
		dt = float64(nowNanos-t.lastUpdateNanos) / 1e9
		if dt < 0 {
			dt = 0
		}
	}
	t.lastUpdateNanos = nowNanos

	// Drop malformed observations before they can reach filter state.
	valid := observations[:0:0]
	for _, obs := range observations {
		if math.IsNaN(obs.X) || math.IsInf(obs.X, 0) || math.IsNaN(obs.Y) || math.IsInf(obs.Y, 0) {
			monitoring.Logf("[Tracker] dropping non-finite observation bearing=%.1f", obs.BearingDeg)
			continue
		}
		valid = append(valid, obs)
	}

	// Step 1: predict all active tracks to current time.
	for _, tr := range t.tracks {
		if tr.State != TrackDeleted {
			t.predict(tr, dt)
		}
	}

	// Step 2: associate observations to tracks.
	assignments, trackIDs := t.associate(valid)
	t.lastAssignments = make([]int64, len(valid))

	// Step 3: correct matched tracks.
	matched := make(map[int64]bool)
	for oi, tj := range assignments {
		if tj < 0 {
			continue
		}
		id := trackIDs[tj]
		tr := t.tracks[id]
		t.correct(tr, valid[oi], nowNanos)
		tr.Hits++
		tr.Misses = 0
		matched[id] = true
		t.lastAssignments[oi] = id

		if tr.State == TrackTentative && tr.Hits >= t.Config.HitsToConfirm {
			tr.State = TrackConfirmed
			t.TracksConfirmed++
		}
	}

	// Step 4: age unmatched tracks. Confirmed tracks coast for longer than
	// tentative ones before deletion.
	for id, tr := range t.tracks {
		if matched[id] || tr.State == TrackDeleted {
			continue
		}
		tr.Misses++
		tr.Hits = 0

		maxMisses := t.Config.MaxMisses
		if tr.State == TrackConfirmed && t.Config.MaxMissesConfirmed > 0 {
			maxMisses = t.Config.MaxMissesConfirmed
		}
		if tr.Misses >= maxMisses {
			tr.State = TrackDeleted
			tr.LastUnixNanos = nowNanos
		}
	}

	// Step 5: spawn tracks from unassigned observations.
	for oi, tj := range assignments {
		if tj >= 0 {
			continue
		}
		if t.Config.MaxTracks > 0 && len(t.tracks) >= t.Config.MaxTracks {
			monitoring.Logf("[Tracker] at capacity (%d tracks), dropping observation bearing=%.1f", len(t.tracks), valid[oi].BearingDeg)
			continue
		}
		t.initTrack(valid[oi], nowNanos)
	}

	// Step 6: remove deleted tracks past the grace period.
	t.cleanupDeletedTracks(nowNanos)
}

// predict applies the constant-velocity Kalman prediction step.
func (t *Tracker) predict(tr *Track, dt float64) {
	if dt <= 0 {
		return
	}

	// State: x' = F x with F the CV transition for interval dt.
	tr.X += tr.VX * dt
	tr.Y += tr.VY * dt

	// Covariance: P' = F P Fᵀ + Q.
	// F P first. Row 0: P[0,j] + dt·P[2,j]; row 1: P[1,j] + dt·P[3,j].
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

	// Process noise grows with the interval: position uncertainty
	// accumulates ∝ dt², velocity ∝ dt.
	tr.P[0*4+0] += t.Config.ProcessNoisePos * dt * dt
	tr.P[1*4+1] += t.Config.ProcessNoisePos * dt * dt
	tr.P[2*4+2] += t.Config.ProcessNoiseVel * dt
	tr.P[3*4+3] += t.Config.ProcessNoiseVel * dt

	if !isFiniteState(tr) {
		monitoring.Logf("[Tracker] track %d: non-finite state after predict, deleting", tr.ID)
		tr.State = TrackDeleted
	}
}

// associate builds the Euclidean-distance cost matrix and hands it to the
// configured assigner. Distances beyond the gate are forbidden. Returns the
// per-observation assignment (index into trackIDs, or -1) and the ordered
// active track ID list.
func (t *Tracker) associate(observations []Observation) ([]int, []int64) {
	trackIDs := make([]int64, 0, len(t.tracks))
	for id, tr := range t.tracks {
		if tr.State != TrackDeleted {
			trackIDs = append(trackIDs, id)
		}
	}

	if len(observations) == 0 {
		return nil, trackIDs
	}
	if len(trackIDs) == 0 {
		assignments := make([]int, len(observations))
		for i := range assignments {
			assignments[i] = -1
		}
		return assignments, trackIDs
	}

	cost := make([][]float64, len(observations))
	for oi, obs := range observations {
		cost[oi] = make([]float64, len(trackIDs))
		for tj, id := range trackIDs {
			tr := t.tracks[id]
			d := math.Hypot(obs.X-tr.X, obs.Y-tr.Y)
			if d > t.Config.GatingDistance {
				cost[oi][tj] = ForbiddenCost
			} else {
				cost[oi][tj] = d
			}
		}
	}

	assigner := t.Config.Assigner
	if assigner == nil {
		assigner = HungarianAssigner{}
	}
	return assigner.Assign(cost), trackIDs
}

// correct applies the linear Kalman measurement update for one observation.
func (t *Tracker) correct(tr *Track, obs Observation, nowNanos int64) {
	// Innovation y = z − H x, with H extracting [x, y].
	yX := obs.X - tr.X
	yY := obs.Y - tr.Y

	// Innovation covariance S = H P Hᵀ + R.
	S00 := tr.P[0*4+0] + t.Config.MeasurementNoise
	S01 := tr.P[0*4+1]
	S10 := tr.P[1*4+0]
	S11 := tr.P[1*4+1] + t.Config.MeasurementNoise

	det := S00*S11 - S01*S10
	if det < MinDeterminantThreshold {
		monitoring.Logf("[Tracker] track %d: singular innovation covariance, skipping update", tr.ID)
		return
	}

	invS00 := S11 / det
	invS01 := -S01 / det
	invS10 := -S10 / det
	invS11 := S00 / det

	// Kalman gain K = P Hᵀ S⁻¹ (4x2).
	var K [8]float64
	for i := 0; i < 4; i++ {
		K[i*2+0] = tr.P[i*4+0]*invS00 + tr.P[i*4+1]*invS10
		K[i*2+1] = tr.P[i*4+0]*invS01 + tr.P[i*4+1]*invS11
	}

	// State: x' = x + K y.
	tr.X += K[0*2+0]*yX + K[0*2+1]*yY
	tr.Y += K[1*2+0]*yX + K[1*2+1]*yY
	tr.VX += K[2*2+0]*yX + K[2*2+1]*yY
	tr.VY += K[3*2+0]*yX + K[3*2+1]*yY

	// Covariance: P' = (I − K H) P. With H projecting onto [x, y],
	// (K H)[i][j] is K[i][0] for j=0, K[i][1] for j=1, else 0.
	var IminusKH [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var identity float64
			if i == j {
				identity = 1
			}
			var kh float64
			switch j {
			case 0:
				kh = K[i*2+0]
			case 1:
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
		monitoring.Logf("[Tracker] track %d: non-finite state after update, deleting", tr.ID)
		tr.State = TrackDeleted
		return
	}

	tr.LastUnixNanos = nowNanos
	tr.ObservationCount++

	n := float64(tr.ObservationCount)
	tr.AvgMagnitude = ((n-1)*tr.AvgMagnitude + obs.Magnitude) / n
	if obs.Magnitude > tr.PeakMagnitude {
		tr.PeakMagnitude = obs.Magnitude
	}
	tr.LastBearingDeg = obs.BearingDeg
	tr.LastRangeMetres = obs.RangeMetres

	tr.History = append(tr.History, TrackPoint{X: tr.X, Y: tr.Y, Timestamp: nowNanos})
	if t.Config.MaxTrackHistoryLength > 0 && len(tr.History) > t.Config.MaxTrackHistoryLength {
		tr.History = tr.History[len(tr.History)-t.Config.MaxTrackHistoryLength:]
	}
}

// initTrack creates a tentative track at the observation position with zero
// velocity.
func (t *Tracker) initTrack(obs Observation, nowNanos int64) *Track {
	id := t.nextID
	t.nextID++

	tr := &Track{
		ID:    id,
		State: TrackTentative,
		Hits:  1,

		FirstUnixNanos: nowNanos,
		LastUnixNanos:  nowNanos,

		X: obs.X,
		Y: obs.Y,

		P: initialCovariance(),

		ObservationCount: 1,
		AvgMagnitude:     obs.Magnitude,
		PeakMagnitude:    obs.Magnitude,
		LastBearingDeg:   obs.BearingDeg,
		LastRangeMetres:  obs.RangeMetres,

		History: []TrackPoint{{X: obs.X, Y: obs.Y, Timestamp: nowNanos}},
	}
	t.tracks[id] = tr
	t.TracksCreated++
	return tr
}

// cleanupDeletedTracks removes tracks deleted longer ago than the grace
// period. The grace period keeps them visible to readers for fade-out and
// final persistence.
func (t *Tracker) cleanupDeletedTracks(nowNanos int64) {
	grace := int64(t.Config.DeletedTrackGracePeriod)
	for id, tr := range t.tracks {
		if tr.State == TrackDeleted && nowNanos-tr.LastUnixNanos > grace {
			delete(t.tracks, id)
		}
	}
}

// isFiniteState reports whether the state vector and covariance diagonal are
// all finite. Guards against numerical blowup reaching the track map.
func isFiniteState(tr *Track) bool {
	for _, v := range [...]float64{tr.X, tr.Y, tr.VX, tr.VY} {
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

// SetClassification writes a classification result back to a live track
// under the tracker lock.
func (t *Tracker) SetClassification(trackID int64, label string, confidence float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.tracks[trackID]; ok {
		tr.Label = label
		tr.LabelConfidence = confidence
	}
}

// snapshot returns a copy of tr safe for use outside the tracker lock.
func snapshot(tr *Track) *Track {
	copied := *tr
	if len(tr.History) > 0 {
		copied.History = make([]TrackPoint, len(tr.History))
		copy(copied.History, tr.History)
	}
	return &copied
}

// Tracks returns snapshot copies of all non-deleted tracks.
func (t *Tracker) Tracks() []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	active := make([]*Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		if tr.State != TrackDeleted {
			active = append(active, snapshot(tr))
		}
	}
	return active
}

// ConfirmedTracks returns snapshot copies of confirmed tracks only.
func (t *Tracker) ConfirmedTracks() []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	confirmed := make([]*Track, 0)
	for _, tr := range t.tracks {
		if tr.State == TrackConfirmed {
			confirmed = append(confirmed, snapshot(tr))
		}
	}
	return confirmed
}

// Track returns a snapshot copy of the track with the given ID, or nil.
func (t *Tracker) Track(id int64) *Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if tr, ok := t.tracks[id]; ok {
		return snapshot(tr)
	}
	return nil
}

// TrackCount returns counts of tracks by state.
func (t *Tracker) TrackCount() (total, tentative, confirmed, deleted int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, tr := range t.tracks {
		total++
		switch tr.State {
		case TrackTentative:
			tentative++
		case TrackConfirmed:
			confirmed++
		case TrackDeleted:
			deleted++
		}
	}
	return
}

// LastAssignments returns a copy of the most recent observation-to-track
// assignments: the track ID each observation matched, or 0 if it created a
// new track or was dropped.
func (t *Tracker) LastAssignments() []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.lastAssignments == nil {
		return nil
	}
	out := make([]int64, len(t.lastAssignments))
	copy(out, t.lastAssignments)
	return out
}
