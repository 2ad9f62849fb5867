package track

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-data/contact.report/internal/monitoring"
)

func testConfig() TrackerConfig {
	return TrackerConfig{
		MaxTracks:               64,
		MaxMisses:               3,
		MaxMissesConfirmed:      10,
		HitsToConfirm:           3,
		GatingDistance:          1000,
		ProcessNoisePos:         0.1,
		ProcessNoiseVel:         0.1,
		MeasurementNoise:        10,
		MaxTrackHistoryLength:   100,
		DeletedTrackGracePeriod: 5 * time.Second,
		Assigner:                HungarianAssigner{},
	}
}

func traceP(tr *Track) float64 {
	return tr.P[0] + tr.P[5] + tr.P[10] + tr.P[15]
}

// ---------------------------------------------------------------------------
// Track creation
// ---------------------------------------------------------------------------

func TestUpdateCreatesTrackFromFirstObservation(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(testConfig())

	tracker.Update([]Observation{{X: 100, Y: 50, BearingDeg: 26.6, Magnitude: 7}}, time.Unix(1, 0))

	tracks := tracker.Tracks()
	require.Len(t, tracks, 1)
	tr := tracks[0]
	assert.Equal(t, int64(1), tr.ID)
	assert.Equal(t, TrackTentative, tr.State)
	assert.Equal(t, 100.0, tr.X)
	assert.Equal(t, 50.0, tr.Y)
	assert.Equal(t, 0.0, tr.VX, "new tracks start with zero velocity")
	assert.Equal(t, 0.0, tr.VY)
	assert.Equal(t, initialCovariance(), tr.P)
	assert.Equal(t, 1, tr.ObservationCount)
	assert.Equal(t, 7.0, tr.PeakMagnitude)
}

func TestUpdateBeyondGateCreatesSecondTrack(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(testConfig())

	tracker.Update([]Observation{{X: 0, Y: 0}}, time.Unix(1, 0))
	tracker.Update([]Observation{{X: 5000, Y: 0}}, time.Unix(2, 0))

	total, tentative, _, _ := tracker.TrackCount()
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, tentative)
}

func TestUpdateRespectsMaxTracks(t *testing.T) {
	t.Parallel()
	defer monitoring.Mute()()

	cfg := testConfig()
	cfg.MaxTracks = 1
	// Tight gate so the second observation cannot associate.
	cfg.GatingDistance = 10
	tracker := NewTracker(cfg)

	tracker.Update([]Observation{{X: 0, Y: 0}}, time.Unix(1, 0))
	tracker.Update([]Observation{{X: 500, Y: 500}}, time.Unix(2, 0))

	total, _, _, _ := tracker.TrackCount()
	assert.Equal(t, 1, total)
}

// ---------------------------------------------------------------------------
// Kalman behavior
// ---------------------------------------------------------------------------

func TestRepeatedObservationReducesCovarianceTrace(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(testConfig())

	obs := Observation{X: 200, Y: -100}
	tracker.Update([]Observation{obs}, time.Unix(1, 0))
	before := traceP(tracker.Tracks()[0])

	tracker.Update([]Observation{obs}, time.Unix(2, 0))
	after := traceP(tracker.Tracks()[0])

	assert.Less(t, after, before, "trace(P) must strictly decrease on a repeat observation")
}

func TestPredictPropagatesPosition(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(testConfig())
	tracker.mu.Lock()
	tracker.tracks[1] = &Track{
		ID: 1, State: TrackConfirmed,
		X: 10, Y: 20, VX: 2, VY: -1,
		P: initialCovariance(),
	}
	tracker.mu.Unlock()

	tracker.Predict(2.0)

	tr := tracker.Track(1)
	require.NotNil(t, tr)
	assert.InDelta(t, 14.0, tr.X, 1e-12)
	assert.InDelta(t, 18.0, tr.Y, 1e-12)
	assert.InDelta(t, 2.0, tr.VX, 1e-12, "constant-velocity model keeps velocity")
	// Position variance grew by vel coupling plus dt²-scaled process noise.
	assert.Greater(t, tr.P[0], 10.0)
}

func TestObservationPullsTrackTowardMeasurement(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(testConfig())

	tracker.Update([]Observation{{X: 0, Y: 0}}, time.Unix(1, 0))
	tracker.Update([]Observation{{X: 10, Y: 0}}, time.Unix(2, 0))

	tr := tracker.Tracks()[0]
	assert.Greater(t, tr.X, 0.0)
	assert.Less(t, tr.X, 10.0)
	assert.Greater(t, tr.VX, 0.0, "velocity picks up the motion direction")
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestTrackConfirmation(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(testConfig())

	obs := Observation{X: 10, Y: 10}
	for i := 1; i <= 3; i++ {
		tracker.Update([]Observation{obs}, time.Unix(int64(i), 0))
	}

	_, _, confirmed, _ := tracker.TrackCount()
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 1, tracker.TracksConfirmed)
}

func TestTentativeTrackDeletedAfterMisses(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(testConfig())

	tracker.Update([]Observation{{X: 10, Y: 10}}, time.Unix(1, 0))
	for i := 2; i <= 4; i++ {
		tracker.Update(nil, time.Unix(int64(i), 0))
	}

	total, _, _, deleted := tracker.TrackCount()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, deleted)
	assert.Empty(t, tracker.Tracks())
}

func TestConfirmedTrackCoastsLonger(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(testConfig())

	obs := Observation{X: 10, Y: 10}
	for i := 1; i <= 3; i++ {
		tracker.Update([]Observation{obs}, time.Unix(int64(i), 0))
	}

	// 5 misses would kill a tentative track (MaxMisses=3) but a confirmed
	// one coasts up to MaxMissesConfirmed=10.
	for i := 4; i <= 8; i++ {
		tracker.Update(nil, time.Unix(int64(i), 0))
	}
	_, _, confirmed, _ := tracker.TrackCount()
	assert.Equal(t, 1, confirmed)

	for i := 9; i <= 13; i++ {
		tracker.Update(nil, time.Unix(int64(i), 0))
	}
	assert.Empty(t, tracker.Tracks())
}

func TestDeletedTrackRemovedAfterGracePeriod(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.DeletedTrackGracePeriod = 2 * time.Second
	tracker := NewTracker(cfg)

	tracker.Update([]Observation{{X: 10, Y: 10}}, time.Unix(1, 0))
	for i := 2; i <= 4; i++ {
		tracker.Update(nil, time.Unix(int64(i), 0))
	}
	total, _, _, deleted := tracker.TrackCount()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, deleted)

	// Well past the grace period the map entry is gone.
	tracker.Update(nil, time.Unix(60, 0))
	total, _, _, _ = tracker.TrackCount()
	assert.Equal(t, 0, total)
}

func TestTrackIDsMonotonicAndNeverReused(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(testConfig())

	tracker.Update([]Observation{{X: 0, Y: 0}}, time.Unix(1, 0))
	tracker.Update([]Observation{{X: 8000, Y: 0}}, time.Unix(2, 0))
	tracker.Reset()
	tracker.Update([]Observation{{X: 0, Y: 0}}, time.Unix(3, 0))

	tracks := tracker.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, int64(3), tracks[0].ID, "IDs keep increasing across Reset")
}

// ---------------------------------------------------------------------------
// Association semantics
// ---------------------------------------------------------------------------

func TestHungarianPreventsSharedTrack(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(testConfig())

	tracker.Update([]Observation{{X: 0, Y: 0}}, time.Unix(1, 0))
	// Two observations near the single track: one associates, the other
	// spawns a new track instead of double-updating.
	tracker.Update([]Observation{{X: 1, Y: 0}, {X: 2, Y: 0}}, time.Unix(2, 0))

	total, _, _, _ := tracker.TrackCount()
	assert.Equal(t, 2, total)

	assignments := tracker.LastAssignments()
	require.Len(t, assignments, 2)
	matched := 0
	for _, id := range assignments {
		if id != 0 {
			matched++
		}
	}
	assert.Equal(t, 1, matched)
}

func TestGreedyAllowsSharedTrack(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Assigner = GreedyAssigner{}
	tracker := NewTracker(cfg)

	tracker.Update([]Observation{{X: 0, Y: 0}}, time.Unix(1, 0))
	tracker.Update([]Observation{{X: 1, Y: 0}, {X: 2, Y: 0}}, time.Unix(2, 0))

	total, _, _, _ := tracker.TrackCount()
	assert.Equal(t, 1, total, "greedy lets both observations snap to the same track")

	assignments := tracker.LastAssignments()
	require.Len(t, assignments, 2)
	assert.Equal(t, assignments[0], assignments[1])
	assert.NotZero(t, assignments[0])
}

// ---------------------------------------------------------------------------
// Robustness
// ---------------------------------------------------------------------------

func TestNonFiniteObservationsDropped(t *testing.T) {
	t.Parallel()
	defer monitoring.Mute()()
	tracker := NewTracker(testConfig())

	tracker.Update([]Observation{
		{X: math.NaN(), Y: 0},
		{X: 0, Y: math.Inf(1)},
	}, time.Unix(1, 0))

	assert.Empty(t, tracker.Tracks(), "malformed observations never create tracks")
}

func TestTracksReturnsIsolatedSnapshots(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(testConfig())

	tracker.Update([]Observation{{X: 5, Y: 5}}, time.Unix(1, 0))

	snap := tracker.Tracks()[0]
	snap.X = 9999
	snap.History[0].X = 9999

	fresh := tracker.Tracks()[0]
	assert.Equal(t, 5.0, fresh.X)
	assert.Equal(t, 5.0, fresh.History[0].X)
}

func TestSetClassification(t *testing.T) {
	t.Parallel()
	tracker := NewTracker(testConfig())

	tracker.Update([]Observation{{X: 5, Y: 5}}, time.Unix(1, 0))
	id := tracker.Tracks()[0].ID

	tracker.SetClassification(id, "vessel", 0.8)
	tr := tracker.Track(id)
	assert.Equal(t, "vessel", tr.Label)
	assert.InDelta(t, 0.8, tr.LabelConfidence, 1e-12)

	// No-op for unknown IDs.
	tracker.SetClassification(999, "x", 1)
}
