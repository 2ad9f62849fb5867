// Package pipeline orchestrates one processing cycle per ping: bearing scan,
// range extraction, world-frame conversion, track update, classification, and
// persistence. Stages are wired through CycleConfig so callers can run the
// pipeline headless (no sink, no classifier) or fully instrumented.
package pipeline

import (
	"errors"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/tidewater-data/contact.report/internal/sonar/array"
	"github.com/tidewater-data/contact.report/internal/sonar/beamform"
	"github.com/tidewater-data/contact.report/internal/sonar/classify"
	"github.com/tidewater-data/contact.report/internal/sonar/detect"
	"github.com/tidewater-data/contact.report/internal/sonar/sonardb"
	"github.com/tidewater-data/contact.report/internal/sonar/track"
	"github.com/tidewater-data/contact.report/internal/timeutil"
	"github.com/tidewater-data/contact.report/internal/units"
)

// ErrNotConfigured is returned by RunCycle when the pipeline is missing a
// required stage.
var ErrNotConfigured = errors.New("pipeline: scanner, tracker, and geometry are required")

// PersistenceSink writes pipeline outputs (detections, tracks, observations)
// to storage. It is an adapter, so implementations live outside the signal
// chain (e.g. internal/sonar/sonardb).
type PersistenceSink interface {
	// InsertDetection writes a single raw detection for a ping.
	InsertDetection(det *sonardb.Detection) error
	// InsertTrack writes or updates a track record.
	InsertTrack(tr *track.Track) error
	// InsertTrackObservation writes a single observation for a track.
	InsertTrackObservation(obs *sonardb.TrackObservation) error
	// PruneDeletedTracks removes deleted tracks older than the TTL and
	// returns the number pruned.
	PruneDeletedTracks(olderThan time.Duration) (int64, error)
}

// isNilInterface checks if an interface value is nil or contains a nil pointer.
// This handles the Go interface nil pitfall where interface{} != nil but the
// underlying value is nil.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

const (
	// deletedTrackTTL is how long deleted tracks stay queryable before the
	// periodic prune removes them.
	deletedTrackTTL = 5 * time.Minute
	pruneInterval   = 1 * time.Minute
)

// CycleConfig holds the stages and tuning for the per-ping processing cycle.
// Scanner, Tracker, and Geometry are required; Classifier and Sink are
// optional and skipped when nil.
type CycleConfig struct {
	Geometry   *array.Geometry
	Scanner    *detect.Scanner
	Tracker    *track.Tracker
	Classifier *classify.Classifier
	Sink       PersistenceSink

	// ElevDeg, FreqHz, and SoundSpeed parameterise the classification
	// beamformer. They should match the Scanner's ScanConfig; zero values
	// fall back to broadside, 3 kHz, and the nominal sound speed.
	ElevDeg    float64
	FreqHz     float64
	SoundSpeed float64

	// MinObservationsToClassify gates classification until a track has
	// accumulated enough history. Zero means classify from the first hit.
	MinObservationsToClassify int

	// Clock drives the periodic prune schedule. Nil means wall clock.
	Clock timeutil.Clock

	lastPruneTime time.Time
}

func (cfg *CycleConfig) clock() timeutil.Clock {
	if cfg.Clock == nil {
		return timeutil.RealClock{}
	}
	return cfg.Clock
}

// CycleResult is what one ping produced: the scan report, the world-frame
// observations fed to the tracker, and the confirmed tracks after the update.
type CycleResult struct {
	PingID          string
	Report          *detect.PingReport
	Observations    []track.Observation
	ConfirmedTracks []*track.Track
}

// RunCycle processes one ping snapshot end to end. Per-stage failures inside
// the cycle (a detection that fails to persist, a beam that fails to classify)
// are logged to the ops stream and skipped; only a failed scan or missing
// configuration aborts the cycle. Tracker state is never left inconsistent.
func (cfg *CycleConfig) RunCycle(snap *beamform.Snapshot, template []float64, t time.Time) (*CycleResult, error) {
	if cfg.Scanner == nil || cfg.Tracker == nil || cfg.Geometry == nil {
		return nil, ErrNotConfigured
	}
	soundSpeed := cfg.SoundSpeed
	if soundSpeed <= 0 {
		soundSpeed = units.DefaultSoundSpeedMps
	}

	pingID := uuid.NewString()

	report, err := cfg.Scanner.Scan(snap, template, t)
	if err != nil {
		opsf("[Cycle %s] scan failed: %v", pingID, err)
		return nil, err
	}
	tracef("[Cycle %s] scanned %d bearings, %d detections", pingID, len(report.Bearings), len(report.Detections))

	// Map bearings back to grid indices so each detection can recover its
	// matched-filter peak lag for range extraction.
	bearingIdx := make(map[float64]int, len(report.Bearings))
	for i, b := range report.Bearings {
		bearingIdx[b] = i
	}

	observations := make([]track.Observation, 0, len(report.Detections))
	labels := make([]string, 0, len(report.Detections))
	confidences := make([]float64, 0, len(report.Detections))
	for _, det := range report.Detections {
		idx, ok := bearingIdx[det.BearingDeg]
		if !ok {
			opsf("[Cycle %s] detection at %.1f° not on scan grid, dropping", pingID, det.BearingDeg)
			continue
		}

		// The matched-filter output is full-mode correlation: lag m−1
		// corresponds to zero shift, so the echo's round-trip delay in
		// samples is the peak lag minus that offset.
		delaySamples := report.PeakLags[idx] - (len(template) - 1)
		rng := units.RoundTripRangeMetres(delaySamples, snap.SampleRate, soundSpeed)

		az := units.DegToRad(det.BearingDeg)
		obs := track.Observation{
			X:           rng * math.Cos(az),
			Y:           rng * math.Sin(az),
			BearingDeg:  det.BearingDeg,
			RangeMetres: rng,
			Magnitude:   det.Magnitude,
		}
		observations = append(observations, obs)

		label, conf := cfg.classifyBearing(snap, det.BearingDeg, pingID)
		labels = append(labels, label)
		confidences = append(confidences, conf)

		if !isNilInterface(cfg.Sink) {
			rec := &sonardb.Detection{
				PingID:      pingID,
				TSUnixNanos: t.UnixNano(),
				BearingDeg:  det.BearingDeg,
				RangeMetres: rng,
				Magnitude:   det.Magnitude,
				X:           obs.X,
				Y:           obs.Y,
			}
			if err := cfg.Sink.InsertDetection(rec); err != nil {
				opsf("[Cycle %s] failed to persist detection at %.1f°: %v", pingID, det.BearingDeg, err)
			}
		}
	}

	cfg.Tracker.Update(observations, t)

	// Attach per-detection labels to the tracks those detections updated.
	// LastAssignments is index-aligned with the observation slice; zero
	// means the observation matched no existing track (it spawned a new
	// one, or was dropped), so labels land from the second hit onward.
	for i, trackID := range cfg.Tracker.LastAssignments() {
		if trackID == 0 || i >= len(labels) || labels[i] == "" {
			continue
		}
		tr := cfg.Tracker.Track(trackID)
		if tr == nil || tr.ObservationCount < cfg.MinObservationsToClassify {
			continue
		}
		// Re-classify periodically as observations accumulate so the
		// label improves with history.
		if tr.Label == "" || tr.ObservationCount%5 == 0 {
			cfg.Tracker.SetClassification(trackID, labels[i], confidences[i])
		}
	}

	confirmed := cfg.Tracker.ConfirmedTracks()
	if len(confirmed) > 0 {
		diagf("[Cycle %s] %d confirmed tracks active", pingID, len(confirmed))
	}

	if !isNilInterface(cfg.Sink) {
		cfg.persist(pingID, confirmed, t)
	}

	return &CycleResult{
		PingID:          pingID,
		Report:          report,
		Observations:    observations,
		ConfirmedTracks: confirmed,
	}, nil
}

// classifyBearing steers a beam at the detection bearing and classifies its
// spectrum. Returns empty label when no trained classifier is configured or
// the beam fails.
func (cfg *CycleConfig) classifyBearing(snap *beamform.Snapshot, bearingDeg float64, pingID string) (string, float64) {
	if cfg.Classifier == nil || !cfg.Classifier.Trained() {
		return "", 0
	}
	freq := cfg.FreqHz
	if freq <= 0 {
		freq = 3000
	}
	soundSpeed := cfg.SoundSpeed
	if soundSpeed <= 0 {
		soundSpeed = units.DefaultSoundSpeedMps
	}
	beam, err := beamform.DelayAndSum(snap, cfg.Geometry, bearingDeg, cfg.ElevDeg, freq, soundSpeed)
	if err != nil {
		opsf("[Cycle %s] classification beam at %.1f° failed: %v", pingID, bearingDeg, err)
		return "", 0
	}
	series := make([]float64, len(beam))
	for i, v := range beam {
		series[i] = real(v)
	}
	label, conf, err := cfg.Classifier.Predict(classify.MagnitudeSpectrum(series))
	if err != nil {
		opsf("[Cycle %s] classification at %.1f° failed: %v", pingID, bearingDeg, err)
		return "", 0
	}
	return label, conf
}

// persist writes confirmed tracks and their fresh observations, then prunes
// deleted tracks at most once per pruneInterval.
func (cfg *CycleConfig) persist(pingID string, confirmed []*track.Track, t time.Time) {
	for _, tr := range confirmed {
		if err := cfg.Sink.InsertTrack(tr); err != nil {
			opsf("[Cycle %s] failed to persist track %d: %v", pingID, tr.ID, err)
		}

		// Only persist observations for tracks matched this cycle
		// (Misses == 0). A coasting track's position is a Kalman
		// prediction, not a measurement, and persisting it would write
		// phantom straight segments.
		if tr.Misses != 0 {
			continue
		}
		obs := &sonardb.TrackObservation{
			TrackID:     tr.ID,
			TSUnixNanos: t.UnixNano(),
			PingID:      pingID,
			X:           tr.X,
			Y:           tr.Y,
			VX:          tr.VX,
			VY:          tr.VY,
			SpeedMps:    tr.Speed(),
			BearingDeg:  tr.LastBearingDeg,
			RangeMetres: tr.LastRangeMetres,
			Magnitude:   tr.AvgMagnitude,
		}
		if err := cfg.Sink.InsertTrackObservation(obs); err != nil {
			opsf("[Cycle %s] failed to persist observation for track %d: %v", pingID, tr.ID, err)
		}
	}

	now := cfg.clock().Now()
	if cfg.lastPruneTime.IsZero() || now.Sub(cfg.lastPruneTime) >= pruneInterval {
		cfg.lastPruneTime = now
		if pruned, err := cfg.Sink.PruneDeletedTracks(deletedTrackTTL); err != nil {
			opsf("[Cycle %s] prune deleted tracks failed: %v", pingID, err)
		} else if pruned > 0 {
			diagf("[Cycle %s] pruned %d deleted tracks older than %v", pingID, pruned, deletedTrackTTL)
		}
	}
}
