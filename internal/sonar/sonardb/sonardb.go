// Package sonardb persists pipeline outputs (detections, tracks, track
// observations) to SQLite. The schema is embedded and applied on open, so a
// fresh database file is usable immediately.
package sonardb

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tidewater-data/contact.report/internal/sonar/track"
)

//go:embed schema.sql
var schemaSQL string

// SonarDB wraps an open database handle with the sonar persistence queries.
type SonarDB struct {
	*sql.DB
}

// New opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func New(path string) (*SonarDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sonar database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sonar schema: %w", err)
	}
	return &SonarDB{db}, nil
}

// Detection is one raw per-ping detection row.
type Detection struct {
	PingID      string
	TSUnixNanos int64
	BearingDeg  float64
	RangeMetres float64
	Magnitude   float64

	// Position (world frame)
	X, Y float64
}

// TrackObservation is one matched observation of a track at a point in time.
type TrackObservation struct {
	TrackID     int64
	TSUnixNanos int64
	PingID      string

	// Position and velocity (world frame)
	X, Y     float64
	VX, VY   float64
	SpeedMps float64

	// Measurement as seen by the detector
	BearingDeg  float64
	RangeMetres float64
	Magnitude   float64
}

// TrackRecord is a persisted track row as returned by the range queries.
type TrackRecord struct {
	TrackID          int64
	State            string
	StartUnixNanos   int64
	EndUnixNanos     int64
	ObservationCount int
	X, Y             float64
	VX, VY           float64
	SpeedMps         float64
	AvgMagnitude     float64
	PeakMagnitude    float64
	LastBearingDeg   float64
	LastRangeMetres  float64
	Label            string
	LabelConfidence  float64
}

// InsertDetection stores a raw detection.
func (sdb *SonarDB) InsertDetection(det *Detection) error {
	query := `
		INSERT INTO sonar_detections (
			ping_id, ts_unix_nanos, bearing_deg, range_m, magnitude, x, y
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := sdb.Exec(query,
		det.PingID,
		det.TSUnixNanos,
		det.BearingDeg,
		det.RangeMetres,
		det.Magnitude,
		det.X,
		det.Y,
	)
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

// InsertTrack writes or updates the track's row.
func (sdb *SonarDB) InsertTrack(tr *track.Track) error {
	// Use ON CONFLICT DO UPDATE rather than INSERT OR REPLACE so the row is
	// updated in place and observation rows keyed on track_id survive.
	query := `
		INSERT INTO sonar_tracks (
			track_id, track_state, start_unix_nanos, end_unix_nanos,
			observation_count, x, y, velocity_x, velocity_y, speed_mps,
			avg_magnitude, peak_magnitude, last_bearing_deg, last_range_m,
			label, label_confidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			track_state = excluded.track_state,
			start_unix_nanos = excluded.start_unix_nanos,
			end_unix_nanos = excluded.end_unix_nanos,
			observation_count = excluded.observation_count,
			x = excluded.x,
			y = excluded.y,
			velocity_x = excluded.velocity_x,
			velocity_y = excluded.velocity_y,
			speed_mps = excluded.speed_mps,
			avg_magnitude = excluded.avg_magnitude,
			peak_magnitude = excluded.peak_magnitude,
			last_bearing_deg = excluded.last_bearing_deg,
			last_range_m = excluded.last_range_m,
			label = excluded.label,
			label_confidence = excluded.label_confidence
	`

	_, err := sdb.Exec(query,
		tr.ID,
		string(tr.State),
		tr.FirstUnixNanos,
		tr.LastUnixNanos,
		tr.ObservationCount,
		tr.X,
		tr.Y,
		tr.VX,
		tr.VY,
		tr.Speed(),
		tr.AvgMagnitude,
		tr.PeakMagnitude,
		tr.LastBearingDeg,
		tr.LastRangeMetres,
		tr.Label,
		tr.LabelConfidence,
	)
	if err != nil {
		return fmt.Errorf("insert track %d: %w", tr.ID, err)
	}
	return nil
}

// InsertTrackObservation stores a single matched observation.
func (sdb *SonarDB) InsertTrackObservation(obs *TrackObservation) error {
	query := `
		INSERT OR REPLACE INTO sonar_track_obs (
			track_id, ts_unix_nanos, ping_id,
			x, y, velocity_x, velocity_y, speed_mps,
			bearing_deg, range_m, magnitude
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := sdb.Exec(query,
		obs.TrackID,
		obs.TSUnixNanos,
		obs.PingID,
		obs.X, obs.Y,
		obs.VX, obs.VY, obs.SpeedMps,
		obs.BearingDeg, obs.RangeMetres, obs.Magnitude,
	)
	if err != nil {
		return fmt.Errorf("insert track observation: %w", err)
	}
	return nil
}

// GetTracksInRange returns tracks whose lifetime overlaps
// [startNanos, endNanos]. An empty state matches every non-deleted track.
func (sdb *SonarDB) GetTracksInRange(state string, startNanos, endNanos int64, limit int) ([]*TrackRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var query strings.Builder
	var args []interface{}

	query.WriteString(`
		SELECT track_id, track_state, start_unix_nanos,
			COALESCE(end_unix_nanos, start_unix_nanos),
			observation_count, x, y, velocity_x, velocity_y, speed_mps,
			avg_magnitude, peak_magnitude, last_bearing_deg, last_range_m,
			COALESCE(label, ''), COALESCE(label_confidence, 0)
		FROM sonar_tracks
		WHERE 1=1
	`)

	if state != "" {
		query.WriteString(" AND track_state = ?")
		args = append(args, state)
	} else {
		query.WriteString(" AND track_state != 'deleted'")
	}

	query.WriteString(`
		AND start_unix_nanos <= ?
		AND COALESCE(end_unix_nanos, start_unix_nanos) >= ?
		ORDER BY start_unix_nanos ASC
		LIMIT ?
	`)
	args = append(args, endNanos, startNanos, limit)

	rows, err := sdb.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query tracks in range: %w", err)
	}
	defer rows.Close()

	var tracks []*TrackRecord
	for rows.Next() {
		rec := &TrackRecord{}
		if err := rows.Scan(
			&rec.TrackID,
			&rec.State,
			&rec.StartUnixNanos,
			&rec.EndUnixNanos,
			&rec.ObservationCount,
			&rec.X, &rec.Y,
			&rec.VX, &rec.VY, &rec.SpeedMps,
			&rec.AvgMagnitude,
			&rec.PeakMagnitude,
			&rec.LastBearingDeg,
			&rec.LastRangeMetres,
			&rec.Label,
			&rec.LabelConfidence,
		); err != nil {
			return nil, fmt.Errorf("scan track row: %w", err)
		}
		tracks = append(tracks, rec)
	}
	return tracks, rows.Err()
}

// GetTrackObservations returns the most recent observations for a track,
// newest first.
func (sdb *SonarDB) GetTrackObservations(trackID int64, limit int) ([]*TrackObservation, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT track_id, ts_unix_nanos, ping_id,
			x, y, velocity_x, velocity_y, speed_mps,
			bearing_deg, range_m, magnitude
		FROM sonar_track_obs
		WHERE track_id = ?
		ORDER BY ts_unix_nanos DESC
		LIMIT ?
	`

	rows, err := sdb.Query(query, trackID, limit)
	if err != nil {
		return nil, fmt.Errorf("query track observations: %w", err)
	}
	defer rows.Close()

	var observations []*TrackObservation
	for rows.Next() {
		obs := &TrackObservation{}
		if err := rows.Scan(
			&obs.TrackID,
			&obs.TSUnixNanos,
			&obs.PingID,
			&obs.X, &obs.Y,
			&obs.VX, &obs.VY, &obs.SpeedMps,
			&obs.BearingDeg, &obs.RangeMetres, &obs.Magnitude,
		); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// PruneDeletedTracks removes tracks marked deleted whose last update is older
// than the TTL, along with their observations. Returns the number of tracks
// removed.
func (sdb *SonarDB) PruneDeletedTracks(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()

	// Observations first: no FK cascade in the schema, so clean up manually.
	_, err := sdb.Exec(`
		DELETE FROM sonar_track_obs
		WHERE track_id IN (
			SELECT track_id FROM sonar_tracks
			WHERE track_state = 'deleted'
			AND COALESCE(end_unix_nanos, start_unix_nanos) < ?
		)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune deleted track observations: %w", err)
	}

	result, err := sdb.Exec(`
		DELETE FROM sonar_tracks
		WHERE track_state = 'deleted'
		AND COALESCE(end_unix_nanos, start_unix_nanos) < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune deleted tracks: %w", err)
	}
	return result.RowsAffected()
}
