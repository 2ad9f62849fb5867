package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for sonar tuning parameters.
// The same JSON schema is used for startup configuration and for sweep tools
// that permute parameters between runs. All fields are optional; the Get*
// methods provide compiled-in fallbacks so partial configs are safe.
type TuningConfig struct {
	// Bearing scan params
	ScanStartDeg    *float64 `json:"scan_start_deg,omitempty"`
	ScanEndDeg      *float64 `json:"scan_end_deg,omitempty"`
	ScanStepDeg     *float64 `json:"scan_step_deg,omitempty"`
	ScanElevDeg     *float64 `json:"scan_elev_deg,omitempty"`
	ScanWorkers     *int     `json:"scan_workers,omitempty"`
	BeamFrequencyHz *float64 `json:"beam_frequency_hz,omitempty"`
	SoundSpeedMps   *float64 `json:"sound_speed_mps,omitempty"`

	// MVDR params
	MVDRRegularization *float64 `json:"mvdr_regularization,omitempty"`

	// Detection params
	CFARGuardCells    *int     `json:"cfar_guard_cells,omitempty"`
	CFARNoiseWindow   *int     `json:"cfar_noise_window,omitempty"`
	FalseAlarmRate    *float64 `json:"false_alarm_rate,omitempty"`
	DetectionStrategy *string  `json:"detection_strategy,omitempty"` // "global" or "cfar"

	// Tracker params
	GatingDistance          *float64 `json:"gating_distance,omitempty"`
	ProcessNoisePos         *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseVel         *float64 `json:"process_noise_vel,omitempty"`
	MeasurementNoise        *float64 `json:"measurement_noise,omitempty"`
	HitsToConfirm           *int     `json:"hits_to_confirm,omitempty"`
	MaxMisses               *int     `json:"max_misses,omitempty"`
	MaxMissesConfirmed      *int     `json:"max_misses_confirmed,omitempty"`
	MaxTracks               *int     `json:"max_tracks,omitempty"`
	MaxTrackHistoryLength   *int     `json:"max_track_history_length,omitempty"`
	DeletedTrackGracePeriod *string  `json:"deleted_track_grace_period,omitempty"` // duration string like "5s"
	Association             *string  `json:"association,omitempty"`                // "hungarian" or "greedy"

	// Classifier params
	FeatureBands *int `json:"feature_bands,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/sonar/<pkg>/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.FalseAlarmRate != nil {
		if *c.FalseAlarmRate <= 0 || *c.FalseAlarmRate >= 1 {
			return fmt.Errorf("false_alarm_rate must be in (0, 1), got %g", *c.FalseAlarmRate)
		}
	}

	if c.ScanStepDeg != nil && *c.ScanStepDeg <= 0 {
		return fmt.Errorf("scan_step_deg must be positive, got %f", *c.ScanStepDeg)
	}

	if c.SoundSpeedMps != nil && *c.SoundSpeedMps <= 0 {
		return fmt.Errorf("sound_speed_mps must be positive, got %f", *c.SoundSpeedMps)
	}

	if c.MVDRRegularization != nil && *c.MVDRRegularization < 0 {
		return fmt.Errorf("mvdr_regularization must be non-negative, got %g", *c.MVDRRegularization)
	}

	if c.DetectionStrategy != nil {
		switch *c.DetectionStrategy {
		case "global", "cfar":
		default:
			return fmt.Errorf("detection_strategy must be \"global\" or \"cfar\", got %q", *c.DetectionStrategy)
		}
	}

	if c.Association != nil {
		switch *c.Association {
		case "hungarian", "greedy":
		default:
			return fmt.Errorf("association must be \"hungarian\" or \"greedy\", got %q", *c.Association)
		}
	}

	if c.DeletedTrackGracePeriod != nil && *c.DeletedTrackGracePeriod != "" {
		if _, err := time.ParseDuration(*c.DeletedTrackGracePeriod); err != nil {
			return fmt.Errorf("invalid deleted_track_grace_period '%s': %w", *c.DeletedTrackGracePeriod, err)
		}
	}

	if c.FeatureBands != nil && *c.FeatureBands <= 0 {
		return fmt.Errorf("feature_bands must be positive, got %d", *c.FeatureBands)
	}

	return nil
}

// GetScanStartDeg returns the scan_start_deg value or the default.
func (c *TuningConfig) GetScanStartDeg() float64 {
	if c.ScanStartDeg == nil {
		return 0.0
	}
	return *c.ScanStartDeg
}

// GetScanEndDeg returns the scan_end_deg value or the default.
func (c *TuningConfig) GetScanEndDeg() float64 {
	if c.ScanEndDeg == nil {
		return 355.0
	}
	return *c.ScanEndDeg
}

// GetScanStepDeg returns the scan_step_deg value or the default.
func (c *TuningConfig) GetScanStepDeg() float64 {
	if c.ScanStepDeg == nil {
		return 5.0
	}
	return *c.ScanStepDeg
}

// GetScanElevDeg returns the scan_elev_deg value or the default.
func (c *TuningConfig) GetScanElevDeg() float64 {
	if c.ScanElevDeg == nil {
		return 0.0
	}
	return *c.ScanElevDeg
}

// GetScanWorkers returns the scan_workers value or the default.
func (c *TuningConfig) GetScanWorkers() int {
	if c.ScanWorkers == nil || *c.ScanWorkers < 1 {
		return 4
	}
	return *c.ScanWorkers
}

// GetBeamFrequencyHz returns the beam_frequency_hz value or the default.
func (c *TuningConfig) GetBeamFrequencyHz() float64 {
	if c.BeamFrequencyHz == nil {
		return 3000.0
	}
	return *c.BeamFrequencyHz
}

// GetSoundSpeedMps returns the sound_speed_mps value or the default.
func (c *TuningConfig) GetSoundSpeedMps() float64 {
	if c.SoundSpeedMps == nil {
		return 1500.0
	}
	return *c.SoundSpeedMps
}

// GetMVDRRegularization returns the mvdr_regularization value or the default.
func (c *TuningConfig) GetMVDRRegularization() float64 {
	if c.MVDRRegularization == nil {
		return 1e-3
	}
	return *c.MVDRRegularization
}

// GetCFARGuardCells returns the cfar_guard_cells value or the default.
func (c *TuningConfig) GetCFARGuardCells() int {
	if c.CFARGuardCells == nil {
		return 5
	}
	return *c.CFARGuardCells
}

// GetCFARNoiseWindow returns the cfar_noise_window value or the default.
func (c *TuningConfig) GetCFARNoiseWindow() int {
	if c.CFARNoiseWindow == nil {
		return 20
	}
	return *c.CFARNoiseWindow
}

// GetFalseAlarmRate returns the false_alarm_rate value or the default.
func (c *TuningConfig) GetFalseAlarmRate() float64 {
	if c.FalseAlarmRate == nil {
		return 1e-3
	}
	return *c.FalseAlarmRate
}

// GetDetectionStrategy returns the detection_strategy value or the default.
func (c *TuningConfig) GetDetectionStrategy() string {
	if c.DetectionStrategy == nil {
		return "global"
	}
	return *c.DetectionStrategy
}

// GetGatingDistance returns the gating_distance value or the default.
func (c *TuningConfig) GetGatingDistance() float64 {
	if c.GatingDistance == nil {
		return 1000.0
	}
	return *c.GatingDistance
}

// GetProcessNoisePos returns the process_noise_pos value or the default.
func (c *TuningConfig) GetProcessNoisePos() float64 {
	if c.ProcessNoisePos == nil {
		return 0.1
	}
	return *c.ProcessNoisePos
}

// GetProcessNoiseVel returns the process_noise_vel value or the default.
func (c *TuningConfig) GetProcessNoiseVel() float64 {
	if c.ProcessNoiseVel == nil {
		return 0.1
	}
	return *c.ProcessNoiseVel
}

// GetMeasurementNoise returns the measurement_noise value or the default.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 10.0
	}
	return *c.MeasurementNoise
}

// GetHitsToConfirm returns the hits_to_confirm value or the default.
func (c *TuningConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm == nil {
		return 3
	}
	return *c.HitsToConfirm
}

// GetMaxMisses returns the max_misses value or the default.
func (c *TuningConfig) GetMaxMisses() int {
	if c.MaxMisses == nil {
		return 3
	}
	return *c.MaxMisses
}

// GetMaxMissesConfirmed returns the max_misses_confirmed value or the default.
func (c *TuningConfig) GetMaxMissesConfirmed() int {
	if c.MaxMissesConfirmed == nil {
		return 10
	}
	return *c.MaxMissesConfirmed
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 64
	}
	return *c.MaxTracks
}

// GetMaxTrackHistoryLength returns the max_track_history_length value or the default.
func (c *TuningConfig) GetMaxTrackHistoryLength() int {
	if c.MaxTrackHistoryLength == nil {
		return 100
	}
	return *c.MaxTrackHistoryLength
}

// GetDeletedTrackGracePeriod parses and returns the deleted-track grace period.
func (c *TuningConfig) GetDeletedTrackGracePeriod() time.Duration {
	if c.DeletedTrackGracePeriod == nil || *c.DeletedTrackGracePeriod == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.DeletedTrackGracePeriod)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

// GetAssociation returns the association value or the default.
func (c *TuningConfig) GetAssociation() string {
	if c.Association == nil {
		return "hungarian"
	}
	return *c.Association
}

// GetFeatureBands returns the feature_bands value or the default.
func (c *TuningConfig) GetFeatureBands() int {
	if c.FeatureBands == nil {
		return 8
	}
	return *c.FeatureBands
}
