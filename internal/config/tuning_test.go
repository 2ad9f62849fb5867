package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetScanStepDeg(); got != 5.0 {
		t.Errorf("GetScanStepDeg() = %v, want 5", got)
	}
	if got := cfg.GetBeamFrequencyHz(); got != 3000.0 {
		t.Errorf("GetBeamFrequencyHz() = %v, want 3000", got)
	}
	if got := cfg.GetSoundSpeedMps(); got != 1500.0 {
		t.Errorf("GetSoundSpeedMps() = %v, want 1500", got)
	}
	if got := cfg.GetFalseAlarmRate(); got != 1e-3 {
		t.Errorf("GetFalseAlarmRate() = %v, want 1e-3", got)
	}
	if got := cfg.GetGatingDistance(); got != 1000.0 {
		t.Errorf("GetGatingDistance() = %v, want 1000", got)
	}
	if got := cfg.GetAssociation(); got != "hungarian" {
		t.Errorf("GetAssociation() = %q, want hungarian", got)
	}
	if got := cfg.GetDetectionStrategy(); got != "global" {
		t.Errorf("GetDetectionStrategy() = %q, want global", got)
	}
	if got := cfg.GetDeletedTrackGracePeriod(); got != 5*time.Second {
		t.Errorf("GetDeletedTrackGracePeriod() = %v, want 5s", got)
	}
	if got := cfg.GetFeatureBands(); got != 8 {
		t.Errorf("GetFeatureBands() = %d, want 8", got)
	}
}

func TestLoadTuningConfigPartial(t *testing.T) {
	path := writeConfig(t, `{"scan_step_deg": 2.5, "false_alarm_rate": 0.01}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}
	if got := cfg.GetScanStepDeg(); got != 2.5 {
		t.Errorf("GetScanStepDeg() = %v, want 2.5", got)
	}
	if got := cfg.GetFalseAlarmRate(); got != 0.01 {
		t.Errorf("GetFalseAlarmRate() = %v, want 0.01", got)
	}
	// Omitted fields keep defaults.
	if got := cfg.GetGatingDistance(); got != 1000.0 {
		t.Errorf("GetGatingDistance() = %v, want default 1000", got)
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("expected error for non-JSON extension")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{"valid", `{"false_alarm_rate": 0.5}`, false},
		{"rate zero", `{"false_alarm_rate": 0}`, true},
		{"rate one", `{"false_alarm_rate": 1}`, true},
		{"rate negative", `{"false_alarm_rate": -0.1}`, true},
		{"bad step", `{"scan_step_deg": -5}`, true},
		{"bad sound speed", `{"sound_speed_mps": 0}`, true},
		{"bad strategy", `{"detection_strategy": "psychic"}`, true},
		{"cfar strategy", `{"detection_strategy": "cfar"}`, false},
		{"bad association", `{"association": "closest-ish"}`, true},
		{"greedy association", `{"association": "greedy"}`, false},
		{"bad grace period", `{"deleted_track_grace_period": "five seconds"}`, true},
		{"bad bands", `{"feature_bands": 0}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.json)
			_, err := LoadTuningConfig(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadTuningConfig error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetScanStepDeg() <= 0 {
		t.Errorf("defaults file produced invalid scan step: %v", cfg.GetScanStepDeg())
	}
	if cfg.GetHitsToConfirm() < 1 {
		t.Errorf("defaults file produced invalid hits_to_confirm: %d", cfg.GetHitsToConfirm())
	}
}
