package detect

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tidewater-data/contact.report/internal/monitoring"
	"github.com/tidewater-data/contact.report/internal/sonar/array"
	"github.com/tidewater-data/contact.report/internal/sonar/beamform"
	"github.com/tidewater-data/contact.report/internal/units"
)

// Detection is one flagged bearing from a single ping cycle.
type Detection struct {
	BearingDeg float64
	Magnitude  float64
	Time       time.Time
}

// PingReport is the full outcome of one bearing scan: the grid, the
// per-bearing detection statistic, the matched-filter peak lag per bearing
// (for range estimation), and the bearings that passed the detection
// strategy. Statistic ordering always follows grid ordering regardless of
// which worker finished first.
type PingReport struct {
	Time       time.Time
	Bearings   []float64
	Statistics []float64
	PeakLags   []int
	Detections []Detection
}

// Strategy selects detected bearings from the per-bearing statistic array.
// Implementations must not retain or mutate stats.
type Strategy interface {
	Select(stats []float64) ([]bool, error)
}

// GlobalThreshold flags bearings whose statistic exceeds mean + 3·stddev of
// the whole statistic array. This is the reference outlier rule for bearing
// scans; it needs no tuning but assumes most bearings see only noise.
type GlobalThreshold struct{}

func (GlobalThreshold) Select(stats []float64) ([]bool, error) {
	if len(stats) == 0 {
		return nil, ErrEmptyInput
	}
	mean := stat.Mean(stats, nil)
	std := stat.PopStdDev(stats, nil)
	threshold := mean + 3*std
	out := make([]bool, len(stats))
	for i, s := range stats {
		out[i] = s > threshold
	}
	return out, nil
}

// CFARStrategy applies the cell-averaging CFAR detector across the bearing
// statistic array, treating neighboring bearings as the noise reference.
type CFARStrategy struct {
	GuardCells     int
	NoiseWindow    int
	FalseAlarmRate float64
}

func (s CFARStrategy) Select(stats []float64) ([]bool, error) {
	return CFARThreshold(stats, s.GuardCells, s.NoiseWindow, s.FalseAlarmRate)
}

// Beamformer steers a snapshot toward one bearing and returns the complex
// beam series. Scanner's default wraps beamform.DelayAndSum.
type Beamformer func(snap *beamform.Snapshot, geom *array.Geometry, azDeg, elDeg float64) ([]complex128, error)

// ScanConfig fixes the azimuth grid and signal parameters for a Scanner.
// Zero values fall back to the standard 0–355° grid at 5° steps, 3 kHz,
// nominal sound speed, and one worker per CPU.
type ScanConfig struct {
	StartDeg   float64
	EndDeg     float64
	StepDeg    float64
	ElevDeg    float64
	FreqHz     float64
	SoundSpeed float64
	Workers    int
}

// Scanner sweeps a fixed azimuth grid over each ping: beamform toward every
// bearing, matched-filter the beam against the transmitted template, record
// the envelope peak as that bearing's statistic, then hand the statistic
// array to the detection strategy. Per-bearing work runs on a bounded worker
// pool; a failure on one bearing drops only that bearing's contribution.
type Scanner struct {
	geom     *array.Geometry
	cfg      ScanConfig
	strategy Strategy
	bf       Beamformer
}

// NewScanner builds a Scanner over geom. A nil strategy selects
// GlobalThreshold; a nil beamformer selects conventional delay-and-sum.
func NewScanner(geom *array.Geometry, cfg ScanConfig, strategy Strategy) *Scanner {
	if cfg.StepDeg <= 0 {
		cfg.StepDeg = 5
	}
	if cfg.EndDeg <= cfg.StartDeg {
		cfg.EndDeg = cfg.StartDeg + 360 - cfg.StepDeg
	}
	if cfg.FreqHz <= 0 {
		cfg.FreqHz = 3000
	}
	if cfg.SoundSpeed <= 0 {
		cfg.SoundSpeed = units.DefaultSoundSpeedMps
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if strategy == nil {
		strategy = GlobalThreshold{}
	}
	s := &Scanner{geom: geom, cfg: cfg, strategy: strategy}
	s.bf = func(snap *beamform.Snapshot, geom *array.Geometry, azDeg, elDeg float64) ([]complex128, error) {
		return beamform.DelayAndSum(snap, geom, azDeg, elDeg, cfg.FreqHz, cfg.SoundSpeed)
	}
	return s
}

// SetBeamformer swaps the per-bearing beamformer, e.g. for MVDR.
func (s *Scanner) SetBeamformer(bf Beamformer) {
	if bf != nil {
		s.bf = bf
	}
}

// Bearings returns the scan grid in degrees, ascending.
func (s *Scanner) Bearings() []float64 {
	n := int((s.cfg.EndDeg-s.cfg.StartDeg)/s.cfg.StepDeg) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = s.cfg.StartDeg + float64(i)*s.cfg.StepDeg
	}
	return out
}

// Scan runs one full bearing sweep of snap against template, stamped with t.
func (s *Scanner) Scan(snap *beamform.Snapshot, template []float64, t time.Time) (*PingReport, error) {
	if snap == nil || snap.NumSamples() == 0 {
		return nil, fmt.Errorf("scan: %w", ErrEmptyInput)
	}
	if len(template) == 0 {
		return nil, fmt.Errorf("scan template: %w", ErrEmptyInput)
	}

	bearings := s.Bearings()
	n := len(bearings)
	stats := make([]float64, n)
	lags := make([]int, n)
	valid := make([]bool, n)

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := s.cfg.Workers
	if workers > n {
		workers = n
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				beam, err := s.bf(snap, s.geom, bearings[i], s.cfg.ElevDeg)
				if err != nil {
					monitoring.Logf("[Scanner] bearing %.1f: beamform failed: %v", bearings[i], err)
					lags[i] = -1
					continue
				}
				env, err := MatchedFilterEnvelope(beam, template)
				if err != nil {
					monitoring.Logf("[Scanner] bearing %.1f: matched filter failed: %v", bearings[i], err)
					lags[i] = -1
					continue
				}
				peak := floats.MaxIdx(env)
				stats[i] = env[peak]
				lags[i] = peak
				valid[i] = true
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	flags, err := s.strategy.Select(stats)
	if err != nil {
		return nil, fmt.Errorf("scan: detection strategy: %w", err)
	}

	report := &PingReport{
		Time:       t,
		Bearings:   bearings,
		Statistics: stats,
		PeakLags:   lags,
	}
	for i, flagged := range flags {
		if flagged && valid[i] {
			report.Detections = append(report.Detections, Detection{
				BearingDeg: bearings[i],
				Magnitude:  stats[i],
				Time:       t,
			})
		}
	}
	return report, nil
}
