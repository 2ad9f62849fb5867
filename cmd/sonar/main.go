// Command sonar runs the contact pipeline against synthesized pings: a
// simulated target echoes an LFM chirp back to a spherical hydrophone array,
// and each cycle is scanned, tracked, and optionally persisted. Useful for
// exercising the full processing chain without hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tidewater-data/contact.report/internal/config"
	"github.com/tidewater-data/contact.report/internal/sonar/array"
	"github.com/tidewater-data/contact.report/internal/sonar/beamform"
	"github.com/tidewater-data/contact.report/internal/sonar/detect"
	"github.com/tidewater-data/contact.report/internal/sonar/pipeline"
	"github.com/tidewater-data/contact.report/internal/sonar/sonardb"
	"github.com/tidewater-data/contact.report/internal/sonar/track"
	"github.com/tidewater-data/contact.report/internal/timeutil"
	"github.com/tidewater-data/contact.report/internal/units"
	"github.com/tidewater-data/contact.report/internal/version"
)

var (
	duration     = flag.Duration("duration", 30*time.Second, "How long to run the simulation (0 = until interrupted)")
	pingInterval = flag.Duration("ping-interval", 1*time.Second, "Time between pings")
	elements     = flag.Int("elements", 32, "Number of hydrophone elements on the spherical array")
	radius       = flag.Float64("radius", 0.5, "Array radius in metres")
	sampleRate   = flag.Float64("sample-rate", 48000, "Sample rate in Hz")
	chirpMillis  = flag.Int("chirp-ms", 10, "Transmitted chirp duration in milliseconds")
	targetDeg    = flag.Float64("target-bearing", 45, "Initial simulated target bearing in degrees")
	targetRange  = flag.Float64("target-range", 400, "Simulated target range in metres")
	targetRate   = flag.Float64("target-rate", 1.5, "Simulated target bearing drift in degrees per ping")
	noiseStd     = flag.Float64("noise", 0.05, "Per-channel Gaussian noise standard deviation")
	dbFile       = flag.String("db", "", "Path to SQLite database for persistence (empty = no persistence)")
	tuningFile   = flag.String("tuning", "", "Path to tuning config JSON (empty = built-in defaults)")
	verbose      = flag.Bool("verbose", false, "Log pipeline diagnostics to stderr")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("sonar %s (%s)", version.Version, version.GitSHA)

	if *verbose {
		pipeline.SetLegacyLogger(os.Stderr)
	}

	tuning, err := loadTuning(*tuningFile)
	if err != nil {
		log.Fatalf("load tuning config: %v", err)
	}

	geom, err := array.NewSphericalGeometry(*elements, *radius)
	if err != nil {
		log.Fatalf("build array geometry: %v", err)
	}

	scanner := detect.NewScanner(geom, detect.ScanConfig{
		StartDeg:   tuning.GetScanStartDeg(),
		EndDeg:     tuning.GetScanEndDeg(),
		StepDeg:    tuning.GetScanStepDeg(),
		ElevDeg:    tuning.GetScanElevDeg(),
		FreqHz:     tuning.GetBeamFrequencyHz(),
		SoundSpeed: tuning.GetSoundSpeedMps(),
		Workers:    tuning.GetScanWorkers(),
	}, strategyFromTuning(tuning))

	cycle := &pipeline.CycleConfig{
		Geometry:   geom,
		Scanner:    scanner,
		Tracker:    track.NewTracker(track.TrackerConfigFromTuning(tuning)),
		ElevDeg:    tuning.GetScanElevDeg(),
		FreqHz:     tuning.GetBeamFrequencyHz(),
		SoundSpeed: tuning.GetSoundSpeedMps(),
	}

	if *dbFile != "" {
		db, err := sonardb.New(*dbFile)
		if err != nil {
			log.Fatalf("open database %s: %v", *dbFile, err)
		}
		defer db.Close()
		cycle.Sink = db
		log.Printf("persisting to %s", *dbFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	soundSpeed := tuning.GetSoundSpeedMps()
	chirpSamples := int(float64(*chirpMillis) / 1000 * *sampleRate)
	template := lfmChirp(2000, 8000, *sampleRate, chirpSamples)

	// Snapshot long enough to hold the round-trip echo plus the chirp.
	maxDelay := int(2 * *targetRange / soundSpeed * *sampleRate)
	nSamples := maxDelay + chirpSamples + 256

	log.Printf("sonar: %d elements, r=%.2f m, target at %.0f° / %.0f m, ping every %v",
		*elements, *radius, *targetDeg, *targetRange, *pingInterval)

	clock := timeutil.RealClock{}
	rng := rand.New(rand.NewSource(clock.Now().UnixNano()))
	bearing := *targetDeg
	ticker := clock.NewTicker(*pingInterval)
	defer ticker.Stop()

	for cycleNum := 1; ; cycleNum++ {
		select {
		case <-ctx.Done():
			printSummary(cycle.Tracker)
			return
		case t := <-ticker.C():
			snap := synthesizePing(geom, bearing, *targetRange, soundSpeed, *sampleRate, template, nSamples, *noiseStd, rng)
			res, err := cycle.RunCycle(snap, template, t)
			if err != nil {
				log.Printf("cycle %d failed: %v", cycleNum, err)
				continue
			}
			printCycle(cycleNum, bearing, res)
			bearing = units.NormalizeBearingDeg(bearing + *targetRate)
		}
	}
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.MustLoadDefaultConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func strategyFromTuning(tuning *config.TuningConfig) detect.Strategy {
	if tuning.GetDetectionStrategy() == "cfar" {
		return detect.CFARStrategy{
			GuardCells:     tuning.GetCFARGuardCells(),
			NoiseWindow:    tuning.GetCFARNoiseWindow(),
			FalseAlarmRate: tuning.GetFalseAlarmRate(),
		}
	}
	return detect.GlobalThreshold{}
}

// lfmChirp generates a Hann-windowed linear frequency modulated chirp sweeping
// f0→f1 Hz over n samples.
func lfmChirp(f0, f1, sampleRate float64, n int) []float64 {
	out := make([]float64, n)
	T := float64(n) / sampleRate
	for t := range out {
		tau := float64(t) / sampleRate
		phase := 2 * math.Pi * (f0*tau + (f1-f0)/(2*T)*tau*tau)
		window := 0.5 * (1 - math.Cos(2*math.Pi*float64(t)/float64(n-1)))
		out[t] = window * math.Sin(phase)
	}
	return out
}

// synthesizePing builds the per-channel receive series for one ping: each
// element hears the chirp echo at the round-trip delay plus its geometric
// arrival offset for the target bearing, attenuated with range, in Gaussian
// noise.
func synthesizePing(geom *array.Geometry, bearingDeg, rangeM, soundSpeed, sampleRate float64, chirp []float64, nSamples int, noiseStd float64, rng *rand.Rand) *beamform.Snapshot {
	u := array.LookDirection(bearingDeg, 0)
	amp := 1.0 / (1.0 + rangeM/1000.0)
	baseDelay := 2 * rangeM / soundSpeed

	data := make([][]float64, geom.NumElements())
	for i := range data {
		p := geom.At(i)
		// Arrival offset: elements closer to the target hear the echo
		// earlier.
		tau := -(p.X*u.X + p.Y*u.Y + p.Z*u.Z) / soundSpeed
		delay := int(math.Round((baseDelay + tau) * sampleRate))

		ch := make([]float64, nSamples)
		for s := range chirp {
			if idx := delay + s; idx >= 0 && idx < nSamples {
				ch[idx] += amp * chirp[s]
			}
		}
		if noiseStd > 0 {
			for s := range ch {
				ch[s] += rng.NormFloat64() * noiseStd
			}
		}
		data[i] = ch
	}
	return &beamform.Snapshot{Data: data, SampleRate: sampleRate}
}

func printCycle(cycleNum int, trueBearing float64, res *pipeline.CycleResult) {
	if len(res.Observations) == 0 {
		log.Printf("cycle %3d: true %.1f°, no detections", cycleNum, trueBearing)
		return
	}
	for _, obs := range res.Observations {
		log.Printf("cycle %3d: true %.1f°, detection %.1f° / %.1f m (mag %.2f)",
			cycleNum, trueBearing, obs.BearingDeg, obs.RangeMetres, obs.Magnitude)
	}
	for _, tr := range res.ConfirmedTracks {
		label := tr.Label
		if label == "" {
			label = "unclassified"
		}
		log.Printf("          track %d [%s]: pos (%.1f, %.1f), %.2f m/s heading %.0f°, %d obs",
			tr.ID, label, tr.X, tr.Y, tr.Speed(), units.RadToDeg(tr.Heading()), tr.ObservationCount)
	}
}

func printSummary(tracker *track.Tracker) {
	total, tentative, confirmed, deleted := tracker.TrackCount()
	fmt.Println()
	log.Printf("done: %d tracks (%d tentative, %d confirmed, %d deleted)", total, tentative, confirmed, deleted)
	for _, tr := range tracker.Tracks() {
		log.Printf("  track %d: state=%s obs=%d last pos (%.1f, %.1f) range %.1f m bearing %.1f°",
			tr.ID, tr.State, tr.ObservationCount, tr.X, tr.Y, tr.LastRangeMetres, tr.LastBearingDeg)
	}
}
