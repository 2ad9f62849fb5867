// Package testutil provides shared test utilities and signal fixtures.
//
// This package centralises common test helpers and the synthetic plane-wave
// snapshots used by beamforming and pipeline tests, so the acoustic
// scaffolding lives in one place instead of being duplicated per package.
package testutil

import (
	"math"
	"math/rand"
	"testing"

	"github.com/tidewater-data/contact.report/internal/sonar/array"
	"github.com/tidewater-data/contact.report/internal/sonar/beamform"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ApproxEqual checks that got is within relative tolerance of want.
// For want == 0 the comparison falls back to an absolute tolerance.
func ApproxEqual(t *testing.T, got, want, relTol float64) {
	t.Helper()
	if want == 0 {
		if math.Abs(got) > relTol {
			t.Errorf("got %v, want ~0 (tol %v)", got, relTol)
		}
		return
	}
	if math.Abs(got-want) > relTol*math.Abs(want) {
		t.Errorf("got %v, want %v (rel tol %v)", got, want, relTol)
	}
}

// Tone returns n samples of a unit-amplitude cosine at freqHz.
func Tone(freqHz, sampleRate float64, n int) []float64 {
	out := make([]float64, n)
	for t := range out {
		out[t] = math.Cos(2 * math.Pi * freqHz * float64(t) / sampleRate)
	}
	return out
}

// ToneBurst returns n samples that are zero except for a cosine burst of
// burstLen samples starting at start.
func ToneBurst(freqHz, sampleRate float64, n, start, burstLen int) []float64 {
	out := make([]float64, n)
	for t := start; t < start+burstLen && t < n; t++ {
		if t < 0 {
			continue
		}
		out[t] = math.Cos(2 * math.Pi * freqHz * float64(t-start) / sampleRate)
	}
	return out
}

// PlaneWaveSnapshot synthesises a continuous narrowband plane wave arriving
// from (azDeg, elDeg). Element i carries cos(2πf·t/fs + k·pᵢ·u): the phase
// advance matches the geometric arrival-time differences across the array, so
// a correctly steered beamformer sums the channels coherently.
func PlaneWaveSnapshot(geom *array.Geometry, azDeg, elDeg, freqHz, sampleRate, soundSpeed float64, nSamples int) *beamform.Snapshot {
	u := array.LookDirection(azDeg, elDeg)
	k := 2 * math.Pi * freqHz / soundSpeed

	data := make([][]float64, geom.NumElements())
	for i := range data {
		p := geom.At(i)
		phase := k * (p.X*u.X + p.Y*u.Y + p.Z*u.Z)
		ch := make([]float64, nSamples)
		for t := range ch {
			ch[t] = math.Cos(2*math.Pi*freqHz*float64(t)/sampleRate + phase)
		}
		data[i] = ch
	}
	return &beamform.Snapshot{Data: data, SampleRate: sampleRate}
}

// PlaneWaveBurstSnapshot synthesises a tone burst arriving from
// (azDeg, elDeg): every element shares the burst envelope starting at
// startSample, with per-element carrier phases matching the array geometry
// (narrowband approximation of the sub-sample arrival offsets). Optional
// Gaussian noise of the given standard deviation is added per channel from a
// fixed-seed source so tests stay deterministic.
func PlaneWaveBurstSnapshot(geom *array.Geometry, azDeg, elDeg, freqHz, sampleRate, soundSpeed float64, nSamples, startSample, burstLen int, noiseStd float64) *beamform.Snapshot {
	u := array.LookDirection(azDeg, elDeg)
	k := 2 * math.Pi * freqHz / soundSpeed
	rng := rand.New(rand.NewSource(42))

	data := make([][]float64, geom.NumElements())
	for i := range data {
		p := geom.At(i)
		phase := k * (p.X*u.X + p.Y*u.Y + p.Z*u.Z)
		ch := make([]float64, nSamples)
		for t := startSample; t < startSample+burstLen && t < nSamples; t++ {
			if t < 0 {
				continue
			}
			ch[t] = math.Cos(2*math.Pi*freqHz*float64(t-startSample)/sampleRate + phase)
		}
		if noiseStd > 0 {
			for t := range ch {
				ch[t] += rng.NormFloat64() * noiseStd
			}
		}
		data[i] = ch
	}
	return &beamform.Snapshot{Data: data, SampleRate: sampleRate}
}
