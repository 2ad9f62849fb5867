package beamform_test

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/tidewater-data/contact.report/internal/sonar/array"
	"github.com/tidewater-data/contact.report/internal/sonar/beamform"
	"github.com/tidewater-data/contact.report/internal/testutil"
)

const (
	testFreq       = 3000.0
	testSampleRate = 48000.0
	testSoundSpeed = 1500.0
	testSamples    = 256 // integer number of carrier periods at 3 kHz / 48 kHz
)

// beamRMS returns the root-mean-square magnitude of a complex beam series.
func beamRMS(beam []complex128) float64 {
	var sum float64
	for _, v := range beam {
		m := cmplx.Abs(v)
		sum += m * m
	}
	return math.Sqrt(sum / float64(len(beam)))
}

func TestDelayAndSumValidation(t *testing.T) {
	geom, err := array.NewSphericalGeometry(8, 0.5)
	testutil.AssertNoError(t, err)

	t.Run("nil snapshot", func(t *testing.T) {
		_, err := beamform.DelayAndSum(nil, geom, 0, 0, testFreq, testSoundSpeed)
		if !errors.Is(err, beamform.ErrEmptyInput) {
			t.Errorf("err = %v, want ErrEmptyInput", err)
		}
	})

	t.Run("element count mismatch", func(t *testing.T) {
		snap := &beamform.Snapshot{
			Data:       [][]float64{{1, 2}, {3, 4}}, // 2 channels for 8 elements
			SampleRate: testSampleRate,
		}
		_, err := beamform.DelayAndSum(snap, geom, 0, 0, testFreq, testSoundSpeed)
		if !errors.Is(err, beamform.ErrDimensionMismatch) {
			t.Errorf("err = %v, want ErrDimensionMismatch", err)
		}
	})

	t.Run("zero samples", func(t *testing.T) {
		data := make([][]float64, 8)
		for i := range data {
			data[i] = []float64{}
		}
		snap := &beamform.Snapshot{Data: data, SampleRate: testSampleRate}
		_, err := beamform.DelayAndSum(snap, geom, 0, 0, testFreq, testSoundSpeed)
		if !errors.Is(err, beamform.ErrEmptyInput) {
			t.Errorf("err = %v, want ErrEmptyInput", err)
		}
	})

	t.Run("ragged channels", func(t *testing.T) {
		data := make([][]float64, 8)
		for i := range data {
			data[i] = make([]float64, 16)
		}
		data[3] = make([]float64, 15)
		snap := &beamform.Snapshot{Data: data, SampleRate: testSampleRate}
		_, err := beamform.DelayAndSum(snap, geom, 0, 0, testFreq, testSoundSpeed)
		if !errors.Is(err, beamform.ErrDimensionMismatch) {
			t.Errorf("err = %v, want ErrDimensionMismatch", err)
		}
	})
}

func TestDelayAndSumOutputLength(t *testing.T) {
	geom, err := array.NewSphericalGeometry(8, 0.5)
	testutil.AssertNoError(t, err)

	snap := testutil.PlaneWaveSnapshot(geom, 45, 0, testFreq, testSampleRate, testSoundSpeed, testSamples)
	beam, err := beamform.DelayAndSum(snap, geom, 45, 0, testFreq, testSoundSpeed)
	testutil.AssertNoError(t, err)
	if len(beam) != testSamples {
		t.Errorf("beam length = %d, want %d", len(beam), testSamples)
	}
}

func TestDelayAndSumDirectionality(t *testing.T) {
	// A plane wave from bearing θ must produce a strictly higher beam
	// response at θ than at θ+90°.
	geom, err := array.NewSphericalGeometry(16, 0.5)
	testutil.AssertNoError(t, err)

	const trueBearing = 45.0
	snap := testutil.PlaneWaveSnapshot(geom, trueBearing, 0, testFreq, testSampleRate, testSoundSpeed, testSamples)

	onTarget, err := beamform.DelayAndSum(snap, geom, trueBearing, 0, testFreq, testSoundSpeed)
	testutil.AssertNoError(t, err)
	offTarget, err := beamform.DelayAndSum(snap, geom, trueBearing+90, 0, testFreq, testSoundSpeed)
	testutil.AssertNoError(t, err)

	if on, off := beamRMS(onTarget), beamRMS(offTarget); on <= off {
		t.Errorf("on-target RMS %v not greater than off-target RMS %v", on, off)
	}
}

func TestDelayAndSumTranslationInvariance(t *testing.T) {
	// The beam amplitude toward the true look direction must not change
	// when the whole array is translated: only inter-element geometry
	// matters, not the array's absolute position.
	geom, err := array.NewSphericalGeometry(8, 0.5)
	testutil.AssertNoError(t, err)

	const az, el = 30.0, 0.0
	base := testutil.PlaneWaveSnapshot(geom, az, el, testFreq, testSampleRate, testSoundSpeed, testSamples)
	baseBeam, err := beamform.DelayAndSum(base, geom, az, el, testFreq, testSoundSpeed)
	testutil.AssertNoError(t, err)

	t.Run("perpendicular shift", func(t *testing.T) {
		// el=0 means the look direction has no Z component, so a Z shift
		// leaves every propagation phase untouched.
		shifted := geom.Translate(0, 0, 25)
		snap := testutil.PlaneWaveSnapshot(shifted, az, el, testFreq, testSampleRate, testSoundSpeed, testSamples)
		beam, err := beamform.DelayAndSum(snap, shifted, az, el, testFreq, testSoundSpeed)
		testutil.AssertNoError(t, err)
		testutil.ApproxEqual(t, beamRMS(beam), beamRMS(baseBeam), 1e-9)
	})

	t.Run("general shift", func(t *testing.T) {
		shifted := geom.Translate(13.7, -4.2, 8.9)
		snap := testutil.PlaneWaveSnapshot(shifted, az, el, testFreq, testSampleRate, testSoundSpeed, testSamples)
		beam, err := beamform.DelayAndSum(snap, shifted, az, el, testFreq, testSoundSpeed)
		testutil.AssertNoError(t, err)
		testutil.ApproxEqual(t, beamRMS(beam), beamRMS(baseBeam), 1e-9)
	})
}

func TestDelayAndSumRejectsNonFinite(t *testing.T) {
	geom, err := array.NewSphericalGeometry(2, 0.5)
	testutil.AssertNoError(t, err)

	snap := &beamform.Snapshot{
		Data: [][]float64{
			{1, math.NaN(), 3},
			{4, 5, 6},
		},
		SampleRate: testSampleRate,
	}
	_, err = beamform.DelayAndSum(snap, geom, 0, 0, testFreq, testSoundSpeed)
	if !errors.Is(err, beamform.ErrNonFinite) {
		t.Errorf("err = %v, want ErrNonFinite", err)
	}
}
