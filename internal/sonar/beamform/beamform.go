// Package beamform combines phase-aligned hydrophone channels to emphasise
// energy arriving from a chosen direction. Two beamformers are provided: a
// conventional delay-and-sum with unbiased gain toward the look direction and
// a narrowband adaptive MVDR that suppresses interference at the cost of a
// covariance estimate and a linear solve per look direction.
package beamform

import (
	"errors"
	"fmt"
	"math"

	"github.com/tidewater-data/contact.report/internal/sonar/array"
)

// Errors returned by beamforming functions.
var (
	ErrEmptyInput        = errors.New("beamform: empty snapshot")
	ErrDimensionMismatch = errors.New("beamform: snapshot/geometry element count mismatch")
	ErrSingularCovariance = errors.New("beamform: covariance not invertible after regularization")
	ErrNonFinite         = errors.New("beamform: non-finite beam output")
)

// Snapshot is one multi-channel capture from the array: Data[element][sample]
// float amplitudes at a known sample rate. Snapshots are supplied each cycle
// by an external acquisition component and are not retained by this package.
type Snapshot struct {
	Data       [][]float64
	SampleRate float64
}

// NumElements returns the channel count of the snapshot.
func (s *Snapshot) NumElements() int {
	return len(s.Data)
}

// NumSamples returns the per-channel sample count, or 0 for an empty snapshot.
func (s *Snapshot) NumSamples() int {
	if len(s.Data) == 0 {
		return 0
	}
	return len(s.Data[0])
}

// validate checks the snapshot/geometry contract shared by both beamformers:
// the snapshot must be non-empty, rectangular, and carry exactly one channel
// per array element.
func validate(snap *Snapshot, geom *array.Geometry) error {
	if snap == nil || len(snap.Data) == 0 {
		return ErrEmptyInput
	}
	if len(snap.Data) != geom.NumElements() {
		return fmt.Errorf("%w: %d channels for %d elements", ErrDimensionMismatch, len(snap.Data), geom.NumElements())
	}
	n := len(snap.Data[0])
	if n == 0 {
		return fmt.Errorf("%w: zero samples", ErrEmptyInput)
	}
	for i, ch := range snap.Data {
		if len(ch) != n {
			return fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d", ErrDimensionMismatch, i, len(ch), n)
		}
	}
	return nil
}

// DelayAndSum applies the conventional linear beamformer: each channel is
// weighted by the conjugate steering weight for the look direction, summed,
// and normalised by the element count. Output length equals the snapshot's
// sample length. The beam is returned as a complex series so downstream
// envelope extraction keeps the full phase information.
func DelayAndSum(snap *Snapshot, geom *array.Geometry, azDeg, elDeg, freqHz, soundSpeed float64) ([]complex128, error) {
	if err := validate(snap, geom); err != nil {
		return nil, err
	}

	sv := geom.SteeringVector(azDeg, elDeg, freqHz, soundSpeed)
	n := snap.NumSamples()
	scale := 1.0 / float64(len(snap.Data))

	out := make([]complex128, n)
	for i, ch := range snap.Data {
		// Data is real, so multiplying by the conjugate weight scales
		// both components by the sample value.
		wr := real(sv[i])
		wi := -imag(sv[i])
		for t, v := range ch {
			out[t] += complex(v*wr, v*wi)
		}
	}
	for t := range out {
		out[t] *= complex(scale, 0)
	}

	if err := checkFinite(out); err != nil {
		return nil, err
	}
	return out, nil
}

// checkFinite reports ErrNonFinite if any sample of the beam is NaN or ±Inf.
// Arithmetic faults must surface to the caller rather than flow into the
// detection statistics as silent zeros.
func checkFinite(beam []complex128) error {
	for t, v := range beam {
		if !isFinite(real(v)) || !isFinite(imag(v)) {
			return fmt.Errorf("%w: sample %d", ErrNonFinite, t)
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
