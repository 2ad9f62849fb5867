package beamform

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/tidewater-data/contact.report/internal/sonar/array"
	"github.com/tidewater-data/contact.report/internal/units"
)

// minPivot is the smallest pivot magnitude accepted during elimination.
// Below this the regularized covariance is treated as singular.
const minPivot = 1e-15

// FrequencyBin maps a target frequency to the nearest real-FFT bin index for
// a capture of nSamples at sampleRate. The result is clamped to the valid
// coefficient range [0, nSamples/2]. Degenerate inputs (no samples, unknown
// sample rate) fall back to bin 0 so callers always get a usable index.
func FrequencyBin(freqHz, sampleRate float64, nSamples int) int {
	if nSamples <= 1 || sampleRate <= 0 || freqHz < 0 {
		return 0
	}
	binWidth := sampleRate / float64(nSamples)
	bin := int(math.Round(freqHz / binWidth))
	if bin < 0 {
		bin = 0
	}
	if max := nSamples / 2; bin > max {
		bin = max
	}
	return bin
}

// MVDR applies the minimum-variance-distortionless-response beamformer at the
// narrowband frequency freqHz: it estimates a single-bin spatial covariance
// from the snapshot's frequency-domain transform, regularizes it with
// reg·identity, solves R·w = s directly (no explicit inverse), normalises the
// weights for unit gain toward the look direction, and applies wᴴ across the
// raw time series. Output length equals the snapshot's sample length.
//
// Conditioning: the single-snapshot covariance is rank one, so reg > 0 is what
// makes the system solvable; reg also bounds the condition number of R. A
// solve that still collapses reports ErrSingularCovariance.
func MVDR(snap *Snapshot, geom *array.Geometry, azDeg, elDeg, freqHz, reg float64) ([]complex128, error) {
	if err := validate(snap, geom); err != nil {
		return nil, err
	}

	m := snap.NumElements()
	n := snap.NumSamples()

	// Single-bin frequency snapshot per element.
	bin := FrequencyBin(freqHz, snap.SampleRate, n)
	fft := fourier.NewFFT(n)
	coeffs := make([]complex128, fft.Len()/2+1)
	x := make([]complex128, m)
	for i, ch := range snap.Data {
		fft.Coefficients(coeffs, ch)
		x[i] = coeffs[bin]
	}

	// Spatial covariance R = x·xᴴ + reg·I.
	r := make([][]complex128, m)
	for i := range r {
		r[i] = make([]complex128, m)
		for j := range r[i] {
			r[i][j] = x[i] * cmplx.Conj(x[j])
		}
		r[i][i] += complex(reg, 0)
	}

	s := geom.SteeringVector(azDeg, elDeg, freqHz, units.DefaultSoundSpeedMps)

	// Solve R·w = s, then impose the distortionless constraint wᴴ·s = 1.
	w, err := solveLinear(r, s)
	if err != nil {
		return nil, err
	}
	var denom complex128
	for i := range s {
		denom += cmplx.Conj(s[i]) * w[i]
	}
	if cmplx.Abs(denom) < minPivot {
		return nil, fmt.Errorf("%w: degenerate distortionless constraint", ErrSingularCovariance)
	}
	for i := range w {
		w[i] /= denom
	}

	// Apply wᴴ to the raw snapshot.
	out := make([]complex128, n)
	for i, ch := range snap.Data {
		wc := cmplx.Conj(w[i])
		wr := real(wc)
		wi := imag(wc)
		for t, v := range ch {
			out[t] += complex(v*wr, v*wi)
		}
	}

	if err := checkFinite(out); err != nil {
		return nil, err
	}
	return out, nil
}

// solveLinear performs complex Gaussian elimination with partial pivoting on
// a copy of the system a·x = b. Returns ErrSingularCovariance when no usable
// pivot remains.
func solveLinear(a [][]complex128, b []complex128) ([]complex128, error) {
	n := len(a)

	// Work on copies; callers keep their matrices.
	m := make([][]complex128, n)
	for i := range m {
		m[i] = make([]complex128, n)
		copy(m[i], a[i])
	}
	x := make([]complex128, n)
	copy(x, b)

	for col := 0; col < n; col++ {
		// Partial pivot: largest magnitude in this column.
		pivot := col
		best := cmplx.Abs(m[col][col])
		for row := col + 1; row < n; row++ {
			if mag := cmplx.Abs(m[row][col]); mag > best {
				best = mag
				pivot = row
			}
		}
		if best < minPivot {
			return nil, fmt.Errorf("%w: pivot %d below %g", ErrSingularCovariance, col, minPivot)
		}
		m[col], m[pivot] = m[pivot], m[col]
		x[col], x[pivot] = x[pivot], x[col]

		inv := 1 / m[col][col]
		for row := col + 1; row < n; row++ {
			factor := m[row][col] * inv
			if factor == 0 {
				continue
			}
			for k := col; k < n; k++ {
				m[row][k] -= factor * m[col][k]
			}
			x[row] -= factor * x[col]
		}
	}

	// Back substitution.
	for row := n - 1; row >= 0; row-- {
		acc := x[row]
		for k := row + 1; k < n; k++ {
			acc -= m[row][k] * x[k]
		}
		x[row] = acc / m[row][row]
	}

	return x, nil
}
