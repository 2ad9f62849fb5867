// Package detect turns beamformed time series into per-cycle detections:
// matched filtering against the transmitted pulse, CFAR and global
// thresholding, and the bearing-scan driver that ties them together.
package detect

import (
	"errors"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrEmptyInput reports a zero-length signal, template, or statistic array.
	ErrEmptyInput = errors.New("detect: empty input")
	// ErrInvalidProbability reports a false-alarm rate outside (0, 1).
	ErrInvalidProbability = errors.New("detect: false alarm rate must be in (0,1)")
)

// MatchedFilter cross-correlates received against template in full mode. The
// result has length len(received)+len(template)-1; the peak index estimates
// the round-trip delay of the template within the received series (range
// conversion is the caller's concern, see units.RoundTripRangeMetres).
//
// Correlating a signal against itself peaks at lag len(x)-1 with value
// sum(x²).
func MatchedFilter(received, template []float64) ([]float64, error) {
	n, m := len(received), len(template)
	if n == 0 || m == 0 {
		return nil, ErrEmptyInput
	}
	out := make([]float64, n+m-1)
	for k := range out {
		// shift of the template relative to the received series
		s := k - (m - 1)
		lo, hi := 0, n
		if s > lo {
			lo = s
		}
		if s+m < hi {
			hi = s + m
		}
		var acc float64
		for j := lo; j < hi; j++ {
			acc += received[j] * template[j-s]
		}
		out[k] = acc
	}
	return out, nil
}

// MatchedFilterEnvelope correlates a complex beamformed series against a real
// template and returns the magnitude of the correlation at each lag. This is
// the detection statistic used by the bearing scan.
func MatchedFilterEnvelope(received []complex128, template []float64) ([]float64, error) {
	n, m := len(received), len(template)
	if n == 0 || m == 0 {
		return nil, ErrEmptyInput
	}
	out := make([]float64, n+m-1)
	for k := range out {
		s := k - (m - 1)
		lo, hi := 0, n
		if s > lo {
			lo = s
		}
		if s+m < hi {
			hi = s + m
		}
		var acc complex128
		for j := lo; j < hi; j++ {
			acc += received[j] * complex(template[j-s], 0)
		}
		out[k] = cmplx.Abs(acc)
	}
	return out, nil
}

// PeakLag returns the index of the largest value in a correlation output, or
// -1 for an empty slice.
func PeakLag(corr []float64) int {
	if len(corr) == 0 {
		return -1
	}
	return floats.MaxIdx(corr)
}
