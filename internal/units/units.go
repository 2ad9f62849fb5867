// Package units provides shared acoustic constants and angle/range conversions.
package units

import "math"

// DefaultSoundSpeedMps is the nominal speed of sound in seawater.
// Database and pipeline code store ranges in metres computed against this
// value unless a measured sound-speed profile is supplied.
const DefaultSoundSpeedMps = 1500.0

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// NormalizeBearingDeg wraps a bearing into [0, 360).
func NormalizeBearingDeg(deg float64) float64 {
	deg = math.Mod(deg, 360.0)
	if deg < 0 {
		deg += 360.0
	}
	return deg
}

// BearingDiffDeg returns the smallest absolute angular difference between two
// bearings, in [0, 180].
func BearingDiffDeg(a, b float64) float64 {
	d := math.Abs(NormalizeBearingDeg(a) - NormalizeBearingDeg(b))
	if d > 180.0 {
		d = 360.0 - d
	}
	return d
}

// RoundTripRangeMetres converts a round-trip delay in samples to a one-way
// range in metres.
func RoundTripRangeMetres(delaySamples int, sampleRate float64, soundSpeed float64) float64 {
	if delaySamples <= 0 || sampleRate <= 0 {
		return 0
	}
	delaySecs := float64(delaySamples) / sampleRate
	return delaySecs * soundSpeed / 2.0
}
