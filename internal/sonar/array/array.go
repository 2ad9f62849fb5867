// Package array provides hydrophone array geometry and steering vector
// computation. A Geometry is an immutable value constructed once and passed to
// the beamforming layer; the same constructor inputs always produce the same
// sensor layout so beam patterns are reproducible across runs.
package array

import (
	"errors"
	"fmt"
	"math"
)

// Errors returned by geometry construction.
var (
	ErrInvalidElementCount = errors.New("array: element count must be positive")
	ErrInvalidRadius       = errors.New("array: radius must be positive")
)

// Position is a sensor location in metres, array frame.
type Position struct {
	X, Y, Z float64
}

// Geometry is an ordered, fixed set of sensor positions. The zero value is
// not usable; construct with NewSphericalGeometry.
type Geometry struct {
	positions []Position
	radius    float64
}

// NewSphericalGeometry places numElements sensors approximately uniformly on a
// sphere of the given radius using a golden-angle (Fibonacci) lattice: the
// polar angle comes from a cumulative-latitude formula and the azimuth
// advances by the golden angle per index. The layout is deterministic.
func NewSphericalGeometry(numElements int, radius float64) (*Geometry, error) {
	if numElements <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidElementCount, numElements)
	}
	if radius <= 0 {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidRadius, radius)
	}

	goldenAngle := math.Pi * (1 + math.Sqrt(5))

	positions := make([]Position, numElements)
	for i := range positions {
		idx := float64(i) + 0.5
		polar := math.Acos(1 - 2*idx/float64(numElements))
		azimuth := goldenAngle * idx

		sinPolar := math.Sin(polar)
		positions[i] = Position{
			X: radius * sinPolar * math.Cos(azimuth),
			Y: radius * sinPolar * math.Sin(azimuth),
			Z: radius * math.Cos(polar),
		}
	}

	return &Geometry{positions: positions, radius: radius}, nil
}

// NumElements returns the number of sensors in the array.
func (g *Geometry) NumElements() int {
	return len(g.positions)
}

// Radius returns the construction radius in metres.
func (g *Geometry) Radius() float64 {
	return g.radius
}

// At returns the position of element i.
func (g *Geometry) At(i int) Position {
	return g.positions[i]
}

// Positions returns a copy of the sensor layout. Callers may mutate the
// returned slice freely.
func (g *Geometry) Positions() []Position {
	out := make([]Position, len(g.positions))
	copy(out, g.positions)
	return out
}

// Translate returns a new Geometry with every sensor shifted by (dx, dy, dz).
// Beam output magnitude toward any look direction is invariant under this
// operation; it exists so array mounting offsets can be applied without
// regenerating the lattice.
func (g *Geometry) Translate(dx, dy, dz float64) *Geometry {
	positions := make([]Position, len(g.positions))
	for i, p := range g.positions {
		positions[i] = Position{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
	}
	return &Geometry{positions: positions, radius: g.radius}
}

// LookDirection converts an (azimuth, elevation) pair in degrees to a unit
// direction vector via the standard spherical-to-Cartesian convention.
func LookDirection(azDeg, elDeg float64) Position {
	az := azDeg * math.Pi / 180.0
	el := elDeg * math.Pi / 180.0
	cosEl := math.Cos(el)
	return Position{
		X: cosEl * math.Cos(az),
		Y: cosEl * math.Sin(az),
		Z: math.Sin(el),
	}
}

// SteeringVector returns one unit-magnitude complex weight per element for the
// given look direction and frequency. The phase of element i is
// −(2π·freq/c)·(pᵢ · u) where u is the unit look direction, compensating the
// geometric propagation delay toward that direction.
func (g *Geometry) SteeringVector(azDeg, elDeg, freqHz, soundSpeed float64) []complex128 {
	u := LookDirection(azDeg, elDeg)
	k := 2 * math.Pi * freqHz / soundSpeed

	sv := make([]complex128, len(g.positions))
	for i, p := range g.positions {
		phase := -k * (p.X*u.X + p.Y*u.Y + p.Z*u.Z)
		sv[i] = complex(math.Cos(phase), math.Sin(phase))
	}
	return sv
}
