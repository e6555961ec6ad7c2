package core

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/tagtrack/model"
)

// SpeedOfSound is the propagation speed used for range differences, in m/s.
const SpeedOfSound = 1500.0

// zeroRange is the range difference, in metres, treated as exactly zero.
const zeroRange = 1e-9

// Timestamps are the arrival times at stations A, B and C of a frame.
type Timestamps [3]model.ArrivalTime

// Candidate is a tag position in a station frame, in metres.
type Candidate struct {
	X, Y, Z float64
}

// Vec returns the horizontal components of c.
func (c Candidate) Vec() r2.Vec { return r2.Vec{X: c.X, Y: c.Y} }

// delta returns t[i] - t[j] in seconds without going through absolute
// fractional epoch time.
func (t Timestamps) delta(i, j int) float64 {
	return float64(t[i].Second-t[j].Second) + float64(t[i].Millisecond-t[j].Millisecond)/1000
}

// RangeDifferences returns v*(Ta-Tb) and v*(Ta-Tc).
func RangeDifferences(t Timestamps) (rab, rac float64) {
	return SpeedOfSound * t.delta(0, 1), SpeedOfSound * t.delta(0, 2)
}

// Solve returns the candidate positions of a tag heard at the given arrival
// times, z metres above (positive) or below (negative) the station plane.
func Solve(f *StationFrame, t Timestamps, z float64) []Candidate {
	rab, rac := RangeDifferences(t)
	return SolveRanges(f, rab, rac, z)
}

// SolveRanges solves the two-difference hyperbolic fix of Fang (1989) for
// range differences rab = dA-dB and rac = dA-dC. It returns zero, one or two
// candidates; complex roots are discarded.
func SolveRanges(f *StationFrame, rab, rac, z float64) []Candidate {
	b := f.B.X
	cx, cy := f.C.X, f.C.Y
	c2 := cx*cx + cy*cy

	switch {
	case math.Abs(rab) > zeroRange:
		brab := b / rab
		k := 1 - brab*brab
		g := (rac*brab - cx) / cy
		h := (c2 - rac*rac + rac*rab*k) / (2 * cy)
		d := -(k + g*g)
		e := b*k - 2*g*h
		ff := rab*rab/4*k*k - h*h

		xs := quadraticRoots(d, e, ff-z*z)
		out := make([]Candidate, 0, len(xs))
		for _, x := range xs {
			out = append(out, Candidate{X: x, Y: g*x + h, Z: z})
		}
		return out

	case math.Abs(rac) <= zeroRange:
		x := b / 2
		return []Candidate{{X: x, Y: (c2 - 2*cx*x) / (2 * cy), Z: z}}

	default:
		x := b / 2
		q := rac*rac - c2 + 2*cx*x
		a2 := 4 * (cy*cy - rac*rac)
		a1 := 4 * cy * q
		a0 := q*q - 4*rac*rac*(x*x+z*z)

		ys := quadraticRoots(a2, a1, a0)
		out := make([]Candidate, 0, len(ys))
		for _, y := range ys {
			out = append(out, Candidate{X: x, Y: y, Z: z})
		}
		return out
	}
}

// quadraticRoots returns the real roots of a*x^2 + b*x + c, smallest first.
func quadraticRoots(a, b, c float64) []float64 {
	if a == 0 {
		if b == 0 {
			return nil
		}
		return []float64{-c / b}
	}
	disc := b*b - 4*a*c
	switch {
	case disc < 0:
		return nil
	case disc == 0:
		return []float64{-b / (2 * a)}
	}
	// Avoids cancellation between -b and sqrt(disc).
	sq := math.Sqrt(disc)
	qq := -0.5 * (b + math.Copysign(sq, b))
	x1, x2 := qq/a, c/qq
	if qq == 0 {
		x2 = x1
	}
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	return []float64{x1, x2}
}
