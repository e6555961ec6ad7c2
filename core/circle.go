package core

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/tagtrack/model"
)

// ErrCollinear is returned by CircleFromPoints for points on a line.
var ErrCollinear = errors.New("core: points are collinear")

// collinearEpsilon bounds the doubled triangle area, in square metres,
// below which three points are treated as collinear.
const collinearEpsilon = 1e-9

// CircleFromPoints returns the circle through three planar points.
func CircleFromPoints(p0, p1, p2 r2.Vec) (model.Circle, error) {
	m0, m1, m2 := r2.Norm2(p0), r2.Norm2(p1), r2.Norm2(p2)

	a := p0.X*(p1.Y-p2.Y) - p0.Y*(p1.X-p2.X) + p1.X*p2.Y - p2.X*p1.Y
	if math.Abs(a) < collinearEpsilon {
		return model.Circle{}, ErrCollinear
	}
	b := m0*(p2.Y-p1.Y) + m1*(p0.Y-p2.Y) + m2*(p1.Y-p0.Y)
	c := m0*(p1.X-p2.X) + m1*(p2.X-p0.X) + m2*(p0.X-p1.X)

	center := r2.Vec{X: -b / (2 * a), Y: -c / (2 * a)}
	return model.Circle{
		CenterX: center.X,
		CenterY: center.Y,
		Radius:  planarDistance(center, p0),
	}, nil
}

// StationCircle is the circle through the three stations of a frame, used
// as a geofence when a cage has no surveyed one.
func (f *StationFrame) StationCircle() (model.Circle, error) {
	return CircleFromPoints(f.A, f.B, f.C)
}
