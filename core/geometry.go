package core

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"github.com/tzneal/coordconv"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/tagtrack/model"
)

// minBaseline is the smallest station separation, in metres, that still
// yields a usable local frame.
const minBaseline = 1e-3

// ErrDegenerateFrame is returned when the stations of a triple coincide or
// are collinear.
var ErrDegenerateFrame = errors.New("core: degenerate station frame")

// StationFrame is the local Cartesian frame of a station triple. Station A
// is the origin and station B lies on the positive x axis.
type StationFrame struct {
	IDs [3]model.StationID
	// Local coordinates of stations A, B and C, in metres.
	A, B, C r2.Vec
	// Theta is the bearing of A->B in the projected plane, in radians.
	Theta float64
	// Depth is the shared station depth, in metres.
	Depth float64

	origin coordconv.UTMCoord
}

// NewStationFrame projects three station coordinates to UTM (in the zone of
// station A) and builds the local frame.
func NewStationFrame(ids [3]model.StationID, pos [3]model.LatLong, depth float64) (*StationFrame, error) {
	a, err := toUTM(pos[0], 0)
	if err != nil {
		return nil, fmt.Errorf("station %d: %w", ids[0], err)
	}
	b, err := toUTM(pos[1], a.Zone)
	if err != nil {
		return nil, fmt.Errorf("station %d: %w", ids[1], err)
	}
	c, err := toUTM(pos[2], a.Zone)
	if err != nil {
		return nil, fmt.Errorf("station %d: %w", ids[2], err)
	}

	ab := r2.Vec{X: b.Easting - a.Easting, Y: b.Northing - a.Northing}
	ac := r2.Vec{X: c.Easting - a.Easting, Y: c.Northing - a.Northing}
	return newFrame(ids, a, ab, ac, depth)
}

func newFrame(ids [3]model.StationID, origin coordconv.UTMCoord, ab, ac r2.Vec, depth float64) (*StationFrame, error) {
	baseline := r2.Norm(ab)
	if baseline < minBaseline {
		return nil, fmt.Errorf("%w: stations %d and %d coincide", ErrDegenerateFrame, ids[0], ids[1])
	}
	theta := math.Atan2(ab.Y, ab.X)
	c := r2.Rotate(ac, -theta, r2.Vec{})
	if math.Abs(c.Y) < minBaseline {
		return nil, fmt.Errorf("%w: stations %v are collinear", ErrDegenerateFrame, ids)
	}
	return &StationFrame{
		IDs:    ids,
		B:      r2.Vec{X: baseline},
		C:      c,
		Theta:  theta,
		Depth:  depth,
		origin: origin,
	}, nil
}

// Stations returns the local positions of A, B and C.
func (f *StationFrame) Stations() [3]r2.Vec {
	return [3]r2.Vec{f.A, f.B, f.C}
}

// Index returns the position of a station id inside the frame.
func (f *StationFrame) Index(id model.StationID) (int, bool) {
	for i, s := range f.IDs {
		if s == id {
			return i, true
		}
	}
	return 0, false
}

// Local converts a geographic coordinate into the frame.
func (f *StationFrame) Local(ll model.LatLong) (r2.Vec, error) {
	u, err := toUTM(ll, f.origin.Zone)
	if err != nil {
		return r2.Vec{}, err
	}
	d := r2.Vec{X: u.Easting - f.origin.Easting, Y: u.Northing - f.origin.Northing}
	return r2.Rotate(d, -f.Theta, r2.Vec{}), nil
}

// ToGeodetic converts a local position back to latitude and longitude.
func (f *StationFrame) ToGeodetic(x, y float64) (model.LatLong, error) {
	sin, cos := math.Sincos(f.Theta)
	u := f.origin
	u.Easting = cos*x - sin*y + f.origin.Easting
	u.Northing = sin*x + cos*y + f.origin.Northing
	ll, err := coordconv.DefaultUTMConverter.ConvertToGeodetic(u)
	if err != nil {
		return model.LatLong{}, fmt.Errorf("utm to geodetic: %w", err)
	}
	return model.LatLong{Latitude: ll.Lat.Degrees(), Longitude: ll.Lng.Degrees()}, nil
}

// toUTM projects ll, forcing zone when it is non-zero.
func toUTM(ll model.LatLong, zone int) (coordconv.UTMCoord, error) {
	u, err := coordconv.DefaultUTMConverter.ConvertFromGeodetic(s2.LatLngFromDegrees(ll.Latitude, ll.Longitude), zone)
	if err != nil {
		return coordconv.UTMCoord{}, fmt.Errorf("geodetic to utm (%.6f, %.6f): %w", ll.Latitude, ll.Longitude, err)
	}
	return u, nil
}

// planarDistance is the horizontal distance between two local points.
func planarDistance(p, q r2.Vec) float64 {
	return r2.Norm(r2.Sub(p, q))
}
