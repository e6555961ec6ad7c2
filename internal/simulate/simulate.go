// Package simulate generates the frames a triple of stations would report
// for a synthetic tag moving inside a cage.
package simulate

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/tagtrack/core"
	"github.com/signalsfoundry/tagtrack/model"
	"github.com/signalsfoundry/tagtrack/telemetry"
)

// ErrUnsupportedTag is returned for tags whose protocol carries no sensor
// data.
var ErrUnsupportedTag = errors.New("simulate: tag protocol carries no depth data")

// Station is a receiver taking part in the simulation.
type Station struct {
	ID       model.StationID
	Position model.LatLong
}

// Tag is the simulated depth tag.
type Tag struct {
	ID          uint32
	Band        int
	Protocol    model.Protocol
	Calibration float64
}

// Orbit moves a tag around Center at Radius metres, completing one lap per
// Period, while its depth swings by DepthSwing around Depth.
type Orbit struct {
	Center     r2.Vec
	Radius     float64
	Period     time.Duration
	Depth      float64
	DepthSwing float64
}

// At returns the local position and depth of the tag after elapsed.
func (o Orbit) At(elapsed time.Duration) (r2.Vec, float64) {
	if o.Period <= 0 {
		return o.Center, o.Depth
	}
	phase := 2 * math.Pi * float64(elapsed%o.Period) / float64(o.Period)
	p := r2.Add(o.Center, r2.Rotate(r2.Vec{X: o.Radius}, phase, r2.Vec{}))
	return p, o.Depth + o.DepthSwing*math.Sin(phase)
}

// Emitter turns tag transmissions into station frames.
type Emitter struct {
	stations  [3]Station
	tag       Tag
	cageDepth float64
	frame     *core.StationFrame
	// SNR is reported on every detection.
	SNR uint8
	// PDOP is reported in every GPS slice.
	PDOP float64
}

// NewEmitter builds the station frame from the coordinates stations report
// over GPS, rounded to the 1e-5 degree resolution of the GPS slice.
func NewEmitter(stations [3]Station, cageDepth float64, tag Tag) (*Emitter, error) {
	if tag.Protocol.DataFields() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTag, tag.Protocol)
	}
	var (
		ids [3]model.StationID
		pos [3]model.LatLong
	)
	for i := range stations {
		stations[i].Position = quantize(stations[i].Position)
		ids[i] = stations[i].ID
		pos[i] = stations[i].Position
	}
	frame, err := core.NewStationFrame(ids, pos, cageDepth)
	if err != nil {
		return nil, err
	}
	return &Emitter{
		stations:  stations,
		tag:       tag,
		cageDepth: cageDepth,
		frame:     frame,
		SNR:       30,
		PDOP:      1.2,
	}, nil
}

// Frame returns the local frame of the station triple.
func (e *Emitter) Frame() *core.StationFrame { return e.frame }

// Stations returns the stations with their reported coordinates.
func (e *Emitter) Stations() [3]Station { return e.stations }

// Arrivals returns the millisecond arrival times at each station of a
// transmission sent at t from local position p at depth metres.
func (e *Emitter) Arrivals(t time.Time, p r2.Vec, depth float64) [3]model.ArrivalTime {
	dz := depth - e.cageDepth
	var out [3]model.ArrivalTime
	for i, s := range e.frame.Stations() {
		dist := math.Hypot(r2.Norm(r2.Sub(p, s)), dz)
		at := t.Add(time.Duration(dist / core.SpeedOfSound * float64(time.Second))).Round(time.Millisecond)
		out[i] = model.ArrivalTime{Second: at.Unix(), Millisecond: at.Nanosecond() / int(time.Millisecond)}
	}
	return out
}

// RawDepth is the raw sensor value a tag reports for depth.
func (e *Emitter) RawDepth(depth float64) uint16 {
	v := depth
	if e.tag.Calibration != 0 {
		v = depth / e.tag.Calibration
	}
	limit := float64(math.MaxUint8)
	if e.tag.Protocol == model.ProtocolHS256 {
		limit = math.MaxUint16
	}
	return uint16(math.Max(0, math.Min(limit, math.Round(v))))
}

// Frames encodes one frame per station carrying the detection of a
// transmission at t. With withGPS each frame leads with the station's GPS
// slice stamped at the frame's reference second.
func (e *Emitter) Frames(t time.Time, p r2.Vec, depth float64, withGPS bool) ([3][]byte, error) {
	var out [3][]byte
	raw := e.RawDepth(depth)
	for i, at := range e.Arrivals(t, p, depth) {
		st := e.stations[i]
		b := telemetry.NewFrameBuilder(st.ID, at.Second)
		if withGPS {
			b.WithGPS(telemetry.GPSReport{
				Latitude:   st.Position.Latitude,
				Longitude:  st.Position.Longitude,
				PDOP:       e.PDOP,
				FixCode:    3,
				Satellites: 9,
			})
		}
		b.AddDetection(telemetry.Detection{
			Protocol:    e.tag.Protocol,
			Band:        e.tag.Band,
			TagID:       e.tag.ID,
			SNR:         e.SNR,
			Millisecond: at.Millisecond,
			RawData:     raw,
			RawData2:    raw,
		})
		frame, err := b.Bytes()
		if err != nil {
			return out, fmt.Errorf("station %d: %w", st.ID, err)
		}
		out[i] = frame
	}
	return out, nil
}

func quantize(ll model.LatLong) model.LatLong {
	return model.LatLong{
		Latitude:  math.Round(ll.Latitude*1e5) / 1e5,
		Longitude: math.Round(ll.Longitude*1e5) / 1e5,
	}
}
