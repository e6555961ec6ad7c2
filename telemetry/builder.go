package telemetry

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/tagtrack/model"
	"github.com/signalsfoundry/tagtrack/wire"
)

// ErrGPSAfterRecords is returned when a GPS slice is added after records.
var ErrGPSAfterRecords = errors.New("telemetry: gps slice must precede records")

// GPSReport is the station position carried in a GPS frame.
type GPSReport struct {
	Status     uint16
	Latitude   float64
	Longitude  float64
	PDOP       float64
	FixCode    uint8
	Satellites uint8
}

// Detection is one tag detection to encode.
type Detection struct {
	Relative    uint8
	Protocol    model.Protocol
	Band        int
	TagID       uint32
	SNR         uint8
	Millisecond int
	RawData     uint16
	RawData2    uint16
}

// StatusReport is one station self-report to encode.
type StatusReport struct {
	Relative       uint8
	RawTemperature uint16
	NoiseAvg       uint8
	NoisePeak      uint8
	Frequency      uint8
}

// FrameBuilder encodes a frame slice by slice. The first error sticks and is
// returned by Bytes.
type FrameBuilder struct {
	header model.Header
	gps    []byte
	body   []byte
	err    error
}

// NewFrameBuilder starts a frame for a station and reference timestamp.
func NewFrameBuilder(station model.StationID, ref int64) *FrameBuilder {
	return &FrameBuilder{header: model.Header{StationID: station, ReferenceTimestamp: ref}}
}

// WithGPS adds the station GPS slice and marks the header accordingly.
func (b *FrameBuilder) WithGPS(r GPSReport) *FrameBuilder {
	if b.err != nil {
		return b
	}
	if len(b.body) > 0 {
		b.err = ErrGPSAfterRecords
		return b
	}
	b.gps, b.err = wire.GPSLayout.Encode(wire.Fields{
		wire.FieldStatus:     uint64(r.Status),
		wire.FieldLongitude:  uint64(math.Round(r.Longitude * 100000)),
		wire.FieldPDOP:       uint64(math.Round(r.PDOP * 10)),
		wire.FieldLatitude:   uint64(math.Round(r.Latitude * 100000)),
		wire.FieldFix:        uint64(r.FixCode),
		wire.FieldSatellites: uint64(r.Satellites),
	})
	b.header.Kind = model.HeaderKindGPS
	return b
}

// AddDetection appends a tag detection slice.
func (b *FrameBuilder) AddDetection(d Detection) *FrameBuilder {
	if b.err != nil {
		return b
	}
	code, ok := wire.CodeFor(d.Protocol, d.Band)
	if !ok {
		b.err = fmt.Errorf("telemetry: no code for %s on band %d: %w", d.Protocol, d.Band, wire.ErrUnsupportedCode)
		return b
	}
	layout, _ := wire.TagLayout(d.Protocol)
	fields := wire.Fields{
		wire.FieldTimestamp:   uint64(d.Relative),
		wire.FieldCommCode:    uint64(code),
		wire.FieldSNR:         uint64(d.SNR),
		wire.FieldMillisecond: uint64(d.Millisecond),
		wire.FieldTagID:       uint64(d.TagID),
	}
	if d.Protocol.DataFields() >= 1 {
		fields[wire.FieldTagData] = uint64(d.RawData)
		fields[wire.FieldTagDataRaw] = uint64(d.RawData)
	}
	if d.Protocol.DataFields() == 2 {
		fields[wire.FieldTagData2] = uint64(d.RawData2)
		fields[wire.FieldTagData2Raw] = uint64(d.RawData2)
	}
	return b.append(layout, fields)
}

// AddStatus appends a station self-report slice.
func (b *FrameBuilder) AddStatus(s StatusReport) *FrameBuilder {
	if b.err != nil {
		return b
	}
	return b.append(wire.StationStatusLayout, wire.Fields{
		wire.FieldTimestamp:      uint64(s.Relative),
		wire.FieldCommCode:       wire.StationStatusCode,
		wire.FieldTemperature:    uint64(s.RawTemperature),
		wire.FieldTemperatureRaw: uint64(s.RawTemperature),
		wire.FieldNoiseAvg:       uint64(s.NoiseAvg),
		wire.FieldNoisePeak:      uint64(s.NoisePeak),
		wire.FieldFrequency:      uint64(s.Frequency),
	})
}

// AddRaw appends bytes verbatim.
func (b *FrameBuilder) AddRaw(p ...byte) *FrameBuilder {
	if b.err == nil {
		b.body = append(b.body, p...)
	}
	return b
}

func (b *FrameBuilder) append(l wire.Layout, f wire.Fields) *FrameBuilder {
	enc, err := l.Encode(f)
	if err != nil {
		b.err = err
		return b
	}
	b.body = append(b.body, enc...)
	return b
}

// Bytes returns the encoded frame.
func (b *FrameBuilder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	hdr, err := wire.HeaderLayout.Encode(wire.Fields{
		wire.FieldStationID:    uint64(b.header.StationID),
		wire.FieldHeaderKind:   uint64(b.header.Kind),
		wire.FieldRefTimestamp: uint64(b.header.ReferenceTimestamp),
	})
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(hdr)+len(b.gps)+len(b.body))
	out = append(out, hdr...)
	out = append(out, b.gps...)
	return append(out, b.body...), nil
}
