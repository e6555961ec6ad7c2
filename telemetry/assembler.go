// Package telemetry assembles station frames into typed messages and builds
// frames from typed values.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/tagtrack/convert"
	"github.com/signalsfoundry/tagtrack/internal/logging"
	"github.com/signalsfoundry/tagtrack/model"
	"github.com/signalsfoundry/tagtrack/wire"
)

// ErrEmptyFrame is returned for zero-length frames.
var ErrEmptyFrame = errors.New("telemetry: empty frame")

// rolloverLimit is the largest plausible offset of a relative timestamp.
// Larger sums mean the one-byte field wrapped.
const rolloverLimit = 250

// AbsoluteTimestamp combines a header reference timestamp with a record's
// one-byte relative offset, correcting for wrap-around.
func AbsoluteTimestamp(ref int64, rel uint8) int64 {
	abs := ref + int64(rel)
	if diff := abs - ref; diff > rolloverLimit {
		abs = ref - (255 - diff)
	}
	return abs
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(l logging.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.log = l
		}
	}
}

// Assembler decodes whole frames. It is safe for concurrent use.
type Assembler struct {
	pipeline *convert.Pipeline
	log      logging.Logger
}

// NewAssembler returns an assembler converting records through p.
func NewAssembler(p *convert.Pipeline, opts ...Option) *Assembler {
	a := &Assembler{pipeline: p, log: logging.Noop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble decodes a frame into a message. When decoding stops early on an
// unsupported code or a truncated slice, the records decoded so far are
// returned together with the error.
func (a *Assembler) Assemble(ctx context.Context, frame []byte) (*model.Message, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	log := logging.FromContext(ctx, a.log)

	hf, err := wire.HeaderLayout.Decode(frame)
	if err != nil {
		return nil, fmt.Errorf("assemble header: %w", err)
	}
	msg := &model.Message{Header: model.Header{
		StationID:          model.StationID(hf[wire.FieldStationID]),
		Kind:               model.HeaderKind(hf[wire.FieldHeaderKind]),
		ReferenceTimestamp: int64(hf[wire.FieldRefTimestamp]),
	}}
	off := wire.HeaderLayout.ByteLength()

	if msg.Header.HasGPS() {
		gf, err := wire.GPSLayout.Decode(frame[off:])
		if err != nil {
			return msg, fmt.Errorf("assemble gps: %w", err)
		}
		if err := a.add(ctx, msg, gpsFromFields(gf)); err != nil {
			return msg, err
		}
		off += wire.GPSLayout.ByteLength()
	}

	for off < len(frame) {
		if off+wire.CodeOffset >= len(frame) {
			return msg, fmt.Errorf("assemble offset %d: %w", off, wire.ErrShortFrame)
		}
		code := frame[off+wire.CodeOffset]
		res, err := wire.Resolve(code)
		if err != nil {
			log.Warn(ctx, "unsupported communication code, dropping rest of frame",
				logging.Int("station_id", int(msg.Header.StationID)),
				logging.Int("code", int(code)),
				logging.Int("offset", off),
				logging.Int("kept_records", len(msg.Records)))
			return msg, fmt.Errorf("assemble offset %d: %w", off, err)
		}
		fields, err := res.Layout.Decode(frame[off:])
		if err != nil {
			return msg, fmt.Errorf("assemble offset %d: %w", off, err)
		}
		if err := a.add(ctx, msg, recordFromFields(res, fields)); err != nil {
			return msg, err
		}
		off += res.Length
	}
	return msg, nil
}

func (a *Assembler) add(ctx context.Context, msg *model.Message, r model.Record) error {
	b := r.Base()
	b.StationID = msg.Header.StationID
	b.Timestamp = AbsoluteTimestamp(msg.Header.ReferenceTimestamp, b.RelativeTimestamp)
	if a.pipeline != nil {
		if err := a.pipeline.Apply(ctx, r); err != nil {
			return fmt.Errorf("assemble %s: %w", r.Kind(), err)
		}
	}
	msg.Records = append(msg.Records, r)
	return nil
}

func gpsFromFields(f wire.Fields) *model.GPSRecord {
	return &model.GPSRecord{
		Status:       uint16(f[wire.FieldStatus]),
		RawLongitude: uint32(f[wire.FieldLongitude]),
		RawLatitude:  uint32(f[wire.FieldLatitude]),
		RawPDOP:      uint8(f[wire.FieldPDOP]),
		FixCode:      uint8(f[wire.FieldFix]),
		Satellites:   uint8(f[wire.FieldSatellites]),
	}
}

func recordFromFields(res wire.Resolution, f wire.Fields) model.Record {
	base := model.RecordBase{RelativeTimestamp: uint8(f[wire.FieldTimestamp])}
	if res.Kind == model.KindStationStatus {
		return &model.StationStatusRecord{
			RecordBase:     base,
			Code:           uint8(f[wire.FieldCommCode]),
			RawTemperature: uint16(f[wire.FieldTemperatureRaw]),
			NoiseAvg:       uint8(f[wire.FieldNoiseAvg]),
			NoisePeak:      uint8(f[wire.FieldNoisePeak]),
			Frequency:      uint8(f[wire.FieldFrequency]),
		}
	}
	return &model.TagDetection{
		RecordBase:  base,
		Code:        uint8(f[wire.FieldCommCode]),
		SNR:         uint8(f[wire.FieldSNR]),
		Millisecond: int(f[wire.FieldMillisecond]),
		TagID:       uint32(f[wire.FieldTagID]),
		RawData:     uint16(f[wire.FieldTagDataRaw]),
		RawData2:    uint16(f[wire.FieldTagData2Raw]),
	}
}
