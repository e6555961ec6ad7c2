// Package convert turns raw decoded record values into engineering units.
//
// Conversions run as an explicit, ordered Pipeline of named steps. Steps that
// depend on another step's output (calibration needs the frequency band set
// by the comm-code step) are checked when the pipeline is built.
package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/signalsfoundry/tagtrack/internal/logging"
	"github.com/signalsfoundry/tagtrack/model"
	"github.com/signalsfoundry/tagtrack/wire"
)

var (
	// ErrBandUnresolved is returned when calibration runs on a detection
	// whose frequency band has not been resolved yet.
	ErrBandUnresolved = errors.New("convert: frequency band not resolved")
	// ErrStepOrder is returned by NewPipeline for an invalid step order.
	ErrStepOrder = errors.New("convert: invalid step order")
)

// Step names.
const (
	StepCommCode     = "comm-code"
	StepCalibration  = "calibration"
	StepAngle        = "angle"
	StepQualityScale = "quality-scale"
	StepFixQuality   = "fix-quality"
	StepTemperature  = "temperature"
	StepLocalTime    = "local-time"
)

// DefaultDateFormat is the strftime pattern of RecordBase.Date.
const DefaultDateFormat = "%Y-%m-%d %H:%M:%S"

const (
	angleScale       = 100000.0
	qualityScale     = 10.0
	temperatureBias  = 50.0
	temperatureScale = 10.0
)

var fixQualities = [...]string{
	"no fix",
	"dead reckoning only",
	"2D-fix",
	model.FixQuality3D,
	"GNSS + dead reckoning combined",
	"time only fix",
}

// Calibrations looks up calibration factors of (tag, band) pairs.
type Calibrations interface {
	CalibrationFactor(tagID uint32, band int) (float64, bool)
}

// Step is one named conversion. Apply must ignore record kinds it does not
// handle.
type Step interface {
	Name() string
	Apply(ctx context.Context, r model.Record) error
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, r model.Record) error
}

func (s StepFunc) Name() string { return s.StepName }

func (s StepFunc) Apply(ctx context.Context, r model.Record) error { return s.Fn(ctx, r) }

// Pipeline applies steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline validates the step order and returns a pipeline.
func NewPipeline(steps ...Step) (*Pipeline, error) {
	commCode := -1
	for i, s := range steps {
		switch s.Name() {
		case StepCommCode:
			if commCode < 0 {
				commCode = i
			}
		case StepCalibration:
			if commCode < 0 {
				return nil, fmt.Errorf("%w: %s must follow %s", ErrStepOrder, StepCalibration, StepCommCode)
			}
		}
	}
	return &Pipeline{steps: append([]Step(nil), steps...)}, nil
}

// Steps returns the step names in execution order.
func (p *Pipeline) Steps() []string {
	out := make([]string, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.Name()
	}
	return out
}

// Apply runs every step on r, stopping at the first error.
func (p *Pipeline) Apply(ctx context.Context, r model.Record) error {
	for _, s := range p.steps {
		if err := s.Apply(ctx, r); err != nil {
			return fmt.Errorf("convert %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Options configure the default pipeline.
type Options struct {
	Calibrations Calibrations
	Location     *time.Location
	DateFormat   string
	Logger       logging.Logger
}

// NewDefault returns the standard conversion order.
func NewDefault(opts Options) (*Pipeline, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DateFormat == "" {
		opts.DateFormat = DefaultDateFormat
	}
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}
	localTime, err := LocalTime(opts.Location, opts.DateFormat)
	if err != nil {
		return nil, err
	}
	return NewPipeline(
		CommCode(),
		Calibration(opts.Calibrations),
		Angle(),
		QualityScale(),
		FixQuality(opts.Logger),
		Temperature(),
		localTime,
	)
}

// CommCode resolves the sub-protocol and frequency band of tag detections.
func CommCode() Step {
	return StepFunc{StepName: StepCommCode, Fn: func(_ context.Context, r model.Record) error {
		d, ok := r.(*model.TagDetection)
		if !ok {
			return nil
		}
		res, err := wire.Resolve(d.Code)
		if err != nil {
			return err
		}
		d.Protocol = res.Protocol
		d.Band = res.Band
		return nil
	}}
}

// Calibration scales tag sensor values by the factor configured for the
// (tag, band) pair, or copies the raw values when none exists.
func Calibration(cal Calibrations) Step {
	return StepFunc{StepName: StepCalibration, Fn: func(_ context.Context, r model.Record) error {
		d, ok := r.(*model.TagDetection)
		if !ok {
			return nil
		}
		if d.Band == 0 {
			return ErrBandUnresolved
		}
		d.Data, d.Data2 = float64(d.RawData), float64(d.RawData2)
		if cal == nil {
			return nil
		}
		if f, ok := cal.CalibrationFactor(d.TagID, d.Band); ok {
			d.Data *= f
			d.Data2 *= f
		}
		return nil
	}}
}

// Angle scales GPS latitude and longitude to decimal degrees.
func Angle() Step {
	return StepFunc{StepName: StepAngle, Fn: func(_ context.Context, r model.Record) error {
		if g, ok := r.(*model.GPSRecord); ok {
			g.Latitude = float64(g.RawLatitude) / angleScale
			g.Longitude = float64(g.RawLongitude) / angleScale
		}
		return nil
	}}
}

// QualityScale scales the GPS position dilution of precision.
func QualityScale() Step {
	return StepFunc{StepName: StepQualityScale, Fn: func(_ context.Context, r model.Record) error {
		if g, ok := r.(*model.GPSRecord); ok {
			g.PDOP = float64(g.RawPDOP) / qualityScale
		}
		return nil
	}}
}

// FixQualityName returns the name of a GPS fix code and whether it is valid.
func FixQualityName(code uint8) (string, bool) {
	if int(code) < len(fixQualities) {
		return fixQualities[code], true
	}
	return fmt.Sprintf("Invalid fix value: %d", code), false
}

// FixQuality names the GPS fix code. Unknown codes are logged and replaced
// by a diagnostic string.
func FixQuality(log logging.Logger) Step {
	return StepFunc{StepName: StepFixQuality, Fn: func(ctx context.Context, r model.Record) error {
		g, ok := r.(*model.GPSRecord)
		if !ok {
			return nil
		}
		name, valid := FixQualityName(g.FixCode)
		if !valid {
			logging.FromContext(ctx, log).Error(ctx, "invalid GPS fix code",
				logging.Int("station_id", int(g.StationID)),
				logging.Int("fix", int(g.FixCode)))
		}
		g.Fix = name
		return nil
	}}
}

// Temperature converts station self-report temperature to Celsius.
func Temperature() Step {
	return StepFunc{StepName: StepTemperature, Fn: func(_ context.Context, r model.Record) error {
		if s, ok := r.(*model.StationStatusRecord); ok {
			s.Temperature = (float64(s.RawTemperature) - temperatureBias) / temperatureScale
		}
		return nil
	}}
}

// LocalTime derives the date string and hour of every record from its
// absolute timestamp.
func LocalTime(loc *time.Location, pattern string) (Step, error) {
	f, err := strftime.New(pattern)
	if err != nil {
		return nil, fmt.Errorf("convert: date format %q: %w", pattern, err)
	}
	return StepFunc{StepName: StepLocalTime, Fn: func(_ context.Context, r model.Record) error {
		b := r.Base()
		t := time.Unix(b.Timestamp, 0).In(loc)
		b.Date = f.FormatString(t)
		b.Hour = t.Hour()
		return nil
	}}, nil
}
