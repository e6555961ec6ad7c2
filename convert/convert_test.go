package convert

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/tagtrack/internal/logging"
	"github.com/signalsfoundry/tagtrack/model"
)

type calibrationTable map[model.TagKey]float64

func (c calibrationTable) CalibrationFactor(id uint32, band int) (float64, bool) {
	f, ok := c[model.TagKey{ID: id, Band: band}]
	return f, ok
}

func newDefault(t *testing.T, cal Calibrations) *Pipeline {
	t.Helper()
	p, err := NewDefault(Options{Calibrations: cal, Location: time.UTC})
	require.NoError(t, err)
	return p
}

func TestDefaultStepOrder(t *testing.T) {
	p := newDefault(t, nil)
	assert.Equal(t, []string{
		StepCommCode, StepCalibration, StepAngle, StepQualityScale,
		StepFixQuality, StepTemperature, StepLocalTime,
	}, p.Steps())
}

func TestCalibrationMustFollowCommCode(t *testing.T) {
	_, err := NewPipeline(Calibration(nil), CommCode())
	if !errors.Is(err, ErrStepOrder) {
		t.Fatalf("NewPipeline() error = %v, want ErrStepOrder", err)
	}
}

func TestCalibrationWithoutBand(t *testing.T) {
	d := &model.TagDetection{Code: 3, TagID: 10, RawData: 5}
	err := Calibration(nil).Apply(context.Background(), d)
	if !errors.Is(err, ErrBandUnresolved) {
		t.Fatalf("Apply() error = %v, want ErrBandUnresolved", err)
	}
}

func TestTagDetectionConversion(t *testing.T) {
	cal := calibrationTable{{ID: 10, Band: 69}: 0.5}
	p := newDefault(t, cal)

	tests := []struct {
		name     string
		in       *model.TagDetection
		protocol model.Protocol
		band     int
		data     float64
		data2    float64
	}{
		{
			name:     "calibrated S256",
			in:       &model.TagDetection{Code: 3, TagID: 10, RawData: 30},
			protocol: model.ProtocolS256,
			band:     69,
			data:     15,
		},
		{
			name:     "uncalibrated DS256 passes raw through",
			in:       &model.TagDetection{Code: 16 + 7, TagID: 10, RawData: 7, RawData2: 9},
			protocol: model.ProtocolDS256,
			band:     70,
			data:     7,
			data2:    9,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, p.Apply(context.Background(), tt.in))
			assert.Equal(t, tt.protocol, tt.in.Protocol)
			assert.Equal(t, tt.band, tt.in.Band)
			assert.InDelta(t, tt.data, tt.in.Data, 1e-9)
			assert.InDelta(t, tt.data2, tt.in.Data2, 1e-9)
		})
	}
}

func TestGPSConversion(t *testing.T) {
	p := newDefault(t, nil)
	g := &model.GPSRecord{
		RawLatitude:  6340000,
		RawLongitude: 1040012,
		RawPDOP:      13,
		FixCode:      3,
	}
	require.NoError(t, p.Apply(context.Background(), g))
	assert.InDelta(t, 63.4, g.Latitude, 1e-9)
	assert.InDelta(t, 10.40012, g.Longitude, 1e-9)
	assert.InDelta(t, 1.3, g.PDOP, 1e-9)
	assert.Equal(t, model.FixQuality3D, g.Fix)
}

func TestInvalidFixIsLoggedAndKept(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "error", Format: "json", Output: &buf})
	g := &model.GPSRecord{FixCode: 7}

	if err := FixQuality(log).Apply(context.Background(), g); err != nil {
		t.Fatalf("Apply() error = %v, want nil", err)
	}
	if g.Fix != "Invalid fix value: 7" {
		t.Fatalf("Fix = %q, want %q", g.Fix, "Invalid fix value: 7")
	}
	if !strings.Contains(buf.String(), "invalid GPS fix code") {
		t.Fatalf("log output = %q, want an error entry", buf.String())
	}
}

func TestFixQualityNames(t *testing.T) {
	want := []string{
		"no fix", "dead reckoning only", "2D-fix", "3D-fix",
		"GNSS + dead reckoning combined", "time only fix",
	}
	for code, name := range want {
		got, ok := FixQualityName(uint8(code))
		if !ok || got != name {
			t.Fatalf("FixQualityName(%d) = %q/%v, want %q", code, got, ok, name)
		}
	}
}

func TestTemperature(t *testing.T) {
	tests := []struct {
		raw  uint16
		want float64
	}{
		{0, -5},
		{50, 0},
		{255, 20.5},
	}
	for _, tt := range tests {
		s := &model.StationStatusRecord{RawTemperature: tt.raw}
		if err := Temperature().Apply(context.Background(), s); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if s.Temperature != tt.want {
			t.Fatalf("Temperature(%d) = %v, want %v", tt.raw, s.Temperature, tt.want)
		}
	}
}

func TestLocalTime(t *testing.T) {
	oslo, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		t.Skipf("time zone data unavailable: %v", err)
	}
	step, err := LocalTime(oslo, DefaultDateFormat)
	require.NoError(t, err)

	// 2019-04-29 16:29:29 UTC, 18:29:29 in Oslo (CEST).
	s := &model.StationStatusRecord{RecordBase: model.RecordBase{Timestamp: 1556555369}}
	require.NoError(t, step.Apply(context.Background(), s))
	assert.Equal(t, "2019-04-29 18:29:29", s.Date)
	assert.Equal(t, 18, s.Hour)
	assert.Equal(t, int64(1556555369), s.Timestamp)
}
