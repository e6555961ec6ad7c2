package simulate

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/tagtrack/convert"
	"github.com/signalsfoundry/tagtrack/core"
	"github.com/signalsfoundry/tagtrack/model"
	"github.com/signalsfoundry/tagtrack/telemetry"
)

var testStations = [3]Station{
	{ID: 1, Position: model.LatLong{Latitude: 63.4, Longitude: 10.4}},
	{ID: 2, Position: model.LatLong{Latitude: 63.4, Longitude: 10.4012}},
	{ID: 3, Position: model.LatLong{Latitude: 63.4004, Longitude: 10.4006}},
}

var testTag = Tag{ID: 10, Band: 69, Protocol: model.ProtocolS256, Calibration: 0.1}

type calibrations map[model.TagKey]float64

func (c calibrations) CalibrationFactor(id uint32, band int) (float64, bool) {
	f, ok := c[model.TagKey{ID: id, Band: band}]
	return f, ok
}

func TestOrbitAt(t *testing.T) {
	o := Orbit{Center: r2.Vec{X: 30, Y: 20}, Radius: 10, Period: 40 * time.Second, Depth: 8, DepthSwing: 2}

	p, depth := o.At(0)
	assert.InDelta(t, 40, p.X, 1e-9)
	assert.InDelta(t, 20, p.Y, 1e-9)
	assert.InDelta(t, 8, depth, 1e-9)

	p, depth = o.At(10 * time.Second)
	assert.InDelta(t, 30, p.X, 1e-9)
	assert.InDelta(t, 30, p.Y, 1e-9)
	assert.InDelta(t, 10, depth, 1e-9)

	p, _ = o.At(50 * time.Second)
	assert.InDelta(t, 30, p.X, 1e-9)
	assert.InDelta(t, 30, p.Y, 1e-9)

	still := Orbit{Center: r2.Vec{X: 1, Y: 2}, Depth: 3}
	p, depth = still.At(time.Hour)
	assert.Equal(t, r2.Vec{X: 1, Y: 2}, p)
	assert.Equal(t, 3.0, depth)
}

func TestNewEmitterRejectsTagsWithoutData(t *testing.T) {
	_, err := NewEmitter(testStations, 6, Tag{ID: 1, Band: 69, Protocol: model.ProtocolR256})
	if !errors.Is(err, ErrUnsupportedTag) {
		t.Fatalf("NewEmitter() error = %v, want ErrUnsupportedTag", err)
	}
}

func TestNewEmitterQuantizesPositions(t *testing.T) {
	stations := testStations
	stations[0].Position.Latitude = 63.400004
	e, err := NewEmitter(stations, 6, testTag)
	require.NoError(t, err)
	assert.Equal(t, 63.4, e.Stations()[0].Position.Latitude)
}

func TestArrivalsMatchRangeDifferences(t *testing.T) {
	e, err := NewEmitter(testStations, 6, testTag)
	require.NoError(t, err)

	t0 := time.Unix(1556555369, 100*int64(time.Millisecond))
	p := r2.Vec{X: 25, Y: 18}
	at := e.Arrivals(t0, p, 10)

	var ts core.Timestamps
	copy(ts[:], at[:])
	rab, rac := core.RangeDifferences(ts)

	st := e.Frame().Stations()
	dist := func(i int) float64 { return math.Hypot(r2.Norm(r2.Sub(p, st[i])), 4) }
	assert.InDelta(t, dist(0)-dist(1), rab, 1.5)
	assert.InDelta(t, dist(0)-dist(2), rac, 1.5)
}

func TestRawDepth(t *testing.T) {
	e, err := NewEmitter(testStations, 6, testTag)
	require.NoError(t, err)
	tests := []struct {
		depth float64
		want  uint16
	}{
		{0, 0},
		{10, 100},
		{10.04, 100},
		{-3, 0},
		{40, 255},
	}
	for _, tt := range tests {
		if got := e.RawDepth(tt.depth); got != tt.want {
			t.Fatalf("RawDepth(%v) = %d, want %d", tt.depth, got, tt.want)
		}
	}
}

func TestFramesDecode(t *testing.T) {
	e, err := NewEmitter(testStations, 6, testTag)
	require.NoError(t, err)

	t0 := time.Unix(1556555369, 0)
	frames, err := e.Frames(t0, r2.Vec{X: 25, Y: 18}, 10, true)
	require.NoError(t, err)

	p, err := convert.NewDefault(convert.Options{
		Calibrations: calibrations{{ID: 10, Band: 69}: 0.1},
		Location:     time.UTC,
	})
	require.NoError(t, err)
	asm := telemetry.NewAssembler(p)

	arrivals := e.Arrivals(t0, r2.Vec{X: 25, Y: 18}, 10)
	for i, frame := range frames {
		msg, err := asm.Assemble(context.Background(), frame)
		require.NoError(t, err)
		require.Len(t, msg.Records, 2)

		gps := msg.Records[0].(*model.GPSRecord)
		assert.Equal(t, testStations[i].Position.Latitude, gps.Latitude)
		assert.Equal(t, model.FixQuality3D, gps.Fix)

		det := msg.Records[1].(*model.TagDetection)
		assert.Equal(t, testStations[i].ID, det.StationID)
		assert.Equal(t, arrivals[i], det.Arrival())
		assert.InDelta(t, 10, det.Data, 1e-9)
		assert.Equal(t, uint8(30), det.SNR)
	}
}
