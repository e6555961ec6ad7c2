package core

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/tagtrack/model"
)

func TestCircleFromPoints(t *testing.T) {
	c, err := CircleFromPoints(r2.Vec{X: 0, Y: 0}, r2.Vec{X: 4, Y: 0}, r2.Vec{X: 0, Y: 4})
	require.NoError(t, err)
	assert.InDelta(t, 2, c.CenterX, 1e-12)
	assert.InDelta(t, 2, c.CenterY, 1e-12)
	assert.InDelta(t, math.Sqrt(8), c.Radius, 1e-12)

	_, err = CircleFromPoints(r2.Vec{X: 0}, r2.Vec{X: 1}, r2.Vec{X: 2})
	if !errors.Is(err, ErrCollinear) {
		t.Fatalf("CircleFromPoints(collinear) error = %v, want ErrCollinear", err)
	}
}

func TestStationCircleIsEquidistant(t *testing.T) {
	f := testFrame(t)
	c, err := f.StationCircle()
	require.NoError(t, err)
	center := r2.Vec{X: c.CenterX, Y: c.CenterY}
	for i, s := range f.Stations() {
		assert.InDelta(t, c.Radius, planarDistance(center, s), 1e-9, "station %d", i)
	}
}

func TestResolveAmbiguityByArrivalOrder(t *testing.T) {
	f := testFrame(t)
	for _, p := range []r2.Vec{{X: 25, Y: 18}, {X: 20, Y: 10}, {X: 35, Y: 25}, {X: 15, Y: 5}, {X: 40, Y: 20}} {
		ts := arrivals(f, p, -4, 1556555369.1)
		cands := Solve(f, ts, -4)
		require.Len(t, cands, 2, "candidates for %v", p)

		res, ok := ResolveAmbiguity(f, ts, cands)
		require.True(t, ok)
		require.NotNil(t, res.Chosen, "no choice for %v", p)
		if d := planarDistance(res.Chosen.Vec(), p); d > 2 {
			t.Fatalf("ResolveAmbiguity chose %+v for %v (off by %.2f m)", *res.Chosen, p, d)
		}
	}
}

func TestResolveAmbiguityEdgeCases(t *testing.T) {
	f := testFrame(t)
	ts := Timestamps{}

	if _, ok := ResolveAmbiguity(f, ts, nil); ok {
		t.Fatalf("ResolveAmbiguity(no candidates) ok = true, want false")
	}

	single := Candidate{X: 1, Y: 2, Z: 3}
	res, ok := ResolveAmbiguity(f, ts, []Candidate{single})
	require.True(t, ok)
	require.NotNil(t, res.Chosen)
	assert.Equal(t, single, *res.Chosen)
	assert.Equal(t, single, res.P0)
	assert.Equal(t, single, res.P1)

	// Both candidates sit on the same side of every bisector, so arrival
	// order cannot separate them.
	mid := f.B.X / 2
	res, ok = ResolveAmbiguity(f, ts, []Candidate{{X: mid - 5, Y: -50}, {X: mid - 10, Y: -50}})
	require.True(t, ok)
	assert.Nil(t, res.Chosen)
}

func TestApplyGeofence(t *testing.T) {
	cage := model.Circle{CenterX: 0, CenterY: 0, Radius: 10}
	in := Candidate{X: 3, Y: 4}
	edge := Candidate{X: DefaultGeofenceRatio * 10, Y: 0}
	out := Candidate{X: 20, Y: 0}

	tests := []struct {
		name   string
		res    Resolution
		want   Candidate
		wantOK bool
	}{
		{"chosen inside", Resolution{P0: in, P1: out, Chosen: &in}, in, true},
		{"chosen outside", Resolution{P0: in, P1: out, Chosen: &out}, Candidate{}, false},
		{"chosen on boundary", Resolution{P0: edge, P1: in, Chosen: &edge}, Candidate{}, false},
		{"undecided picks closer P1", Resolution{P0: out, P1: in}, in, true},
		{"undecided picks closer P0", Resolution{P0: in, P1: Candidate{X: 6, Y: 8}}, in, true},
		{"undecided both outside", Resolution{P0: out, P1: Candidate{X: 0, Y: -30}}, Candidate{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ApplyGeofence(tt.res, cage, DefaultGeofenceRatio)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("ApplyGeofence() = %+v, %v, want %+v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
