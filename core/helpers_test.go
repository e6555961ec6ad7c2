package core

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/tagtrack/model"
)

var (
	testTriple    = [3]model.StationID{1, 2, 3}
	testPositions = [3]model.LatLong{
		{Latitude: 63.4000, Longitude: 10.4000},
		{Latitude: 63.4000, Longitude: 10.4012},
		{Latitude: 63.4004, Longitude: 10.4006},
	}
)

const testCageDepth = 6.0

func testFrame(t *testing.T) *StationFrame {
	t.Helper()
	f, err := NewStationFrame(testTriple, testPositions, testCageDepth)
	if err != nil {
		t.Fatalf("NewStationFrame() error = %v", err)
	}
	return f
}

// exactRanges returns the range differences of a tag at p, z metres off
// the station plane.
func exactRanges(f *StationFrame, p r2.Vec, z float64) (rab, rac float64) {
	d := func(s r2.Vec) float64 { return math.Hypot(planarDistance(p, s), z) }
	return d(f.A) - d(f.B), d(f.A) - d(f.C)
}

// arrivals returns the millisecond arrival times of a transmission sent at
// t0 (epoch seconds) from p at height z.
func arrivals(f *StationFrame, p r2.Vec, z float64, t0 float64) Timestamps {
	var out Timestamps
	for i, s := range f.Stations() {
		t := t0 + math.Hypot(planarDistance(p, s), z)/SpeedOfSound
		ms := int64(math.Round(t * 1000))
		out[i] = model.ArrivalTime{Second: ms / 1000, Millisecond: int(ms % 1000)}
	}
	return out
}

func detection(station model.StationID, at model.ArrivalTime, data float64) *model.TagDetection {
	return &model.TagDetection{
		RecordBase:  model.RecordBase{StationID: station, Timestamp: at.Second},
		Protocol:    model.ProtocolS256,
		Band:        69,
		TagID:       10,
		Millisecond: at.Millisecond,
		Data:        data,
	}
}

func nearest(cands []Candidate, p r2.Vec) (Candidate, float64) {
	best, bestD := Candidate{}, math.Inf(1)
	for _, c := range cands {
		if d := planarDistance(c.Vec(), p); d < bestD {
			best, bestD = c, d
		}
	}
	return best, bestD
}
