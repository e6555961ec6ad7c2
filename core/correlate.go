package core

import (
	"math"
	"sort"

	"github.com/signalsfoundry/tagtrack/model"
)

const (
	// TripletWindow is the largest gap, in whole seconds, between the middle
	// detection of a triplet and either outer one.
	TripletWindow = 2
	// DriftThreshold is the gap, in seconds, above which an outer detection's
	// second is treated as clock drift: the time sound needs for 1 km in
	// water.
	DriftThreshold = 0.667
)

// Triplet is three detections of one transmission, sorted by arrival.
type Triplet [3]*model.TagDetection

// First returns the earliest detection of t.
func (t Triplet) First() *model.TagDetection { return t[0] }

// Ordered returns the detections of t in the station order of triple, or
// false when t does not cover exactly those stations.
func (t Triplet) Ordered(triple [3]model.StationID) (Triplet, bool) {
	var out Triplet
	for i, id := range triple {
		for _, d := range t {
			if d != nil && d.StationID == id {
				if out[i] != nil {
					return Triplet{}, false
				}
				out[i] = d
			}
		}
		if out[i] == nil {
			return Triplet{}, false
		}
	}
	return out, true
}

// Timestamps returns the arrival times of t in station order of triple.
func (t Triplet) Timestamps(triple [3]model.StationID) (Timestamps, bool) {
	o, ok := t.Ordered(triple)
	if !ok {
		return Timestamps{}, false
	}
	return Timestamps{o[0].Arrival(), o[1].Arrival(), o[2].Arrival()}, true
}

// Contains reports whether d is one of the detections of t, comparing by
// station and arrival time.
func (t Triplet) Contains(d *model.TagDetection) bool {
	for _, x := range t {
		if x != nil && x.StationID == d.StationID && x.Arrival() == d.Arrival() {
			return true
		}
	}
	return false
}

// Data returns the calibrated sensor values of t.
func (t Triplet) Data() []float64 {
	out := make([]float64, 0, len(t))
	for _, d := range t {
		out = append(out, d.Data)
	}
	return out
}

// FindTriplets groups detections of one tag into triplets heard by exactly
// the stations of triple. Detections are sorted by arrival and scanned with
// a sliding window of three; a window is accepted when its stations are the
// triple and both outer detections lie within TripletWindow seconds of the
// middle one. Accepted windows never share a detection. dets is not
// modified.
func FindTriplets(dets []*model.TagDetection, triple [3]model.StationID) []Triplet {
	sorted := make([]*model.TagDetection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.Millisecond < b.Millisecond
	})

	var out []Triplet
	for i := 0; i+2 < len(sorted); {
		w := Triplet{sorted[i], sorted[i+1], sorted[i+2]}
		if w[1].Timestamp-w[0].Timestamp <= TripletWindow &&
			w[2].Timestamp-w[1].Timestamp <= TripletWindow {
			if _, ok := w.Ordered(triple); ok {
				out = append(out, w)
				i += 3
				continue
			}
		}
		i++
	}
	return out
}

// CorrectDrift returns a copy of t where every outer detection lying at
// least DriftThreshold seconds from the middle one takes the middle
// detection's second. Milliseconds are kept. Each outer gap is judged on
// its own; an outer detection within the threshold is never snapped because
// the other one drifted.
func CorrectDrift(t Triplet) Triplet {
	var out Triplet
	for i, d := range t {
		c := *d
		out[i] = &c
	}
	mid := t[1].Arrival().Seconds()
	for _, i := range []int{0, 2} {
		if math.Abs(t[i].Arrival().Seconds()-mid) >= DriftThreshold {
			out[i].Timestamp = t[1].Timestamp
		}
	}
	return out
}
