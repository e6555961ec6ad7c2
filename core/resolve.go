package core

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/tagtrack/model"
)

// DefaultGeofenceRatio scales a cage radius into the accepted radius.
const DefaultGeofenceRatio = 1.1

// Resolution is the outcome of ambiguity resolution. P0 and P1 are the two
// candidates (equal when the solver produced one); Chosen is nil when the
// arrival order could not decide between them.
type Resolution struct {
	P0, P1 Candidate
	Chosen *Candidate
}

// ResolveAmbiguity picks between the solver candidates using the order in
// which the stations heard the tag: the station that heard it first should
// be closer to the true position than the one that heard it second. The
// first and second arrivals are compared, then the second and third.
// It returns false when cands is empty.
func ResolveAmbiguity(f *StationFrame, t Timestamps, cands []Candidate) (Resolution, bool) {
	switch len(cands) {
	case 0:
		return Resolution{}, false
	case 1:
		c := cands[0]
		return Resolution{P0: c, P1: c, Chosen: &c}, true
	}
	p0, p1 := cands[0], cands[1]
	res := Resolution{P0: p0, P1: p1}

	order := []int{0, 1, 2}
	sort.SliceStable(order, func(i, j int) bool {
		return t[order[i]].Seconds() < t[order[j]].Seconds()
	})
	st := f.Stations()
	first, second, third := st[order[0]], st[order[1]], st[order[2]]

	pick := func(near, far r2.Vec) *Candidate {
		switch {
		case planarDistance(p0.Vec(), near) < planarDistance(p0.Vec(), far) &&
			planarDistance(p1.Vec(), far) < planarDistance(p1.Vec(), near):
			return &p0
		case planarDistance(p1.Vec(), near) < planarDistance(p1.Vec(), far) &&
			planarDistance(p0.Vec(), far) < planarDistance(p0.Vec(), near):
			return &p1
		}
		return nil
	}
	if res.Chosen = pick(first, second); res.Chosen == nil {
		res.Chosen = pick(second, third)
	}
	return res, true
}

// ApplyGeofence keeps a position only when it lies strictly within ratio
// times the cage radius. When no candidate was chosen, the one closest to
// the centre wins provided either lies inside.
func ApplyGeofence(r Resolution, cage model.Circle, ratio float64) (Candidate, bool) {
	rmax := ratio * cage.Radius
	center := r2.Vec{X: cage.CenterX, Y: cage.CenterY}

	if r.Chosen != nil {
		if planarDistance(r.Chosen.Vec(), center) >= rmax {
			return Candidate{}, false
		}
		return *r.Chosen, true
	}
	d0 := planarDistance(r.P0.Vec(), center)
	d1 := planarDistance(r.P1.Vec(), center)
	if d0 >= rmax && d1 >= rmax {
		return Candidate{}, false
	}
	if d0 < d1 {
		return r.P0, true
	}
	return r.P1, true
}
