// Package kb holds the station, cage and tag metadata that positioning and
// conversion read. A Metadata value is immutable once built and may be
// shared freely between goroutines.
package kb

import (
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/tagtrack/model"
)

var (
	ErrDuplicateStation = errors.New("kb: duplicate station")
	ErrDuplicateCage    = errors.New("kb: duplicate cage")
	ErrDuplicateTag     = errors.New("kb: duplicate tag")
	ErrUnknownStation   = errors.New("kb: unknown station")
	ErrUnknownCage      = errors.New("kb: unknown cage")
	ErrInvalidTriple    = errors.New("kb: invalid station triple")
	ErrInvalidGeometry  = errors.New("kb: invalid cage geometry")
)

// CageTriple is one station triple of a cage.
type CageTriple struct {
	Cage   string
	Triple [3]model.StationID
}

// Metadata is the read-only view of every configured station, cage and tag.
type Metadata struct {
	stations map[model.StationID]model.StationMeta
	cages    map[string]model.CageMeta
	tags     map[model.TagKey]model.TagMeta

	// byStation indexes the triples each station belongs to.
	byStation map[model.StationID][]CageTriple
}

// NewMetadata validates the tables and builds an immutable Metadata value.
func NewMetadata(stations []model.StationMeta, cages []model.CageMeta, tags []model.TagMeta) (*Metadata, error) {
	m := &Metadata{
		stations:  make(map[model.StationID]model.StationMeta, len(stations)),
		cages:     make(map[string]model.CageMeta, len(cages)),
		tags:      make(map[model.TagKey]model.TagMeta, len(tags)),
		byStation: make(map[model.StationID][]CageTriple),
	}

	for _, c := range cages {
		if _, exists := m.cages[c.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateCage, c.Name)
		}
		m.cages[c.Name] = cloneCage(c)
	}

	for _, s := range stations {
		if _, exists := m.stations[s.ID]; exists {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateStation, s.ID)
		}
		if s.Cage != "" {
			if _, ok := m.cages[s.Cage]; !ok {
				return nil, fmt.Errorf("%w: %q referenced by station %d", ErrUnknownCage, s.Cage, s.ID)
			}
		}
		m.stations[s.ID] = s
	}

	for _, c := range m.cages {
		if err := validateCage(c, m.stations); err != nil {
			return nil, err
		}
		for _, tr := range c.Triples {
			ct := CageTriple{Cage: c.Name, Triple: tr}
			for _, id := range tr {
				m.byStation[id] = append(m.byStation[id], ct)
			}
		}
	}
	for id := range m.byStation {
		sortTriples(m.byStation[id])
	}

	for _, t := range tags {
		key := model.TagKey{ID: t.ID, Band: t.Band}
		if _, exists := m.tags[key]; exists {
			return nil, fmt.Errorf("%w: %d@%d", ErrDuplicateTag, t.ID, t.Band)
		}
		if t.Cage != "" {
			if _, ok := m.cages[t.Cage]; !ok {
				return nil, fmt.Errorf("%w: %q referenced by tag %d@%d", ErrUnknownCage, t.Cage, t.ID, t.Band)
			}
		}
		m.tags[key] = t
	}

	return m, nil
}

func validateCage(c model.CageMeta, stations map[model.StationID]model.StationMeta) error {
	for _, tr := range c.Triples {
		if tr[0] == tr[1] || tr[0] == tr[2] || tr[1] == tr[2] {
			return fmt.Errorf("%w: cage %q has repeated station in %v", ErrInvalidTriple, c.Name, tr)
		}
		for _, id := range tr {
			if _, ok := stations[id]; !ok {
				return fmt.Errorf("%w: %d in cage %q", ErrUnknownStation, id, c.Name)
			}
		}
	}
	if g := c.Geometry; g != nil {
		if g.Circle.Radius < 0 {
			return fmt.Errorf("%w: cage %q has negative radius", ErrInvalidGeometry, c.Name)
		}
		if len(c.Triples) == 0 {
			return fmt.Errorf("%w: cage %q has geometry but no station triple", ErrInvalidGeometry, c.Name)
		}
	}
	return nil
}

func cloneCage(c model.CageMeta) model.CageMeta {
	c.Triples = append([][3]model.StationID(nil), c.Triples...)
	if c.Geometry != nil {
		g := *c.Geometry
		c.Geometry = &g
	}
	return c
}

func sortTriples(ts []CageTriple) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Cage != ts[j].Cage {
			return ts[i].Cage < ts[j].Cage
		}
		for k := range ts[i].Triple {
			if ts[i].Triple[k] != ts[j].Triple[k] {
				return ts[i].Triple[k] < ts[j].Triple[k]
			}
		}
		return false
	})
}

// Station returns the metadata of a station.
func (m *Metadata) Station(id model.StationID) (model.StationMeta, bool) {
	s, ok := m.stations[id]
	return s, ok
}

// Stations returns every station ordered by id.
func (m *Metadata) Stations() []model.StationMeta {
	out := make([]model.StationMeta, 0, len(m.stations))
	for _, s := range m.stations {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cage returns a copy of the named cage.
func (m *Metadata) Cage(name string) (model.CageMeta, bool) {
	c, ok := m.cages[name]
	if !ok {
		return model.CageMeta{}, false
	}
	return cloneCage(c), true
}

// Cages returns copies of every cage ordered by name.
func (m *Metadata) Cages() []model.CageMeta {
	out := make([]model.CageMeta, 0, len(m.cages))
	for _, c := range m.cages {
		out = append(out, cloneCage(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TriplesForStation returns every cage triple that includes the station.
func (m *Metadata) TriplesForStation(id model.StationID) []CageTriple {
	return append([]CageTriple(nil), m.byStation[id]...)
}

// Tag returns the metadata of a (tag, band) pair.
func (m *Metadata) Tag(id uint32, band int) (model.TagMeta, bool) {
	t, ok := m.tags[model.TagKey{ID: id, Band: band}]
	return t, ok
}

// DepthTags returns the tags eligible for positioning: those assigned to a
// cage, ordered by band then id.
func (m *Metadata) DepthTags() []model.TagMeta {
	var out []model.TagMeta
	for _, t := range m.tags {
		if t.Cage != "" {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Band != out[j].Band {
			return out[i].Band < out[j].Band
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CalibrationFactor returns the factor applied to raw sensor values of a
// (tag, band) pair.
func (m *Metadata) CalibrationFactor(id uint32, band int) (float64, bool) {
	t, ok := m.tags[model.TagKey{ID: id, Band: band}]
	if !ok || t.Calibration == 0 {
		return 0, false
	}
	return t.Calibration, true
}
