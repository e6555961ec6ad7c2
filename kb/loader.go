package kb

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/tagtrack/model"
)

// internal YAML shapes, unexported so the file format can evolve
// independently of the model.
type metadataYAML struct {
	Stations []stationYAML `yaml:"stations"`
	Cages    []cageYAML    `yaml:"cages"`
	Tags     []tagYAML     `yaml:"tags"`
}

type stationYAML struct {
	ID        uint16  `yaml:"id"`
	Cage      string  `yaml:"cage"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

type cageYAML struct {
	Name     string        `yaml:"name"`
	Depth    float64       `yaml:"depth"`
	Triples  [][]uint16    `yaml:"triples"`
	Geometry *geometryYAML `yaml:"geometry"`
}

type geometryYAML struct {
	Circle   circleYAML    `yaml:"circle"`
	Stations []latLongYAML `yaml:"stations"`
}

type circleYAML struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Radius float64 `yaml:"radius"`
}

type latLongYAML struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

type tagYAML struct {
	ID          uint32  `yaml:"id"`
	Band        int     `yaml:"band"`
	Cage        string  `yaml:"cage"`
	Calibration float64 `yaml:"calibration"`
}

// LoadMetadataFile reads metadata YAML from path.
func LoadMetadataFile(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadMetadataFile: %w", err)
	}
	defer f.Close()
	return LoadMetadata(f)
}

// LoadMetadata decodes metadata YAML from r and validates it.
func LoadMetadata(r io.Reader) (*Metadata, error) {
	var payload metadataYAML
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&payload); err != nil && err != io.EOF {
		return nil, fmt.Errorf("LoadMetadata: decode failed: %w", err)
	}

	stations := make([]model.StationMeta, 0, len(payload.Stations))
	for _, s := range payload.Stations {
		stations = append(stations, model.StationMeta{
			ID:        model.StationID(s.ID),
			Cage:      s.Cage,
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
		})
	}

	cages := make([]model.CageMeta, 0, len(payload.Cages))
	for _, c := range payload.Cages {
		if c.Name == "" {
			return nil, fmt.Errorf("LoadMetadata: cage with empty name")
		}
		cage := model.CageMeta{Name: c.Name, Depth: c.Depth}
		for _, tr := range c.Triples {
			if len(tr) != 3 {
				return nil, fmt.Errorf("LoadMetadata: %w: cage %q triple %v", ErrInvalidTriple, c.Name, tr)
			}
			cage.Triples = append(cage.Triples, [3]model.StationID{
				model.StationID(tr[0]), model.StationID(tr[1]), model.StationID(tr[2]),
			})
		}
		if g := c.Geometry; g != nil {
			if len(g.Stations) != 3 {
				return nil, fmt.Errorf("LoadMetadata: %w: cage %q needs 3 surveyed stations, has %d",
					ErrInvalidGeometry, c.Name, len(g.Stations))
			}
			geom := &model.CageGeometry{
				Circle: model.Circle{CenterX: g.Circle.X, CenterY: g.Circle.Y, Radius: g.Circle.Radius},
			}
			for i, ll := range g.Stations {
				geom.Stations[i] = model.LatLong{Latitude: ll.Latitude, Longitude: ll.Longitude}
			}
			cage.Geometry = geom
		}
		cages = append(cages, cage)
	}

	tags := make([]model.TagMeta, 0, len(payload.Tags))
	for _, t := range payload.Tags {
		tags = append(tags, model.TagMeta{
			ID:          t.ID,
			Band:        t.Band,
			Cage:        t.Cage,
			Calibration: t.Calibration,
		})
	}

	m, err := NewMetadata(stations, cages, tags)
	if err != nil {
		return nil, fmt.Errorf("LoadMetadata: %w", err)
	}
	return m, nil
}
