package model

// StationID is the 14-bit serial of a receiver station.
type StationID uint16

// LatLong is a geographic coordinate in decimal degrees.
type LatLong struct {
	Latitude  float64
	Longitude float64
}

// StationMeta describes a fixed receiver station.
type StationMeta struct {
	ID        StationID
	Cage      string
	Latitude  float64
	Longitude float64
}

// Position returns the configured coordinate of the station.
func (s StationMeta) Position() LatLong {
	return LatLong{Latitude: s.Latitude, Longitude: s.Longitude}
}

// Circle is a geofence in the local frame of a station triple, in metres.
type Circle struct {
	CenterX float64
	CenterY float64
	Radius  float64
}

// CageGeometry is the surveyed geometry of a cage. Stations holds the
// surveyed coordinates of the first station triple, in A/B/C order.
type CageGeometry struct {
	Circle   Circle
	Stations [3]LatLong
}

// CageMeta describes an enclosure watched by one or more station triples.
type CageMeta struct {
	Name    string
	Triples [][3]StationID
	// Depth is the shared depth of the station hydrophones, in metres.
	Depth    float64
	Geometry *CageGeometry
}

// TagMeta marks a (tag, band) pair as a depth-reporting tag.
type TagMeta struct {
	ID   uint32
	Band int
	Cage string
	// Calibration multiplies raw sensor values. Zero means none is known.
	Calibration float64
}

// TagKey identifies a tag across the code space.
type TagKey struct {
	ID   uint32
	Band int
}
