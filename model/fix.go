package model

// ArrivalTime is a detection instant split the way stations report it.
type ArrivalTime struct {
	Second      int64
	Millisecond int
}

// Seconds returns the arrival time as fractional epoch seconds.
func (a ArrivalTime) Seconds() float64 {
	return float64(a.Second) + float64(a.Millisecond)/1000
}

// ResolvedFix is one positioned detection triplet. X, Y and Z are metres in
// the local frame of the station triple.
type ResolvedFix struct {
	Timestamp   int64
	Millisecond int
	TagID       uint32
	Band        int
	Cage        string

	X float64
	Y float64
	Z float64

	Latitude  float64
	Longitude float64
}
