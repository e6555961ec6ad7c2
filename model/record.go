package model

import "fmt"

// RecordKind tags the concrete type behind a Record.
type RecordKind int

const (
	KindStationGPS RecordKind = iota + 1
	KindStationStatus
	KindTagDetection
)

func (k RecordKind) String() string {
	switch k {
	case KindStationGPS:
		return "station-gps"
	case KindStationStatus:
		return "station-status"
	case KindTagDetection:
		return "tag-detection"
	default:
		return fmt.Sprintf("RecordKind(%d)", int(k))
	}
}

// HeaderKind is the 2-bit discriminator carried in every frame header.
type HeaderKind uint8

// HeaderKindGPS marks a frame whose header is followed by a GPS slice.
const HeaderKindGPS HeaderKind = 1

// Header is the fixed leading slice of every frame.
type Header struct {
	StationID          StationID
	Kind               HeaderKind
	ReferenceTimestamp int64
}

// HasGPS reports whether the frame carries a station GPS slice.
func (h Header) HasGPS() bool { return h.Kind == HeaderKindGPS }

// Record is one decoded slice of a frame. The concrete type is one of
// *GPSRecord, *StationStatusRecord or *TagDetection.
type Record interface {
	Kind() RecordKind
	Base() *RecordBase
}

// RecordBase holds the fields every record is enriched with after decoding.
type RecordBase struct {
	StationID         StationID
	RelativeTimestamp uint8
	// Timestamp is the absolute epoch second after rollover correction.
	Timestamp int64
	// Date and Hour are derived from Timestamp in the configured time zone.
	Date string
	Hour int
	// MessageID is assigned by the store when the message is persisted.
	MessageID int64
}

// Base implements Record.
func (b *RecordBase) Base() *RecordBase { return b }

// GPSRecord is the station position report that follows a GPS header.
type GPSRecord struct {
	RecordBase

	Status       uint16
	RawLongitude uint32
	RawLatitude  uint32
	RawPDOP      uint8
	FixCode      uint8
	Satellites   uint8

	Longitude float64
	Latitude  float64
	PDOP      float64
	Fix       string
}

func (*GPSRecord) Kind() RecordKind { return KindStationGPS }

// FixQuality3D is the converted fix value required for positioning.
const FixQuality3D = "3D-fix"

// StationStatusRecord is a station self-report (temperature and noise).
type StationStatusRecord struct {
	RecordBase

	Code           uint8
	RawTemperature uint16
	Temperature    float64
	NoiseAvg       uint8
	NoisePeak      uint8
	Frequency      uint8
}

func (*StationStatusRecord) Kind() RecordKind { return KindStationStatus }

// TagDetection is one acoustic tag detection heard by a station.
type TagDetection struct {
	RecordBase

	Code        uint8
	Protocol    Protocol
	Band        int
	SNR         uint8
	Millisecond int
	TagID       uint32

	RawData  uint16
	RawData2 uint16
	// Data and Data2 hold calibrated sensor values, or the raw values when
	// no calibration factor is known for the tag.
	Data  float64
	Data2 float64
}

func (*TagDetection) Kind() RecordKind { return KindTagDetection }

// Arrival returns the detection time as an ArrivalTime.
func (d *TagDetection) Arrival() ArrivalTime {
	return ArrivalTime{Second: d.Timestamp, Millisecond: d.Millisecond}
}

// Message is one fully assembled frame.
type Message struct {
	Header  Header
	Records []Record
}

// TagDetections returns the tag detection records of m in frame order.
func (m *Message) TagDetections() []*TagDetection {
	var out []*TagDetection
	for _, r := range m.Records {
		if d, ok := r.(*TagDetection); ok {
			out = append(out, d)
		}
	}
	return out
}
