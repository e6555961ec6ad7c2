package wire

import "github.com/signalsfoundry/tagtrack/model"

// Field names produced by the fixed and tag layouts.
const (
	FieldStationID    = "station_id"
	FieldHeaderKind   = "header_kind"
	FieldRefTimestamp = "ref_timestamp"

	FieldStatus     = "status"
	FieldLongitude  = "longitude"
	FieldPDOP       = "pdop"
	FieldLatitude   = "latitude"
	FieldFix        = "fix"
	FieldSatellites = "num_sat_tracked"

	FieldTimestamp      = "timestamp"
	FieldCommCode       = "comm_code"
	FieldTemperature    = "temperature"
	FieldTemperatureRaw = "temperature_raw"
	FieldNoiseAvg       = "noise_avg"
	FieldNoisePeak      = "noise_peak"
	FieldFrequency      = "frequency"

	FieldSNR         = "snr"
	FieldMillisecond = "millisecond"
	FieldTagID       = "tag_id"
	FieldTagData     = "tag_data"
	FieldTagDataRaw  = "tag_data_raw"
	FieldTagData2    = "tag_data_2"
	FieldTagData2Raw = "tag_data_2_raw"
)

// CodeOffset is the position of the communication code inside every
// record slice, after the one-byte relative timestamp.
const CodeOffset = 1

var (
	// HeaderLayout is the 6-byte slice that opens every frame.
	HeaderLayout = Layout{
		Seg(2, MSB(FieldStationID, 2, 14), LSB(FieldHeaderKind, 1, 2)),
		Seg(4, Whole(FieldRefTimestamp, 4)),
	}

	// GPSLayout is the 10-byte slice following a GPS header.
	GPSLayout = Layout{
		Seg(5, MSB(FieldStatus, 2, 14), LSB(FieldLongitude, 4, 26)),
		Seg(4, MSB(FieldPDOP, 1, 7), LSB(FieldLatitude, 4, 25)),
		Seg(1, MSB(FieldFix, 1, 3), LSB(FieldSatellites, 1, 5)),
	}

	// StationStatusLayout is selected by StationStatusCode. Temperature and
	// its raw copy are read from the same two bytes.
	StationStatusLayout = Layout{
		Seg(1, Whole(FieldTimestamp, 1)),
		Seg(1, Whole(FieldCommCode, 1)),
		Seg(2, Whole(FieldTemperature, 2), Whole(FieldTemperatureRaw, 2)),
		Seg(1, Whole(FieldNoiseAvg, 1)),
		Seg(1, Whole(FieldNoisePeak, 1)),
		Seg(1, Whole(FieldFrequency, 1)),
	}

	// tagBaseLayout opens every tag detection slice.
	tagBaseLayout = Layout{
		Seg(1, Whole(FieldTimestamp, 1)),
		Seg(1, Whole(FieldCommCode, 1)),
		Seg(2, MSB(FieldSNR, 1, 6), LSB(FieldMillisecond, 2, 10)),
	}
)

func dataSeg(n int, name, raw string) Segment {
	return Seg(n, Whole(name, n), Whole(raw, n))
}

// protocolSegments holds the trailing segments of each sub-protocol.
var protocolSegments = map[model.Protocol][]Segment{
	model.ProtocolR256:  {Seg(1, Whole(FieldTagID, 1))},
	model.ProtocolR04K:  {Seg(2, Whole(FieldTagID, 2))},
	model.ProtocolR64K:  {Seg(2, Whole(FieldTagID, 2))},
	model.ProtocolS256:  {Seg(1, Whole(FieldTagID, 1)), dataSeg(1, FieldTagData, FieldTagDataRaw)},
	model.ProtocolR01M:  {Seg(3, Whole(FieldTagID, 3))},
	model.ProtocolS64K:  {Seg(2, Whole(FieldTagID, 2)), dataSeg(1, FieldTagData, FieldTagDataRaw)},
	model.ProtocolHS256: {Seg(1, Whole(FieldTagID, 1)), dataSeg(2, FieldTagData, FieldTagDataRaw)},
	model.ProtocolDS256: {
		Seg(1, Whole(FieldTagID, 1)),
		dataSeg(1, FieldTagData, FieldTagDataRaw),
		dataSeg(1, FieldTagData2, FieldTagData2Raw),
	},
}

// tagLayouts is indexed by protocol.
var tagLayouts = func() [len(model.Protocols)]Layout {
	var out [len(model.Protocols)]Layout
	for _, p := range model.Protocols {
		out[p] = tagBaseLayout.Concat(protocolSegments[p]...)
	}
	return out
}()

// TagLayout returns the full detection layout of a sub-protocol.
func TagLayout(p model.Protocol) (Layout, bool) {
	if int(p) >= len(tagLayouts) {
		return nil, false
	}
	return tagLayouts[p], true
}
