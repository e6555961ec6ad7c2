// Package storetest holds behaviour checks shared by every Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/tagtrack/model"
	"github.com/signalsfoundry/tagtrack/store"
)

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("MessageIDs", func(t *testing.T) { testMessageIDs(t, open(t)) })
	t.Run("TagDetections", func(t *testing.T) { testTagDetections(t, open(t)) })
	t.Run("LatestStationFix", func(t *testing.T) { testLatestStationFix(t, open(t)) })
	t.Run("Fixes", func(t *testing.T) { testFixes(t, open(t)) })
	t.Run("Backup", func(t *testing.T) { testBackup(t, open(t)) })
	t.Run("EmptyMessagesTakeIDs", func(t *testing.T) { testEmptyMessagesTakeIDs(t, open(t)) })
	t.Run("UnknownRecordLeavesNoTrace", func(t *testing.T) { testUnknownRecord(t, open(t)) })
}

// Detection returns a converted tag detection.
func Detection(station model.StationID, ts int64, ms int, tag uint32, band int, data float64) *model.TagDetection {
	return &model.TagDetection{
		RecordBase:  model.RecordBase{StationID: station, Timestamp: ts, Date: "2019-04-29 16:29:29", Hour: 16},
		Code:        3,
		Protocol:    model.ProtocolS256,
		Band:        band,
		SNR:         20,
		Millisecond: ms,
		TagID:       tag,
		RawData:     uint16(data * 10),
		Data:        data,
	}
}

// GPS returns a converted station GPS record.
func GPS(station model.StationID, ts int64, lat, lon, pdop float64, fix string) *model.GPSRecord {
	return &model.GPSRecord{
		RecordBase: model.RecordBase{StationID: station, Timestamp: ts, Date: "2019-04-29 16:29:29", Hour: 16},
		Latitude:   lat,
		Longitude:  lon,
		PDOP:       pdop,
		Fix:        fix,
		Satellites: 8,
	}
}

func insert(t *testing.T, s store.Store, records ...model.Record) int64 {
	t.Helper()
	id, err := s.InsertMessage(context.Background(), &model.Message{Records: records})
	require.NoError(t, err)
	return id
}

func testMessageIDs(t *testing.T, s store.Store) {
	defer s.Close()
	status := &model.StationStatusRecord{
		RecordBase:  model.RecordBase{StationID: 1, Timestamp: 100},
		Temperature: 9.2,
	}
	first := insert(t, s, status)
	if first != 0 {
		t.Fatalf("first message id = %d, want 0", first)
	}
	second := insert(t, s, Detection(1, 101, 0, 10, 69, 1), GPS(1, 101, 63.4, 10.4, 1.1, model.FixQuality3D))
	if second != 1 {
		t.Fatalf("second message id = %d, want 1", second)
	}
	got, err := s.TagDetections(context.Background(), store.TagQuery{TagID: 10, Band: 69})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].MessageID)
}

func testTagDetections(t *testing.T, s store.Store) {
	defer s.Close()
	insert(t, s,
		Detection(1, 100, 10, 10, 69, 3.5),
		Detection(2, 100, 20, 10, 69, 3.5),
		Detection(3, 101, 5, 10, 69, 3.5),
		Detection(4, 100, 30, 10, 69, 3.5),
		Detection(1, 100, 10, 10, 70, 3.5),
		Detection(1, 120, 10, 10, 69, 3.5),
	)
	ctx := context.Background()

	got, err := s.TagDetections(ctx, store.TagQuery{
		TagID: 10, Band: 69, Stations: []model.StationID{1, 2, 3}, Since: 95, Until: 105,
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	stations := []model.StationID{got[0].StationID, got[1].StationID, got[2].StationID}
	assert.ElementsMatch(t, []model.StationID{1, 2, 3}, stations)
	assert.Equal(t, model.ProtocolS256, got[0].Protocol)
	assert.InDelta(t, 3.5, got[0].Data, 1e-9)

	all, err := s.TagDetections(ctx, store.TagQuery{TagID: 10, Band: 69})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func testLatestStationFix(t *testing.T, s store.Store) {
	defer s.Close()
	insert(t, s,
		GPS(1, 100, 63.40000, 10.40000, 1.5, model.FixQuality3D),
		GPS(1, 200, 63.40010, 10.40010, 2.5, model.FixQuality3D),
		GPS(1, 300, 63.40020, 10.40020, 0.9, "2D-fix"),
		GPS(2, 100, 63.5, 10.5, 0.8, model.FixQuality3D),
	)
	ctx := context.Background()

	tests := []struct {
		maxPDOP float64
		wantOK  bool
		wantTS  int64
	}{
		{1, false, 0},
		{2, true, 100},
		{3, true, 200},
	}
	for _, tt := range tests {
		fix, ok, err := s.LatestStationFix(ctx, 1, tt.maxPDOP)
		require.NoError(t, err)
		if ok != tt.wantOK {
			t.Fatalf("LatestStationFix(1, %v) ok = %v, want %v", tt.maxPDOP, ok, tt.wantOK)
		}
		if ok && fix.Timestamp != tt.wantTS {
			t.Fatalf("LatestStationFix(1, %v) timestamp = %d, want %d", tt.maxPDOP, fix.Timestamp, tt.wantTS)
		}
	}
	fix, ok, err := s.LatestStationFix(ctx, 2, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 63.5, fix.Position.Latitude, 1e-9)
}

func testFixes(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	f := model.ResolvedFix{Timestamp: 100, Millisecond: 5, TagID: 10, Band: 69, Cage: "ref", X: 1, Y: 2, Z: -3}
	require.NoError(t, s.InsertFix(ctx, f))

	err := s.InsertFix(ctx, f)
	if !errors.Is(err, store.ErrDuplicateFix) {
		t.Fatalf("InsertFix(duplicate) error = %v, want ErrDuplicateFix", err)
	}
	other := f
	other.Band = 70
	require.NoError(t, s.InsertFix(ctx, other))

	got, err := s.Fixes(ctx, store.FixQuery{TagID: 10, Band: 69})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f, got[0])

	all, err := s.Fixes(ctx, store.FixQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testBackup(t *testing.T, s store.Store) {
	defer s.Close()
	id := int64(4)
	require.NoError(t, s.InsertBackup(context.Background(), store.Backup{MessageID: &id, Data: "AAEC", SNR: 12.5}))
	require.NoError(t, s.InsertBackup(context.Background(), store.Backup{Data: "AAED", SNR: 1}))
}

func testEmptyMessagesTakeIDs(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	for want := int64(0); want < 3; want++ {
		id, err := s.InsertMessage(ctx, &model.Message{Header: model.Header{StationID: 7, ReferenceTimestamp: 1000}})
		require.NoError(t, err)
		if id != want {
			t.Fatalf("empty message %d got id %d", want, id)
		}
	}
	if id := insert(t, s, Detection(7, 1001, 0, 10, 69, 1)); id != 3 {
		t.Fatalf("message after empty ones got id %d, want 3", id)
	}
}

type unknownRecord struct{ model.RecordBase }

func (*unknownRecord) Kind() model.RecordKind { return 0 }
func (r *unknownRecord) Base() *model.RecordBase { return &r.RecordBase }

func testUnknownRecord(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	det := Detection(1, 100, 0, 10, 69, 1)
	det.MessageID = -1

	_, err := s.InsertMessage(ctx, &model.Message{Records: []model.Record{det, &unknownRecord{}}})
	if !errors.Is(err, store.ErrUnknownRecord) {
		t.Fatalf("InsertMessage() error = %v, want ErrUnknownRecord", err)
	}
	assert.Equal(t, int64(-1), det.MessageID)

	got, err := s.TagDetections(ctx, store.TagQuery{TagID: 10, Band: 69})
	require.NoError(t, err)
	assert.Empty(t, got)
	if id := insert(t, s, Detection(1, 101, 0, 10, 69, 1)); id != 0 {
		t.Fatalf("first successful message got id %d, want 0", id)
	}
}
