// Package store defines persistence for decoded messages, raw frame
// backups and resolved tag positions.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/tagtrack/model"
)

var (
	// ErrDuplicateFix is returned when a fix for the same timestamp, tag
	// and band already exists.
	ErrDuplicateFix = errors.New("store: duplicate fix")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
	// ErrUnknownRecord is returned for a record type no table holds.
	ErrUnknownRecord = errors.New("store: unknown record")
)

// CheckRecords returns ErrUnknownRecord for the first record that is not a
// GPS, station status or tag detection record. Stores call it before
// mutating anything.
func CheckRecords(records []model.Record) error {
	for i, r := range records {
		switch r.(type) {
		case *model.GPSRecord, *model.StationStatusRecord, *model.TagDetection:
		default:
			return fmt.Errorf("%w: record %d is %T", ErrUnknownRecord, i, r)
		}
	}
	return nil
}

// TagQuery selects tag detections. Zero Since and Until leave that side of
// the time range open; empty Stations matches every station.
type TagQuery struct {
	TagID    uint32
	Band     int
	Stations []model.StationID
	Since    int64
	Until    int64
}

// Matches reports whether d satisfies q.
func (q TagQuery) Matches(d *model.TagDetection) bool {
	if d.TagID != q.TagID || d.Band != q.Band {
		return false
	}
	if q.Since != 0 && d.Timestamp < q.Since {
		return false
	}
	if q.Until != 0 && d.Timestamp > q.Until {
		return false
	}
	if len(q.Stations) == 0 {
		return true
	}
	for _, s := range q.Stations {
		if s == d.StationID {
			return true
		}
	}
	return false
}

// FixQuery selects resolved fixes. A zero TagID matches every tag.
type FixQuery struct {
	TagID uint32
	Band  int
	Since int64
	Until int64
}

// Matches reports whether f satisfies q.
func (q FixQuery) Matches(f model.ResolvedFix) bool {
	if q.TagID != 0 && (f.TagID != q.TagID || f.Band != q.Band) {
		return false
	}
	if q.Since != 0 && f.Timestamp < q.Since {
		return false
	}
	return q.Until == 0 || f.Timestamp <= q.Until
}

// Backup is a raw frame kept as received.
type Backup struct {
	// MessageID is nil when the frame could not be stored as a message.
	MessageID *int64
	// Data is the base64 encoded frame.
	Data string
	SNR  float64
}

// StationFix is the latest usable GPS position of a station.
type StationFix struct {
	StationID model.StationID
	Timestamp int64
	Position  model.LatLong
	PDOP      float64
}

// Store persists messages, backups and fixes. Implementations are safe for
// concurrent use.
type Store interface {
	// InsertMessage stores every record of msg under a fresh message id,
	// one greater than the largest id handed out so far (0 for an empty
	// store), and returns that id. A message without records still takes
	// an id. On error nothing is stored and the records are unchanged.
	InsertMessage(ctx context.Context, msg *model.Message) (int64, error)
	InsertBackup(ctx context.Context, b Backup) error
	TagDetections(ctx context.Context, q TagQuery) ([]*model.TagDetection, error)
	// LatestStationFix returns the most recent 3D fix of a station with a
	// PDOP strictly below maxPDOP.
	LatestStationFix(ctx context.Context, station model.StationID, maxPDOP float64) (StationFix, bool, error)
	InsertFix(ctx context.Context, f model.ResolvedFix) error
	Fixes(ctx context.Context, q FixQuery) ([]model.ResolvedFix, error)
	Close() error
}
