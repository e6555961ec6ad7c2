// Package memory is an in-process Store used by tests, the simulator and
// daemons configured without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/tagtrack/model"
	"github.com/signalsfoundry/tagtrack/store"
)

type fixKey struct {
	timestamp int64
	tagID     uint32
	band      int
}

// Store keeps everything in maps guarded by an RWMutex.
type Store struct {
	mu sync.RWMutex

	closed   bool
	nextID   int64
	gps      []model.GPSRecord
	statuses []model.StationStatusRecord
	tags     []model.TagDetection
	backups  []store.Backup
	fixes    []model.ResolvedFix
	fixByKey map[fixKey]struct{}
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{fixByKey: make(map[fixKey]struct{})}
}

func (s *Store) InsertMessage(_ context.Context, msg *model.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	if err := store.CheckRecords(msg.Records); err != nil {
		return 0, err
	}
	id := s.nextID
	for _, r := range msg.Records {
		r.Base().MessageID = id
		switch rec := r.(type) {
		case *model.GPSRecord:
			s.gps = append(s.gps, *rec)
		case *model.StationStatusRecord:
			s.statuses = append(s.statuses, *rec)
		case *model.TagDetection:
			s.tags = append(s.tags, *rec)
		}
	}
	s.nextID++
	return id, nil
}

func (s *Store) InsertBackup(_ context.Context, b store.Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.backups = append(s.backups, b)
	return nil
}

// Backups returns the stored raw frames in insertion order.
func (s *Store) Backups() []store.Backup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Backup, len(s.backups))
	copy(out, s.backups)
	return out
}

// Statuses returns the stored station self-reports.
func (s *Store) Statuses() []model.StationStatusRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StationStatusRecord, len(s.statuses))
	copy(out, s.statuses)
	return out
}

func (s *Store) TagDetections(_ context.Context, q store.TagQuery) ([]*model.TagDetection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	var out []*model.TagDetection
	for i := range s.tags {
		if q.Matches(&s.tags[i]) {
			d := s.tags[i]
			out = append(out, &d)
		}
	}
	return out, nil
}

func (s *Store) LatestStationFix(_ context.Context, station model.StationID, maxPDOP float64) (store.StationFix, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.StationFix{}, false, store.ErrClosed
	}
	var (
		best  *model.GPSRecord
		found bool
	)
	for i := range s.gps {
		g := &s.gps[i]
		if g.StationID != station || g.Fix != model.FixQuality3D || g.PDOP >= maxPDOP {
			continue
		}
		if !found || g.Timestamp >= best.Timestamp {
			best, found = g, true
		}
	}
	if !found {
		return store.StationFix{}, false, nil
	}
	return store.StationFix{
		StationID: station,
		Timestamp: best.Timestamp,
		Position:  model.LatLong{Latitude: best.Latitude, Longitude: best.Longitude},
		PDOP:      best.PDOP,
	}, true, nil
}

func (s *Store) InsertFix(_ context.Context, f model.ResolvedFix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	k := fixKey{timestamp: f.Timestamp, tagID: f.TagID, band: f.Band}
	if _, ok := s.fixByKey[k]; ok {
		return fmt.Errorf("%w: tag %d band %d at %d", store.ErrDuplicateFix, f.TagID, f.Band, f.Timestamp)
	}
	s.fixByKey[k] = struct{}{}
	s.fixes = append(s.fixes, f)
	return nil
}

func (s *Store) Fixes(_ context.Context, q store.FixQuery) ([]model.ResolvedFix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	var out []model.ResolvedFix
	for _, f := range s.fixes {
		if q.Matches(f) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
