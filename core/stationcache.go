package core

import (
	"strconv"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/signalsfoundry/tagtrack/model"
)

const defaultStationCacheTTL = 10 * time.Minute

// StationCache keeps the last selected position of each station so that
// consecutive detections do not repeat the PDOP search.
type StationCache struct {
	entries *gocache.Cache

	hits     atomic.Int64
	misses   atomic.Int64
	invalids atomic.Int64
}

// NewStationCache creates a cache with the provided TTL; zero uses a default.
func NewStationCache(ttl time.Duration) *StationCache {
	if ttl <= 0 {
		ttl = defaultStationCacheTTL
	}
	return &StationCache{
		entries: gocache.New(ttl, 2*ttl),
	}
}

func (c *StationCache) Get(id model.StationID) (model.LatLong, bool) {
	if c == nil {
		return model.LatLong{}, false
	}
	v, ok := c.entries.Get(stationKey(id))
	if !ok {
		c.misses.Add(1)
		return model.LatLong{}, false
	}
	c.hits.Add(1)
	return v.(model.LatLong), true
}

func (c *StationCache) Set(id model.StationID, pos model.LatLong) {
	if c == nil {
		return
	}
	c.entries.SetDefault(stationKey(id), pos)
}

// Invalidate drops a station, typically because it reported a new GPS fix.
func (c *StationCache) Invalidate(id model.StationID) {
	if c == nil {
		return
	}
	if _, ok := c.entries.Get(stationKey(id)); ok {
		c.invalids.Add(1)
		c.entries.Delete(stationKey(id))
	}
}

// InvalidateAll drops every station. It counts as one invalidation.
func (c *StationCache) InvalidateAll() {
	if c == nil {
		return
	}
	c.entries.Flush()
	c.invalids.Add(1)
}

func (c *StationCache) Stats() (hits, misses, invalids int64) {
	if c == nil {
		return 0, 0, 0
	}
	return c.hits.Load(), c.misses.Load(), c.invalids.Load()
}

// HitRatio is hits over lookups, or zero before the first lookup.
func (c *StationCache) HitRatio() float64 {
	hits, misses, _ := c.Stats()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func stationKey(id model.StationID) string {
	return strconv.Itoa(int(id))
}
