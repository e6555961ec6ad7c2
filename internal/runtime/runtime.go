// Package runtime assembles the decoding, storage and positioning
// components shared by the tagtrack commands.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/tagtrack/convert"
	"github.com/signalsfoundry/tagtrack/core"
	"github.com/signalsfoundry/tagtrack/internal/config"
	"github.com/signalsfoundry/tagtrack/internal/ingest"
	"github.com/signalsfoundry/tagtrack/internal/logging"
	"github.com/signalsfoundry/tagtrack/internal/observability"
	"github.com/signalsfoundry/tagtrack/kb"
	"github.com/signalsfoundry/tagtrack/store"
	"github.com/signalsfoundry/tagtrack/store/memory"
	"github.com/signalsfoundry/tagtrack/store/sqlite"
	"github.com/signalsfoundry/tagtrack/telemetry"
)

// Runtime owns the components built from one configuration.
type Runtime struct {
	Config     config.Config
	Metadata   *kb.Metadata
	Store      store.Store
	Assembler  *telemetry.Assembler
	Positioner *core.Positioner
	Collector  *observability.IngestCollector
	Service    *ingest.Service

	log       logging.Logger
	closeOnce sync.Once
}

// OpenStore opens the configured store.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("runtime: unknown store driver %q", cfg.Driver)
	}
}

// NewAssembler builds the frame assembler with the default conversion
// pipeline. meta may be nil, in which case no calibration is applied.
func NewAssembler(cfg config.TimeConfig, meta *kb.Metadata, log logging.Logger) (*telemetry.Assembler, error) {
	c := config.Config{Time: cfg}
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	opts := convert.Options{Location: loc, DateFormat: cfg.DateFormat, Logger: log}
	if meta != nil {
		opts.Calibrations = meta
	}
	p, err := convert.NewDefault(opts)
	if err != nil {
		return nil, fmt.Errorf("runtime: conversion pipeline: %w", err)
	}
	return telemetry.NewAssembler(p, telemetry.WithLogger(log)), nil
}

// New loads metadata, opens the store and wires the ingest service. reg
// receives the ingest metrics; nil uses the default registry.
func New(ctx context.Context, cfg config.Config, log logging.Logger, reg prometheus.Registerer) (*Runtime, error) {
	if log == nil {
		log = logging.Noop()
	}
	meta, err := kb.LoadMetadataFile(cfg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("runtime: metadata: %w", err)
	}
	collector, err := observability.NewIngestCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("runtime: metrics: %w", err)
	}
	asm, err := NewAssembler(cfg.Time, meta, log)
	if err != nil {
		return nil, err
	}
	st, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("runtime: store: %w", err)
	}

	rt := &Runtime{
		Config:    cfg,
		Metadata:  meta,
		Store:     st,
		Assembler: asm,
		Collector: collector,
		log:       log,
	}
	rt.Positioner = core.NewPositioner(meta, st,
		core.WithLogger(log),
		core.WithRecorder(collector),
		core.WithWindow(cfg.Positioning.Window),
		core.WithGeofenceRatio(cfg.Positioning.GeofenceRatio),
		core.WithPositionTTL(cfg.Positioning.PositionTTL),
	)

	opts := []ingest.Option{ingest.WithLogger(log), ingest.WithMetrics(collector)}
	if cfg.Positioning.Enabled {
		opts = append(opts, ingest.WithPositioner(rt.Positioner, cfg.Positioning.Timeout))
	}
	rt.Service = ingest.NewService(asm, st, opts...)

	log.Info(ctx, "runtime ready",
		logging.String("store", cfg.Store.Driver),
		logging.Int("stations", len(meta.Stations())),
		logging.Int("cages", len(meta.Cages())),
		logging.Int("depth_tags", len(meta.DepthTags())),
		logging.Any("positioning", cfg.Positioning.Enabled))
	return rt, nil
}

// Reposition runs the positioner over the full detection history of every
// depth tag and stores the fixes. It returns the number of new fixes.
// Cached station positions are dropped first: GPS records stored while
// live positioning was off never reached the cache.
func (r *Runtime) Reposition(ctx context.Context) (int, error) {
	var (
		added int
		errs  []error
	)
	r.Positioner.Cache().InvalidateAll()
	for _, tag := range r.Metadata.DepthTags() {
		fixes, err := r.Positioner.PositionHistory(ctx, tag)
		if err != nil {
			errs = append(errs, fmt.Errorf("tag %d@%d: %w", tag.ID, tag.Band, err))
		}
		for _, f := range fixes {
			switch err := r.Store.InsertFix(ctx, f); {
			case errors.Is(err, store.ErrDuplicateFix):
			case err != nil:
				return added, fmt.Errorf("runtime: store fix: %w", err)
			default:
				added++
			}
		}
		r.log.Info(ctx, "repositioned tag",
			logging.Int64("tag_id", int64(tag.ID)),
			logging.Int("band", tag.Band),
			logging.Int("fixes", len(fixes)))
	}
	return added, errors.Join(errs...)
}

// Close releases the store.
func (r *Runtime) Close() error {
	var err error
	r.closeOnce.Do(func() { err = r.Store.Close() })
	return err
}
