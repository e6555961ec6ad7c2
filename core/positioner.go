package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/tagtrack/internal/logging"
	"github.com/signalsfoundry/tagtrack/kb"
	"github.com/signalsfoundry/tagtrack/model"
	"github.com/signalsfoundry/tagtrack/store"
)

const tracerName = "github.com/signalsfoundry/tagtrack/core"

const (
	// DefaultWindow is the half-width, in seconds, of the store query
	// around a triggering detection.
	DefaultWindow = 5
	// maxPDOPSteps bounds the PDOP thresholds tried when selecting a
	// station position: strictly below 1, then 2, up to 6.
	maxPDOPSteps = 6
)

var (
	ErrInsufficientPositions = errors.New("core: insufficient station positions")
	ErrNoTriplet             = errors.New("core: no detection triplet")
	ErrNoSolution            = errors.New("core: no position candidates")
	ErrOutsideGeofence       = errors.New("core: position outside geofence")
)

// Outcome labels the result of one positioning attempt.
type Outcome string

const (
	OutcomeResolved        Outcome = "resolved"
	OutcomeNoTriplet       Outcome = "no_triplet"
	OutcomeNoStations      Outcome = "no_station_positions"
	OutcomeNoSolution      Outcome = "no_solution"
	OutcomeOutsideGeofence Outcome = "outside_geofence"
	OutcomeDegenerateFrame Outcome = "degenerate_frame"
	OutcomeError           Outcome = "error"
)

// OutcomeOf maps a Locate error to its outcome label.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeResolved
	case errors.Is(err, ErrNoTriplet):
		return OutcomeNoTriplet
	case errors.Is(err, ErrInsufficientPositions):
		return OutcomeNoStations
	case errors.Is(err, ErrNoSolution):
		return OutcomeNoSolution
	case errors.Is(err, ErrOutsideGeofence):
		return OutcomeOutsideGeofence
	case errors.Is(err, ErrDegenerateFrame):
		return OutcomeDegenerateFrame
	default:
		return OutcomeError
	}
}

// Source is the read side of a store that positioning needs.
type Source interface {
	TagDetections(ctx context.Context, q store.TagQuery) ([]*model.TagDetection, error)
	LatestStationFix(ctx context.Context, station model.StationID, maxPDOP float64) (store.StationFix, bool, error)
}

// Recorder receives positioning measurements. A nil Recorder is allowed.
type Recorder interface {
	ObserveFix(outcome string, d time.Duration)
	SetStationCacheHitRatio(ratio float64)
}

// Option configures a Positioner.
type Option func(*Positioner)

func WithLogger(l logging.Logger) Option {
	return func(p *Positioner) {
		if l != nil {
			p.log = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Positioner) {
		if t != nil {
			p.tracer = t
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Positioner) { p.rec = recorder{r} }
}

// WithWindow sets the live query half-width in seconds.
func WithWindow(seconds int64) Option {
	return func(p *Positioner) {
		if seconds > 0 {
			p.window = seconds
		}
	}
}

func WithGeofenceRatio(ratio float64) Option {
	return func(p *Positioner) {
		if ratio > 0 {
			p.ratio = ratio
		}
	}
}

// WithPositionTTL sets how long a selected station position is reused.
func WithPositionTTL(ttl time.Duration) Option {
	return func(p *Positioner) { p.cache = NewStationCache(ttl) }
}

// Positioner turns tag detections into resolved fixes. It is safe for
// concurrent use.
type Positioner struct {
	meta   *kb.Metadata
	src    Source
	cache  *StationCache
	log    logging.Logger
	tracer trace.Tracer
	rec    recorder
	window int64
	ratio  float64
}

// NewPositioner returns a positioner over the given metadata and store.
func NewPositioner(meta *kb.Metadata, src Source, opts ...Option) *Positioner {
	p := &Positioner{
		meta:   meta,
		src:    src,
		log:    logging.Noop(),
		tracer: otel.Tracer(tracerName),
		window: DefaultWindow,
		ratio:  DefaultGeofenceRatio,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		p.cache = NewStationCache(0)
	}
	return p
}

// Cache exposes the station position cache.
func (p *Positioner) Cache() *StationCache { return p.cache }

// ObserveGPS drops the cached position of a station that reported a new
// GPS record.
func (p *Positioner) ObserveGPS(rec *model.GPSRecord) {
	p.cache.Invalidate(rec.StationID)
}

// PositionMessage positions every depth-tag detection of a stored message.
// Detections that cannot be positioned are logged and skipped; only store
// failures and context cancellation are returned.
func (p *Positioner) PositionMessage(ctx context.Context, msg *model.Message) ([]model.ResolvedFix, error) {
	ctx, span := p.tracer.Start(ctx, "core.PositionMessage",
		trace.WithAttributes(attribute.Int("station_id", int(msg.Header.StationID))))
	defer span.End()
	log := logging.FromContext(ctx, p.log)

	for _, r := range msg.Records {
		if g, ok := r.(*model.GPSRecord); ok {
			p.ObserveGPS(g)
		}
	}

	var (
		out  []model.ResolvedFix
		seen = make(map[fixKey]struct{})
		errs []error
	)
	for _, d := range msg.TagDetections() {
		tag, ok := p.meta.Tag(d.TagID, d.Band)
		if !ok || tag.Cage == "" {
			continue
		}
		for _, ct := range p.meta.TriplesForStation(d.StationID) {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			fix, err := p.locateLive(ctx, ct, d)
			if err != nil {
				if isSkip(err) {
					log.Debug(ctx, "detection not positioned",
						logging.Int64("tag_id", int64(d.TagID)),
						logging.Int("band", d.Band),
						logging.String("cage", ct.Cage),
						logging.String("outcome", string(OutcomeOf(err))),
						logging.Err(err))
					continue
				}
				log.Error(ctx, "positioning failed",
					logging.Int64("tag_id", int64(d.TagID)),
					logging.Int("band", d.Band),
					logging.String("cage", ct.Cage),
					logging.Err(err))
				errs = append(errs, err)
				continue
			}
			k := fixKey{fix.Timestamp, fix.TagID, fix.Band}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, fix)
		}
	}
	p.rec.setHitRatio(p.cache.HitRatio())
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "positioning failed")
		return out, err
	}
	span.SetAttributes(attribute.Int("fixes", len(out)))
	return out, nil
}

type fixKey struct {
	timestamp int64
	tagID     uint32
	band      int
}

func (p *Positioner) locateLive(ctx context.Context, ct kb.CageTriple, d *model.TagDetection) (model.ResolvedFix, error) {
	cage, ok := p.meta.Cage(ct.Cage)
	if !ok {
		return model.ResolvedFix{}, fmt.Errorf("%w: %q", kb.ErrUnknownCage, ct.Cage)
	}
	dets, err := p.src.TagDetections(ctx, store.TagQuery{
		TagID:    d.TagID,
		Band:     d.Band,
		Stations: ct.Triple[:],
		Since:    d.Timestamp - p.window,
		Until:    d.Timestamp + p.window,
	})
	if err != nil {
		return model.ResolvedFix{}, fmt.Errorf("load detections: %w", err)
	}

	var trip Triplet
	found := false
	for _, t := range FindTriplets(dets, ct.Triple) {
		if t.Contains(d) {
			trip, found = t, true
			break
		}
	}
	if !found {
		return model.ResolvedFix{}, fmt.Errorf("%w: tag %d in %d detections", ErrNoTriplet, d.TagID, len(dets))
	}

	frame, err := p.StationFrame(ctx, cage, ct.Triple)
	if err != nil {
		return model.ResolvedFix{}, err
	}
	return p.Locate(ctx, cage, frame, trip)
}

func isSkip(err error) bool {
	return OutcomeOf(err) != OutcomeError
}

// PositionHistory positions every triplet in the full detection history of
// a tag. The surveyed station coordinates of a cage are used for its first
// triple when present.
func (p *Positioner) PositionHistory(ctx context.Context, tag model.TagMeta) ([]model.ResolvedFix, error) {
	ctx, span := p.tracer.Start(ctx, "core.PositionHistory", trace.WithAttributes(
		attribute.Int64("tag_id", int64(tag.ID)),
		attribute.Int("band", tag.Band)))
	defer span.End()
	log := logging.FromContext(ctx, p.log)

	cage, ok := p.meta.Cage(tag.Cage)
	if !ok {
		return nil, fmt.Errorf("%w: %q", kb.ErrUnknownCage, tag.Cage)
	}

	var out []model.ResolvedFix
	for i, triple := range cage.Triples {
		var (
			frame *StationFrame
			err   error
		)
		if i == 0 && cage.Geometry != nil {
			frame, err = NewStationFrame(triple, cage.Geometry.Stations, cage.Depth)
		} else {
			frame, err = p.StationFrame(ctx, cage, triple)
		}
		if err != nil {
			log.Warn(ctx, "skipping station triple",
				logging.String("cage", cage.Name),
				logging.Any("triple", triple),
				logging.Err(err))
			continue
		}

		dets, err := p.src.TagDetections(ctx, store.TagQuery{TagID: tag.ID, Band: tag.Band, Stations: triple[:]})
		if err != nil {
			return out, fmt.Errorf("load detections: %w", err)
		}
		for _, trip := range FindTriplets(dets, triple) {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			fix, err := p.Locate(ctx, cage, frame, trip)
			if err != nil {
				log.Debug(ctx, "triplet not positioned",
					logging.Int64("tag_id", int64(tag.ID)),
					logging.Int64("timestamp", trip.First().Timestamp),
					logging.String("outcome", string(OutcomeOf(err))))
				continue
			}
			out = append(out, fix)
		}
	}
	span.SetAttributes(attribute.Int("fixes", len(out)))
	return out, nil
}

// StationFrame builds the local frame of a triple from the latest usable
// GPS position of each station. When a station has none, the surveyed
// coordinates are used if the triple is the cage's first and the cage has
// them.
func (p *Positioner) StationFrame(ctx context.Context, cage model.CageMeta, triple [3]model.StationID) (*StationFrame, error) {
	var pos [3]model.LatLong
	missing := false
	for i, id := range triple {
		ll, ok, err := p.stationPosition(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = true
			break
		}
		pos[i] = ll
	}
	if missing {
		if cage.Geometry == nil || len(cage.Triples) == 0 || cage.Triples[0] != triple {
			return nil, fmt.Errorf("%w: triple %v of cage %q", ErrInsufficientPositions, triple, cage.Name)
		}
		pos = cage.Geometry.Stations
	}
	return NewStationFrame(triple, pos, cage.Depth)
}

func (p *Positioner) stationPosition(ctx context.Context, id model.StationID) (model.LatLong, bool, error) {
	if ll, ok := p.cache.Get(id); ok {
		return ll, true, nil
	}
	for pdop := 1; pdop <= maxPDOPSteps; pdop++ {
		fix, ok, err := p.src.LatestStationFix(ctx, id, float64(pdop))
		if err != nil {
			return model.LatLong{}, false, fmt.Errorf("station %d position: %w", id, err)
		}
		if ok {
			p.cache.Set(id, fix.Position)
			return fix.Position, true, nil
		}
	}
	return model.LatLong{}, false, nil
}

// Locate positions one triplet in a station frame: drift correction, the
// hyperbolic fix, ambiguity resolution and the geofence.
func (p *Positioner) Locate(ctx context.Context, cage model.CageMeta, frame *StationFrame, trip Triplet) (fix model.ResolvedFix, err error) {
	start := time.Now()
	_, span := p.tracer.Start(ctx, "core.Locate", trace.WithAttributes(
		attribute.String("cage", cage.Name),
		attribute.Int64("tag_id", int64(trip.First().TagID))))
	defer func() {
		outcome := OutcomeOf(err)
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		if outcome == OutcomeError {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		p.rec.observe(outcome, time.Since(start))
	}()

	corrected := CorrectDrift(trip)
	ts, ok := corrected.Timestamps(frame.IDs)
	if !ok {
		return model.ResolvedFix{}, fmt.Errorf("%w: stations do not match %v", ErrNoTriplet, frame.IDs)
	}
	depth := stat.Mean(corrected.Data(), nil)
	z := depth - frame.Depth

	cands := Solve(frame, ts, z)
	res, ok := ResolveAmbiguity(frame, ts, cands)
	if !ok {
		return model.ResolvedFix{}, ErrNoSolution
	}

	var circle model.Circle
	if cage.Geometry != nil {
		circle = cage.Geometry.Circle
	} else if circle, err = frame.StationCircle(); err != nil {
		return model.ResolvedFix{}, fmt.Errorf("%w: %v", ErrDegenerateFrame, err)
	}
	pos, ok := ApplyGeofence(res, circle, p.ratio)
	if !ok {
		return model.ResolvedFix{}, ErrOutsideGeofence
	}

	ll, err := frame.ToGeodetic(pos.X, pos.Y)
	if err != nil {
		return model.ResolvedFix{}, err
	}
	first := corrected.First()
	return model.ResolvedFix{
		Timestamp:   first.Timestamp,
		Millisecond: first.Millisecond,
		TagID:       first.TagID,
		Band:        first.Band,
		Cage:        cage.Name,
		X:           pos.X,
		Y:           pos.Y,
		Z:           pos.Z,
		Latitude:    ll.Latitude,
		Longitude:   ll.Longitude,
	}, nil
}

type recorder struct{ Recorder }

func (r recorder) observe(o Outcome, d time.Duration) {
	if r.Recorder != nil {
		r.Recorder.ObserveFix(string(o), d)
	}
}

func (r recorder) setHitRatio(ratio float64) {
	if r.Recorder != nil {
		r.Recorder.SetStationCacheHitRatio(ratio)
	}
}
