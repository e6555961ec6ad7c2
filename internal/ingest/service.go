// Package ingest turns transport payloads into stored messages, positions
// and raw-frame backups.
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/tagtrack/internal/logging"
	"github.com/signalsfoundry/tagtrack/internal/observability"
	"github.com/signalsfoundry/tagtrack/model"
	"github.com/signalsfoundry/tagtrack/store"
	"github.com/signalsfoundry/tagtrack/telemetry"
	"github.com/signalsfoundry/tagtrack/wire"
)

// ErrBadPayload is returned for payloads that are not a valid envelope.
var ErrBadPayload = errors.New("ingest: malformed payload")

// Envelope is the JSON payload published by station gateways.
type Envelope struct {
	// Data is the base64 encoded frame.
	Data string  `json:"data"`
	SNR  float64 `json:"snr"`
}

// DecodeEnvelope parses a payload and returns it with its decoded frame.
func DecodeEnvelope(payload []byte) (Envelope, []byte, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	if env.Data == "" {
		return env, nil, fmt.Errorf("%w: missing data", ErrBadPayload)
	}
	frame, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return env, nil, fmt.Errorf("%w: data: %w", ErrBadPayload, err)
	}
	return env, frame, nil
}

// EncodeEnvelope builds the payload for a frame.
func EncodeEnvelope(frame []byte, snr float64) ([]byte, error) {
	return json.Marshal(Envelope{Data: base64.StdEncoding.EncodeToString(frame), SNR: snr})
}

// Positioner positions the tag detections of a stored message.
type Positioner interface {
	PositionMessage(ctx context.Context, msg *model.Message) ([]model.ResolvedFix, error)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records ingest metrics on c.
func WithMetrics(c *observability.IngestCollector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithPositioner enables live positioning, bounding each message's
// positioning pass by timeout.
func WithPositioner(p Positioner, timeout time.Duration) Option {
	return func(s *Service) {
		s.pos = p
		s.timeout = timeout
	}
}

// Service handles one payload at a time.
type Service struct {
	mu      sync.Mutex
	asm     *telemetry.Assembler
	store   store.Store
	pos     Positioner
	timeout time.Duration
	metrics *observability.IngestCollector
	log     logging.Logger
}

// NewService wires an assembler and store into a Service.
func NewService(asm *telemetry.Assembler, st store.Store, opts ...Option) *Service {
	s := &Service{asm: asm, store: st, log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result summarises one handled payload.
type Result struct {
	// MessageID is nil when nothing was stored.
	MessageID *int64
	Records   int
	Fixes     []model.ResolvedFix
	// DecodeErr is set when the frame was cut short; the records decoded
	// before the failure were still stored.
	DecodeErr error
}

// Handle decodes, stores and positions one payload, then backs up the raw
// frame. Positioning failures are logged and never returned.
func (s *Service) Handle(ctx context.Context, topic string, payload []byte) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() { s.metrics.ObserveMessage(topic, time.Since(start)) }()

	ctx, log := logging.WithFrameLogger(ctx, s.log)
	log = log.With(logging.String("topic", topic))
	ctx = logging.ContextWithLogger(ctx, log)

	env, frame, err := DecodeEnvelope(payload)
	if err != nil {
		s.metrics.ObserveFrame(observability.FrameRejected)
		log.Error(ctx, "dropping payload", logging.Err(err))
		return Result{}, err
	}

	var res Result
	msg, err := s.asm.Assemble(ctx, frame)
	switch {
	case err == nil:
		s.metrics.ObserveFrame(observability.FrameOK)
	case msg != nil && recoverable(err):
		s.metrics.ObserveFrame(observability.FramePartial)
		var ce *wire.CodeError
		if errors.As(err, &ce) {
			s.metrics.ObserveUnsupportedCode(ce.Code)
		}
		log.Warn(ctx, "frame decoded partially",
			logging.Int("station_id", int(msg.Header.StationID)),
			logging.Int("records", len(msg.Records)),
			logging.Err(err))
		res.DecodeErr = err
	default:
		s.metrics.ObserveFrame(observability.FrameRejected)
		log.Error(ctx, "frame rejected", logging.Err(err))
		s.backup(ctx, env, nil)
		return res, fmt.Errorf("ingest: %w", err)
	}

	id, err := s.store.InsertMessage(ctx, msg)
	if err != nil {
		s.metrics.ObserveStoreError("insert_message")
		log.Error(ctx, "storing message failed",
			logging.Int("station_id", int(msg.Header.StationID)),
			logging.Err(err))
		s.backup(ctx, env, nil)
		return res, fmt.Errorf("ingest: store message: %w", err)
	}
	res.MessageID = &id
	res.Records = len(msg.Records)
	for _, r := range msg.Records {
		s.metrics.ObserveRecord(r.Kind().String())
	}
	log.Info(ctx, "message stored",
		logging.Int64("message_id", id),
		logging.Int("station_id", int(msg.Header.StationID)),
		logging.Int("records", len(msg.Records)))

	if s.pos != nil && len(msg.Records) > 0 {
		res.Fixes = s.position(ctx, msg)
	}

	s.backup(ctx, env, &id)
	return res, nil
}

func (s *Service) position(ctx context.Context, msg *model.Message) []model.ResolvedFix {
	log := logging.FromContext(ctx, s.log)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	fixes, err := s.pos.PositionMessage(ctx, msg)
	if err != nil {
		log.Error(ctx, "positioning incomplete", logging.Int("fixes", len(fixes)), logging.Err(err))
	}

	var stored []model.ResolvedFix
	for _, f := range fixes {
		err := s.store.InsertFix(ctx, f)
		switch {
		case errors.Is(err, store.ErrDuplicateFix):
			log.Debug(ctx, "fix already stored",
				logging.Int64("tag_id", int64(f.TagID)),
				logging.Int64("timestamp", f.Timestamp))
		case err != nil:
			s.metrics.ObserveStoreError("insert_fix")
			log.Error(ctx, "storing fix failed", logging.Int64("tag_id", int64(f.TagID)), logging.Err(err))
		default:
			log.Info(ctx, "tag positioned",
				logging.Int64("tag_id", int64(f.TagID)),
				logging.Int("band", f.Band),
				logging.String("cage", f.Cage),
				logging.Float64("x", f.X),
				logging.Float64("y", f.Y),
				logging.Float64("z", f.Z))
			stored = append(stored, f)
		}
	}
	return stored
}

func (s *Service) backup(ctx context.Context, env Envelope, id *int64) {
	if err := s.store.InsertBackup(ctx, store.Backup{MessageID: id, Data: env.Data, SNR: env.SNR}); err != nil {
		s.metrics.ObserveStoreError("insert_backup")
		logging.FromContext(ctx, s.log).Error(ctx, "backing up frame failed", logging.Err(err))
	}
}

func recoverable(err error) bool {
	return errors.Is(err, wire.ErrUnsupportedCode) || errors.Is(err, wire.ErrShortFrame)
}
