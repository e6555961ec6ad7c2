package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame results recorded by ObserveFrame.
const (
	FrameOK       = "ok"
	FramePartial  = "partial"
	FrameRejected = "rejected"
)

// IngestCollector bundles Prometheus metrics for frame ingestion and
// positioning, and exposes them over HTTP.
type IngestCollector struct {
	gatherer prometheus.Gatherer

	Messages         *prometheus.CounterVec
	MessageDurations prometheus.Histogram
	Frames           *prometheus.CounterVec
	Records          *prometheus.CounterVec
	UnsupportedCodes *prometheus.CounterVec
	StoreErrors      *prometheus.CounterVec

	Fixes                *prometheus.CounterVec
	PositioningDurations prometheus.Histogram
	StationCacheHitRatio prometheus.Gauge
}

// NewIngestCollector registers ingest metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewIngestCollector(reg prometheus.Registerer) (*IngestCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	messages, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagtrack_messages_total",
		Help: "Transport messages received, labeled by topic.",
	}, []string{"topic"}), "tagtrack_messages_total")
	if err != nil {
		return nil, err
	}
	messageDurations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tagtrack_message_duration_seconds",
		Help:    "Time to decode, store and position one message.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "tagtrack_message_duration_seconds")
	if err != nil {
		return nil, err
	}
	frames, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagtrack_frames_total",
		Help: "Decoded frames, labeled by result (ok, partial, rejected).",
	}, []string{"result"}), "tagtrack_frames_total")
	if err != nil {
		return nil, err
	}
	records, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagtrack_records_total",
		Help: "Decoded records, labeled by kind.",
	}, []string{"kind"}), "tagtrack_records_total")
	if err != nil {
		return nil, err
	}
	unsupported, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagtrack_unsupported_codes_total",
		Help: "Frames cut short by an unsupported communication code, labeled by code.",
	}, []string{"code"}), "tagtrack_unsupported_codes_total")
	if err != nil {
		return nil, err
	}
	storeErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagtrack_store_errors_total",
		Help: "Failed store operations, labeled by operation.",
	}, []string{"op"}), "tagtrack_store_errors_total")
	if err != nil {
		return nil, err
	}
	fixes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagtrack_fixes_total",
		Help: "Positioning attempts, labeled by outcome.",
	}, []string{"outcome"}), "tagtrack_fixes_total")
	if err != nil {
		return nil, err
	}
	positioning, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tagtrack_positioning_duration_seconds",
		Help:    "Duration of one triplet positioning attempt.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}), "tagtrack_positioning_duration_seconds")
	if err != nil {
		return nil, err
	}
	cacheRatio, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tagtrack_station_cache_hit_ratio",
		Help: "Hit ratio for the station position cache.",
	}), "tagtrack_station_cache_hit_ratio")
	if err != nil {
		return nil, err
	}

	return &IngestCollector{
		gatherer:             gatherer,
		Messages:             messages,
		MessageDurations:     messageDurations,
		Frames:               frames,
		Records:              records,
		UnsupportedCodes:     unsupported,
		StoreErrors:          storeErrors,
		Fixes:                fixes,
		PositioningDurations: positioning,
		StationCacheHitRatio: cacheRatio,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *IngestCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *IngestCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveMessage records one handled transport message.
func (c *IngestCollector) ObserveMessage(topic string, d time.Duration) {
	if c == nil {
		return
	}
	if c.Messages != nil {
		c.Messages.WithLabelValues(topic).Inc()
	}
	if c.MessageDurations != nil {
		c.MessageDurations.Observe(d.Seconds())
	}
}

func (c *IngestCollector) ObserveFrame(result string) {
	if c == nil || c.Frames == nil {
		return
	}
	c.Frames.WithLabelValues(result).Inc()
}

func (c *IngestCollector) ObserveRecord(kind string) {
	if c == nil || c.Records == nil {
		return
	}
	c.Records.WithLabelValues(kind).Inc()
}

func (c *IngestCollector) ObserveUnsupportedCode(code byte) {
	if c == nil || c.UnsupportedCodes == nil {
		return
	}
	c.UnsupportedCodes.WithLabelValues(strconv.Itoa(int(code))).Inc()
}

func (c *IngestCollector) ObserveStoreError(op string) {
	if c == nil || c.StoreErrors == nil {
		return
	}
	c.StoreErrors.WithLabelValues(op).Inc()
}

// ObserveFix records one positioning attempt.
func (c *IngestCollector) ObserveFix(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	if c.Fixes != nil {
		c.Fixes.WithLabelValues(outcome).Inc()
	}
	if c.PositioningDurations != nil {
		c.PositioningDurations.Observe(d.Seconds())
	}
}

// SetStationCacheHitRatio sets the station position cache hit ratio.
func (c *IngestCollector) SetStationCacheHitRatio(ratio float64) {
	if c == nil || c.StationCacheHitRatio == nil {
		return
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.StationCacheHitRatio.Set(ratio)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
