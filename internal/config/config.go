// Package config loads the tagtrackd daemon configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config is the daemon configuration.
type Config struct {
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Store       StoreConfig       `yaml:"store"`
	Metadata    string            `yaml:"metadata"`
	Positioning PositioningConfig `yaml:"positioning"`
	Time        TimeConfig        `yaml:"time"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// DefaultTopics is subscribed to when neither the file nor the
// environment names a topic.
func DefaultTopics() map[string]byte {
	return map[string]byte{"#": 1}
}

// MQTTConfig describes the broker connection and subscriptions.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Topics maps topic filters to their QoS.
	Topics map[string]byte `yaml:"topics"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// PositioningConfig controls live positioning of depth tags.
type PositioningConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
	// Window is the half width, in seconds, of the detection query around
	// a new detection.
	Window        int64         `yaml:"window"`
	GeofenceRatio float64       `yaml:"geofence_ratio"`
	PositionTTL   time.Duration `yaml:"position_ttl"`
}

type TimeConfig struct {
	Zone       string `yaml:"zone"`
	DateFormat string `yaml:"date_format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Tracing exporters.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TracingConfig selects the span exporter and sampling ratio.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "tagtrackd",
			Topics:   DefaultTopics(),
		},
		Store: StoreConfig{Driver: DriverSQLite, Path: "tagtrack.db"},
		Positioning: PositioningConfig{
			Enabled:       true,
			Timeout:       10 * time.Second,
			Window:        5,
			GeofenceRatio: 1.1,
			PositionTTL:   10 * time.Minute,
		},
		Time:    TimeConfig{Zone: "UTC", DateFormat: "%Y-%m-%d %H:%M:%S"},
		Metrics: MetricsConfig{Addr: ":9090"},
		Tracing: TracingConfig{
			ServiceName: "tagtrackd",
			Exporter:    ExporterStdout,
			Endpoint:    "localhost:4317",
			SampleRatio: 1,
		},
	}
}

// LoadFile reads path, applies environment overrides and validates the
// result. An empty path yields the defaults with overrides applied.
func LoadFile(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return Config{}, err
		}
		return cfg, cfg.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return Load(f, os.LookupEnv)
}

// Load decodes YAML from r over the defaults, then applies overrides from
// lookup (typically os.LookupEnv).
func Load(r io.Reader, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	// yaml.v3 merges into a non-nil map, so topics start empty and the
	// default is applied after the file and environment.
	cfg.MQTT.Topics = nil
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if lookup != nil {
		if err := cfg.ApplyEnv(lookup); err != nil {
			return Config{}, err
		}
	}
	if len(cfg.MQTT.Topics) == 0 {
		cfg.MQTT.Topics = DefaultTopics()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from TAGTRACK_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("TAGTRACK_MQTT_BROKER", &c.MQTT.Broker)
	str("TAGTRACK_MQTT_CLIENT_ID", &c.MQTT.ClientID)
	str("TAGTRACK_MQTT_USERNAME", &c.MQTT.Username)
	str("TAGTRACK_MQTT_PASSWORD", &c.MQTT.Password)
	str("TAGTRACK_STORE_DRIVER", &c.Store.Driver)
	str("TAGTRACK_STORE_PATH", &c.Store.Path)
	str("TAGTRACK_METADATA", &c.Metadata)
	str("TAGTRACK_TIME_ZONE", &c.Time.Zone)
	str("TAGTRACK_METRICS_ADDR", &c.Metrics.Addr)
	str("TAGTRACK_TRACING_SERVICE_NAME", &c.Tracing.ServiceName)
	str("TAGTRACK_TRACING_EXPORTER", &c.Tracing.Exporter)
	str("TAGTRACK_OTLP_ENDPOINT", &c.Tracing.Endpoint)

	if v, ok := lookup("TAGTRACK_MQTT_TOPICS"); ok && strings.TrimSpace(v) != "" {
		topics, err := parseTopics(v)
		if err != nil {
			return err
		}
		c.MQTT.Topics = topics
	}
	if v, ok := lookup("TAGTRACK_TRACING_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: TAGTRACK_TRACING_ENABLED=%q", ErrInvalid, v)
		}
		c.Tracing.Enabled = b
	}
	if v, ok := lookup("TAGTRACK_TRACING_SAMPLE_RATIO"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: TAGTRACK_TRACING_SAMPLE_RATIO=%q", ErrInvalid, v)
		}
		c.Tracing.SampleRatio = f
	}

	if v, ok := lookup("TAGTRACK_POSITIONING_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: TAGTRACK_POSITIONING_ENABLED=%q", ErrInvalid, v)
		}
		c.Positioning.Enabled = b
	}
	if v, ok := lookup("TAGTRACK_POSITIONING_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: TAGTRACK_POSITIONING_TIMEOUT=%q", ErrInvalid, v)
		}
		c.Positioning.Timeout = d
	}
	return nil
}

// parseTopics reads a comma separated list of topic[:qos] filters. QoS
// defaults to 1.
func parseTopics(v string) (map[string]byte, error) {
	out := make(map[string]byte)
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		topic, qos := item, uint64(1)
		if i := strings.LastIndexByte(item, ':'); i >= 0 {
			q, err := strconv.ParseUint(item[i+1:], 10, 8)
			if err != nil {
				return nil, fmt.Errorf("%w: TAGTRACK_MQTT_TOPICS entry %q", ErrInvalid, item)
			}
			topic, qos = item[:i], q
		}
		out[topic] = byte(qos)
	}
	return out, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	if len(c.MQTT.Topics) == 0 {
		errs = append(errs, errors.New("mqtt.topics must name at least one topic"))
	}
	for topic, qos := range c.MQTT.Topics {
		if qos > 2 {
			errs = append(errs, fmt.Errorf("mqtt.topics[%s]: qos %d out of range", topic, qos))
		}
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of sqlite, memory", c.Store.Driver))
	}
	if c.Metadata == "" {
		errs = append(errs, errors.New("metadata is required"))
	}
	if c.Positioning.Enabled {
		if c.Positioning.Timeout <= 0 {
			errs = append(errs, errors.New("positioning.timeout must be positive"))
		}
		if c.Positioning.Window <= 0 {
			errs = append(errs, errors.New("positioning.window must be positive"))
		}
		if c.Positioning.GeofenceRatio <= 0 {
			errs = append(errs, errors.New("positioning.geofence_ratio must be positive"))
		}
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case ExporterStdout, ExporterOTLP:
		default:
			errs = append(errs, fmt.Errorf("tracing.exporter %q is not one of stdout, otlp", c.Tracing.Exporter))
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			errs = append(errs, fmt.Errorf("tracing.sample_ratio %v outside [0, 1]", c.Tracing.SampleRatio))
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Location resolves the configured time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Time.Zone)
	if err != nil {
		return nil, fmt.Errorf("time.zone %q: %w", c.Time.Zone, err)
	}
	return loc, nil
}
