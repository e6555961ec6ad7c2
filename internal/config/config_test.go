package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

const sample = `
mqtt:
  broker: tcp://broker.example:1883
  client_id: farm-1
  username: iof
  topics:
    tbr/+/raw: 1
    tbr/status: 0
store:
  driver: sqlite
  path: /var/lib/tagtrack/tagtrack.db
metadata: /etc/tagtrack/metadata.yaml
positioning:
  enabled: true
  timeout: 3s
  window: 4
time:
  zone: Europe/Oslo
`

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(sample), nil)
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker.example:1883", cfg.MQTT.Broker)
	assert.Equal(t, map[string]byte{"tbr/+/raw": 1, "tbr/status": 0}, cfg.MQTT.Topics)
	assert.Equal(t, 3*time.Second, cfg.Positioning.Timeout)
	assert.Equal(t, int64(4), cfg.Positioning.Window)
	assert.InDelta(t, 1.1, cfg.Positioning.GeofenceRatio, 1e-12)
	assert.Equal(t, "%Y-%m-%d %H:%M:%S", cfg.Time.DateFormat)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Oslo", loc.String())
}

func TestLoadEnvOverrides(t *testing.T) {
	cfg, err := Load(strings.NewReader(sample), env(map[string]string{
		"TAGTRACK_MQTT_PASSWORD":       "secret",
		"TAGTRACK_STORE_DRIVER":        "memory",
		"TAGTRACK_POSITIONING_ENABLED": "false",
		"TAGTRACK_METRICS_ADDR":        "127.0.0.1:9100",
	}))
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.MQTT.Password)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.False(t, cfg.Positioning.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
}

func TestLoadDefaultsTopicsOnlyWhenUnset(t *testing.T) {
	cfg, err := Load(strings.NewReader("metadata: m.yaml\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTopics(), cfg.MQTT.Topics)

	cfg, err = Load(strings.NewReader("metadata: m.yaml\n"), env(map[string]string{
		"TAGTRACK_MQTT_TOPICS": "tbr/+/raw:2, tbr/status",
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]byte{"tbr/+/raw": 2, "tbr/status": 1}, cfg.MQTT.Topics)

	cfg, err = Load(strings.NewReader(sample), env(map[string]string{"TAGTRACK_MQTT_TOPICS": "gw/#:0"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]byte{"gw/#": 0}, cfg.MQTT.Topics)
}

func TestLoadTracing(t *testing.T) {
	doc := sample + `
tracing:
  enabled: true
  exporter: otlp
  endpoint: collector:4317
  sample_ratio: 0.25
`
	cfg, err := Load(strings.NewReader(doc), nil)
	require.NoError(t, err)
	assert.Equal(t, TracingConfig{
		Enabled:     true,
		ServiceName: "tagtrackd",
		Exporter:    ExporterOTLP,
		Endpoint:    "collector:4317",
		SampleRatio: 0.25,
	}, cfg.Tracing)

	cfg, err = Load(strings.NewReader(doc), env(map[string]string{
		"TAGTRACK_TRACING_EXPORTER":     "stdout",
		"TAGTRACK_TRACING_SAMPLE_RATIO": "0.5",
		"TAGTRACK_OTLP_ENDPOINT":        "otel:4317",
	}))
	require.NoError(t, err)
	assert.Equal(t, ExporterStdout, cfg.Tracing.Exporter)
	assert.InDelta(t, 0.5, cfg.Tracing.SampleRatio, 1e-12)
	assert.Equal(t, "otel:4317", cfg.Tracing.Endpoint)

	_, err = Load(strings.NewReader(doc), env(map[string]string{"TAGTRACK_TRACING_ENABLED": "maybe"}))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	_, err := Load(strings.NewReader(sample), env(map[string]string{"TAGTRACK_POSITIONING_TIMEOUT": "soon"}))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(strings.NewReader("metadata: m.yaml\nbogus: 1\n"), nil)
	if err == nil {
		t.Fatalf("Load() accepted an unknown key")
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Metadata = "metadata.yaml"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no metadata", func(c *Config) { c.Metadata = "" }, "metadata is required"},
		{"no broker", func(c *Config) { c.MQTT.Broker = "" }, "mqtt.broker"},
		{"no topics", func(c *Config) { c.MQTT.Topics = nil }, "mqtt.topics"},
		{"bad qos", func(c *Config) { c.MQTT.Topics = map[string]byte{"a": 3} }, "qos 3"},
		{"bad driver", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"zero timeout", func(c *Config) { c.Positioning.Timeout = 0 }, "positioning.timeout"},
		{"zero window", func(c *Config) { c.Positioning.Window = 0 }, "positioning.window"},
		{"bad zone", func(c *Config) { c.Time.Zone = "Mars/Olympus" }, "time.zone"},
		{"bad exporter", func(c *Config) { c.Tracing = TracingConfig{Enabled: true, Exporter: "jaeger"} }, "tracing.exporter"},
		{"bad sample ratio", func(c *Config) {
			c.Tracing = TracingConfig{Enabled: true, Exporter: ExporterOTLP, SampleRatio: 1.5}
		}, "tracing.sample_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.MQTT.Topics = map[string]byte{"#": 1}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() error = %v, want ErrInvalid", err)
			}
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPositioningLimitsIgnoredWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.Metadata = "metadata.yaml"
	cfg.Positioning = PositioningConfig{Enabled: false}
	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagtrackd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "farm-1", cfg.MQTT.ClientID)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
