package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/tagtrack/internal/config"
	"github.com/signalsfoundry/tagtrack/internal/ingest"
	"github.com/signalsfoundry/tagtrack/internal/logging"
	"github.com/signalsfoundry/tagtrack/internal/runtime"
	"github.com/signalsfoundry/tagtrack/store"
)

const testMetadata = `
stations:
  - {id: 1, cage: ref, latitude: 63.4, longitude: 10.4}
  - {id: 2, cage: ref, latitude: 63.4, longitude: 10.4012}
  - {id: 3, cage: ref, latitude: 63.4004, longitude: 10.4006}
cages:
  - name: ref
    depth: 6
    triples: [[1, 2, 3]]
tags:
  - {id: 10, band: 69, cage: ref, calibration: 0.1}
`

func writeMetadata(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testMetadata), 0o600))
	return path
}

func testOptions(meta string) options {
	return options{
		metadata:    meta,
		protocol:    "S256",
		topic:       "tbr/{station}/raw",
		dryRun:      true,
		duration:    30 * time.Second,
		tick:        10 * time.Second,
		accelerated: true,
		start:       1556555360,
		gpsEvery:    2,
		period:      time.Minute,
		swing:       1,
	}
}

func TestRunDryRunPublishesOneFramePerStation(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), testOptions(writeMetadata(t)), logging.Noop(), &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 9)
	for i, line := range lines {
		topic, payload, ok := strings.Cut(line, " ")
		require.True(t, ok)
		assert.Equal(t, "tbr/"+string(rune('1'+i%3))+"/raw", topic)

		_, frame, err := ingest.DecodeEnvelope([]byte(payload))
		require.NoError(t, err)
		withGPS := i/3 != 1
		if withGPS {
			assert.Len(t, frame, 6+10+6, "line %d", i)
		} else {
			assert.Len(t, frame, 6+6, "line %d", i)
		}
	}
}

func TestSimulatedFramesArePositioned(t *testing.T) {
	meta := writeMetadata(t)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), testOptions(meta), logging.Noop(), &out))

	cfg := config.Default()
	cfg.Metadata = meta
	cfg.Store.Driver = config.DriverMemory
	ctx := context.Background()
	rt, err := runtime.New(ctx, cfg, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	defer rt.Close()

	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		topic, payload, _ := strings.Cut(sc.Text(), " ")
		_, err := rt.Service.Handle(ctx, topic, []byte(payload))
		require.NoError(t, err)
	}

	fixes, err := rt.Store.Fixes(ctx, store.FixQuery{TagID: 10, Band: 69})
	require.NoError(t, err)
	require.NotEmpty(t, fixes)
	assert.LessOrEqual(t, len(fixes), 3)
	for _, f := range fixes {
		assert.Equal(t, "ref", f.Cage)
	}
}

func TestNewScenarioRejectsUnknownCage(t *testing.T) {
	o := testOptions(writeMetadata(t))
	o.cage = "missing"
	err := run(context.Background(), o, logging.Noop(), &bytes.Buffer{})
	require.Error(t, err)
}
