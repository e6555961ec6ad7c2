package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/tagtrack/internal/config"
	"github.com/signalsfoundry/tagtrack/internal/ingest"
	"github.com/signalsfoundry/tagtrack/internal/simulate"
	"github.com/signalsfoundry/tagtrack/model"
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

func testConfig(t *testing.T, driver string) config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testMetadata), 0o600))

	cfg := config.Default()
	cfg.Metadata = path
	cfg.Store = config.StoreConfig{Driver: driver, Path: filepath.Join(dir, "tagtrack.db")}
	require.NoError(t, cfg.Validate())
	return cfg
}

func emit(t *testing.T, rt *Runtime, at time.Time, p r2.Vec) {
	t.Helper()
	em, err := simulate.NewEmitter([3]simulate.Station{
		{ID: 1, Position: model.LatLong{Latitude: 63.4, Longitude: 10.4}},
		{ID: 2, Position: model.LatLong{Latitude: 63.4, Longitude: 10.4012}},
		{ID: 3, Position: model.LatLong{Latitude: 63.4004, Longitude: 10.4006}},
	}, 6, simulate.Tag{ID: 10, Band: 69, Protocol: model.ProtocolS256, Calibration: 0.1})
	require.NoError(t, err)

	frames, err := em.Frames(at, p, 10, true)
	require.NoError(t, err)
	for _, f := range frames {
		payload, err := ingest.EncodeEnvelope(f, 0)
		require.NoError(t, err)
		_, err = rt.Service.Handle(context.Background(), "tbr/raw", payload)
		require.NoError(t, err)
	}
}

func TestNewWiresLivePositioning(t *testing.T) {
	for _, driver := range []string{config.DriverMemory, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			rt, err := New(ctx, testConfig(t, driver), nil, prometheus.NewRegistry())
			require.NoError(t, err)
			defer rt.Close()

			emit(t, rt, time.Unix(1556555369, 0), r2.Vec{X: 25, Y: 18})

			fixes, err := rt.Store.Fixes(ctx, store.FixQuery{})
			require.NoError(t, err)
			require.Len(t, fixes, 1)
			assert.Equal(t, "ref", fixes[0].Cage)
		})
	}
}

func TestReposition(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.DriverMemory)
	cfg.Positioning.Enabled = false
	rt, err := New(ctx, cfg, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	defer rt.Close()

	emit(t, rt, time.Unix(1556555369, 0), r2.Vec{X: 25, Y: 18})
	emit(t, rt, time.Unix(1556555399, 0), r2.Vec{X: 30, Y: 10})

	fixes, err := rt.Store.Fixes(ctx, store.FixQuery{})
	require.NoError(t, err)
	require.Empty(t, fixes)

	// A stale position far from the cage must not survive into the batch.
	rt.Positioner.Cache().Set(1, model.LatLong{Latitude: 60, Longitude: 5})

	added, err := rt.Reposition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = rt.Reposition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestNewRejectsMissingMetadata(t *testing.T) {
	cfg := config.Default()
	cfg.Metadata = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(context.Background(), cfg, nil, prometheus.NewRegistry())
	require.Error(t, err)
}
