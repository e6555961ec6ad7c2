package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/tagtrack/model"
	"github.com/signalsfoundry/tagtrack/store"
	"github.com/signalsfoundry/tagtrack/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "tagtrack.db"))
	require.NoError(t, err)
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTemp(t) })
}

func TestBackupsRoundTrip(t *testing.T) {
	s := openTemp(t)
	defer s.Close()
	ctx := context.Background()
	id := int64(7)
	require.NoError(t, s.InsertBackup(ctx, store.Backup{MessageID: &id, Data: "AAEC", SNR: 12.5}))
	require.NoError(t, s.InsertBackup(ctx, store.Backup{Data: "AAED", SNR: 1}))

	got, err := s.Backups(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].MessageID)
	assert.Equal(t, int64(7), *got[0].MessageID)
	assert.Nil(t, got[1].MessageID)
	assert.Equal(t, "AAED", got[1].Data)
}

func TestReopenKeepsMessageIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagtrack.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.InsertMessage(ctx, &model.Message{Records: []model.Record{storetest.Detection(1, 100, 0, 10, 69, 1)}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	id, err := s.InsertMessage(ctx, &model.Message{Records: []model.Record{storetest.GPS(1, 101, 63.4, 10.4, 1, model.FixQuality3D)}})
	require.NoError(t, err)
	if id != 1 {
		t.Fatalf("message id after reopen = %d, want 1", id)
	}
}
