package memory

import (
	"context"
	"testing"

	"github.com/signalsfoundry/tagtrack/model"
	"github.com/signalsfoundry/tagtrack/store"
	"github.com/signalsfoundry/tagtrack/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestDetectionsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.InsertMessage(ctx, &model.Message{Records: []model.Record{storetest.Detection(1, 100, 0, 10, 69, 1)}}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	got, _ := s.TagDetections(ctx, store.TagQuery{TagID: 10, Band: 69})
	got[0].Timestamp = 999
	again, _ := s.TagDetections(ctx, store.TagQuery{TagID: 10, Band: 69})
	if again[0].Timestamp != 100 {
		t.Fatalf("stored timestamp = %d, want 100", again[0].Timestamp)
	}
}

func TestClosedStore(t *testing.T) {
	s := New()
	_ = s.Close()
	if _, err := s.InsertMessage(context.Background(), &model.Message{}); err != store.ErrClosed {
		t.Fatalf("InsertMessage after Close error = %v, want ErrClosed", err)
	}
}
