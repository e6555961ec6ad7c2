package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/tagtrack/model"
)

func at(sec int64, ms int) model.ArrivalTime {
	return model.ArrivalTime{Second: sec, Millisecond: ms}
}

func TestFindTriplets(t *testing.T) {
	dets := []*model.TagDetection{
		detection(3, at(1010, 10), 3.5),
		detection(1, at(1000, 995), 3.5),
		detection(2, at(1001, 5), 3.5),
		detection(3, at(1001, 10), 3.5),
		// Only two stations heard this one.
		detection(1, at(1005, 100), 3.5),
		detection(2, at(1005, 120), 3.5),
		detection(1, at(1010, 0), 3.5),
		detection(2, at(1010, 5), 3.5),
	}
	got := FindTriplets(dets, testTriple)
	require.Len(t, got, 2)

	assert.Equal(t, int64(1000), got[0].First().Timestamp)
	assert.Equal(t, model.StationID(1), got[0][0].StationID)
	assert.Equal(t, model.StationID(3), got[0][2].StationID)

	ordered, ok := got[1].Ordered(testTriple)
	require.True(t, ok)
	assert.Equal(t, 0, ordered[0].Millisecond)
	assert.Equal(t, 5, ordered[1].Millisecond)
	assert.Equal(t, 10, ordered[2].Millisecond)

	// Input order is untouched.
	assert.Equal(t, model.StationID(3), dets[0].StationID)
}

func TestFindTripletsRejects(t *testing.T) {
	tests := []struct {
		name string
		dets []*model.TagDetection
	}{
		{"repeated station", []*model.TagDetection{
			detection(1, at(1000, 0), 0), detection(1, at(1000, 10), 0), detection(2, at(1000, 20), 0),
		}},
		{"foreign station", []*model.TagDetection{
			detection(1, at(1000, 0), 0), detection(2, at(1000, 10), 0), detection(4, at(1000, 20), 0),
		}},
		{"first too early", []*model.TagDetection{
			detection(1, at(997, 0), 0), detection(2, at(1000, 10), 0), detection(3, at(1000, 20), 0),
		}},
		{"third too late", []*model.TagDetection{
			detection(1, at(1000, 0), 0), detection(2, at(1000, 10), 0), detection(3, at(1003, 20), 0),
		}},
		{"too few", []*model.TagDetection{
			detection(1, at(1000, 0), 0), detection(2, at(1000, 10), 0),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindTriplets(tt.dets, testTriple); len(got) != 0 {
				t.Fatalf("FindTriplets() = %d triplets, want 0", len(got))
			}
		})
	}
}

func TestFindTripletsWindowBoundary(t *testing.T) {
	dets := []*model.TagDetection{
		detection(1, at(998, 0), 0), detection(2, at(1000, 10), 0), detection(3, at(1002, 999), 0),
	}
	if got := FindTriplets(dets, testTriple); len(got) != 1 {
		t.Fatalf("FindTriplets() = %d triplets, want 1", len(got))
	}
}

func TestFindTripletsDoNotOverlap(t *testing.T) {
	dets := []*model.TagDetection{
		detection(1, at(1000, 0), 0),
		detection(2, at(1000, 10), 0),
		detection(3, at(1000, 20), 0),
		detection(1, at(1000, 30), 0),
		detection(2, at(1000, 40), 0),
		detection(3, at(1000, 50), 0),
	}
	got := FindTriplets(dets, testTriple)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].First().Millisecond)
	assert.Equal(t, 30, got[1].First().Millisecond)
}

func TestCorrectDrift(t *testing.T) {
	trip := Triplet{
		detection(1, at(1556555369, 995), 3.5),
		detection(2, at(1556555370, 5), 3.5),
		detection(3, at(1556555371, 10), 3.5),
	}
	got := CorrectDrift(trip)

	// Record 0 is 0.01 s before the middle one and keeps its second.
	for i, want := range []model.ArrivalTime{at(1556555369, 995), at(1556555370, 5), at(1556555370, 10)} {
		if got[i].Arrival() != want {
			t.Fatalf("CorrectDrift()[%d] = %+v, want %+v", i, got[i].Arrival(), want)
		}
	}
	if trip[0].Timestamp != 1556555369 || trip[2].Timestamp != 1556555371 {
		t.Fatalf("CorrectDrift mutated its input")
	}
}

func TestCorrectDriftLeavesSmallGaps(t *testing.T) {
	trip := Triplet{
		detection(1, at(1000, 900), 0),
		detection(2, at(1001, 100), 0),
		detection(3, at(1001, 200), 0),
	}
	got := CorrectDrift(trip)
	for i := range trip {
		if got[i].Arrival() != trip[i].Arrival() {
			t.Fatalf("CorrectDrift()[%d] = %+v, want unchanged %+v", i, got[i].Arrival(), trip[i].Arrival())
		}
	}
}

func TestCorrectDriftPerGap(t *testing.T) {
	trip := Triplet{
		detection(1, at(1000, 950), 0),
		detection(2, at(1001, 0), 0),
		detection(3, at(1002, 0), 0),
	}
	got := CorrectDrift(trip)
	assert.Equal(t, int64(1000), got[0].Timestamp)
	assert.Equal(t, int64(1001), got[2].Timestamp)
}

func TestTripletOrderedMissingStation(t *testing.T) {
	trip := Triplet{detection(1, at(1, 0), 0), detection(2, at(1, 0), 0), detection(4, at(1, 0), 0)}
	if _, ok := trip.Ordered(testTriple); ok {
		t.Fatalf("Ordered() ok = true, want false")
	}
	if _, ok := trip.Timestamps(testTriple); ok {
		t.Fatalf("Timestamps() ok = true, want false")
	}
}
