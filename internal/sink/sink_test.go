package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stationsim/internal/limits"
	"github.com/stationsim/internal/storage"
)

func TestStoreSinkWritesToStore(t *testing.T) {
	st, err := storage.Open("")
	if err != nil {
		t.Fatal(err)
	}
	s := NewStoreSink(st)
	if err := s.Create(context.Background(), "station_a20", map[string]any{"device_code": "D1", "test_fail": "false"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, _ := st.List("station_a20", storage.Query{})
	if len(got) != 1 {
		t.Errorf("Expected 1 record, got %d", len(got))
	}
}

func TestStoreSinkHonoursCancelledContext(t *testing.T) {
	st, _ := storage.Open("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewStoreSink(st).Create(ctx, "station_a20", map[string]any{}); err == nil {
		t.Error("Expected error for cancelled context")
	}
	if got, _ := st.List("station_a20", storage.Query{}); len(got) != 0 {
		t.Errorf("Expected nothing written, got %d", len(got))
	}
}

func TestSeedLimitsStopsAtFirstFailure(t *testing.T) {
	table := &limits.Table{Stations: []limits.Station{
		{Code: "A20", MotorTypes: map[string]limits.Profile{"EFAD": {"X": {A: 1, B: 0}}}},
		{Code: "S02", MotorTypes: map[string]limits.Profile{"EFAD": {"X": {A: 1, B: 0}}}},
	}}
	var got []string
	boom := errors.New("forbidden")
	s := Func(func(ctx context.Context, collection string, fields map[string]any) error {
		got = append(got, collection)
		if collection == "station_s02_limits" {
			return boom
		}
		return nil
	})
	n, err := SeedLimits(context.Background(), s, table)
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped error, got %v", err)
	}
	if n != 1 || len(got) != 2 || got[0] != "station_a20_limits" {
		t.Errorf("Expected one record before failure, got n=%d calls=%v", n, got)
	}
}
