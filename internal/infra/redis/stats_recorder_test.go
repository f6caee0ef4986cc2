package redis

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestStatsRecorderAccumulates(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	recorder := NewStatsRecorder(newClient(mr))
	ctx := context.Background()

	if err := recorder.RecordFinalize(ctx, "u1", 3, 1); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := recorder.RecordFinalize(ctx, "u1", 2, 1); err != nil {
		t.Fatalf("record 2: %v", err)
	}

	points, attempts, err := recorder.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if points != 5 || attempts != 2 {
		t.Fatalf("points=%d attempts=%d, want 5 and 2", points, attempts)
	}

	// Untouched user reads as zero.
	points, attempts, _ = recorder.Stats(ctx, "u2")
	if points != 0 || attempts != 0 {
		t.Fatalf("expected zero stats for unknown user")
	}
}
