package usage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestTracker_TrackAggregatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	tracker, err := NewTracker(dir)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	ctx := WithLabels(context.Background(), "generalist", "u1", "chat")
	tracker.Track(ctx, "gemini-2.5-flash", 10, 5)
	tracker.Track(ctx, "gemini-2.5-flash", 2, 3)

	stats := tracker.Stats()
	if stats.Total.Input != 12 || stats.Total.Output != 8 || stats.Total.Total != 20 {
		t.Fatalf("Total=%+v, want input=12 output=8 total=20", stats.Total)
	}
	if got := stats.ByModel["gemini-2.5-flash"]; got.Total != 20 || got.Calls != 2 {
		t.Fatalf("ByModel=%+v, want total=20 calls=2", got)
	}
	if got := stats.ByAgent["generalist"]; got.Total != 20 {
		t.Fatalf("ByAgent[generalist]=%+v, want total=20", got)
	}
	if got := stats.ByUser["u1"]; got.Total != 20 {
		t.Fatalf("ByUser[u1]=%+v, want total=20", got)
	}

	if err := tracker.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "usage.json"))
	if err != nil {
		t.Fatalf("read usage.json: %v", err)
	}
	var persisted TokenData
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("unmarshal usage.json: %v", err)
	}
	if persisted.Aggregate.Total.Total != 20 {
		t.Fatalf("persisted total=%d, want 20", persisted.Aggregate.Total.Total)
	}

	reloaded, err := NewTracker(dir)
	if err != nil {
		t.Fatalf("NewTracker reload: %v", err)
	}
	if got := reloaded.Stats().ByAgent["generalist"].Total; got != 20 {
		t.Fatalf("reloaded ByAgent total=%d, want 20", got)
	}
}

func TestTracker_DefaultLabels(t *testing.T) {
	tracker, err := NewTracker("")
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	tracker.Track(context.Background(), "m", 1, 1)

	stats := tracker.Stats()
	if stats.ByAgent["unknown"].Total != 2 || stats.ByOperation["chat"].Total != 2 {
		t.Fatalf("unexpected default labels: %+v", stats)
	}
	if err := tracker.Save(); err != nil {
		t.Fatalf("Save on memory tracker: %v", err)
	}
}
