package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"wavedirector.ai/internal/sim/director"
	"wavedirector.ai/internal/sim/modes"
	"wavedirector.ai/internal/sim/pace"
	"wavedirector.ai/internal/sim/timeline"
)

func TestSnapshotRoundTripFromStatus(t *testing.T) {
	st := director.Status{
		Tick:            42,
		RunMs:           21_000,
		TRun:            21,
		DelayMs:         500,
		WeightedEnabled: false,
		Pace:            pace.Params{DesignSeconds: 600, RunSeconds: 300},
		Timeline:        timeline.State{Cursor: 2, FiredOnce: []string{"intro"}},
		Modes:           []modes.Entry{{Archetype: "grunt", Mode: "swarm", Active: 3}},
		WeightOverrides: map[string]string{"grunt": "2"},
		Digest:          "abc123",
	}
	path := Path(t.TempDir())
	if err := WriteSnapshot(path, FromStatus(st, 7)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Version != Version || got.Header.Digest != "abc123" || got.Header.Tick != 42 {
		t.Fatalf("header=%+v", got.Header)
	}
	if got.Seed != 7 || got.TRun != 21 || got.RunMs != 21_000 || got.DelayMs != 500 || got.WeightedEnabled {
		t.Fatalf("body=%+v", got)
	}
	if got.Pace.DesignSeconds != 600 || got.Timeline.Cursor != 2 || len(got.Modes) != 1 || got.WeightOverrides["grunt"] != "2" {
		t.Fatalf("body=%+v", got)
	}
}

func TestReadIfExists(t *testing.T) {
	dir := t.TempDir()
	if _, ok, err := ReadIfExists(Path(dir)); ok || err != nil {
		t.Fatalf("missing file: ok=%v err=%v", ok, err)
	}

	bad := filepath.Join(dir, "bad.zst")
	if err := os.WriteFile(bad, []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := ReadIfExists(bad); ok || err == nil {
		t.Fatalf("corrupt file: ok=%v err=%v", ok, err)
	}
}
