package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.AdminAddr != Defaults().AdminAddr || got.Seed != 1 {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	src := `
seed: 42
data_dir: "  "
arena: {min_x: 0, min_y: 0, max_x: 400, max_y: 200}
entity_ttl_ms: -5
journal: false
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Seed != 42 || got.Journal || !got.Index {
		t.Fatalf("unexpected %+v", got)
	}
	if got.DataDir != "data" || got.EntityTTLMs != 0 {
		t.Fatalf("not normalized: %+v", got)
	}
	if p := got.AnchorPoint(); p.X != 200 || p.Y != 100 {
		t.Fatalf("anchor=%+v", p)
	}
}

func TestAnchorOutsideArenaRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	src := "arena: {min_x: 0, min_y: 0, max_x: 10, max_y: 10}\nanchor: {x: 50, y: 5}\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error")
	}
}
