// Package tuning loads the server knobs that sit outside the spawn policy.
package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"wavedirector.ai/internal/sim/spawn"
)

type Tuning struct {
	Seed       int64  `yaml:"seed"`
	PolicyPath string `yaml:"policy_path"`
	DataDir    string `yaml:"data_dir"`

	AdminAddr    string `yaml:"admin_addr"`
	ObserverAddr string `yaml:"observer_addr"`

	Arena spawn.Rect `yaml:"arena"`
	// Anchor defaults to the arena center.
	Anchor *spawn.Point `yaml:"anchor,omitempty"`

	EntityTTLMs    int64 `yaml:"entity_ttl_ms"`
	ReapIntervalMs int64 `yaml:"reap_interval_ms"`

	Journal          bool  `yaml:"journal"`
	Index            bool  `yaml:"index"`
	WatchPolicy      bool  `yaml:"watch_policy"`
	ReloadDebounceMs int64 `yaml:"reload_debounce_ms"`

	// Checkpoint saves the director position on shutdown; Resume starts the
	// next run from it.
	Checkpoint bool `yaml:"checkpoint"`
	Resume     bool `yaml:"resume"`
}

func Defaults() Tuning {
	return Tuning{
		Seed:             1,
		PolicyPath:       "configs/policy.yaml",
		DataDir:          "data",
		AdminAddr:        "127.0.0.1:8090",
		ObserverAddr:     "127.0.0.1:8091",
		Arena:            spawn.Rect{MinX: -1000, MinY: -1000, MaxX: 1000, MaxY: 1000},
		EntityTTLMs:      30_000,
		ReapIntervalMs:   500,
		Journal:          true,
		Index:            true,
		WatchPolicy:      true,
		ReloadDebounceMs: 200,
		Checkpoint:       true,
	}
}

// Load reads path over Defaults. A missing file yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	d := Defaults()
	t.PolicyPath = strings.TrimSpace(t.PolicyPath)
	if t.PolicyPath == "" {
		t.PolicyPath = d.PolicyPath
	}
	t.DataDir = strings.TrimSpace(t.DataDir)
	if t.DataDir == "" {
		t.DataDir = d.DataDir
	}
	if t.Arena.Empty() {
		t.Arena = d.Arena
	}
	if t.EntityTTLMs < 0 {
		t.EntityTTLMs = 0
	}
	if t.ReapIntervalMs <= 0 {
		t.ReapIntervalMs = d.ReapIntervalMs
	}
	if t.ReloadDebounceMs <= 0 {
		t.ReloadDebounceMs = d.ReloadDebounceMs
	}
}

func (t Tuning) Validate() error {
	if t.Anchor != nil && !t.Arena.Contains(*t.Anchor) {
		return fmt.Errorf("anchor %+v outside arena", *t.Anchor)
	}
	return nil
}

// AnchorPoint is the configured anchor or the arena center.
func (t Tuning) AnchorPoint() spawn.Point {
	if t.Anchor != nil {
		return *t.Anchor
	}
	return spawn.Point{X: (t.Arena.MinX + t.Arena.MaxX) / 2, Y: (t.Arena.MinY + t.Arena.MaxY) / 2}
}
