// Package policy holds the spawn policy configuration: archetype weights and
// caps, mode windows, and the scripted timeline.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"wavedirector.ai/internal/sim/mathx"
	"wavedirector.ai/internal/sim/pace"
	"wavedirector.ai/internal/sim/spawn"
)

const (
	MinDelayMs     = 16
	DefaultDelayMs = 500
	DefaultPattern = "ring"
)

var (
	ErrUnknownBehavior = errors.New("unknown timeline behavior")
	ErrDuplicateID     = errors.New("duplicate id")
)

type Behavior string

const (
	BehaviorBlend           Behavior = "blend"
	BehaviorSuspendWeighted Behavior = "suspendWeighted"
)

type Config struct {
	DelayMs       int                   `yaml:"delay_ms" json:"delay_ms"`
	SpawnsPerTick Value                 `yaml:"spawns_per_tick" json:"spawns_per_tick"`
	TotalMax      int                   `yaml:"total_max" json:"total_max"`
	Pace          *pace.Params          `yaml:"pace,omitempty" json:"pace,omitempty"`
	ByArchetype   map[string]*Archetype `yaml:"by_archetype" json:"by_archetype"`
	Timeline      []TimelineEvent       `yaml:"timeline" json:"timeline"`

	order []string
}

type Archetype struct {
	Weight        Value          `yaml:"weight" json:"weight"`
	Max           Value          `yaml:"max" json:"max"`
	CustomPattern string         `yaml:"custom_pattern,omitempty" json:"custom_pattern,omitempty"`
	Params        map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Modes         []Mode         `yaml:"modes,omitempty" json:"modes,omitempty"`
}

type Mode struct {
	Key           string         `yaml:"key" json:"key"`
	From          *float64       `yaml:"from,omitempty" json:"from,omitempty"`
	To            *float64       `yaml:"to,omitempty" json:"to,omitempty"`
	Weight        Value          `yaml:"weight" json:"weight"`
	MaxConcurrent *int           `yaml:"max_concurrent,omitempty" json:"max_concurrent,omitempty"`
	CooldownMs    int64          `yaml:"cooldown_ms,omitempty" json:"cooldown_ms,omitempty"`
	Pattern       string         `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Params        map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// InWindow reports whether t lies in [From, To). Missing bounds are open.
func (m *Mode) InWindow(t float64) bool {
	if m.From != nil && t < *m.From {
		return false
	}
	if m.To != nil && t >= *m.To {
		return false
	}
	return true
}

type TimelineEvent struct {
	ID       string          `yaml:"id" json:"id"`
	At       float64         `yaml:"at" json:"at"`
	Duration float64         `yaml:"duration" json:"duration"`
	Once     bool            `yaml:"once" json:"once"`
	Behavior Behavior        `yaml:"behavior" json:"behavior"`
	Control  map[string]any  `yaml:"control,omitempty" json:"control,omitempty"`
	Spawns   []TimelineSpawn `yaml:"spawns,omitempty" json:"spawns,omitempty"`
}

type TimelineSpawn struct {
	Pattern   string         `yaml:"pattern" json:"pattern"`
	Archetype string         `yaml:"archetype" json:"archetype"`
	Params    map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

func Float(v float64) *float64 { return &v }
func Int(v int) *int           { return &v }

// Load reads, schema-validates, normalizes and validates a policy file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Parse(b []byte) (*Config, error) {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	if err := validateSchema(doc); err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills defaults: delay floor, attempt count, timeline ids (positional
// index), behaviors and ascending `at` order, and a stable archetype order.
func (c *Config) Normalize() {
	if c.DelayMs == 0 {
		c.DelayMs = DefaultDelayMs
	}
	if c.DelayMs < MinDelayMs {
		c.DelayMs = MinDelayMs
	}
	if !c.SpawnsPerTick.IsSet() {
		c.SpawnsPerTick = Literal(1)
	}
	if c.TotalMax < 0 {
		c.TotalMax = 0
	}
	if c.ByArchetype == nil {
		c.ByArchetype = map[string]*Archetype{}
	}
	c.order = make([]string, 0, len(c.ByArchetype))
	for key, a := range c.ByArchetype {
		if a == nil || strings.TrimSpace(key) == "" {
			delete(c.ByArchetype, key)
			continue
		}
		for i := range a.Modes {
			if strings.TrimSpace(a.Modes[i].Key) == "" {
				a.Modes[i].Key = "m" + strconv.Itoa(i)
			}
			if a.Modes[i].CooldownMs < 0 {
				a.Modes[i].CooldownMs = 0
			}
		}
		c.order = append(c.order, key)
	}
	sort.Strings(c.order)

	for i := range c.Timeline {
		ev := &c.Timeline[i]
		if strings.TrimSpace(ev.ID) == "" {
			ev.ID = strconv.Itoa(i)
		}
		if ev.Behavior == "" {
			ev.Behavior = BehaviorBlend
		}
		if ev.Duration < 0 {
			ev.Duration = 0
		}
	}
	sort.SliceStable(c.Timeline, func(i, j int) bool { return c.Timeline[i].At < c.Timeline[j].At })
}

func (c *Config) Validate() error {
	ids := map[string]struct{}{}
	for _, ev := range c.Timeline {
		if ev.Behavior != BehaviorBlend && ev.Behavior != BehaviorSuspendWeighted {
			return fmt.Errorf("timeline %s: %w: %q", ev.ID, ErrUnknownBehavior, ev.Behavior)
		}
		if _, dup := ids[ev.ID]; dup {
			return fmt.Errorf("timeline %s: %w", ev.ID, ErrDuplicateID)
		}
		ids[ev.ID] = struct{}{}
		for i, sp := range ev.Spawns {
			if strings.TrimSpace(sp.Archetype) == "" {
				return fmt.Errorf("timeline %s spawn %d: missing archetype", ev.ID, i)
			}
		}
	}
	for _, key := range c.order {
		a := c.ByArchetype[key]
		seen := map[string]struct{}{}
		for _, m := range a.Modes {
			if m.Key == spawn.DefaultMode {
				return fmt.Errorf("archetype %s: mode key %q is reserved", key, m.Key)
			}
			if _, dup := seen[m.Key]; dup {
				return fmt.Errorf("archetype %s mode %s: %w", key, m.Key, ErrDuplicateID)
			}
			seen[m.Key] = struct{}{}
			if m.From != nil && m.To != nil && *m.From >= *m.To {
				return fmt.Errorf("archetype %s mode %s: empty window [%v,%v)", key, m.Key, *m.From, *m.To)
			}
			if m.MaxConcurrent != nil && *m.MaxConcurrent < 0 {
				return fmt.Errorf("archetype %s mode %s: negative max_concurrent", key, m.Key)
			}
		}
	}
	return nil
}

// Archetypes returns archetype keys in a stable order. It never modifies c: a
// config built in code without Normalize gets a freshly sorted key list.
func (c *Config) Archetypes() []string {
	if c.order != nil && len(c.order) == len(c.ByArchetype) {
		return c.order
	}
	keys := make([]string, 0, len(c.ByArchetype))
	for key, a := range c.ByArchetype {
		if a == nil || strings.TrimSpace(key) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Digest is a short content hash used to tag runs in the index.
func (c *Config) Digest() string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return strconv.FormatUint(uint64(uint32(mathx.HashString(string(b)))), 16)
}
