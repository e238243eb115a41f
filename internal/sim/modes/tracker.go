// Package modes tracks live instance counts and cooldowns per (archetype, mode).
package modes

import (
	"sort"

	"wavedirector.ai/internal/sim/spawn"
)

type Key struct {
	Archetype string
	Mode      string
}

// KeyOf builds a tracker key; an empty mode maps to spawn.DefaultMode.
func KeyOf(archetype, mode string) Key {
	if mode == "" {
		mode = spawn.DefaultMode
	}
	return Key{Archetype: archetype, Mode: mode}
}

// Tracker is not safe for concurrent use; the director serializes access.
type Tracker struct {
	active        map[Key]int
	cooldownUntil map[Key]int64
}

func NewTracker() *Tracker {
	return &Tracker{
		active:        map[Key]int{},
		cooldownUntil: map[Key]int64{},
	}
}

func (t *Tracker) Active(archetype, mode string) int {
	return t.active[KeyOf(archetype, mode)]
}

// Adjust adds delta to the live count, clamping at zero.
func (t *Tracker) Adjust(archetype, mode string, delta int) int {
	k := KeyOf(archetype, mode)
	n := t.active[k] + delta
	if n <= 0 {
		delete(t.active, k)
		return 0
	}
	t.active[k] = n
	return n
}

func (t *Tracker) SetCooldown(archetype, mode string, untilMs int64) {
	t.cooldownUntil[KeyOf(archetype, mode)] = untilMs
}

func (t *Tracker) CooldownUntil(archetype, mode string) int64 {
	return t.cooldownUntil[KeyOf(archetype, mode)]
}

func (t *Tracker) OnCooldown(archetype, mode string, nowMs int64) bool {
	until, ok := t.cooldownUntil[KeyOf(archetype, mode)]
	return ok && nowMs < until
}

func (t *Tracker) Reset() {
	clear(t.active)
	clear(t.cooldownUntil)
}

type Entry struct {
	Archetype     string `json:"archetype"`
	Mode          string `json:"mode"`
	Active        int    `json:"active"`
	CooldownUntil int64  `json:"cooldown_until_ms,omitempty"`
}

// Snapshot lists every key with a live count or a recorded cooldown, sorted.
func (t *Tracker) Snapshot() []Entry {
	keys := map[Key]struct{}{}
	for k := range t.active {
		keys[k] = struct{}{}
	}
	for k := range t.cooldownUntil {
		keys[k] = struct{}{}
	}
	out := make([]Entry, 0, len(keys))
	for k := range keys {
		out = append(out, Entry{
			Archetype:     k.Archetype,
			Mode:          k.Mode,
			Active:        t.active[k],
			CooldownUntil: t.cooldownUntil[k],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Archetype != out[j].Archetype {
			return out[i].Archetype < out[j].Archetype
		}
		return out[i].Mode < out[j].Mode
	})
	return out
}
