// Package weighted implements the continuously evaluated spawn policy: build the
// admissible candidates for a tick and draw from them proportionally to weight.
package weighted

import (
	"fmt"
	"io"
	"log"
	"math"

	"wavedirector.ai/internal/sim/modes"
	"wavedirector.ai/internal/sim/policy"
)

// Unlimited marks a candidate without a mode-level concurrency cap.
const Unlimited = -1

type Candidate struct {
	Archetype string
	Mode      string
	Weight    float64
	// Room is how many more instances the mode may hold, or Unlimited.
	Room int

	Entry     *policy.Archetype
	ModeEntry *policy.Mode
}

// Pattern resolves mode.pattern, then archetype.custom_pattern, then the default.
func (c *Candidate) Pattern() string {
	if c.ModeEntry != nil && c.ModeEntry.Pattern != "" {
		return c.ModeEntry.Pattern
	}
	if c.Entry != nil && c.Entry.CustomPattern != "" {
		return c.Entry.CustomPattern
	}
	return policy.DefaultPattern
}

// Params merges archetype params with mode params; mode keys win.
func (c *Candidate) Params() map[string]any {
	out := map[string]any{}
	if c.Entry != nil {
		for k, v := range c.Entry.Params {
			out[k] = v
		}
	}
	if c.ModeEntry != nil {
		for k, v := range c.ModeEntry.Params {
			out[k] = v
		}
	}
	return out
}

type Gate interface {
	CanSpawn(archetype string) bool
}

type Roller interface {
	Float64() float64
}

type Input struct {
	Config  *policy.Config
	TDesign float64
	NowMs   int64
	// Overrides are runtime weight overrides keyed by archetype.
	Overrides  map[string]policy.Value
	Population Gate
	Tracker    *modes.Tracker
}

// SpawnFunc realizes one admitted candidate and returns how many entities it
// created. The candidate's Room bounds the count.
type SpawnFunc func(c *Candidate) (int, error)

type Outcome struct {
	Archetype string `json:"archetype"`
	Mode      string `json:"mode,omitempty"`
	Pattern   string `json:"pattern"`
	Count     int    `json:"count"`
}

type Result struct {
	Candidates int
	Budget     int
	Draws      int
	Spawns     []Outcome
	Failures   int
}

func (r Result) Spawned() int {
	n := 0
	for _, o := range r.Spawns {
		n += o.Count
	}
	return n
}

type Selector struct {
	Rand     Roller
	Resolver policy.Resolver
	Log      *log.Logger
}

func (s *Selector) logger() *log.Logger {
	if s.Log == nil {
		return log.New(io.Discard, "", 0)
	}
	return s.Log
}

// Budget is max(1, floor(spawns_per_tick(tDesign))); resolver faults yield 1.
func (s *Selector) Budget(cfg *policy.Config, tDesign float64) int {
	if cfg == nil {
		return 1
	}
	v, ok := s.Resolver.Eval("spawns_per_tick", cfg.SpawnsPerTick, tDesign, 1)
	if !ok {
		return 1
	}
	n := math.Floor(v)
	if n < 1 {
		return 1
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// Candidates lists every admissible (archetype, mode) pair for this tick.
func (s *Selector) Candidates(in Input) []Candidate {
	if in.Config == nil || in.Population == nil || in.Tracker == nil {
		return nil
	}
	var out []Candidate
	for _, key := range in.Config.Archetypes() {
		entry := in.Config.ByArchetype[key]
		override, hasOverride := in.Overrides[key]

		if len(entry.Modes) == 0 {
			w := s.weight(key, "", override, hasOverride, nil, entry, in.TDesign)
			if w <= 0 || !in.Population.CanSpawn(key) {
				continue
			}
			out = append(out, Candidate{Archetype: key, Weight: w, Room: Unlimited, Entry: entry})
			continue
		}

		for i := range entry.Modes {
			m := &entry.Modes[i]
			if !m.InWindow(in.TDesign) {
				continue
			}
			w := s.weight(key, m.Key, override, hasOverride, m, entry, in.TDesign)
			if w <= 0 || !in.Population.CanSpawn(key) {
				continue
			}
			room := Unlimited
			if m.MaxConcurrent != nil {
				room = *m.MaxConcurrent - in.Tracker.Active(key, m.Key)
				if room <= 0 {
					continue
				}
			}
			if in.Tracker.OnCooldown(key, m.Key, in.NowMs) {
				continue
			}
			out = append(out, Candidate{Archetype: key, Mode: m.Key, Weight: w, Room: room, Entry: entry, ModeEntry: m})
		}
	}
	return out
}

func (s *Selector) weight(archetype, mode string, override policy.Value, hasOverride bool, m *policy.Mode, entry *policy.Archetype, t float64) float64 {
	v := entry.Weight
	switch {
	case hasOverride && override.IsSet():
		v = override
	case m != nil && m.Weight.IsSet():
		v = m.Weight
	}
	label := "weight archetype=" + archetype
	if mode != "" {
		label += " mode=" + mode
	}
	w, ok := s.Resolver.Eval(label, v, t, 0)
	if !ok {
		return 0
	}
	return w
}

// Draw picks an index with probability weight/sum over positive weights, using
// roll in [0,1). It returns -1 when no candidate has positive weight.
func Draw(cands []Candidate, roll float64) int {
	var total float64
	last := -1
	for i := range cands {
		if cands[i].Weight > 0 {
			total += cands[i].Weight
			last = i
		}
	}
	if last < 0 || total <= 0 {
		return -1
	}
	target := roll * total
	var acc float64
	for i := range cands {
		w := cands[i].Weight
		if w <= 0 {
			continue
		}
		acc += w
		if target < acc {
			return i
		}
	}
	return last
}

// Step runs one tick of the weighted policy. Failed candidates are zeroed, not
// removed, so the slice stays stable for the rest of the tick.
func (s *Selector) Step(in Input, spawnFn SpawnFunc) Result {
	res := Result{Budget: s.Budget(in.Config, in.TDesign)}
	cands := s.Candidates(in)
	res.Candidates = len(cands)
	if len(cands) == 0 || spawnFn == nil {
		return res
	}

	for attempt := 0; attempt < res.Budget; attempt++ {
		i := Draw(cands, s.roll())
		if i < 0 {
			break
		}
		res.Draws++
		c := &cands[i]
		pattern := c.Pattern()

		n, err := call(spawnFn, c)
		if err != nil {
			s.logger().Printf("weighted: pattern=%s archetype=%s mode=%s err=%v", pattern, c.Archetype, c.Mode, err)
		}
		if err != nil || n <= 0 {
			c.Weight = 0
			res.Failures++
			continue
		}
		in.Tracker.Adjust(c.Archetype, c.Mode, n)
		res.Spawns = append(res.Spawns, Outcome{Archetype: c.Archetype, Mode: c.Mode, Pattern: pattern, Count: n})

		if c.ModeEntry != nil && c.ModeEntry.CooldownMs > 0 {
			in.Tracker.SetCooldown(c.Archetype, c.Mode, in.NowMs+c.ModeEntry.CooldownMs)
			c.Weight = 0
		}
		if c.Room != Unlimited {
			c.Room -= n
			if c.Room <= 0 {
				c.Weight = 0
			}
		}
	}
	return res
}

func (s *Selector) roll() float64 {
	if s.Rand == nil {
		return 0
	}
	return s.Rand.Float64()
}

func call(fn SpawnFunc, c *Candidate) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			n, err = 0, fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(c)
}
