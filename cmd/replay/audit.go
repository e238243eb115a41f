package main

import (
	"fmt"

	"wavedirector.ai/internal/sim/director"
	"wavedirector.ai/internal/sim/policy"
	"wavedirector.ai/internal/sim/spawn"
)

type modeKey struct {
	archetype string
	mode      string
}

// auditor re-checks director invariants over a journal. A tick number that
// does not increase starts a new segment (server restart).
type auditor struct {
	once     map[string]bool
	at       map[string]float64
	cooldown map[modeKey]int64

	ticks      int
	segments   int
	seeks      int
	spawned    int
	totals     map[string]map[string]int
	violations []string

	lastTick  uint64
	lastRunMs int64
	active    string
	lastAt    float64
	fired     map[string]bool
	lastSpawn map[modeKey]int64
}

func newAuditor(cfg *policy.Config) *auditor {
	a := &auditor{
		once:     map[string]bool{},
		at:       map[string]float64{},
		cooldown: map[modeKey]int64{},
		totals:   map[string]map[string]int{},
	}
	if cfg != nil {
		for _, ev := range cfg.Timeline {
			a.once[ev.ID] = ev.Once
			a.at[ev.ID] = ev.At
		}
		for _, name := range cfg.Archetypes() {
			for _, m := range cfg.ByArchetype[name].Modes {
				if m.CooldownMs > 0 {
					a.cooldown[modeKey{name, m.Key}] = m.CooldownMs
				}
			}
		}
	}
	return a
}

func (a *auditor) violate(r director.TickReport, format string, args ...any) {
	a.violations = append(a.violations, fmt.Sprintf("tick=%d run_ms=%d: ", r.Tick, r.RunMs)+fmt.Sprintf(format, args...))
}

func (a *auditor) observe(r director.TickReport) {
	if a.segments == 0 || r.Tick <= a.lastTick {
		a.segments++
		a.active = ""
		a.lastAt = 0
		a.lastRunMs = 0
		a.fired = map[string]bool{}
		a.lastSpawn = map[modeKey]int64{}
	}
	a.ticks++
	if r.Repositioned || r.RunMs < a.lastRunMs {
		a.seeks++
		a.active = ""
		a.lastAt = 0
		a.lastSpawn = map[modeKey]int64{}
	}
	a.lastTick, a.lastRunMs = r.Tick, r.RunMs

	if r.Ended != "" {
		if r.Ended != a.active {
			a.violate(r, "event %q ended but %q was active", r.Ended, a.active)
		}
		a.active = ""
	}
	if r.Started != "" {
		if a.active != "" {
			a.violate(r, "event %q started while %q active", r.Started, a.active)
		}
		if a.once[r.Started] && a.fired[r.Started] {
			a.violate(r, "once event %q fired twice", r.Started)
		}
		if at, ok := a.at[r.Started]; ok {
			if at < a.lastAt {
				a.violate(r, "event %q (at=%v) started after an event at=%v", r.Started, at, a.lastAt)
			}
			a.lastAt = at
		}
		a.fired[r.Started] = true
		a.active = r.Started
	} else if r.Active != "" && r.Active != a.active {
		a.violate(r, "active event %q was never started", r.Active)
		a.active = r.Active
	}

	scripted := 0
	for _, s := range r.Spawns {
		a.spawned += s.Count
		if s.Source == director.SourceTimeline {
			scripted += s.Count
		}
		t := a.totals[s.Archetype]
		if t == nil {
			t = map[string]int{}
			a.totals[s.Archetype] = t
		}
		t[s.Source] += s.Count

		if s.Source != director.SourceWeighted {
			continue
		}
		if r.Suspended {
			a.violate(r, "weighted spawn of %s while suspended", s.Archetype)
		}
		mode := s.Mode
		if mode == "" {
			mode = spawn.DefaultMode
		}
		key := modeKey{s.Archetype, mode}
		if cd, ok := a.cooldown[key]; ok {
			if last, seen := a.lastSpawn[key]; seen && r.RunMs-last < cd {
				a.violate(r, "%s/%s spawned %dms after the previous spawn (cooldown %dms)", s.Archetype, mode, r.RunMs-last, cd)
			}
		}
		a.lastSpawn[key] = r.RunMs
	}
	if r.Suspended && scripted == 0 {
		a.violate(r, "weighted path suspended without a scripted spawn this tick")
	}
}
