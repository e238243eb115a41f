// Package timeline sequences the scripted, once-only spawn events authored
// against run time.
package timeline

import (
	"fmt"
	"io"
	"log"
	"sort"

	"wavedirector.ai/internal/sim/policy"
	"wavedirector.ai/internal/sim/spawn"
)

type Gate interface {
	CanSpawn(archetype string) bool
}

// Patterns reports whether a pattern name is registered.
type Patterns interface {
	Has(name string) bool
}

// SpawnFunc realizes one scripted spawn with the resolved pattern at run time.
type SpawnFunc func(ev *policy.TimelineEvent, sp policy.TimelineSpawn, pattern string, tRun float64) (int, error)

type StepInput struct {
	TRun       float64
	Population Gate
}

type Outcome struct {
	EventID   string `json:"event_id"`
	Archetype string `json:"archetype"`
	Pattern   string `json:"pattern"`
	Count     int    `json:"count"`
}

type StepResult struct {
	Ended   string
	Started string
	Active  string
	// Skipped lists once-only events consumed without activation because they
	// already fired earlier in this scheduler's lifetime.
	Skipped  []string
	Control  *spawn.Control
	Spawns   []Outcome
	Capped   int
	Failures int
	Suspend  bool
}

type State struct {
	Cursor       int      `json:"cursor"`
	Pending      int      `json:"pending"`
	ActiveID     string   `json:"active_id,omitempty"`
	ActiveEndsAt float64  `json:"active_ends_at,omitempty"`
	FiredOnce    []string `json:"fired_once,omitempty"`
}

type Scheduler struct {
	events   []policy.TimelineEvent
	patterns Patterns
	log      *log.Logger

	cursor       int
	active       *policy.TimelineEvent
	activeEndsAt float64
	firedOnce    map[string]struct{}
}

// New copies events and orders them by `at`, keeping authored order for ties.
func New(events []policy.TimelineEvent, patterns Patterns, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Scheduler{
		patterns:  patterns,
		log:       logger,
		firedOnce: map[string]struct{}{},
	}
	s.setEvents(events)
	return s
}

func (s *Scheduler) setEvents(events []policy.TimelineEvent) {
	s.events = append([]policy.TimelineEvent(nil), events...)
	sort.SliceStable(s.events, func(i, j int) bool { return s.events[i].At < s.events[j].At })
}

func (s *Scheduler) Step(in StepInput, spawnFn SpawnFunc) StepResult {
	var res StepResult

	if s.active != nil && in.TRun >= s.activeEndsAt {
		res.Ended = s.active.ID
		s.active = nil
	}

	started := false
	for s.active == nil && s.cursor < len(s.events) {
		ev := &s.events[s.cursor]
		if in.TRun < ev.At {
			break
		}
		s.cursor++
		if _, fired := s.firedOnce[ev.ID]; ev.Once && fired {
			res.Skipped = append(res.Skipped, ev.ID)
			continue
		}
		s.active = ev
		s.activeEndsAt = in.TRun + ev.Duration
		started = true
	}

	if s.active == nil {
		return res
	}
	ev := s.active
	res.Active = ev.ID

	if started {
		res.Started = ev.ID
		if ev.Control != nil {
			res.Control = &spawn.Control{EventID: ev.ID, Payload: ev.Control}
		}
		if ev.Once {
			s.firedOnce[ev.ID] = struct{}{}
		}
	}

	// Spawns run on every tick the event is active; archetypes at cap are skipped.
	spawned := 0
	if in.Population != nil && spawnFn != nil {
		for _, sp := range ev.Spawns {
			pattern := s.resolvePattern(sp.Pattern)
			if !in.Population.CanSpawn(sp.Archetype) {
				res.Capped++
				continue
			}
			n, err := call(spawnFn, ev, sp, pattern, in.TRun)
			if err != nil {
				s.log.Printf("timeline: event=%s pattern=%s archetype=%s err=%v", ev.ID, pattern, sp.Archetype, err)
				res.Failures++
				continue
			}
			if n <= 0 {
				continue
			}
			spawned += n
			res.Spawns = append(res.Spawns, Outcome{EventID: ev.ID, Archetype: sp.Archetype, Pattern: pattern, Count: n})
		}
	}

	res.Suspend = ev.Behavior == policy.BehaviorSuspendWeighted && spawned > 0
	return res
}

func (s *Scheduler) resolvePattern(name string) string {
	if name == "" {
		return policy.DefaultPattern
	}
	if s.patterns != nil && !s.patterns.Has(name) {
		return policy.DefaultPattern
	}
	return name
}

// SeekToTime drops the active event, rewinds, and consumes every event with
// at <= tRun without running it. Once-only events passed this way count as fired.
func (s *Scheduler) SeekToTime(tRun float64) {
	s.active = nil
	s.activeEndsAt = 0
	s.cursor = 0
	for s.cursor < len(s.events) && s.events[s.cursor].At <= tRun {
		ev := &s.events[s.cursor]
		if ev.Once {
			s.firedOnce[ev.ID] = struct{}{}
		}
		s.cursor++
	}
}

// Replace swaps the event list (policy hot reload), keeps the fired set and
// seeks to tRun.
func (s *Scheduler) Replace(events []policy.TimelineEvent, tRun float64) {
	s.setEvents(events)
	s.SeekToTime(tRun)
}

func (s *Scheduler) Reset() {
	s.cursor = 0
	s.active = nil
	s.activeEndsAt = 0
	clear(s.firedOnce)
}

func (s *Scheduler) Running() bool { return s.active != nil }

func (s *Scheduler) State() State {
	st := State{Cursor: s.cursor, Pending: len(s.events) - s.cursor}
	if s.active != nil {
		st.ActiveID = s.active.ID
		st.ActiveEndsAt = s.activeEndsAt
	}
	for id := range s.firedOnce {
		st.FiredOnce = append(st.FiredOnce, id)
	}
	sort.Strings(st.FiredOnce)
	return st
}

func call(fn SpawnFunc, ev *policy.TimelineEvent, sp policy.TimelineSpawn, pattern string, tRun float64) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			n, err = 0, fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ev, sp, pattern, tRun)
}
