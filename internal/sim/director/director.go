// Package director is the spawn orchestrator: once per tick it computes both
// clocks, refreshes population caps, runs the scripted timeline and then the
// weighted policy, and reports what it did.
package director

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"wavedirector.ai/internal/sim/mathx"
	"wavedirector.ai/internal/sim/modes"
	"wavedirector.ai/internal/sim/pace"
	"wavedirector.ai/internal/sim/patterns"
	"wavedirector.ai/internal/sim/policy"
	"wavedirector.ai/internal/sim/spawn"
	"wavedirector.ai/internal/sim/timeline"
	"wavedirector.ai/internal/sim/weighted"
)

var (
	ErrRunning          = errors.New("director already running")
	ErrUnknownArchetype = errors.New("unknown archetype")
	ErrNoConfig         = errors.New("nil policy config")
)

type Options struct {
	Population spawn.Population
	Placement  spawn.PlacementResolver
	Patterns   *patterns.Registry
	// Anchor returns the focal point spawns are placed around. Nil or false
	// means no spawn this tick.
	Anchor  func() (spawn.Point, bool)
	Bounds  *spawn.Rect
	Control spawn.ControlSink
	Seed    int64
	Log     *log.Logger
	Clock   func() time.Time
	// OnStop receives the final status of a Run before its counters are
	// cleared.
	OnStop func(Status)
}

type Director struct {
	opts     Options
	log      *log.Logger
	patterns *patterns.Registry
	pace     *pace.Holder

	mu           sync.Mutex
	cfg          *policy.Config
	rand         *mathx.Rand
	tracker      *modes.Tracker
	scheduler    *timeline.Scheduler
	selector     weighted.Selector
	patternState *patterns.State

	weightOverrides map[string]policy.Value
	maxOverrides    map[string]policy.Value
	weightedOn      bool

	running   bool
	runGen    uint64
	startedAt time.Time
	skewMs    int64
	tick      uint64
	lastRunMs int64
	lastTRun  float64
	lastTDes  float64
	faults    int
	unsub     func()

	repositioned bool
	resumeAt     *float64

	// Tick-scoped values read by the spawn callbacks.
	cur tickCtx

	relMu    sync.Mutex
	pending  []spawn.Release
	released chan struct{}
	restart  chan struct{}
	stop     chan struct{}

	obsMu     sync.RWMutex
	observers []Observer
}

type tickCtx struct {
	anchor *spawn.Point
	nowMs  int64
	tRun   float64
	tDes   float64
}

func New(cfg *policy.Config, opts Options) (*Director, error) {
	if cfg == nil {
		return nil, ErrNoConfig
	}
	// Normalized once here; the director only ever reads it afterwards.
	cfg.Normalize()
	if opts.Log == nil {
		opts.Log = log.New(io.Discard, "", 0)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Patterns == nil {
		opts.Patterns = patterns.Builtin()
	}
	d := &Director{
		opts:            opts,
		log:             opts.Log,
		patterns:        opts.Patterns,
		pace:            pace.NewHolder(cfg.Pace),
		cfg:             cfg,
		rand:            mathx.NewRand(opts.Seed),
		tracker:         modes.NewTracker(),
		patternState:    patterns.NewState(),
		weightOverrides: map[string]policy.Value{},
		maxOverrides:    map[string]policy.Value{},
		weightedOn:      true,
		released:        make(chan struct{}, 1),
		restart:         make(chan struct{}, 1),
		stop:            make(chan struct{}, 1),
	}
	d.scheduler = timeline.New(cfg.Timeline, d.patterns, d.log)
	d.selector = weighted.Selector{
		Rand: d.rand,
		Log:  d.log,
		Resolver: policy.Resolver{
			Log:     d.log,
			OnFault: func(string, error) { d.faults++ },
		},
	}
	return d, nil
}

func (d *Director) Config() *policy.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (d *Director) delay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Duration(d.cfg.DelayMs) * time.Millisecond
}

func (d *Director) kick() {
	select {
	case d.restart <- struct{}{}:
	default:
	}
}

// withConfig publishes a modified copy of the config so snapshots handed out
// earlier stay immutable.
func (d *Director) withConfig(fn func(c *policy.Config)) {
	next := *d.cfg
	fn(&next)
	d.cfg = &next
}

// SetDelayMs changes the tick period (floored at policy.MinDelayMs) and
// restarts the timer.
func (d *Director) SetDelayMs(ms int) int {
	if ms < policy.MinDelayMs {
		ms = policy.MinDelayMs
	}
	d.mu.Lock()
	d.withConfig(func(c *policy.Config) { c.DelayMs = ms })
	d.mu.Unlock()
	d.kick()
	return ms
}

func (d *Director) SetSpawnsPerTick(v policy.Value) {
	if !v.IsSet() {
		v = policy.Literal(1)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.withConfig(func(c *policy.Config) { c.SpawnsPerTick = v })
}

// SetWeight overrides an archetype's weight for every mode. An unset Value
// clears the override.
func (d *Director) SetWeight(archetype string, v policy.Value) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cfg.ByArchetype[archetype]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownArchetype, archetype)
	}
	if !v.IsSet() {
		delete(d.weightOverrides, archetype)
		return nil
	}
	d.weightOverrides[archetype] = v
	return nil
}

// SetMax overrides an archetype's population cap resolver. An unset Value
// clears the override.
func (d *Director) SetMax(archetype string, v policy.Value) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cfg.ByArchetype[archetype]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownArchetype, archetype)
	}
	if !v.IsSet() {
		delete(d.maxOverrides, archetype)
		return nil
	}
	d.maxOverrides[archetype] = v
	return nil
}

func (d *Director) SetWeightedEnabled(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.weightedOn = on
}

// SetPace swaps the pace mapping; the next tick reads the new snapshot.
func (d *Director) SetPace(p *pace.Params) pace.Mapper {
	return d.pace.Set(p)
}

func (d *Director) Pace() pace.Mapper {
	return d.pace.Load()
}

// SeekToTime jumps the run clock to tRun seconds and fast-forwards the
// timeline without running skipped events.
func (d *Director) SeekToTime(tRun float64) error {
	if !mathx.Finite(tRun) || tRun < 0 {
		return fmt.Errorf("seek: invalid time %v", tRun)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	targetMs := int64(math.Round(tRun * 1000))
	if d.running {
		elapsed := d.opts.Clock().Sub(d.startedAt).Milliseconds()
		d.skewMs = targetMs - elapsed
	}
	d.scheduler.SeekToTime(tRun)
	d.repositioned = true
	d.lastRunMs = targetMs
	d.lastTRun = tRun
	d.lastTDes = d.pace.Load().ToDesign(tRun)
	return nil
}

// ResumeAt makes the next Start begin its run clock at tRun seconds with the
// timeline already past it.
func (d *Director) ResumeAt(tRun float64) error {
	if !mathx.Finite(tRun) || tRun < 0 {
		return fmt.Errorf("resume: invalid time %v", tRun)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunning
	}
	d.resumeAt = &tRun
	return nil
}

// Swap replaces the policy config mid-run. Mode counts and once-fired ids
// survive; the timeline is re-sought to the current run time.
func (d *Director) Swap(cfg *policy.Config) error {
	if cfg == nil {
		return ErrNoConfig
	}
	cfg.Normalize()
	d.mu.Lock()
	d.cfg = cfg
	for a := range d.weightOverrides {
		if _, ok := cfg.ByArchetype[a]; !ok {
			delete(d.weightOverrides, a)
		}
	}
	for a := range d.maxOverrides {
		if _, ok := cfg.ByArchetype[a]; !ok {
			delete(d.maxOverrides, a)
		}
	}
	d.scheduler.Replace(cfg.Timeline, d.lastTRun)
	d.repositioned = true
	if cfg.Pace != nil {
		d.pace.Set(cfg.Pace)
	}
	if d.opts.Population != nil {
		d.opts.Population.SetTotalMax(cfg.TotalMax)
	}
	d.mu.Unlock()
	d.log.Printf("director: policy swapped digest=%s archetypes=%d timeline=%d", cfg.Digest(), len(cfg.ByArchetype), len(cfg.Timeline))
	d.kick()
	return nil
}

type Status struct {
	Running         bool              `json:"running"`
	Tick            uint64            `json:"tick"`
	RunMs           int64             `json:"run_ms"`
	TRun            float64           `json:"t_run"`
	TDesign         float64           `json:"t_design"`
	DelayMs         int               `json:"delay_ms"`
	SpawnsPerTick   string            `json:"spawns_per_tick"`
	WeightedEnabled bool              `json:"weighted_enabled"`
	Pace            pace.Params       `json:"pace"`
	PaceScale       float64           `json:"pace_scale"`
	PaceIdentity    bool              `json:"pace_identity"`
	Timeline        timeline.State    `json:"timeline"`
	Modes           []modes.Entry     `json:"modes,omitempty"`
	WeightOverrides map[string]string `json:"weight_overrides,omitempty"`
	MaxOverrides    map[string]string `json:"max_overrides,omitempty"`
	Archetypes      []string          `json:"archetypes"`
	Digest          string            `json:"digest"`
	Faults          int               `json:"faults"`
}

func (d *Director) Status() Status {
	m := d.pace.Load()
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{
		Running:         d.running,
		Tick:            d.tick,
		RunMs:           d.lastRunMs,
		TRun:            d.lastTRun,
		TDesign:         d.lastTDes,
		DelayMs:         d.cfg.DelayMs,
		SpawnsPerTick:   d.cfg.SpawnsPerTick.String(),
		WeightedEnabled: d.weightedOn,
		Pace:            m.Params(),
		PaceScale:       m.Scale(),
		PaceIdentity:    m.Identity(),
		Timeline:        d.scheduler.State(),
		Modes:           d.tracker.Snapshot(),
		Archetypes:      append([]string(nil), d.cfg.Archetypes()...),
		Digest:          d.cfg.Digest(),
		Faults:          d.faults,
	}
	st.WeightOverrides = describe(d.weightOverrides)
	st.MaxOverrides = describe(d.maxOverrides)
	return st
}

func describe(m map[string]policy.Value) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}
