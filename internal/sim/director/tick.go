package director

import (
	"math"

	"wavedirector.ai/internal/sim/patterns"
	"wavedirector.ai/internal/sim/policy"
	"wavedirector.ai/internal/sim/spawn"
	"wavedirector.ai/internal/sim/timeline"
	"wavedirector.ai/internal/sim/weighted"
)

// StepAt runs one tick at runMs milliseconds of run time and publishes the
// report to observers.
func (d *Director) StepAt(runMs int64) TickReport {
	r := d.step(runMs)
	if r.Control != nil && d.opts.Control != nil {
		d.forwardControl(*r.Control)
	}
	d.publish(r)
	return r
}

func (d *Director) step(runMs int64) TickReport {
	mapper := d.pace.Load()
	tRun := float64(runMs) / 1000
	tDes := mapper.ToDesign(tRun)

	d.mu.Lock()
	defer d.mu.Unlock()

	released := d.drainReleasesLocked()
	d.tick++
	d.lastRunMs, d.lastTRun, d.lastTDes = runMs, tRun, tDes
	faultsBefore := d.faults

	r := TickReport{
		Tick:      d.tick,
		RunMs:     runMs,
		TRun:      tRun,
		TDesign:   tDes,
		PaceScale: mapper.Scale(),
		Released:  released,
	}
	r.Repositioned, d.repositioned = d.repositioned, false

	d.cur = tickCtx{nowMs: runMs, tRun: tRun, tDes: tDes}
	if d.opts.Anchor != nil {
		if p, ok := d.opts.Anchor(); ok {
			d.cur.anchor = &p
		}
	}

	d.refreshCapsLocked(tDes)

	var gate timeline.Gate
	if d.opts.Population != nil {
		gate = d.opts.Population
	}
	tl := d.scheduler.Step(timeline.StepInput{TRun: tRun, Population: gate}, d.placeScripted)
	r.Started, r.Ended, r.Active = tl.Started, tl.Ended, tl.Active
	r.Skipped = tl.Skipped
	r.Control = tl.Control
	r.Capped += tl.Capped
	r.Failures += tl.Failures
	for _, o := range tl.Spawns {
		r.Spawns = append(r.Spawns, Spawn{Source: SourceTimeline, EventID: o.EventID, Archetype: o.Archetype, Mode: spawn.DefaultMode, Pattern: o.Pattern, Count: o.Count})
	}
	if tl.Started != "" {
		d.log.Printf("director: timeline start event=%s t_run=%.2f spawned=%d", tl.Started, tRun, r.Spawned())
	}

	if tl.Suspend {
		r.Suspended = true
		r.Faults = d.faults - faultsBefore
		return r
	}
	if !d.weightedOn {
		r.Faults = d.faults - faultsBefore
		return r
	}

	var wgate weighted.Gate
	if d.opts.Population != nil {
		wgate = d.opts.Population
	}
	ws := d.selector.Step(weighted.Input{
		Config:     d.cfg,
		TDesign:    tDes,
		NowMs:      runMs,
		Overrides:  d.weightOverrides,
		Population: wgate,
		Tracker:    d.tracker,
	}, d.placeWeighted)
	r.Weighted = true
	r.Candidates, r.Budget, r.Draws = ws.Candidates, ws.Budget, ws.Draws
	r.Failures += ws.Failures
	for _, o := range ws.Spawns {
		mode := o.Mode
		if mode == "" {
			mode = spawn.DefaultMode
		}
		r.Spawns = append(r.Spawns, Spawn{Source: SourceWeighted, Archetype: o.Archetype, Mode: mode, Pattern: o.Pattern, Count: o.Count})
	}
	r.Faults = d.faults - faultsBefore
	return r
}

// refreshCapsLocked resolves every archetype's max at design time. A failing
// resolver leaves that archetype's cap untouched and never blocks the others.
func (d *Director) refreshCapsLocked(tDes float64) {
	pop := d.opts.Population
	if pop == nil {
		return
	}
	for _, key := range d.cfg.Archetypes() {
		v := d.cfg.ByArchetype[key].Max
		if o, ok := d.maxOverrides[key]; ok {
			v = o
		}
		if !v.IsSet() {
			continue
		}
		n, ok := d.selector.Resolver.Eval("max archetype="+key, v, tDes, 0)
		if !ok {
			continue
		}
		n = math.Floor(n)
		if n < 0 {
			n = 0
		}
		if n > math.MaxInt32 {
			n = math.MaxInt32
		}
		pop.SetMax(key, int(n))
	}
}

func (d *Director) patternContext(tags spawn.Tags, t float64, params map[string]any, limit int) *patterns.Context {
	return &patterns.Context{
		Population: d.opts.Population,
		Placement:  d.opts.Placement,
		Anchor:     d.cur.anchor,
		Bounds:     d.opts.Bounds,
		Tags:       tags,
		Time:       t,
		NowMs:      d.cur.nowMs,
		Params:     patterns.Params(params),
		Limit:      limit,
		Rand:       d.rand,
		State:      d.patternState,
	}
}

// placeWeighted runs under d.mu from inside selector.Step.
func (d *Director) placeWeighted(c *weighted.Candidate) (int, error) {
	p, _, err := d.patterns.Get(c.Pattern())
	if err != nil {
		return 0, err
	}
	mode := c.Mode
	if mode == "" {
		mode = spawn.DefaultMode
	}
	limit := patterns.Unlimited
	if c.Room != weighted.Unlimited {
		limit = c.Room
	}
	tags := spawn.Tags{Archetype: c.Archetype, Mode: mode, Source: SourceWeighted, Run: d.runGen}
	return p.Place(d.patternContext(tags, d.cur.tDes, c.Params(), limit))
}

// placeScripted runs under d.mu from inside scheduler.Step. Scripted spawns use
// run time and count against the archetype's default mode.
func (d *Director) placeScripted(ev *policy.TimelineEvent, sp policy.TimelineSpawn, pattern string, tRun float64) (int, error) {
	p, _, err := d.patterns.Get(pattern)
	if err != nil {
		return 0, err
	}
	tags := spawn.Tags{Archetype: sp.Archetype, Mode: spawn.DefaultMode, Source: SourceTimeline, Run: d.runGen}
	n, err := p.Place(d.patternContext(tags, tRun, sp.Params, patterns.Unlimited))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.tracker.Adjust(sp.Archetype, spawn.DefaultMode, n)
	}
	return n, nil
}

func (d *Director) forwardControl(c spawn.Control) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Printf("director: control sink panic event=%s err=%v", c.EventID, rec)
		}
	}()
	d.opts.Control.Control(c)
}
