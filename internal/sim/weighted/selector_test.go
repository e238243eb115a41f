package weighted

import (
	"errors"
	"math"
	"testing"

	"wavedirector.ai/internal/sim/mathx"
	"wavedirector.ai/internal/sim/modes"
	"wavedirector.ai/internal/sim/policy"
)

type fakePop struct {
	max  map[string]int
	live map[string]int
}

func newFakePop() *fakePop {
	return &fakePop{max: map[string]int{}, live: map[string]int{}}
}

func (p *fakePop) CanSpawn(archetype string) bool {
	m, ok := p.max[archetype]
	return !ok || p.live[archetype] < m
}

// spawnUpTo creates up to want entities per call, honoring population and room.
func (p *fakePop) spawnUpTo(want int) SpawnFunc {
	return func(c *Candidate) (int, error) {
		n := 0
		for n < want && p.CanSpawn(c.Archetype) {
			if c.Room != Unlimited && n >= c.Room {
				break
			}
			p.live[c.Archetype]++
			n++
		}
		return n, nil
	}
}

func cfgOf(arch map[string]*policy.Archetype, perTick policy.Value) *policy.Config {
	cfg := &policy.Config{ByArchetype: arch, SpawnsPerTick: perTick}
	cfg.Normalize()
	return cfg
}

func TestDrawFairness(t *testing.T) {
	cands := []Candidate{{Archetype: "a", Weight: 1}, {Archetype: "b", Weight: 3}, {Archetype: "c", Weight: 0}, {Archetype: "d", Weight: 6}}
	r := mathx.NewRand(99)
	counts := make([]int, len(cands))
	const n = 200000
	for i := 0; i < n; i++ {
		idx := Draw(cands, r.Float64())
		if idx < 0 {
			t.Fatalf("draw failed")
		}
		counts[idx]++
	}
	if counts[2] != 0 {
		t.Fatalf("zero-weight candidate drawn %d times", counts[2])
	}
	want := map[int]float64{0: 0.1, 1: 0.3, 3: 0.6}
	for idx, p := range want {
		got := float64(counts[idx]) / n
		if math.Abs(got-p) > 0.01 {
			t.Fatalf("candidate %d frequency %.4f, want %.2f", idx, got, p)
		}
	}
}

func TestDrawEmpty(t *testing.T) {
	if Draw(nil, 0.5) != -1 {
		t.Fatalf("empty draw should return -1")
	}
	if Draw([]Candidate{{Weight: 0}, {Weight: -1}}, 0.5) != -1 {
		t.Fatalf("all non-positive weights should return -1")
	}
	if got := Draw([]Candidate{{Weight: 0}, {Weight: 2}}, 0.999999); got != 1 {
		t.Fatalf("draw near 1 = %d", got)
	}
}

func TestZeroWeightNeverSelected(t *testing.T) {
	cfg := cfgOf(map[string]*policy.Archetype{
		"A": {Weight: policy.Literal(10)},
		"B": {Weight: policy.Literal(0)},
	}, policy.Literal(4))
	pop := newFakePop()
	tr := modes.NewTracker()
	s := &Selector{Rand: mathx.NewRand(1)}
	for tick := 0; tick < 200; tick++ {
		res := s.Step(Input{Config: cfg, Population: pop, Tracker: tr}, pop.spawnUpTo(1))
		for _, o := range res.Spawns {
			if o.Archetype != "A" {
				t.Fatalf("tick %d selected %s", tick, o.Archetype)
			}
		}
	}
	if pop.live["A"] != 800 {
		t.Fatalf("expected 800 spawns of A, got %d", pop.live["A"])
	}
}

func TestModeWindowExclusiveUpperBound(t *testing.T) {
	cfg := cfgOf(map[string]*policy.Archetype{
		"charger": {Weight: policy.Literal(1), Modes: []policy.Mode{{Key: "swarm", From: policy.Float(60), To: policy.Float(120)}}},
	}, policy.Value{})
	s := &Selector{}
	in := Input{Config: cfg, Population: newFakePop(), Tracker: modes.NewTracker()}

	in.TDesign = 119.9
	if got := s.Candidates(in); len(got) != 1 || got[0].Mode != "swarm" {
		t.Fatalf("tDesign=119.9 should admit swarm, got %+v", got)
	}
	in.TDesign = 120.0
	if got := s.Candidates(in); len(got) != 0 {
		t.Fatalf("tDesign=120 should not admit swarm, got %+v", got)
	}
}

func TestWeightPrecedence(t *testing.T) {
	cfg := cfgOf(map[string]*policy.Archetype{
		"a": {Weight: policy.Literal(1), Modes: []policy.Mode{
			{Key: "inherit"},
			{Key: "own", Weight: policy.Literal(5)},
		}},
		"b": {Weight: policy.Literal(2)},
	}, policy.Value{})
	s := &Selector{}
	in := Input{Config: cfg, Population: newFakePop(), Tracker: modes.NewTracker()}

	got := map[string]float64{}
	for _, c := range s.Candidates(in) {
		got[c.Archetype+"/"+c.Mode] = c.Weight
	}
	if got["a/inherit"] != 1 || got["a/own"] != 5 || got["b/"] != 2 {
		t.Fatalf("unexpected weights: %v", got)
	}

	in.Overrides = map[string]policy.Value{"a": policy.Literal(9), "b": policy.Literal(0)}
	got = map[string]float64{}
	for _, c := range s.Candidates(in) {
		got[c.Archetype+"/"+c.Mode] = c.Weight
	}
	if got["a/inherit"] != 9 || got["a/own"] != 9 {
		t.Fatalf("override should win over mode weight: %v", got)
	}
	if _, ok := got["b/"]; ok {
		t.Fatalf("override 0 should drop b: %v", got)
	}
}

func TestCurveWeightFaultSkipsCandidate(t *testing.T) {
	broken := policy.FromCurve(policy.CurveFunc(func(float64) (float64, error) { return 0, errors.New("bad curve") }))
	var faults int
	cfg := cfgOf(map[string]*policy.Archetype{
		"a": {Weight: broken},
		"b": {Weight: policy.FromCurve(policy.CurveFunc(func(t float64) (float64, error) { return t, nil }))},
	}, policy.Value{})
	s := &Selector{Resolver: policy.Resolver{OnFault: func(string, error) { faults++ }}}
	cands := s.Candidates(Input{Config: cfg, TDesign: 30, Population: newFakePop(), Tracker: modes.NewTracker()})
	if len(cands) != 1 || cands[0].Archetype != "b" || cands[0].Weight != 30 {
		t.Fatalf("unexpected candidates: %+v", cands)
	}
	if faults != 1 {
		t.Fatalf("expected one resolver fault, got %d", faults)
	}
}

func TestMaxConcurrentInvariant(t *testing.T) {
	cfg := cfgOf(map[string]*policy.Archetype{
		"a": {Weight: policy.Literal(1), Modes: []policy.Mode{{Key: "pack", MaxConcurrent: policy.Int(2)}}},
	}, policy.Literal(5))
	pop := newFakePop()
	tr := modes.NewTracker()
	s := &Selector{Rand: mathx.NewRand(3)}
	for tick := 0; tick < 20; tick++ {
		s.Step(Input{Config: cfg, Population: pop, Tracker: tr}, pop.spawnUpTo(3))
		if got := tr.Active("a", "pack"); got > 2 {
			t.Fatalf("tick %d: active=%d exceeds max_concurrent", tick, got)
		}
		if tick == 10 {
			tr.Adjust("a", "pack", -1)
		}
	}
	if tr.Active("a", "pack") != 2 {
		t.Fatalf("expected mode refilled to 2, got %d", tr.Active("a", "pack"))
	}
}

func TestCooldownInvariant(t *testing.T) {
	cfg := cfgOf(map[string]*policy.Archetype{
		"a": {Weight: policy.Literal(1), Modes: []policy.Mode{{Key: "burst", CooldownMs: 1000}}},
	}, policy.Literal(3))
	pop := newFakePop()
	tr := modes.NewTracker()
	s := &Selector{Rand: mathx.NewRand(5)}

	var spawnTimes []int64
	for now := int64(0); now <= 2500; now += 100 {
		res := s.Step(Input{Config: cfg, NowMs: now, Population: pop, Tracker: tr}, pop.spawnUpTo(1))
		for range res.Spawns {
			spawnTimes = append(spawnTimes, now)
		}
	}
	want := []int64{0, 1000, 2000}
	if len(spawnTimes) != len(want) {
		t.Fatalf("spawn times %v, want %v", spawnTimes, want)
	}
	for i := range want {
		if spawnTimes[i] != want[i] {
			t.Fatalf("spawn times %v, want %v", spawnTimes, want)
		}
	}
}

func TestFailureZeroesCandidateForTick(t *testing.T) {
	cfg := cfgOf(map[string]*policy.Archetype{
		"bad":  {Weight: policy.Literal(1000)},
		"good": {Weight: policy.Literal(1)},
	}, policy.Literal(10))
	calls := map[string]int{}
	s := &Selector{Rand: mathx.NewRand(8)}
	res := s.Step(Input{Config: cfg, Population: newFakePop(), Tracker: modes.NewTracker()}, func(c *Candidate) (int, error) {
		calls[c.Archetype]++
		if c.Archetype == "bad" {
			panic("pattern exploded")
		}
		return 1, nil
	})
	if calls["bad"] != 1 {
		t.Fatalf("failed candidate retried %d times in one tick", calls["bad"])
	}
	if res.Failures != 1 || res.Spawned() != 9 {
		t.Fatalf("unexpected result: failures=%d spawned=%d", res.Failures, res.Spawned())
	}
}

func TestPopulationCapReachedMidTick(t *testing.T) {
	cfg := cfgOf(map[string]*policy.Archetype{"a": {Weight: policy.Literal(1)}}, policy.Literal(10))
	pop := newFakePop()
	pop.max["a"] = 3
	tr := modes.NewTracker()
	s := &Selector{Rand: mathx.NewRand(2)}
	res := s.Step(Input{Config: cfg, Population: pop, Tracker: tr}, pop.spawnUpTo(1))
	if pop.live["a"] != 3 || res.Spawned() != 3 {
		t.Fatalf("expected exactly 3 spawns, live=%d spawned=%d", pop.live["a"], res.Spawned())
	}
	if tr.Active("a", "") != 3 {
		t.Fatalf("tracker active=%d", tr.Active("a", ""))
	}
	again := s.Step(Input{Config: cfg, Population: pop, Tracker: tr}, pop.spawnUpTo(1))
	if again.Candidates != 0 || again.Spawned() != 0 {
		t.Fatalf("capped archetype should not be a candidate: %+v", again)
	}
}

func TestBudget(t *testing.T) {
	s := &Selector{}
	cases := []struct {
		v    policy.Value
		want int
	}{
		{policy.Literal(3.7), 3},
		{policy.Literal(0), 1},
		{policy.Literal(-4), 1},
		{policy.Value{}, 1},
		{policy.FromCurve(policy.CurveFunc(func(float64) (float64, error) { return math.Inf(1), nil })), 1},
		{policy.FromCurve(policy.CurveFunc(func(t float64) (float64, error) { return t / 10, nil })), 6},
	}
	for i, tc := range cases {
		cfg := &policy.Config{SpawnsPerTick: tc.v}
		if got := s.Budget(cfg, 60); got != tc.want {
			t.Fatalf("case %d: budget=%d, want %d", i, got, tc.want)
		}
	}
}

func TestPatternAndParamResolution(t *testing.T) {
	entry := &policy.Archetype{CustomPattern: "wave", Params: map[string]any{"radius": 400, "count": 2}}
	mode := &policy.Mode{Key: "m", Pattern: "legion", Params: map[string]any{"count": 12}}

	c := Candidate{Entry: entry, ModeEntry: mode}
	if c.Pattern() != "legion" {
		t.Fatalf("mode pattern should win, got %s", c.Pattern())
	}
	p := c.Params()
	if p["radius"] != 400 || p["count"] != 12 {
		t.Fatalf("unexpected merged params: %v", p)
	}
	c.ModeEntry = &policy.Mode{Key: "m"}
	if c.Pattern() != "wave" {
		t.Fatalf("archetype pattern expected, got %s", c.Pattern())
	}
	c.Entry = &policy.Archetype{}
	if c.Pattern() != policy.DefaultPattern {
		t.Fatalf("default pattern expected, got %s", c.Pattern())
	}
}
