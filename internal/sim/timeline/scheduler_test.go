package timeline

import (
	"errors"
	"testing"

	"wavedirector.ai/internal/sim/policy"
)

type gate map[string]bool

func (g gate) CanSpawn(a string) bool {
	blocked, ok := g[a]
	return !ok || !blocked
}

type registry map[string]bool

func (r registry) Has(name string) bool { return r[name] }

func oneEach(*policy.TimelineEvent, policy.TimelineSpawn, string, float64) (int, error) {
	return 1, nil
}

func spawnOf(arch string) []policy.TimelineSpawn {
	return []policy.TimelineSpawn{{Archetype: arch}}
}

func TestEventsFireInAscendingOrder(t *testing.T) {
	s := New([]policy.TimelineEvent{
		{ID: "b", At: 10, Spawns: spawnOf("x")},
		{ID: "a", At: 5, Spawns: spawnOf("x")},
		{ID: "c", At: 20, Spawns: spawnOf("x")},
		{ID: "a2", At: 5, Spawns: spawnOf("x")},
	}, nil, nil)

	var order []string
	for tr := 0.0; tr <= 30; tr++ {
		res := s.Step(StepInput{TRun: tr, Population: gate{}}, oneEach)
		if res.Started != "" {
			order = append(order, res.Started)
		}
	}
	want := []string{"a", "a2", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("order=%v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order=%v, want %v", order, want)
		}
	}
}

func TestActiveEventBlocksUntilDurationElapses(t *testing.T) {
	s := New([]policy.TimelineEvent{
		{ID: "long", At: 0, Duration: 5},
		{ID: "next", At: 1},
	}, nil, nil)

	if res := s.Step(StepInput{TRun: 0, Population: gate{}}, oneEach); res.Started != "long" {
		t.Fatalf("expected long to start, got %+v", res)
	}
	for _, tr := range []float64{1, 2, 4.99} {
		res := s.Step(StepInput{TRun: tr, Population: gate{}}, oneEach)
		if res.Started != "" || res.Active != "long" {
			t.Fatalf("t=%v: unexpected %+v", tr, res)
		}
	}
	res := s.Step(StepInput{TRun: 5, Population: gate{}}, oneEach)
	if res.Ended != "long" || res.Started != "next" {
		t.Fatalf("t=5: expected long to end and next to start, got %+v", res)
	}
}

func TestControlEmittedOncePerActivation(t *testing.T) {
	payload := map[string]any{"arena_radius": 600}
	s := New([]policy.TimelineEvent{{ID: "shrink", At: 1, Duration: 10, Control: payload}}, nil, nil)
	emitted := 0
	for tr := 0.0; tr < 20; tr += 0.5 {
		res := s.Step(StepInput{TRun: tr, Population: gate{}}, oneEach)
		if res.Control != nil {
			emitted++
			if res.Control.EventID != "shrink" || res.Control.Payload["arena_radius"] != 600 {
				t.Fatalf("unexpected control %+v", res.Control)
			}
		}
	}
	if emitted != 1 {
		t.Fatalf("control emitted %d times", emitted)
	}
}

func TestOnceSurvivesSeek(t *testing.T) {
	s := New([]policy.TimelineEvent{
		{ID: "boss", At: 10, Once: true, Spawns: spawnOf("boss")},
		{ID: "filler", At: 12, Spawns: spawnOf("grunt")},
		{ID: "late", At: 50, Once: true, Spawns: spawnOf("boss")},
	}, nil, nil)

	fired := map[string]int{}
	run := func(from, to float64) {
		for tr := from; tr <= to; tr++ {
			res := s.Step(StepInput{TRun: tr, Population: gate{}}, oneEach)
			if res.Started != "" {
				fired[res.Started]++
			}
		}
	}

	run(0, 15)
	if fired["boss"] != 1 || fired["filler"] != 1 {
		t.Fatalf("first pass: %v", fired)
	}

	s.SeekToTime(0)
	run(0, 15)
	if fired["boss"] != 1 {
		t.Fatalf("once event replayed after seek: %v", fired)
	}
	if fired["filler"] != 2 {
		t.Fatalf("repeatable event should replay after rewind: %v", fired)
	}

	// Seeking past a once event marks it fired without running it.
	s.SeekToTime(60)
	s.SeekToTime(0)
	run(0, 70)
	if fired["late"] != 0 {
		t.Fatalf("late fired after being seeked past: %v", fired)
	}
	st := s.State()
	if len(st.FiredOnce) != 2 || st.Pending != 0 {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestSeekUsesInclusiveBound(t *testing.T) {
	s := New([]policy.TimelineEvent{{ID: "a", At: 10}, {ID: "b", At: 10.5}}, nil, nil)
	s.SeekToTime(10)
	if st := s.State(); st.Cursor != 1 || st.ActiveID != "" {
		t.Fatalf("unexpected state after seek: %+v", st)
	}
	if res := s.Step(StepInput{TRun: 10.5, Population: gate{}}, oneEach); res.Started != "b" {
		t.Fatalf("expected b, got %+v", res)
	}
}

func TestSuspendRequiresSuccessfulSpawnThisTick(t *testing.T) {
	events := []policy.TimelineEvent{{ID: "set", At: 0, Duration: 3, Behavior: policy.BehaviorSuspendWeighted, Spawns: spawnOf("boss")}}

	s := New(events, nil, nil)
	if res := s.Step(StepInput{TRun: 0, Population: gate{}}, oneEach); !res.Suspend || len(res.Spawns) != 1 {
		t.Fatalf("successful set-piece should suspend: %+v", res)
	}
	if res := s.Step(StepInput{TRun: 1, Population: gate{}}, oneEach); !res.Suspend || len(res.Spawns) != 1 || res.Started != "" {
		t.Fatalf("active event should keep spawning and suspend: %+v", res)
	}
	if res := s.Step(StepInput{TRun: 2, Population: gate{"boss": true}}, oneEach); res.Suspend || res.Active != "set" || res.Capped != 1 {
		t.Fatalf("tick without a scripted spawn must not suspend: %+v", res)
	}
	if res := s.Step(StepInput{TRun: 3, Population: gate{}}, oneEach); res.Suspend || res.Ended != "set" || len(res.Spawns) != 0 {
		t.Fatalf("suspension should end with the event: %+v", res)
	}

	capped := New(events, nil, nil)
	if res := capped.Step(StepInput{TRun: 0, Population: gate{"boss": true}}, oneEach); res.Suspend || res.Capped != 1 {
		t.Fatalf("capped spawn should not suspend: %+v", res)
	}

	zero := New(events, nil, nil)
	none := func(*policy.TimelineEvent, policy.TimelineSpawn, string, float64) (int, error) { return 0, nil }
	if res := zero.Step(StepInput{TRun: 0, Population: gate{}}, none); res.Suspend {
		t.Fatalf("zero-count spawn should not suspend: %+v", res)
	}

	blend := New([]policy.TimelineEvent{{ID: "b", At: 0, Behavior: policy.BehaviorBlend, Spawns: spawnOf("x")}}, nil, nil)
	if res := blend.Step(StepInput{TRun: 0, Population: gate{}}, oneEach); res.Suspend {
		t.Fatalf("blend should never suspend")
	}
}

func TestPatternFallbackAndFaults(t *testing.T) {
	s := New([]policy.TimelineEvent{{ID: "e", At: 0, Spawns: []policy.TimelineSpawn{
		{Archetype: "a", Pattern: "spiral"},
		{Archetype: "b"},
		{Archetype: "c", Pattern: "wave"},
		{Archetype: "d", Pattern: "wave"},
	}}}, registry{"ring": true, "wave": true}, nil)

	seen := map[string]string{}
	var gotTime float64
	res := s.Step(StepInput{TRun: 42, Population: gate{}}, func(_ *policy.TimelineEvent, sp policy.TimelineSpawn, pattern string, tRun float64) (int, error) {
		seen[sp.Archetype] = pattern
		gotTime = tRun
		switch sp.Archetype {
		case "c":
			panic("boom")
		case "d":
			return 0, errors.New("no room")
		}
		return 2, nil
	})
	if seen["a"] != "ring" || seen["b"] != "ring" || seen["c"] != "wave" {
		t.Fatalf("unexpected pattern resolution: %v", seen)
	}
	if gotTime != 42 {
		t.Fatalf("timeline spawns must use run time, got %v", gotTime)
	}
	if res.Failures != 2 || len(res.Spawns) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMissingPopulationSpawnsNothing(t *testing.T) {
	s := New([]policy.TimelineEvent{{ID: "e", At: 0, Control: map[string]any{"k": 1}, Spawns: spawnOf("a")}}, nil, nil)
	called := false
	res := s.Step(StepInput{TRun: 0}, func(*policy.TimelineEvent, policy.TimelineSpawn, string, float64) (int, error) {
		called = true
		return 1, nil
	})
	if called || len(res.Spawns) != 0 || res.Control == nil {
		t.Fatalf("unexpected result %+v called=%v", res, called)
	}
}

func TestReplaceKeepsFiredSet(t *testing.T) {
	s := New([]policy.TimelineEvent{{ID: "boss", At: 1, Once: true}}, nil, nil)
	s.Step(StepInput{TRun: 1, Population: gate{}}, oneEach)
	s.Replace([]policy.TimelineEvent{{ID: "boss", At: 30, Once: true}, {ID: "new", At: 20}}, 5)
	var started []string
	for tr := 5.0; tr <= 40; tr++ {
		if res := s.Step(StepInput{TRun: tr, Population: gate{}}, oneEach); res.Started != "" {
			started = append(started, res.Started)
		}
	}
	if len(started) != 1 || started[0] != "new" {
		t.Fatalf("started=%v, want [new]", started)
	}
	s.Reset()
	if st := s.State(); st.Cursor != 0 || len(st.FiredOnce) != 0 {
		t.Fatalf("reset left state: %+v", st)
	}
}
