package population

import (
	"testing"
	"time"

	"wavedirector.ai/internal/sim/spawn"
)

func TestCapsAndPools(t *testing.T) {
	s := New([]string{"grunt", "boss"}, Options{})
	if s.Pool("ghost") != nil {
		t.Fatalf("unknown archetype should have no pool")
	}
	if s.CanSpawn("ghost") {
		t.Fatalf("unknown archetype should not spawn")
	}
	s.SetMax("grunt", 2)
	pool := s.Pool("grunt")
	for i := 0; i < 2; i++ {
		if _, ok := pool.Get(0, 0, spawn.Tags{Archetype: "grunt"}); !ok {
			t.Fatalf("spawn %d refused", i)
		}
	}
	if _, ok := pool.Get(0, 0, spawn.Tags{}); ok || s.CanSpawn("grunt") {
		t.Fatalf("cap not enforced")
	}
	s.SetMax("grunt", -1)
	if !s.CanSpawn("grunt") {
		t.Fatalf("negative max should remove the cap")
	}

	s.SetTotalMax(3)
	if _, ok := s.Pool("boss").Get(0, 0, spawn.Tags{}); !ok {
		t.Fatalf("boss refused under total cap")
	}
	if s.CanSpawn("boss") || s.CanSpawn("grunt") {
		t.Fatalf("total cap not enforced")
	}
}

func TestReleaseNotifiesOnce(t *testing.T) {
	s := New([]string{"grunt"}, Options{})
	var got []spawn.Release
	unsub := s.Subscribe(func(r spawn.Release) { got = append(got, r) })

	e, _ := s.Pool("grunt").Get(1, 2, spawn.Tags{Archetype: "other", Mode: "rush"})
	if e.Tags().Archetype != "grunt" {
		t.Fatalf("pool must stamp its archetype, got %+v", e.Tags())
	}
	if !s.Release(e.ID()) || s.Release(e.ID()) {
		t.Fatalf("release should succeed exactly once")
	}
	if len(got) != 1 || got[0].Entity.Tags().Mode != "rush" {
		t.Fatalf("notifications=%+v", got)
	}
	if s.Count("grunt") != 0 {
		t.Fatalf("count=%d", s.Count("grunt"))
	}

	unsub()
	unsub()
	e2, _ := s.Pool("grunt").Get(0, 0, spawn.Tags{})
	s.Release(e2.ID())
	if len(got) != 1 {
		t.Fatalf("notified after unsubscribe")
	}
}

func TestReapUsesTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	s := New([]string{"grunt"}, Options{TTL: 10 * time.Second, Clock: func() time.Time { return now }})
	released := 0
	s.Subscribe(func(spawn.Release) { released++ })

	s.Pool("grunt").Get(0, 0, spawn.Tags{})
	now = now.Add(5 * time.Second)
	s.Pool("grunt").Get(0, 0, spawn.Tags{})

	now = now.Add(5 * time.Second)
	if n := s.Reap(); n != 1 || released != 1 || s.Total() != 1 {
		t.Fatalf("reap n=%d released=%d total=%d", n, released, s.Total())
	}
	if n := s.Clear(); n != 1 || released != 2 || s.Total() != 0 {
		t.Fatalf("clear n=%d released=%d", n, released)
	}
	if len(s.Counts()) != 0 {
		t.Fatalf("counts=%v", s.Counts())
	}
}
