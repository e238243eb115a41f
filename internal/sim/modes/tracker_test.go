package modes

import (
	"testing"

	"wavedirector.ai/internal/sim/spawn"
)

func TestAdjustClampsAtZero(t *testing.T) {
	tr := NewTracker()
	if got := tr.Adjust("grunt", "", 3); got != 3 {
		t.Fatalf("adjust +3 = %d", got)
	}
	if got := tr.Adjust("grunt", "", -5); got != 0 {
		t.Fatalf("adjust -5 = %d, want clamp 0", got)
	}
	if got := tr.Active("grunt", ""); got != 0 {
		t.Fatalf("active after clamp = %d", got)
	}
	if got := tr.Adjust("grunt", "", 1); got != 1 {
		t.Fatalf("adjust after clamp = %d, want 1", got)
	}
}

func TestDefaultAndModedKeysDoNotCollide(t *testing.T) {
	tr := NewTracker()
	tr.Adjust("charger", "", 2)
	tr.Adjust("charger", "swarm", 5)
	if tr.Active("charger", spawn.DefaultMode) != 2 {
		t.Fatalf("empty mode should map to the default sentinel")
	}
	if tr.Active("charger", "swarm") != 5 {
		t.Fatalf("moded count lost")
	}
	if KeyOf("a", "") != (Key{Archetype: "a", Mode: spawn.DefaultMode}) {
		t.Fatalf("unexpected default key")
	}
}

func TestCooldown(t *testing.T) {
	tr := NewTracker()
	if tr.OnCooldown("a", "m", 0) {
		t.Fatalf("no cooldown recorded yet")
	}
	tr.SetCooldown("a", "m", 1000)
	for _, tc := range []struct {
		now  int64
		want bool
	}{{0, true}, {999, true}, {1000, false}, {5000, false}} {
		if got := tr.OnCooldown("a", "m", tc.now); got != tc.want {
			t.Fatalf("OnCooldown(now=%d)=%v, want %v", tc.now, got, tc.want)
		}
	}
	if tr.OnCooldown("a", "other", 0) {
		t.Fatalf("cooldown leaked to another mode")
	}
}

func TestResetAndSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.Adjust("b", "", 1)
	tr.Adjust("a", "x", 2)
	tr.SetCooldown("a", "y", 50)
	snap := tr.Snapshot()
	if len(snap) != 3 || snap[0].Archetype != "a" || snap[0].Mode != "x" || snap[2].Archetype != "b" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	tr.Reset()
	if len(tr.Snapshot()) != 0 || tr.Active("a", "x") != 0 || tr.OnCooldown("a", "y", 0) {
		t.Fatalf("reset left state behind")
	}
}
