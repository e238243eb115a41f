package arena

import (
	"testing"

	"wavedirector.ai/internal/sim/spawn"
)

var bounds = spawn.Rect{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 1000}

func TestOpenAnchorIsReturnedAsIs(t *testing.T) {
	r := New(bounds, 1, nil)
	p, ok := r.SpawnPoint(spawn.PointQuery{Anchor: spawn.Point{X: 10, Y: 20}, Radius: 50})
	if !ok || p.X != 10 || p.Y != 20 {
		t.Fatalf("p=%+v ok=%v", p, ok)
	}
}

func TestOutOfBoundsAnchorStaysInside(t *testing.T) {
	r := New(bounds, 1, nil)
	for i := 0; i < 50; i++ {
		p, ok := r.SpawnPoint(spawn.PointQuery{Anchor: spawn.Point{X: -200, Y: 1300}, Radius: 100, Margin: 16})
		if !ok {
			t.Fatalf("no point")
		}
		if p.X < 16 || p.X > 984 || p.Y < 16 || p.Y > 984 {
			t.Fatalf("point outside margin: %+v", p)
		}
	}
}

func TestBlockedPointsAreAvoided(t *testing.T) {
	blocked := func(p spawn.Point) bool { return p.X < 500 }
	r := New(bounds, 7, blocked)
	p, ok := r.SpawnPoint(spawn.PointQuery{Anchor: spawn.Point{X: 499, Y: 500}, Radius: 200, Attempts: 32})
	if !ok || p.X < 500 {
		t.Fatalf("p=%+v ok=%v", p, ok)
	}

	all := New(bounds, 7, func(spawn.Point) bool { return true })
	if _, ok := all.SpawnPoint(spawn.PointQuery{Anchor: spawn.Point{X: 10, Y: 10}, Radius: 20}); ok {
		t.Fatalf("fully blocked arena should yield no point")
	}
}

func TestRetriesAreDeterministic(t *testing.T) {
	blocked := func(p spawn.Point) bool { return p.X == 300 }
	q := spawn.PointQuery{Anchor: spawn.Point{X: 300, Y: 300}, Radius: 64}
	a, b := New(bounds, 42, blocked), New(bounds, 42, blocked)
	for i := 0; i < 10; i++ {
		pa, _ := a.SpawnPoint(q)
		pb, _ := b.SpawnPoint(q)
		if pa != pb {
			t.Fatalf("call %d diverged: %+v vs %+v", i, pa, pb)
		}
	}
}
