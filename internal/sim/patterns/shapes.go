package patterns

import (
	"fmt"
	"math"

	"wavedirector.ai/internal/sim/spawn"
)

// Circle returns n points evenly spaced on a circle, starting at phase radians.
func Circle(center spawn.Point, radius float64, n int, phase float64) []spawn.Point {
	if n <= 0 {
		return nil
	}
	if radius < 0 {
		radius = 0
	}
	out := make([]spawn.Point, 0, n)
	step := 2 * math.Pi / float64(n)
	for i := 0; i < n; i++ {
		a := phase + step*float64(i)
		out = append(out, spawn.Point{X: center.X + radius*math.Cos(a), Y: center.Y + radius*math.Sin(a)})
	}
	return out
}

// Line returns n points centered on mid along dir, spaced evenly. Points are
// ordered from the middle outwards so truncation keeps the line centered.
func Line(mid spawn.Point, dir spawn.Point, n int, spacing float64) []spawn.Point {
	if n <= 0 {
		return nil
	}
	out := make([]spawn.Point, 0, n)
	out = append(out, mid)
	for k := 1; len(out) < n; k++ {
		for _, sign := range []float64{1, -1} {
			if len(out) >= n {
				break
			}
			off := sign * float64(k) * spacing
			out = append(out, spawn.Point{X: mid.X + dir.X*off, Y: mid.Y + dir.Y*off})
		}
	}
	return out
}

var sideDirs = [4]spawn.Point{{X: 0, Y: -1}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: -1, Y: 0}}

func sideIndex(name string) (int, bool) {
	switch name {
	case "north", "n":
		return 0, true
	case "east", "e":
		return 1, true
	case "south", "s":
		return 2, true
	case "west", "w":
		return 3, true
	}
	return 0, false
}

func count(c *Context, pattern string, def int) (int, error) {
	n := c.Params.Int("count", def)
	if n < 0 {
		return 0, fmt.Errorf("%s: count %d: %w", pattern, n, ErrBadParam)
	}
	return n, nil
}

// Ring surrounds the anchor with `count` entities at `radius`, random phase.
func Ring(c *Context) (int, error) {
	if c.Anchor == nil {
		return 0, nil
	}
	n, err := count(c, "ring", 8)
	if err != nil {
		return 0, err
	}
	radius := c.Params.Float("radius", 320)
	return c.place(Circle(*c.Anchor, radius, n, c.roll()*2*math.Pi)), nil
}

// Wave marches a line of `count` entities in from one side at `distance`. The
// side rotates per archetype unless `side` pins it.
func Wave(c *Context) (int, error) {
	if c.Anchor == nil {
		return 0, nil
	}
	n, err := count(c, "wave", 6)
	if err != nil {
		return 0, err
	}
	side, pinned := sideIndex(c.Params.String("side", ""))
	if !pinned {
		side = c.State.NextSide(c.Tags.Archetype)
	}
	dir := sideDirs[side]
	dist := c.Params.Float("distance", 420)
	mid := spawn.Point{X: c.Anchor.X + dir.X*dist, Y: c.Anchor.Y + dir.Y*dist}
	perp := spawn.Point{X: -dir.Y, Y: dir.X}
	return c.place(Line(mid, perp, n, c.Params.Float("spacing", 48))), nil
}

// Legion encircles the anchor with `rings` concentric rings of `count` each,
// every other ring offset by half a step.
func Legion(c *Context) (int, error) {
	if c.Anchor == nil {
		return 0, nil
	}
	n, err := count(c, "legion", 10)
	if err != nil {
		return 0, err
	}
	rings := c.Params.Int("rings", 2)
	if rings < 1 {
		rings = 1
	}
	radius := c.Params.Float("radius", 360)
	gap := c.Params.Float("ring_gap", 56)
	phase := c.roll() * 2 * math.Pi
	var pts []spawn.Point
	for r := 0; r < rings; r++ {
		off := 0.0
		if r%2 == 1 && n > 0 {
			off = math.Pi / float64(n)
		}
		pts = append(pts, Circle(*c.Anchor, radius+gap*float64(r), n, phase+off)...)
	}
	return c.place(pts), nil
}

// Wall lines one edge of the arena (or of a square of half-size `distance`
// around the anchor when no bounds are known) with `count` entities.
func Wall(c *Context) (int, error) {
	if c.Anchor == nil {
		return 0, nil
	}
	n, err := count(c, "wall", 10)
	if err != nil {
		return 0, err
	}
	var box spawn.Rect
	if c.Bounds != nil && !c.Bounds.Empty() {
		box = *c.Bounds
	} else {
		d := c.Params.Float("distance", 480)
		box = spawn.Rect{MinX: c.Anchor.X - d, MinY: c.Anchor.Y - d, MaxX: c.Anchor.X + d, MaxY: c.Anchor.Y + d}
	}
	side, pinned := sideIndex(c.Params.String("edge", ""))
	if !pinned {
		side = int(c.roll() * 4)
		if side > 3 {
			side = 3
		}
	}
	inset := c.Params.Float("inset", 32)
	var a, b spawn.Point
	switch side {
	case 0:
		a, b = spawn.Point{X: box.MinX + inset, Y: box.MinY + inset}, spawn.Point{X: box.MaxX - inset, Y: box.MinY + inset}
	case 1:
		a, b = spawn.Point{X: box.MaxX - inset, Y: box.MinY + inset}, spawn.Point{X: box.MaxX - inset, Y: box.MaxY - inset}
	case 2:
		a, b = spawn.Point{X: box.MinX + inset, Y: box.MaxY - inset}, spawn.Point{X: box.MaxX - inset, Y: box.MaxY - inset}
	default:
		a, b = spawn.Point{X: box.MinX + inset, Y: box.MinY + inset}, spawn.Point{X: box.MinX + inset, Y: box.MaxY - inset}
	}
	pts := make([]spawn.Point, 0, n)
	for i := 0; i < n; i++ {
		f := 0.5
		if n > 1 {
			f = float64(i) / float64(n-1)
		}
		pts = append(pts, spawn.Point{X: a.X + (b.X-a.X)*f, Y: a.Y + (b.Y-a.Y)*f})
	}
	return c.place(pts), nil
}

// Boss drops `count` (default 1) entities at `distance` from the anchor. With
// `min_gap_ms` set, a drop within that gap of the previous one places nothing.
func Boss(c *Context) (int, error) {
	if c.Anchor == nil {
		return 0, nil
	}
	n, err := count(c, "boss", 1)
	if err != nil {
		return 0, err
	}
	if gap := int64(c.Params.Int("min_gap_ms", 0)); gap > 0 {
		if last, ok := c.State.LastDrop(c.Tags.Archetype); ok && c.NowMs-last < gap {
			return 0, nil
		}
	}
	dist := c.Params.Float("distance", 260)
	placed := c.place(Circle(*c.Anchor, dist, n, c.roll()*2*math.Pi))
	if placed > 0 {
		c.State.MarkDrop(c.Tags.Archetype, c.NowMs)
	}
	return placed, nil
}
