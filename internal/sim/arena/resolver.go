// Package arena resolves spawn points inside the playable rectangle.
package arena

import (
	"sync/atomic"

	"wavedirector.ai/internal/sim/mathx"
	"wavedirector.ai/internal/sim/spawn"
)

const (
	DefaultAttempts = 8
	maxAttempts     = 64
)

// Resolver implements spawn.PlacementResolver with deterministic hashed
// retries. Each call consumes one sequence number, so the same call order with
// the same seed yields the same points.
type Resolver struct {
	Bounds  spawn.Rect
	Seed    int64
	Blocked func(p spawn.Point) bool

	seq atomic.Uint64
}

func New(bounds spawn.Rect, seed int64, blocked func(spawn.Point) bool) *Resolver {
	return &Resolver{Bounds: bounds, Seed: seed, Blocked: blocked}
}

func (r *Resolver) SpawnPoint(q spawn.PointQuery) (spawn.Point, bool) {
	attempts := q.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if attempts > maxAttempts {
		attempts = maxAttempts
	}
	radius := q.Radius
	if !mathx.Finite(radius) || radius < 0 {
		radius = 0
	}
	if !mathx.Finite(q.Anchor.X) || !mathx.Finite(q.Anchor.Y) {
		return spawn.Point{}, false
	}
	call := int(r.seq.Add(1))

	target := r.clamp(q.Anchor, q.Margin)
	if r.open(target) && target == q.Anchor {
		return target, true
	}
	if radius > 0 {
		for attempt := 0; attempt < attempts; attempt++ {
			hx := mathx.Hash3(r.Seed, call, attempt*2, 0)
			hy := mathx.Hash3(r.Seed, call, attempt*2+1, 0)
			p := spawn.Point{
				X: q.Anchor.X + radius*(unit(hx)*2-1),
				Y: q.Anchor.Y + radius*(unit(hy)*2-1),
			}
			p = r.clamp(p, q.Margin)
			if r.open(p) {
				return p, true
			}
		}
	}

	// Fallback: the anchor pulled inside the bounds.
	if r.open(target) {
		return target, true
	}
	return spawn.Point{}, false
}

func (r *Resolver) clamp(p spawn.Point, margin float64) spawn.Point {
	if r.Bounds.Empty() {
		return p
	}
	if !mathx.Finite(margin) || margin < 0 {
		margin = 0
	}
	return r.Bounds.Clamp(p, margin)
}

func (r *Resolver) open(p spawn.Point) bool {
	return r.Blocked == nil || !r.Blocked(p)
}

func unit(h uint64) float64 {
	return float64(h>>11) / (1 << 53)
}
