package patterns

import (
	"wavedirector.ai/internal/sim/spawn"
)

// Unlimited is the Context.Limit value for "no cap beyond the population".
const Unlimited = -1

type Roller interface {
	Float64() float64
}

// Context is everything a pattern may consult for one placement.
type Context struct {
	Population spawn.Population
	Placement  spawn.PlacementResolver
	// Anchor is the focal point (usually the player). Nil means no spawn.
	Anchor *spawn.Point
	Bounds *spawn.Rect
	Tags   spawn.Tags
	// Time is seconds on the caller's clock: design time for the weighted
	// policy, run time for scripted events.
	Time   float64
	NowMs  int64
	Params Params
	Limit  int
	Rand   Roller
	State  *State
}

func (c *Context) roll() float64 {
	if c.Rand == nil {
		return 0
	}
	return c.Rand.Float64()
}

// place instantiates entities at points in order until the limit, the
// population or the pool says stop. Points the resolver rejects are skipped.
func (c *Context) place(points []spawn.Point) int {
	if c.Anchor == nil || c.Population == nil {
		return 0
	}
	arch := c.Tags.Archetype
	pool := c.Population.Pool(arch)
	if pool == nil {
		return 0
	}
	jitter := c.Params.Float("jitter", 24)
	margin := c.Params.Float("margin", 0)
	attempts := c.Params.Int("attempts", 8)

	n := 0
	for _, p := range points {
		if c.Limit >= 0 && n >= c.Limit {
			break
		}
		if !c.Population.CanSpawn(arch) {
			break
		}
		if c.Placement != nil {
			q, ok := c.Placement.SpawnPoint(spawn.PointQuery{Anchor: p, Radius: jitter, Margin: margin, Attempts: attempts})
			if !ok {
				continue
			}
			p = q
		}
		if _, ok := pool.Get(p.X, p.Y, c.Tags); !ok {
			break
		}
		n++
	}
	return n
}

// State is per-run pattern memory owned by the director: wave side rotation
// and boss drop history. Not safe for concurrent use.
type State struct {
	sides map[string]int
	drops map[string]int64
}

func NewState() *State {
	return &State{sides: map[string]int{}, drops: map[string]int64{}}
}

// NextSide returns 0..3 (north, east, south, west), rotating per key.
func (s *State) NextSide(key string) int {
	if s == nil {
		return 0
	}
	side := s.sides[key]
	s.sides[key] = (side + 1) % 4
	return side
}

func (s *State) LastDrop(archetype string) (int64, bool) {
	if s == nil {
		return 0, false
	}
	ms, ok := s.drops[archetype]
	return ms, ok
}

func (s *State) MarkDrop(archetype string, nowMs int64) {
	if s == nil {
		return
	}
	s.drops[archetype] = nowMs
}

func (s *State) Reset() {
	if s == nil {
		return
	}
	clear(s.sides)
	clear(s.drops)
}
