// Package spawn holds the contracts between the spawn director and the systems it
// drives: the population authority, the placement resolver and the control channel.
package spawn

// DefaultMode is the mode key used for archetypes spawned without a mode so that
// default and moded counters never collide.
const DefaultMode = "default"

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Tags are stamped on every entity a pattern creates; release notifications carry
// them back so the director can decrement the right counter. Run is the
// director run generation that spawned the entity.
type Tags struct {
	Archetype string `json:"archetype"`
	Mode      string `json:"mode,omitempty"`
	Source    string `json:"source,omitempty"`
	Run       uint64 `json:"run,omitempty"`
}

type Entity interface {
	ID() uint64
	Tags() Tags
	Position() Point
}

// Pool hands out entities of one archetype.
type Pool interface {
	Get(x, y float64, tags Tags) (Entity, bool)
}

// Population is the authority over how many entities may exist.
type Population interface {
	CanSpawn(archetype string) bool
	SetMax(archetype string, n int)
	SetTotalMax(n int)
	Pool(archetype string) Pool
	// Subscribe registers fn for release notifications and returns a detach func.
	Subscribe(fn func(Release)) (unsubscribe func())
}

type Release struct {
	Entity Entity
}

type PointQuery struct {
	Anchor   Point
	Radius   float64
	Margin   float64
	Attempts int
}

// PlacementResolver returns a valid, non-blocked world point near the anchor.
type PlacementResolver interface {
	SpawnPoint(q PointQuery) (Point, bool)
}

type Control struct {
	EventID string         `json:"event_id"`
	Payload map[string]any `json:"payload"`
}

type ControlSink interface {
	Control(c Control)
}

type ControlSinkFunc func(Control)

func (f ControlSinkFunc) Control(c Control) { f(c) }

// Rect is an axis-aligned world rectangle, inclusive on both ends.
type Rect struct {
	MinX float64 `json:"min_x" yaml:"min_x"`
	MinY float64 `json:"min_y" yaml:"min_y"`
	MaxX float64 `json:"max_x" yaml:"max_x"`
	MaxY float64 `json:"max_y" yaml:"max_y"`
}

func (r Rect) Empty() bool { return r.MaxX <= r.MinX || r.MaxY <= r.MinY }

func (r Rect) Contains(p Point) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

// Clamp pulls p inside r shrunk by margin on every side.
func (r Rect) Clamp(p Point, margin float64) Point {
	minX, maxX := r.MinX+margin, r.MaxX-margin
	if minX > maxX {
		minX, maxX = (r.MinX+r.MaxX)/2, (r.MinX+r.MaxX)/2
	}
	minY, maxY := r.MinY+margin, r.MaxY-margin
	if minY > maxY {
		minY, maxY = (r.MinY+r.MaxY)/2, (r.MinY+r.MaxY)/2
	}
	if p.X < minX {
		p.X = minX
	} else if p.X > maxX {
		p.X = maxX
	}
	if p.Y < minY {
		p.Y = minY
	} else if p.Y > maxY {
		p.Y = maxY
	}
	return p
}
