package director

import (
	"wavedirector.ai/internal/sim/spawn"
)

const (
	SourceTimeline = "timeline"
	SourceWeighted = "weighted"
)

type Spawn struct {
	Source    string `json:"source"`
	EventID   string `json:"event_id,omitempty"`
	Archetype string `json:"archetype"`
	Mode      string `json:"mode,omitempty"`
	Pattern   string `json:"pattern"`
	Count     int    `json:"count"`
}

// TickReport describes one director tick.
type TickReport struct {
	Tick      uint64  `json:"tick"`
	RunMs     int64   `json:"run_ms"`
	TRun      float64 `json:"t_run"`
	TDesign   float64 `json:"t_design"`
	PaceScale float64 `json:"pace_scale"`

	Started   string         `json:"started,omitempty"`
	Ended     string         `json:"ended,omitempty"`
	Active    string         `json:"active,omitempty"`
	Skipped   []string       `json:"skipped,omitempty"`
	Control   *spawn.Control `json:"control,omitempty"`
	Suspended bool           `json:"suspended,omitempty"`

	// Repositioned is set on the first tick after a seek or policy swap moved
	// the timeline cursor; an active event may have been dropped silently.
	Repositioned bool `json:"repositioned,omitempty"`

	Weighted   bool `json:"weighted"`
	Candidates int  `json:"candidates,omitempty"`
	Budget     int  `json:"budget,omitempty"`
	Draws      int  `json:"draws,omitempty"`

	Spawns   []Spawn `json:"spawns,omitempty"`
	Capped   int     `json:"capped,omitempty"`
	Failures int     `json:"failures,omitempty"`
	Faults   int     `json:"faults,omitempty"`
	Released int     `json:"released,omitempty"`
}

func (r TickReport) Spawned() int {
	n := 0
	for _, s := range r.Spawns {
		n += s.Count
	}
	return n
}

type Observer interface {
	ObserveTick(r TickReport)
}

type ObserverFunc func(TickReport)

func (f ObserverFunc) ObserveTick(r TickReport) { f(r) }

// AddObserver registers o for every later tick. Observers run on the tick
// goroutine after the director lock is released and must not block.
func (d *Director) AddObserver(o Observer) {
	if o == nil {
		return
	}
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	d.observers = append(d.observers, o)
}

func (d *Director) publish(r TickReport) {
	d.obsMu.RLock()
	obs := d.observers
	d.obsMu.RUnlock()
	for _, o := range obs {
		d.safeObserve(o, r)
	}
}

func (d *Director) safeObserve(o Observer, r TickReport) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Printf("director: observer panic tick=%d err=%v", r.Tick, rec)
		}
	}()
	o.ObserveTick(r)
}
