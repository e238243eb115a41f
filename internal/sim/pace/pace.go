// Package pace maps real run time onto the design timeline that tuning curves
// are authored against.
package pace

import (
	"math"
	"sync/atomic"
)

const (
	MinPressure = 0.1
	minBound    = 1.0
)

// Params describes the intended design length, the real run length and a
// pressure multiplier. Zero or non-finite bounds disable remapping. A nil
// pressure is 1; an explicit one is clamped to MinPressure.
type Params struct {
	DesignSeconds float64  `yaml:"design_seconds" json:"design_seconds"`
	RunSeconds    float64  `yaml:"run_seconds" json:"run_seconds"`
	Pressure      *float64 `yaml:"pressure,omitempty" json:"pressure,omitempty"`
}

func Float(v float64) *float64 { return &v }

// Mapper is an immutable run→design time conversion.
type Mapper struct {
	params   Params
	scale    float64
	identity bool
}

func Identity() Mapper {
	return Mapper{scale: 1, identity: true}
}

func New(p *Params) Mapper {
	if p == nil || !usable(p.DesignSeconds) || !usable(p.RunSeconds) {
		m := Identity()
		if p != nil {
			m.params = *p
		}
		return m
	}
	pressure := 1.0
	if p.Pressure != nil && !math.IsNaN(*p.Pressure) && !math.IsInf(*p.Pressure, 0) {
		pressure = *p.Pressure
	}
	if pressure < MinPressure {
		pressure = MinPressure
	}
	design := math.Max(p.DesignSeconds, minBound)
	run := math.Max(p.RunSeconds, minBound)
	return Mapper{
		params: *p,
		scale:  (design / run) * pressure,
	}
}

func usable(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (m Mapper) ToDesign(tRun float64) float64 {
	if m.identity {
		return tRun
	}
	return tRun * m.scale
}

func (m Mapper) Scale() float64 {
	if m.identity || m.scale == 0 {
		return 1
	}
	return m.scale
}

func (m Mapper) Identity() bool { return m.identity }
func (m Mapper) Params() Params { return m.params }

// Holder publishes Mapper snapshots. Readers Load once per tick and never observe
// a partially updated mapping.
type Holder struct {
	cur atomic.Pointer[Mapper]
}

func NewHolder(p *Params) *Holder {
	h := &Holder{}
	h.Set(p)
	return h
}

func (h *Holder) Set(p *Params) Mapper {
	m := New(p)
	h.cur.Store(&m)
	return m
}

func (h *Holder) Load() Mapper {
	if m := h.cur.Load(); m != nil {
		return *m
	}
	return Identity()
}
