// Package observability exposes director metrics to Prometheus.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wavedirector.ai/internal/sim/director"
)

// DirectorCollector turns tick reports into Prometheus metrics.
type DirectorCollector struct {
	gatherer prometheus.Gatherer

	SpawnsTotal         *prometheus.CounterVec
	TicksTotal          prometheus.Counter
	SuspendedTicksTotal prometheus.Counter
	FaultsTotal         prometheus.Counter
	FailuresTotal       prometheus.Counter
	TimelineEventsTotal *prometheus.CounterVec
	DesignSeconds       prometheus.Gauge
	PaceScale           prometheus.Gauge
}

// NewDirectorCollector registers director metrics against reg (the default
// registerer when nil). Registering twice reuses the existing collectors.
func NewDirectorCollector(reg prometheus.Registerer) (*DirectorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	spawns, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "director_spawns_total",
		Help: "Entities spawned by the director.",
	}, []string{"source", "archetype", "mode"}), "director_spawns_total")
	if err != nil {
		return nil, err
	}
	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "director_ticks_total",
		Help: "Director ticks executed.",
	}), "director_ticks_total")
	if err != nil {
		return nil, err
	}
	suspended, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "director_suspended_ticks_total",
		Help: "Ticks where a scripted event suspended the weighted policy.",
	}), "director_suspended_ticks_total")
	if err != nil {
		return nil, err
	}
	faults, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "director_faults_total",
		Help: "Resolver faults absorbed (errors, panics, non-finite values).",
	}), "director_faults_total")
	if err != nil {
		return nil, err
	}
	failures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "director_spawn_failures_total",
		Help: "Pattern invocations that placed nothing or failed.",
	}), "director_spawn_failures_total")
	if err != nil {
		return nil, err
	}
	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "director_timeline_events_total",
		Help: "Timeline events by outcome (started, ended, skipped).",
	}, []string{"outcome"}), "director_timeline_events_total")
	if err != nil {
		return nil, err
	}
	design, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "director_design_seconds",
		Help: "Design time reached by the last tick.",
	}), "director_design_seconds")
	if err != nil {
		return nil, err
	}
	scale, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "director_pace_scale",
		Help: "Current run-to-design time scale.",
	}), "director_pace_scale")
	if err != nil {
		return nil, err
	}

	return &DirectorCollector{
		gatherer:            gatherer,
		SpawnsTotal:         spawns,
		TicksTotal:          ticks,
		SuspendedTicksTotal: suspended,
		FaultsTotal:         faults,
		FailuresTotal:       failures,
		TimelineEventsTotal: events,
		DesignSeconds:       design,
		PaceScale:           scale,
	}, nil
}

// ObserveTick implements director.Observer.
func (c *DirectorCollector) ObserveTick(r director.TickReport) {
	if c == nil {
		return
	}
	c.TicksTotal.Inc()
	if r.Suspended {
		c.SuspendedTicksTotal.Inc()
	}
	if r.Faults > 0 {
		c.FaultsTotal.Add(float64(r.Faults))
	}
	if r.Failures > 0 {
		c.FailuresTotal.Add(float64(r.Failures))
	}
	for _, s := range r.Spawns {
		c.SpawnsTotal.WithLabelValues(s.Source, s.Archetype, s.Mode).Add(float64(s.Count))
	}
	if r.Started != "" {
		c.TimelineEventsTotal.WithLabelValues("started").Inc()
	}
	if r.Ended != "" {
		c.TimelineEventsTotal.WithLabelValues("ended").Inc()
	}
	if n := len(r.Skipped); n > 0 {
		c.TimelineEventsTotal.WithLabelValues("skipped").Add(float64(n))
	}
	c.DesignSeconds.Set(r.TDesign)
	c.PaceScale.Set(r.PaceScale)
}

func (c *DirectorCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *DirectorCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
