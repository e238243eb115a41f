package director

import (
	"context"
	"math"
	"time"

	"wavedirector.ai/internal/sim/spawn"
)

// Start begins a run: fresh counters, a release subscription and a zeroed run
// clock. Run calls it; tests that drive StepAt directly may call it themselves.
func (d *Director) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunning
	}
	d.resetLocked()
	d.running = true
	d.runGen++
	d.startedAt = d.opts.Clock()
	if d.resumeAt != nil {
		tRun := *d.resumeAt
		d.resumeAt = nil
		d.skewMs = int64(math.Round(tRun * 1000))
		d.scheduler.SeekToTime(tRun)
		d.repositioned = true
		d.lastRunMs = d.skewMs
		d.lastTRun = tRun
		d.lastTDes = d.pace.Load().ToDesign(tRun)
		d.log.Printf("director: resuming at t_run=%.3f", tRun)
	}
	if pop := d.opts.Population; pop != nil {
		pop.SetTotalMax(d.cfg.TotalMax)
		d.unsub = pop.Subscribe(d.onRelease)
	}
	select {
	case <-d.stop:
	default:
	}
	d.log.Printf("director: run start digest=%s delay_ms=%d", d.cfg.Digest(), d.cfg.DelayMs)
	return nil
}

// Teardown stops accepting releases and clears every per-run counter. A run
// started afterwards begins from zero.
func (d *Director) Teardown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unsub != nil {
		d.unsub()
		d.unsub = nil
	}
	wasRunning := d.running
	d.running = false
	d.resetLocked()
	if wasRunning {
		d.log.Printf("director: run stopped")
	}
}

func (d *Director) resetLocked() {
	d.tracker.Reset()
	d.scheduler.Reset()
	d.patternState.Reset()
	d.tick = 0
	d.skewMs = 0
	d.repositioned = false
	d.lastRunMs, d.lastTRun, d.lastTDes = 0, 0, 0
	d.relMu.Lock()
	d.pending = nil
	d.relMu.Unlock()
}

// Stop asks a running Run loop to return.
func (d *Director) Stop() {
	select {
	case d.stop <- struct{}{}:
	default:
	}
}

func (d *Director) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Run ticks every delay_ms on a single-shot timer until ctx is done or Stop is
// called, then tears the run down.
func (d *Director) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	defer func() {
		if d.opts.OnStop != nil {
			d.opts.OnStop(d.Status())
		}
		d.Teardown()
	}()

	timer := time.NewTimer(d.delay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stop:
			return nil
		case <-d.released:
			d.mu.Lock()
			d.drainReleasesLocked()
			d.mu.Unlock()
		case <-d.restart:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.delay())
		case <-timer.C:
			d.StepAt(d.runMs(d.opts.Clock()))
			timer.Reset(d.delay())
		}
	}
}

func (d *Director) runMs(now time.Time) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ms := now.Sub(d.startedAt).Milliseconds() + d.skewMs
	if ms < 0 {
		ms = 0
	}
	return ms
}

// onRelease may be called from any goroutine, including from inside a tick.
func (d *Director) onRelease(r spawn.Release) {
	d.relMu.Lock()
	d.pending = append(d.pending, r)
	d.relMu.Unlock()
	select {
	case d.released <- struct{}{}:
	default:
	}
}

func (d *Director) drainReleasesLocked() int {
	d.relMu.Lock()
	batch := d.pending
	d.pending = nil
	d.relMu.Unlock()

	n := 0
	for _, r := range batch {
		if r.Entity == nil {
			continue
		}
		tags := r.Entity.Tags()
		if tags.Run != d.runGen {
			// Spawned by an earlier run whose counters were already cleared.
			continue
		}
		d.tracker.Adjust(tags.Archetype, tags.Mode, -1)
		n++
	}
	return n
}
