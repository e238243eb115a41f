package main

import (
	"strconv"

	"wavedirector.ai/internal/persistence/snapshot"
	"wavedirector.ai/internal/sim/director"
	"wavedirector.ai/internal/sim/policy"
)

func (a *app) saveCheckpoint(st director.Status) {
	if !a.tune.Checkpoint {
		return
	}
	path := snapshot.Path(a.tune.DataDir)
	if err := snapshot.WriteSnapshot(path, snapshot.FromStatus(st, a.tune.Seed)); err != nil {
		a.log.Printf("checkpoint write: %v", err)
		return
	}
	a.log.Printf("checkpoint saved tick=%d t_run=%.3f path=%s", st.Tick, st.TRun, path)
}

// restoreCheckpoint primes the director from the last checkpoint. Curve
// overrides cannot be rebuilt from their description and are skipped.
func (a *app) restoreCheckpoint() error {
	path := snapshot.Path(a.tune.DataDir)
	snap, ok, err := snapshot.ReadIfExists(path)
	if err != nil || !ok {
		return err
	}
	if digest := a.director.Config().Digest(); snap.Header.Digest != digest {
		a.log.Printf("checkpoint digest=%s differs from policy digest=%s", snap.Header.Digest, digest)
	}
	if err := a.director.ResumeAt(snap.TRun); err != nil {
		return err
	}
	if snap.DelayMs > 0 {
		a.director.SetDelayMs(snap.DelayMs)
	}
	a.director.SetWeightedEnabled(snap.WeightedEnabled)
	if snap.Pace.DesignSeconds > 0 && snap.Pace.RunSeconds > 0 {
		p := snap.Pace
		a.director.SetPace(&p)
	}
	restore := func(kind string, overrides map[string]string, set func(string, policy.Value) error) {
		for archetype, desc := range overrides {
			f, err := strconv.ParseFloat(desc, 64)
			if err != nil {
				a.log.Printf("checkpoint: skip %s override %s=%s", kind, archetype, desc)
				continue
			}
			if err := set(archetype, policy.Literal(f)); err != nil {
				a.log.Printf("checkpoint: %s override %s: %v", kind, archetype, err)
			}
		}
	}
	restore("weight", snap.WeightOverrides, a.director.SetWeight)
	restore("max", snap.MaxOverrides, a.director.SetMax)
	a.log.Printf("checkpoint restored tick=%d t_run=%.3f saved_at=%s", snap.Header.Tick, snap.TRun, snap.Header.SavedAt)
	return nil
}
