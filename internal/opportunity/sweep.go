package opportunity

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"avsar.org/internal/obs"
	"avsar.org/internal/trust"
)

// sweepParallelism bounds concurrent recomputes during a sweep. Each record's
// update is independent, so there is no cross-record locking to worry about.
const sweepParallelism = 8

// SweepStats summarizes one decay sweep.
type SweepStats struct {
	Scanned    int `json:"scanned"`
	Due        int `json:"due"`
	Recomputed int `json:"recomputed"`
	Failed     int `json:"failed"`
}

// Sweeper walks every stored record and re-evaluates decay for the ones whose
// 24h check interval has elapsed.
type Sweeper struct {
	store Store
	svc   *Service
}

// NewSweeper builds a sweeper over the given store and ledger service.
func NewSweeper(store Store, svc *Service) *Sweeper {
	return &Sweeper{store: store, svc: svc}
}

// Sweep recomputes scores for all due records. A failure on one record never
// aborts the sweep for the rest; failures are counted, logged, and surfaced
// in the stats.
func (sw *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepStats, error) {
	recs, err := sw.store.All(ctx)
	if err != nil {
		return SweepStats{}, err
	}

	var due []string
	for _, o := range recs {
		if trust.IsDue(o.LastDecayCheck, now) {
			due = append(due, o.ID)
		}
	}

	var recomputed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepParallelism)
	for _, id := range due {
		id := id
		g.Go(func() error {
			if _, err := sw.svc.Recompute(gctx, id, now); err != nil {
				failed.Add(1)
				obs.SweepFailures.Inc()
				obs.LogRequest(map[string]any{
					"ts":    time.Now().UTC().Format(time.RFC3339Nano),
					"level": "error",
					"msg":   "decay recompute failed",
					"id":    id,
					"error": err.Error(),
				})
				return nil // isolate-and-continue
			}
			recomputed.Add(1)
			obs.SweepRecomputes.Inc()
			return nil
		})
	}
	_ = g.Wait()

	return SweepStats{
		Scanned:    len(recs),
		Due:        len(due),
		Recomputed: int(recomputed.Load()),
		Failed:     int(failed.Load()),
	}, nil
}
