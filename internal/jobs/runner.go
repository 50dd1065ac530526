package jobs

import (
	"context"
	"log"
	"time"

	"github.com/leasewatch/costplane/internal/metrics"
	"github.com/leasewatch/costplane/internal/schedule"
)

type Sweeper interface {
	Sweep(ctx context.Context) (schedule.SweepSummary, error)
}

type LedgerPruner interface {
	DeleteRunsOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

type RunnerOptions struct {
	ReaperInterval time.Duration
	PruneInterval  time.Duration
	RunRetention   time.Duration
}

// Runner drives the periodic maintenance work: reaping stale triggers
// and pruning old ledger rows.
type Runner struct {
	reaper Sweeper
	ledger LedgerPruner
	opts   RunnerOptions
}

func NewRunner(reaper Sweeper, ledger LedgerPruner, opts RunnerOptions) *Runner {
	return &Runner{reaper: reaper, ledger: ledger, opts: opts}
}

func (r *Runner) Start(ctx context.Context) {
	go r.runEvery(ctx, "orphan_trigger_reap", r.opts.ReaperInterval, func(c context.Context) error {
		_, err := r.reaper.Sweep(c)
		return err
	})
	go r.runEvery(ctx, "run_ledger_prune", r.opts.PruneInterval, func(c context.Context) error {
		n, err := r.ledger.DeleteRunsOlderThan(c, r.opts.RunRetention)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Printf("event=ledger_pruned rows=%d retention=%s", n, r.opts.RunRetention)
		}
		return nil
	})
}

func (r *Runner) runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	r.runOnce(ctx, name, fn)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, name, fn)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	durMs := float64(time.Since(start).Milliseconds())
	labels := map[string]string{
		"job": name,
	}
	if err != nil {
		log.Printf("metric=job_run name=%s status=error duration_ms=%d err=%q", name, int64(durMs), err.Error())
		labels["status"] = "error"
		metrics.Default().IncCounter("costplane_job_runs_total", labels)
		metrics.Default().ObserveHistogram("costplane_job_duration_ms", durMs, map[string]string{"job": name})
		return
	}
	log.Printf("metric=job_run name=%s status=ok duration_ms=%d", name, int64(durMs))
	labels["status"] = "ok"
	metrics.Default().IncCounter("costplane_job_runs_total", labels)
	metrics.Default().ObserveHistogram("costplane_job_duration_ms", durMs, map[string]string{"job": name})
}
