// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

// Package scheduler runs the periodic reconciliation jobs. Each job gets
// its own runner under the supervision tree; ticks fire only while the
// process is ready and this replica holds leadership, and a run never
// overlaps the previous one.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/helsearbeid/oversikt/internal/logging"
	"github.com/helsearbeid/oversikt/internal/metrics"
	"github.com/helsearbeid/oversikt/internal/ready"
)

// Stats tallies per-candidate outcomes of one job run.
type Stats struct {
	Updated   int
	Unchanged int
	Failed    int
}

// Job is one periodic reconciliation task.
type Job interface {
	Name() string
	InitialDelay() time.Duration
	Interval() time.Duration
	Run(ctx context.Context) (Stats, error)
}

// LeaderChecker gates job execution to the elected replica.
type LeaderChecker interface {
	IsLeader(ctx context.Context) bool
}

// Runner drives one job on its schedule. It implements the supervision
// tree's service contract.
type Runner struct {
	job    Job
	leader LeaderChecker
	ready  *ready.Flag
}

// NewRunner creates a runner for one job.
func NewRunner(job Job, leader LeaderChecker, readyFlag *ready.Flag) *Runner {
	return &Runner{job: job, leader: leader, ready: readyFlag}
}

// String labels the runner in supervisor logs.
func (r *Runner) String() string {
	return "job/" + r.job.Name()
}

// Serve ticks the job until the context is canceled. The first run waits
// the job's initial delay so replicas do not all reconcile on deploy.
func (r *Runner) Serve(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.job.InitialDelay()):
	}

	r.tick(ctx)

	ticker := time.NewTicker(r.job.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick runs the job once if this replica is ready and elected. Panics are
// contained here so a bad run only skips to the next tick instead of
// recycling the service.
func (r *Runner) tick(ctx context.Context) {
	name := r.job.Name()

	if !r.ready.IsUp() {
		metrics.RecordJobRun(name, "skipped", 0)
		return
	}
	if !r.leader.IsLeader(ctx) {
		metrics.RecordJobRun(name, "skipped", 0)
		logging.Debug().Str("job", name).Msg("Not leader, skipping run")
		return
	}

	start := time.Now()
	stats, err := r.run(ctx)
	duration := time.Since(start)

	if err != nil {
		metrics.RecordJobRun(name, "failed", duration)
		logging.Error().
			Err(err).
			Str("job", name).
			Dur("duration", duration).
			Msg("Job run failed")
		return
	}

	metrics.RecordJobRun(name, "run", duration)
	metrics.JobCandidates.WithLabelValues(name, "updated").Add(float64(stats.Updated))
	metrics.JobCandidates.WithLabelValues(name, "unchanged").Add(float64(stats.Unchanged))
	metrics.JobCandidates.WithLabelValues(name, "failed").Add(float64(stats.Failed))

	logging.Info().
		Str("job", name).
		Dur("duration", duration).
		Int("updated", stats.Updated).
		Int("unchanged", stats.Unchanged).
		Int("failed", stats.Failed).
		Msg("Job run completed")
}

func (r *Runner) run(ctx context.Context) (stats Stats, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", r.job.Name(), rec)
		}
	}()
	return r.job.Run(ctx)
}
