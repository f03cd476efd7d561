// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helsearbeid/oversikt/internal/config"
	"github.com/helsearbeid/oversikt/internal/logging"
	"github.com/helsearbeid/oversikt/internal/scheduler"
)

// Reaper clears caseworker assignments that have lapsed: the person's
// latest tilfelle ended longer ago than the tilfelle grace period AND the
// row has been quiet for at least the last-modified grace period. Both
// conditions must hold so an assignment never disappears while events are
// still arriving. The row itself is kept.
type Reaper struct {
	store Store
	cfg   config.ReaperConfig
	now   func() time.Time
}

// NewReaper creates the lapsed-assignment reaper job.
func NewReaper(s Store, cfg config.ReaperConfig) *Reaper {
	return &Reaper{store: s, cfg: cfg, now: time.Now}
}

func (j *Reaper) Name() string                { return "reaper" }
func (j *Reaper) InitialDelay() time.Duration { return j.cfg.InitialDelay }
func (j *Reaper) Interval() time.Duration     { return j.cfg.Interval }

// Run clears one batch of lapsed assignments.
func (j *Reaper) Run(ctx context.Context) (scheduler.Stats, error) {
	var stats scheduler.Stats

	now := j.now()
	endBefore := now.Add(-j.cfg.TilfelleGrace)
	modifiedBefore := now.Add(-j.cfg.LastModifiedGrace)

	candidates, err := j.store.ListReaperCandidates(ctx, j.store.Pool(), endBefore, modifiedBefore, j.cfg.BatchLimit)
	if err != nil {
		return stats, fmt.Errorf("list reaper candidates: %w", err)
	}

	for _, ident := range candidates {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		err := j.store.WithTx(ctx, func(tx pgx.Tx) error {
			return j.store.ClearVeileder(ctx, tx, ident)
		})
		if err != nil {
			stats.Failed++
			logging.Warn().
				Err(err).
				Str("ident", string(ident)).
				Msg("Assignment reap failed for person")
			continue
		}
		stats.Updated++
	}

	if stats.Updated > 0 {
		logging.Info().Int("cleared", stats.Updated).Msg("Lapsed assignments cleared")
	}
	return stats, nil
}
