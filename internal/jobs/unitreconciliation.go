// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

// Package jobs implements the periodic reconciliation tasks that run on the
// elected replica: refreshing stale unit assignments, warming the
// person-detail cache, and reaping lapsed caseworker assignments.
//
// Every job isolates per-candidate failures. One bad lookup or one row
// that fails to update is tallied and logged, and the run moves on.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helsearbeid/oversikt/internal/clients"
	"github.com/helsearbeid/oversikt/internal/config"
	"github.com/helsearbeid/oversikt/internal/logging"
	"github.com/helsearbeid/oversikt/internal/models"
	"github.com/helsearbeid/oversikt/internal/scheduler"
)

// UnitReconciliation refreshes stale unit assignments. Candidates are rows
// with open follow-up whose assignment check is older than the configured
// staleness window; each candidate's current unit is fetched from the unit
// registry and the row is updated only when the unit actually changed.
type UnitReconciliation struct {
	store  Store
	lookup clients.UnitLookup
	cfg    config.UnitReconciliationConfig
	now    func() time.Time
}

// NewUnitReconciliation creates the stale-unit refresh job.
func NewUnitReconciliation(s Store, lookup clients.UnitLookup, cfg config.UnitReconciliationConfig) *UnitReconciliation {
	return &UnitReconciliation{store: s, lookup: lookup, cfg: cfg, now: time.Now}
}

func (j *UnitReconciliation) Name() string                { return "unit-reconciliation" }
func (j *UnitReconciliation) InitialDelay() time.Duration { return j.cfg.InitialDelay }
func (j *UnitReconciliation) Interval() time.Duration     { return j.cfg.Interval }

// Run processes one batch of stale candidates.
func (j *UnitReconciliation) Run(ctx context.Context) (scheduler.Stats, error) {
	var stats scheduler.Stats

	cutoff := j.now().Add(-j.cfg.StaleAfter)
	candidates, err := j.store.ListStaleEnhet(ctx, j.store.Pool(), cutoff, j.cfg.BatchLimit)
	if err != nil {
		return stats, fmt.Errorf("list stale assignments: %w", err)
	}

	for _, agg := range candidates {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		changed, err := j.reconcile(ctx, agg)
		switch {
		case err != nil:
			stats.Failed++
			logging.Warn().
				Err(err).
				Str("ident", string(agg.PersonIdent)).
				Msg("Unit reconciliation failed for person")
		case changed:
			stats.Updated++
		default:
			stats.Unchanged++
		}
	}
	return stats, nil
}

// reconcile refreshes one person's assignment. A changed unit clears the
// caseworker in the same write; an unchanged unit only advances the check
// timestamp.
func (j *UnitReconciliation) reconcile(ctx context.Context, agg *models.StatusAggregate) (bool, error) {
	unit, err := j.lookup.GetUnit(ctx, agg.PersonIdent)
	if err != nil {
		return false, fmt.Errorf("lookup unit: %w", err)
	}

	changed := agg.Enhet == nil || *agg.Enhet != unit

	err = j.store.WithTx(ctx, func(tx pgx.Tx) error {
		if changed {
			return j.store.UpdateEnhet(ctx, tx, agg.PersonIdent, unit)
		}
		return j.store.TouchEnhetUpdatedAt(ctx, tx, agg.PersonIdent)
	})
	return changed, err
}
