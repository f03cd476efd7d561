// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/helsearbeid/oversikt/internal/logging"
	"github.com/helsearbeid/oversikt/internal/metrics"
	"github.com/helsearbeid/oversikt/internal/models"
	"github.com/helsearbeid/oversikt/internal/store"
)

// migrateIdent moves an aggregate to a new person ident.
//
// When no row exists for the new ident the row is renamed in place (child
// rows follow via cascade) and every other field is preserved unchanged.
// When a row already exists for the new ident, the two rows are merged
// preferring the newer row's populated tracks, and the old row is deleted.
func (e *Engine) migrateIdent(ctx context.Context, tx pgx.Tx, upd Update) (Outcome, error) {
	oldIdent, newIdent := upd.Ident, upd.NewIdent
	if oldIdent == newIdent || newIdent == "" {
		metrics.IdentMigrations.WithLabelValues("noop").Inc()
		return OutcomeNoop, nil
	}

	oldAgg, err := e.store.GetByIdent(ctx, tx, oldIdent)
	if errors.Is(err, store.ErrNotFound) {
		// Nothing to migrate; the person was never projected here.
		metrics.IdentMigrations.WithLabelValues("noop").Inc()
		return OutcomeNoop, nil
	}
	if err != nil {
		return OutcomeNoop, err
	}

	err = e.store.UpdateIdent(ctx, tx, oldIdent, newIdent)
	if err == nil {
		metrics.IdentMigrations.WithLabelValues("moved").Inc()
		logging.Info().
			Str("ident", string(newIdent)).
			Msg("Aggregate migrated to new ident")
		return OutcomeMigrated, nil
	}
	if !errors.Is(err, store.ErrDuplicateIdent) {
		return OutcomeNoop, err
	}

	// Target row already exists: merge the two and drop the old row.
	newAgg, err := e.store.GetByIdent(ctx, tx, newIdent)
	if err != nil {
		return OutcomeNoop, fmt.Errorf("read migration target %s: %w", newIdent, err)
	}

	merged := mergeAggregates(newAgg, oldAgg)
	merged.PersonIdent = newIdent

	if err := e.store.Delete(ctx, tx, oldIdent); err != nil {
		return OutcomeNoop, err
	}
	if err := e.store.ReplaceAggregate(ctx, tx, merged); err != nil {
		return OutcomeNoop, err
	}
	if merged.LatestTilfelle != nil {
		if err := e.store.ReplaceTilfelle(ctx, tx, newIdent, merged.LatestTilfelle); err != nil {
			return OutcomeNoop, err
		}
	}

	metrics.IdentMigrations.WithLabelValues("merged").Inc()
	return OutcomeMerged, nil
}

// mergeAggregates combines two rows for the same person. The newer row (by
// LastModifiedAt) wins wherever both are populated; the older row fills the
// gaps. CreatedAt keeps the earlier value.
func mergeAggregates(a, b *models.StatusAggregate) *models.StatusAggregate {
	newer, older := a, b
	if b.LastModifiedAt.After(a.LastModifiedAt) {
		newer, older = b, a
	}

	merged := *newer

	if merged.VeilederIdent == nil {
		merged.VeilederIdent = older.VeilederIdent
	}
	if merged.Enhet == nil {
		merged.Enhet = older.Enhet
		merged.EnhetUpdatedAt = older.EnhetUpdatedAt
	}

	mergeTrack(&merged.MotebehovUbehandlet, older.MotebehovUbehandlet)
	mergeTrack(&merged.LPSBistandUbehandlet, older.LPSBistandUbehandlet)
	mergeTrack(&merged.BehandlerdialogUbesvart, older.BehandlerdialogUbesvart)
	mergeTrack(&merged.Dialogmotekandidat, older.Dialogmotekandidat)
	mergeTrack(&merged.Motestatus, older.Motestatus)
	mergeTrack(&merged.Aktivitetskrav, older.Aktivitetskrav)
	mergeTrack(&merged.Arbeidsuforhet, older.Arbeidsuforhet)
	mergeTrack(&merged.Friskmelding, older.Friskmelding)
	mergeTrack(&merged.SenOppfolging, older.SenOppfolging)
	mergeTrack(&merged.Oppfolgingsoppgave, older.Oppfolgingsoppgave)

	if merged.LatestTilfelle == nil {
		merged.LatestTilfelle = older.LatestTilfelle
	}
	if older.CreatedAt.Before(merged.CreatedAt) {
		merged.CreatedAt = older.CreatedAt
	}

	return &merged
}

func mergeTrack[T any](dst *models.Track[T], fallback models.Track[T]) {
	if !dst.Set && fallback.Set {
		*dst = fallback
	}
}
