// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helsearbeid/oversikt/internal/logging"
	"github.com/helsearbeid/oversikt/internal/metrics"
	"github.com/helsearbeid/oversikt/internal/models"
	"github.com/helsearbeid/oversikt/internal/store"
)

// Store is the aggregate store surface the engine writes through.
// Satisfied by *store.Store; faked in tests.
type Store interface {
	GetByIdent(ctx context.Context, q store.Querier, ident models.PersonIdent) (*models.StatusAggregate, error)
	Create(ctx context.Context, tx pgx.Tx, agg *models.StatusAggregate) error
	UpdateFlag(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, flag store.FlagTrack, value bool, generatedAt *time.Time) error
	UpdateMotestatus(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, status models.Motestatus, generatedAt *time.Time) error
	UpdateAktivitetskrav(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, v models.AktivitetskravVurdering, generatedAt *time.Time) error
	UpdateArbeidsuforhet(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, v models.ArbeidsuforhetVurdering, generatedAt *time.Time) error
	UpdateOppfolgingsoppgave(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, v models.Oppfolgingsoppgave, generatedAt *time.Time) error
	UpdateEnhet(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, enhet string) error
	ReplaceTilfelle(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, t *models.Tilfelle) error
	UpdateIdent(ctx context.Context, tx pgx.Tx, oldIdent, newIdent models.PersonIdent) error
	ReplaceAggregate(ctx context.Context, tx pgx.Tx, agg *models.StatusAggregate) error
	Delete(ctx context.Context, tx pgx.Tx, ident models.PersonIdent) error
}

// Txer opens the transactions batches run in. Satisfied by *store.Store.
type Txer interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Engine applies track updates to the aggregate store with per-track
// staleness guards and create-conflict retry. One engine instance is shared
// by all consumer loops; it holds no mutable state.
type Engine struct {
	store Store
	txer  Txer

	// now is injectable for tests.
	now func() time.Time
}

// NewEngine creates a merge engine over the given store.
func NewEngine(s Store, txer Txer) *Engine {
	return &Engine{store: s, txer: txer, now: time.Now}
}

// ProcessBatch merges a batch of updates under the given transaction
// policy. With BatchAtomic any merge error aborts and rolls back the whole
// batch. With BatchPerRecord each update gets its own transaction and
// failures are tallied without disturbing the rest.
func (e *Engine) ProcessBatch(ctx context.Context, updates []Update, policy BatchPolicy) (Result, error) {
	var result Result

	if policy == BatchAtomic {
		err := e.txer.WithTx(ctx, func(tx pgx.Tx) error {
			for i := range updates {
				outcome, err := e.Merge(ctx, tx, updates[i])
				if err != nil {
					return fmt.Errorf("merge %s for %s: %w", updates[i].Kind, updates[i].Ident, err)
				}
				result.add(outcome)
			}
			return nil
		})
		if err != nil {
			return Result{Failed: len(updates)}, err
		}
		return result, nil
	}

	for i := range updates {
		err := e.txer.WithTx(ctx, func(tx pgx.Tx) error {
			outcome, err := e.Merge(ctx, tx, updates[i])
			if err != nil {
				return err
			}
			result.add(outcome)
			return nil
		})
		if err != nil {
			result.Failed++
			logging.Warn().
				Err(err).
				Str("track", string(updates[i].Kind)).
				Str("ident", string(updates[i].Ident)).
				Msg("Record merge failed")
		}
	}
	return result, nil
}

// Merge applies one track update within the active transaction.
//
// Absent aggregates are created with only the named track populated. A
// create that loses the uniqueness race with a concurrent consumer is
// retried exactly once by re-reading and falling into the update branch; a
// second failure surfaces as a fatal batch error.
func (e *Engine) Merge(ctx context.Context, tx pgx.Tx, upd Update) (Outcome, error) {
	if upd.Kind == KindIdentChange {
		return e.migrateIdent(ctx, tx, upd)
	}

	agg, err := e.store.GetByIdent(ctx, tx, upd.Ident)
	if errors.Is(err, store.ErrNotFound) {
		agg = models.NewStatusAggregate(upd.Ident, e.now())
		applyToAggregate(agg, upd)

		createErr := e.store.Create(ctx, tx, agg)
		if createErr == nil {
			metrics.RecordMerge(string(upd.Kind), true)
			return OutcomeCreated, nil
		}
		if !errors.Is(createErr, store.ErrDuplicateIdent) {
			return OutcomeNoop, createErr
		}

		// Lost the create race; re-read and update instead.
		metrics.MergeCreateConflicts.Inc()
		agg, err = e.store.GetByIdent(ctx, tx, upd.Ident)
		if err != nil {
			return OutcomeNoop, fmt.Errorf("re-read after create conflict: %w", err)
		}
	} else if err != nil {
		return OutcomeNoop, err
	}

	if !e.allowed(agg, upd) {
		metrics.MergeStaleDiscarded.WithLabelValues(string(upd.Kind)).Inc()
		logging.Debug().
			Str("track", string(upd.Kind)).
			Str("ident", string(upd.Ident)).
			Msg("Stale track update discarded")
		return OutcomeDiscarded, nil
	}

	if err := e.applyToStore(ctx, tx, upd); err != nil {
		return OutcomeNoop, err
	}

	// An update implying a different unit clears the caseworker in the
	// same write.
	if upd.Enhet != nil && (agg.Enhet == nil || *agg.Enhet != *upd.Enhet) {
		if err := e.store.UpdateEnhet(ctx, tx, upd.Ident, *upd.Enhet); err != nil {
			return OutcomeNoop, err
		}
	}

	metrics.RecordMerge(string(upd.Kind), false)
	return OutcomeUpdated, nil
}

// allowed evaluates the track's staleness policy against the stored state.
func (e *Engine) allowed(agg *models.StatusAggregate, upd Update) bool {
	set, storedAt := trackState(agg, upd.Kind)

	switch PolicyFor(upd.Kind) {
	case PolicyAlways:
		return true
	case PolicyStrictAfter:
		if !set || storedAt == nil {
			return true
		}
		return upd.GeneratedAt != nil && upd.GeneratedAt.After(*storedAt)
	case PolicyNilOverridable:
		if upd.GeneratedAt == nil || !set || storedAt == nil {
			return true
		}
		return upd.GeneratedAt.After(*storedAt)
	default:
		return false
	}
}

// trackState returns the stored presence and ordering timestamp for a track.
func trackState(agg *models.StatusAggregate, kind Kind) (bool, *time.Time) {
	switch kind {
	case KindMotebehov:
		return agg.MotebehovUbehandlet.Set, agg.MotebehovUbehandlet.GeneratedAt
	case KindLPSBistand:
		return agg.LPSBistandUbehandlet.Set, agg.LPSBistandUbehandlet.GeneratedAt
	case KindBehandlerdialog:
		return agg.BehandlerdialogUbesvart.Set, agg.BehandlerdialogUbesvart.GeneratedAt
	case KindDialogmotekandidat:
		return agg.Dialogmotekandidat.Set, agg.Dialogmotekandidat.GeneratedAt
	case KindMotestatus:
		return agg.Motestatus.Set, agg.Motestatus.GeneratedAt
	case KindAktivitetskrav:
		return agg.Aktivitetskrav.Set, agg.Aktivitetskrav.GeneratedAt
	case KindArbeidsuforhet:
		return agg.Arbeidsuforhet.Set, agg.Arbeidsuforhet.GeneratedAt
	case KindFriskmelding:
		return agg.Friskmelding.Set, agg.Friskmelding.GeneratedAt
	case KindSenOppfolging:
		return agg.SenOppfolging.Set, agg.SenOppfolging.GeneratedAt
	case KindOppfolgingsoppgave:
		return agg.Oppfolgingsoppgave.Set, agg.Oppfolgingsoppgave.GeneratedAt
	case KindTilfelle:
		if agg.LatestTilfelle == nil {
			return false, nil
		}
		return true, &agg.LatestTilfelle.GeneratedAt
	default:
		return false, nil
	}
}

// applyToAggregate sets the update's track on an in-memory aggregate.
// Used to build the initial row and the migration merge result.
func applyToAggregate(agg *models.StatusAggregate, upd Update) {
	switch upd.Kind {
	case KindMotebehov:
		agg.MotebehovUbehandlet = models.TrackOf(upd.Flag, upd.GeneratedAt)
	case KindLPSBistand:
		agg.LPSBistandUbehandlet = models.TrackOf(upd.Flag, upd.GeneratedAt)
	case KindBehandlerdialog:
		agg.BehandlerdialogUbesvart = models.TrackOf(upd.Flag, upd.GeneratedAt)
	case KindDialogmotekandidat:
		agg.Dialogmotekandidat = models.TrackOf(upd.Flag, upd.GeneratedAt)
	case KindMotestatus:
		agg.Motestatus = models.TrackOf(upd.Motestatus, upd.GeneratedAt)
	case KindAktivitetskrav:
		agg.Aktivitetskrav = models.TrackOf(upd.Aktivitetskrav, upd.GeneratedAt)
	case KindArbeidsuforhet:
		agg.Arbeidsuforhet = models.TrackOf(upd.Arbeidsuforhet, upd.GeneratedAt)
	case KindFriskmelding:
		agg.Friskmelding = models.TrackOf(upd.Flag, upd.GeneratedAt)
	case KindSenOppfolging:
		agg.SenOppfolging = models.TrackOf(upd.Flag, upd.GeneratedAt)
	case KindOppfolgingsoppgave:
		agg.Oppfolgingsoppgave = models.TrackOf(upd.Oppfolgingsoppgave, upd.GeneratedAt)
	case KindTilfelle:
		agg.LatestTilfelle = upd.Tilfelle
	}
	if upd.Enhet != nil {
		agg.Enhet = upd.Enhet
		now := agg.LastModifiedAt
		agg.EnhetUpdatedAt = &now
		agg.VeilederIdent = nil
	}
}

// applyToStore writes the update's track through the narrow store operation.
func (e *Engine) applyToStore(ctx context.Context, tx pgx.Tx, upd Update) error {
	switch upd.Kind {
	case KindMotebehov:
		return e.store.UpdateFlag(ctx, tx, upd.Ident, store.FlagMotebehovUbehandlet, upd.Flag, nil)
	case KindLPSBistand:
		return e.store.UpdateFlag(ctx, tx, upd.Ident, store.FlagLPSBistandUbehandlet, upd.Flag, nil)
	case KindBehandlerdialog:
		return e.store.UpdateFlag(ctx, tx, upd.Ident, store.FlagBehandlerdialogUbesvart, upd.Flag, nil)
	case KindDialogmotekandidat:
		return e.store.UpdateFlag(ctx, tx, upd.Ident, store.FlagDialogmotekandidat, upd.Flag, upd.GeneratedAt)
	case KindMotestatus:
		return e.store.UpdateMotestatus(ctx, tx, upd.Ident, upd.Motestatus, upd.GeneratedAt)
	case KindAktivitetskrav:
		return e.store.UpdateAktivitetskrav(ctx, tx, upd.Ident, upd.Aktivitetskrav, upd.GeneratedAt)
	case KindArbeidsuforhet:
		return e.store.UpdateArbeidsuforhet(ctx, tx, upd.Ident, upd.Arbeidsuforhet, upd.GeneratedAt)
	case KindFriskmelding:
		return e.store.UpdateFlag(ctx, tx, upd.Ident, store.FlagFriskmelding, upd.Flag, upd.GeneratedAt)
	case KindSenOppfolging:
		return e.store.UpdateFlag(ctx, tx, upd.Ident, store.FlagSenOppfolging, upd.Flag, upd.GeneratedAt)
	case KindOppfolgingsoppgave:
		return e.store.UpdateOppfolgingsoppgave(ctx, tx, upd.Ident, upd.Oppfolgingsoppgave, upd.GeneratedAt)
	case KindTilfelle:
		return e.store.ReplaceTilfelle(ctx, tx, upd.Ident, upd.Tilfelle)
	default:
		return fmt.Errorf("unknown track kind %q", upd.Kind)
	}
}
