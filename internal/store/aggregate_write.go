// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helsearbeid/oversikt/internal/metrics"
	"github.com/helsearbeid/oversikt/internal/models"
)

// FlagTrack identifies a boolean track column pair for narrow updates.
type FlagTrack string

const (
	FlagMotebehovUbehandlet     FlagTrack = "motebehov_ubehandlet"
	FlagLPSBistandUbehandlet    FlagTrack = "lps_bistand_ubehandlet"
	FlagBehandlerdialogUbesvart FlagTrack = "behandlerdialog_ubesvart"
	FlagDialogmotekandidat      FlagTrack = "dialogmotekandidat"
	FlagFriskmelding            FlagTrack = "friskmelding_aktiv"
	FlagSenOppfolging           FlagTrack = "sen_oppfolging_kandidat"
)

// flagGeneratedAtColumn maps a flag's value column to its generated_at
// column; empty for tracks without ordering timestamps.
var flagGeneratedAtColumn = map[FlagTrack]string{
	FlagMotebehovUbehandlet:     "",
	FlagLPSBistandUbehandlet:    "",
	FlagBehandlerdialogUbesvart: "",
	FlagDialogmotekandidat:      "dialogmotekandidat_generated_at",
	FlagFriskmelding:            "friskmelding_generated_at",
	FlagSenOppfolging:           "sen_oppfolging_generated_at",
}

// Create inserts a new aggregate row, followed by its virksomhet
// side-inserts within the same transaction. Returns ErrDuplicateIdent when
// a concurrent creator won the race for the same ident. The conflict is
// detected with ON CONFLICT DO NOTHING so the enclosing transaction stays
// usable and the caller can re-read the winning row.
func (s *Store) Create(ctx context.Context, tx pgx.Tx, agg *models.StatusAggregate) error {
	start := s.now()
	err := s.create(ctx, tx, agg)
	metrics.RecordStoreQuery("create", time.Since(start), err)
	return err
}

func (s *Store) create(ctx context.Context, tx pgx.Tx, agg *models.StatusAggregate) error {
	var (
		tilfelleStart, tilfelleEnd, tilfelleGenAt *time.Time
		tilfelleRef                               any
	)
	if t := agg.LatestTilfelle; t != nil {
		tilfelleStart, tilfelleEnd, tilfelleGenAt = &t.Start, &t.End, &t.GeneratedAt
		tilfelleRef = t.SourceRef
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO person_oversikt_status (
			person_ident, veileder_ident, enhet, enhet_updated_at,
			motebehov_ubehandlet, lps_bistand_ubehandlet, behandlerdialog_ubesvart,
			dialogmotekandidat, dialogmotekandidat_generated_at,
			motestatus, motestatus_generated_at,
			aktivitetskrav_status, aktivitetskrav_frist, aktivitetskrav_generated_at,
			arbeidsuforhet_aktiv, arbeidsuforhet_varsel_frist, arbeidsuforhet_generated_at,
			friskmelding_aktiv, friskmelding_generated_at,
			sen_oppfolging_kandidat, sen_oppfolging_generated_at,
			oppfolgingsoppgave_aktiv, oppfolgingsoppgave_frist, oppfolgingsoppgave_generated_at,
			tilfelle_start, tilfelle_end, tilfelle_source_ref, tilfelle_generated_at,
			created_at, last_modified_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9,
			$10, $11,
			$12, $13, $14,
			$15, $16, $17,
			$18, $19,
			$20, $21,
			$22, $23, $24,
			$25, $26, $27, $28,
			$29, $30
		) ON CONFLICT (person_ident) DO NOTHING`,
		agg.PersonIdent, agg.VeilederIdent, agg.Enhet, agg.EnhetUpdatedAt,
		trackBool(agg.MotebehovUbehandlet), trackBool(agg.LPSBistandUbehandlet), trackBool(agg.BehandlerdialogUbesvart),
		trackBool(agg.Dialogmotekandidat), agg.Dialogmotekandidat.GeneratedAt,
		trackMotestatus(agg.Motestatus), agg.Motestatus.GeneratedAt,
		trackAkStatus(agg.Aktivitetskrav), trackAkFrist(agg.Aktivitetskrav), agg.Aktivitetskrav.GeneratedAt,
		trackAufAktiv(agg.Arbeidsuforhet), trackAufFrist(agg.Arbeidsuforhet), agg.Arbeidsuforhet.GeneratedAt,
		trackBool(agg.Friskmelding), agg.Friskmelding.GeneratedAt,
		trackBool(agg.SenOppfolging), agg.SenOppfolging.GeneratedAt,
		trackOppgaveAktiv(agg.Oppfolgingsoppgave), trackOppgaveFrist(agg.Oppfolgingsoppgave), agg.Oppfolgingsoppgave.GeneratedAt,
		tilfelleStart, tilfelleEnd, tilfelleRef, tilfelleGenAt,
		agg.CreatedAt, agg.LastModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("create aggregate %s: %w", agg.PersonIdent, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateIdent
	}

	if agg.LatestTilfelle != nil {
		for _, v := range agg.LatestTilfelle.Virksomheter {
			if err := s.insertVirksomhet(ctx, tx, agg.PersonIdent, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateFlag writes a boolean track and bumps last_modified_at.
func (s *Store) UpdateFlag(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, flag FlagTrack, value bool, generatedAt *time.Time) error {
	start := s.now()
	err := s.updateFlag(ctx, tx, ident, flag, value, generatedAt)
	metrics.RecordStoreQuery("update_"+string(flag), time.Since(start), err)
	return err
}

func (s *Store) updateFlag(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, flag FlagTrack, value bool, generatedAt *time.Time) error {
	genCol, ok := flagGeneratedAtColumn[flag]
	if !ok {
		return fmt.Errorf("unknown flag track %q", flag)
	}

	var err error
	if genCol == "" {
		//nolint:gosec // column names come from the FlagTrack whitelist above
		_, err = tx.Exec(ctx,
			`UPDATE person_oversikt_status
			 SET `+string(flag)+` = $1, last_modified_at = $2
			 WHERE person_ident = $3`,
			value, s.now(), ident)
	} else {
		//nolint:gosec // column names come from the FlagTrack whitelist above
		_, err = tx.Exec(ctx,
			`UPDATE person_oversikt_status
			 SET `+string(flag)+` = $1, `+genCol+` = $2, last_modified_at = $3
			 WHERE person_ident = $4`,
			value, generatedAt, s.now(), ident)
	}
	if err != nil {
		return fmt.Errorf("update %s for %s: %w", flag, ident, err)
	}
	return nil
}

// UpdateMotestatus writes the dialogmote status track.
func (s *Store) UpdateMotestatus(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, status models.Motestatus, generatedAt *time.Time) error {
	start := s.now()
	_, err := tx.Exec(ctx,
		`UPDATE person_oversikt_status
		 SET motestatus = $1, motestatus_generated_at = $2, last_modified_at = $3
		 WHERE person_ident = $4`,
		string(status), generatedAt, s.now(), ident)
	metrics.RecordStoreQuery("update_motestatus", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("update motestatus for %s: %w", ident, err)
	}
	return nil
}

// UpdateAktivitetskrav writes the aktivitetskrav assessment track.
func (s *Store) UpdateAktivitetskrav(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, v models.AktivitetskravVurdering, generatedAt *time.Time) error {
	start := s.now()
	_, err := tx.Exec(ctx,
		`UPDATE person_oversikt_status
		 SET aktivitetskrav_status = $1, aktivitetskrav_frist = $2,
		     aktivitetskrav_generated_at = $3, last_modified_at = $4
		 WHERE person_ident = $5`,
		string(v.Status), v.Frist, generatedAt, s.now(), ident)
	metrics.RecordStoreQuery("update_aktivitetskrav", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("update aktivitetskrav for %s: %w", ident, err)
	}
	return nil
}

// UpdateArbeidsuforhet writes the work-incapacity assessment track.
func (s *Store) UpdateArbeidsuforhet(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, v models.ArbeidsuforhetVurdering, generatedAt *time.Time) error {
	start := s.now()
	_, err := tx.Exec(ctx,
		`UPDATE person_oversikt_status
		 SET arbeidsuforhet_aktiv = $1, arbeidsuforhet_varsel_frist = $2,
		     arbeidsuforhet_generated_at = $3, last_modified_at = $4
		 WHERE person_ident = $5`,
		v.Aktiv, v.VarselFrist, generatedAt, s.now(), ident)
	metrics.RecordStoreQuery("update_arbeidsuforhet", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("update arbeidsuforhet for %s: %w", ident, err)
	}
	return nil
}

// UpdateOppfolgingsoppgave writes the follow-up-needed track.
func (s *Store) UpdateOppfolgingsoppgave(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, v models.Oppfolgingsoppgave, generatedAt *time.Time) error {
	start := s.now()
	_, err := tx.Exec(ctx,
		`UPDATE person_oversikt_status
		 SET oppfolgingsoppgave_aktiv = $1, oppfolgingsoppgave_frist = $2,
		     oppfolgingsoppgave_generated_at = $3, last_modified_at = $4
		 WHERE person_ident = $5`,
		v.Aktiv, v.Frist, generatedAt, s.now(), ident)
	metrics.RecordStoreQuery("update_oppfolgingsoppgave", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("update oppfolgingsoppgave for %s: %w", ident, err)
	}
	return nil
}

// UpdateEnhet assigns a new unit. The caseworker is cleared in the same
// statement: an assignment is only meaningful within a specific unit.
func (s *Store) UpdateEnhet(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, enhet string) error {
	start := s.now()
	now := s.now()
	_, err := tx.Exec(ctx,
		`UPDATE person_oversikt_status
		 SET enhet = $1, enhet_updated_at = $2, veileder_ident = NULL, last_modified_at = $3
		 WHERE person_ident = $4`,
		enhet, now, now, ident)
	metrics.RecordStoreQuery("update_enhet", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("update enhet for %s: %w", ident, err)
	}
	return nil
}

// TouchEnhetUpdatedAt refreshes the unit staleness timestamp without
// counting as a modification, shrinking the reconciliation candidate set
// monotonically per run.
func (s *Store) TouchEnhetUpdatedAt(ctx context.Context, tx pgx.Tx, ident models.PersonIdent) error {
	start := s.now()
	_, err := tx.Exec(ctx,
		`UPDATE person_oversikt_status SET enhet_updated_at = $1 WHERE person_ident = $2`,
		s.now(), ident)
	metrics.RecordStoreQuery("touch_enhet_updated_at", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("touch enhet_updated_at for %s: %w", ident, err)
	}
	return nil
}

// ClearVeileder removes the caseworker assignment. Used by the reaper once
// a tilfelle has lapsed.
func (s *Store) ClearVeileder(ctx context.Context, tx pgx.Tx, ident models.PersonIdent) error {
	start := s.now()
	_, err := tx.Exec(ctx,
		`UPDATE person_oversikt_status
		 SET veileder_ident = NULL, last_modified_at = $1
		 WHERE person_ident = $2`,
		s.now(), ident)
	metrics.RecordStoreQuery("clear_veileder", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("clear veileder for %s: %w", ident, err)
	}
	return nil
}

// UpdateIdent migrates a row to a new ident. Virksomhet child rows follow
// via ON UPDATE CASCADE. Returns ErrDuplicateIdent when the target ident
// already has a row; the caller then falls back to a row merge.
func (s *Store) UpdateIdent(ctx context.Context, tx pgx.Tx, oldIdent, newIdent models.PersonIdent) error {
	start := s.now()
	err := s.updateIdent(ctx, tx, oldIdent, newIdent)
	metrics.RecordStoreQuery("update_ident", time.Since(start), err)
	return err
}

func (s *Store) updateIdent(ctx context.Context, tx pgx.Tx, oldIdent, newIdent models.PersonIdent) error {
	// The UPDATE hits the unique index when the target ident already has
	// a row, which aborts the open transaction. A savepoint scopes the
	// abort so the caller can fall back to a row merge in the same
	// transaction.
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("migrate ident %s: begin savepoint: %w", oldIdent, err)
	}

	_, err = sp.Exec(ctx,
		`UPDATE person_oversikt_status
		 SET person_ident = $1, last_modified_at = $2
		 WHERE person_ident = $3`,
		newIdent, s.now(), oldIdent)
	if err != nil {
		_ = sp.Rollback(ctx)
		if isUniqueViolation(err) {
			return ErrDuplicateIdent
		}
		return fmt.Errorf("migrate ident %s: %w", oldIdent, err)
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("migrate ident %s: release savepoint: %w", oldIdent, err)
	}
	return nil
}

// Delete removes an aggregate row outright. Only the identity-migration
// merge path uses this; the projection path never hard-deletes.
func (s *Store) Delete(ctx context.Context, tx pgx.Tx, ident models.PersonIdent) error {
	start := s.now()
	_, err := tx.Exec(ctx,
		`DELETE FROM person_oversikt_status WHERE person_ident = $1`, ident)
	metrics.RecordStoreQuery("delete", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("delete aggregate %s: %w", ident, err)
	}
	return nil
}

// ReplaceAggregate overwrites every track column from the given aggregate.
// Used by the identity-migration merge to persist a combined row.
func (s *Store) ReplaceAggregate(ctx context.Context, tx pgx.Tx, agg *models.StatusAggregate) error {
	start := s.now()
	err := s.replaceAggregate(ctx, tx, agg)
	metrics.RecordStoreQuery("replace_aggregate", time.Since(start), err)
	return err
}

func (s *Store) replaceAggregate(ctx context.Context, tx pgx.Tx, agg *models.StatusAggregate) error {
	var (
		tilfelleStart, tilfelleEnd, tilfelleGenAt *time.Time
		tilfelleRef                               any
	)
	if t := agg.LatestTilfelle; t != nil {
		tilfelleStart, tilfelleEnd, tilfelleGenAt = &t.Start, &t.End, &t.GeneratedAt
		tilfelleRef = t.SourceRef
	}

	_, err := tx.Exec(ctx,
		`UPDATE person_oversikt_status SET
			veileder_ident = $1, enhet = $2, enhet_updated_at = $3,
			motebehov_ubehandlet = $4, lps_bistand_ubehandlet = $5, behandlerdialog_ubesvart = $6,
			dialogmotekandidat = $7, dialogmotekandidat_generated_at = $8,
			motestatus = $9, motestatus_generated_at = $10,
			aktivitetskrav_status = $11, aktivitetskrav_frist = $12, aktivitetskrav_generated_at = $13,
			arbeidsuforhet_aktiv = $14, arbeidsuforhet_varsel_frist = $15, arbeidsuforhet_generated_at = $16,
			friskmelding_aktiv = $17, friskmelding_generated_at = $18,
			sen_oppfolging_kandidat = $19, sen_oppfolging_generated_at = $20,
			oppfolgingsoppgave_aktiv = $21, oppfolgingsoppgave_frist = $22, oppfolgingsoppgave_generated_at = $23,
			tilfelle_start = $24, tilfelle_end = $25, tilfelle_source_ref = $26, tilfelle_generated_at = $27,
			last_modified_at = $28
		 WHERE person_ident = $29`,
		agg.VeilederIdent, agg.Enhet, agg.EnhetUpdatedAt,
		trackBool(agg.MotebehovUbehandlet), trackBool(agg.LPSBistandUbehandlet), trackBool(agg.BehandlerdialogUbesvart),
		trackBool(agg.Dialogmotekandidat), agg.Dialogmotekandidat.GeneratedAt,
		trackMotestatus(agg.Motestatus), agg.Motestatus.GeneratedAt,
		trackAkStatus(agg.Aktivitetskrav), trackAkFrist(agg.Aktivitetskrav), agg.Aktivitetskrav.GeneratedAt,
		trackAufAktiv(agg.Arbeidsuforhet), trackAufFrist(agg.Arbeidsuforhet), agg.Arbeidsuforhet.GeneratedAt,
		trackBool(agg.Friskmelding), agg.Friskmelding.GeneratedAt,
		trackBool(agg.SenOppfolging), agg.SenOppfolging.GeneratedAt,
		trackOppgaveAktiv(agg.Oppfolgingsoppgave), trackOppgaveFrist(agg.Oppfolgingsoppgave), agg.Oppfolgingsoppgave.GeneratedAt,
		tilfelleStart, tilfelleEnd, tilfelleRef, tilfelleGenAt,
		s.now(), agg.PersonIdent,
	)
	if err != nil {
		return fmt.Errorf("replace aggregate %s: %w", agg.PersonIdent, err)
	}
	return nil
}

// Nullable-column helpers: unset tracks store NULL.

func trackBool(t models.Track[bool]) *bool {
	if !t.Set {
		return nil
	}
	return &t.Value
}

func trackMotestatus(t models.Track[models.Motestatus]) *string {
	if !t.Set {
		return nil
	}
	v := string(t.Value)
	return &v
}

func trackAkStatus(t models.Track[models.AktivitetskravVurdering]) *string {
	if !t.Set {
		return nil
	}
	v := string(t.Value.Status)
	return &v
}

func trackAkFrist(t models.Track[models.AktivitetskravVurdering]) *time.Time {
	if !t.Set {
		return nil
	}
	return t.Value.Frist
}

func trackAufAktiv(t models.Track[models.ArbeidsuforhetVurdering]) *bool {
	if !t.Set {
		return nil
	}
	return &t.Value.Aktiv
}

func trackAufFrist(t models.Track[models.ArbeidsuforhetVurdering]) *time.Time {
	if !t.Set {
		return nil
	}
	return t.Value.VarselFrist
}

func trackOppgaveAktiv(t models.Track[models.Oppfolgingsoppgave]) *bool {
	if !t.Set {
		return nil
	}
	return &t.Value.Aktiv
}

func trackOppgaveFrist(t models.Track[models.Oppfolgingsoppgave]) *time.Time {
	if !t.Set {
		return nil
	}
	return t.Value.Frist
}
