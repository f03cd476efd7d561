// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helsearbeid/oversikt/internal/metrics"
	"github.com/helsearbeid/oversikt/internal/models"
)

// aggregateColumns is the canonical select list; scanAggregate must stay in
// the same order.
const aggregateColumns = `
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
	created_at, last_modified_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanAggregate reads one aggregate row. The virksomhet list is loaded
// separately by loadVirksomheter.
func scanAggregate(row rowScanner) (*models.StatusAggregate, error) {
	var (
		agg models.StatusAggregate

		motebehov, lps, behandlerdialog           *bool
		kandidat                                  *bool
		kandidatAt                                *time.Time
		motestatus                                *string
		motestatusAt                              *time.Time
		akStatus                                  *string
		akFrist, akAt                             *time.Time
		aufAktiv                                  *bool
		aufFrist, aufAt                           *time.Time
		friskAktiv                                *bool
		friskAt                                   *time.Time
		senKandidat                               *bool
		senAt                                     *time.Time
		oppgaveAktiv                              *bool
		oppgaveFrist, oppgaveAt                   *time.Time
		tilfelleStart, tilfelleEnd, tilfelleGenAt *time.Time
		tilfelleRef                               *uuid.UUID
	)

	err := row.Scan(
		&agg.PersonIdent, &agg.VeilederIdent, &agg.Enhet, &agg.EnhetUpdatedAt,
		&motebehov, &lps, &behandlerdialog,
		&kandidat, &kandidatAt,
		&motestatus, &motestatusAt,
		&akStatus, &akFrist, &akAt,
		&aufAktiv, &aufFrist, &aufAt,
		&friskAktiv, &friskAt,
		&senKandidat, &senAt,
		&oppgaveAktiv, &oppgaveFrist, &oppgaveAt,
		&tilfelleStart, &tilfelleEnd, &tilfelleRef, &tilfelleGenAt,
		&agg.CreatedAt, &agg.LastModifiedAt,
	)
	if err != nil {
		return nil, err
	}

	if motebehov != nil {
		agg.MotebehovUbehandlet = models.TrackOf(*motebehov, nil)
	}
	if lps != nil {
		agg.LPSBistandUbehandlet = models.TrackOf(*lps, nil)
	}
	if behandlerdialog != nil {
		agg.BehandlerdialogUbesvart = models.TrackOf(*behandlerdialog, nil)
	}
	if kandidat != nil {
		agg.Dialogmotekandidat = models.TrackOf(*kandidat, kandidatAt)
	}
	if motestatus != nil {
		agg.Motestatus = models.TrackOf(models.Motestatus(*motestatus), motestatusAt)
	}
	if akStatus != nil {
		agg.Aktivitetskrav = models.TrackOf(models.AktivitetskravVurdering{
			Status: models.AktivitetskravStatus(*akStatus),
			Frist:  akFrist,
		}, akAt)
	}
	if aufAktiv != nil {
		agg.Arbeidsuforhet = models.TrackOf(models.ArbeidsuforhetVurdering{
			Aktiv:       *aufAktiv,
			VarselFrist: aufFrist,
		}, aufAt)
	}
	if friskAktiv != nil {
		agg.Friskmelding = models.TrackOf(*friskAktiv, friskAt)
	}
	if senKandidat != nil {
		agg.SenOppfolging = models.TrackOf(*senKandidat, senAt)
	}
	if oppgaveAktiv != nil {
		agg.Oppfolgingsoppgave = models.TrackOf(models.Oppfolgingsoppgave{
			Aktiv: *oppgaveAktiv,
			Frist: oppgaveFrist,
		}, oppgaveAt)
	}
	if tilfelleStart != nil && tilfelleEnd != nil && tilfelleRef != nil && tilfelleGenAt != nil {
		agg.LatestTilfelle = &models.Tilfelle{
			Start:       *tilfelleStart,
			End:         *tilfelleEnd,
			SourceRef:   *tilfelleRef,
			GeneratedAt: *tilfelleGenAt,
		}
	}

	return &agg, nil
}

// GetByIdent fetches one aggregate, including its virksomhet list.
// Returns ErrNotFound when no row exists.
func (s *Store) GetByIdent(ctx context.Context, q Querier, ident models.PersonIdent) (*models.StatusAggregate, error) {
	start := s.now()
	agg, err := s.getByIdent(ctx, q, ident)
	metrics.RecordStoreQuery("get_by_ident", time.Since(start), err)
	return agg, err
}

func (s *Store) getByIdent(ctx context.Context, q Querier, ident models.PersonIdent) (*models.StatusAggregate, error) {
	row := q.QueryRow(ctx,
		`SELECT `+aggregateColumns+` FROM person_oversikt_status WHERE person_ident = $1`,
		ident)

	agg, err := scanAggregate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get aggregate %s: %w", ident, err)
	}

	if agg.LatestTilfelle != nil {
		if err := s.loadVirksomheter(ctx, q, agg); err != nil {
			return nil, err
		}
	}
	return agg, nil
}

func (s *Store) loadVirksomheter(ctx context.Context, q Querier, agg *models.StatusAggregate) error {
	rows, err := q.Query(ctx,
		`SELECT virksomhetsnummer, navn FROM person_tilfelle_virksomhet
		 WHERE person_ident = $1 ORDER BY virksomhetsnummer`,
		agg.PersonIdent)
	if err != nil {
		return fmt.Errorf("load virksomheter for %s: %w", agg.PersonIdent, err)
	}
	defer rows.Close()

	for rows.Next() {
		var v models.Virksomhet
		var navn *string
		if err := rows.Scan(&v.Virksomhetsnummer, &navn); err != nil {
			return fmt.Errorf("scan virksomhet: %w", err)
		}
		if navn != nil {
			v.Navn = *navn
		}
		agg.LatestTilfelle.Virksomheter = append(agg.LatestTilfelle.Virksomheter, v)
	}
	return rows.Err()
}

// ListByEnhet returns all aggregates currently assigned to a unit.
func (s *Store) ListByEnhet(ctx context.Context, q Querier, enhet string) ([]*models.StatusAggregate, error) {
	start := s.now()
	aggs, err := s.listAggregates(ctx, q,
		`SELECT `+aggregateColumns+` FROM person_oversikt_status
		 WHERE enhet = $1 ORDER BY person_ident`, enhet)
	metrics.RecordStoreQuery("list_by_enhet", time.Since(start), err)
	return aggs, err
}

// ListStaleEnhet returns aggregates with open follow-up work whose unit
// assignment has not been verified since cutoff. Rows that have never had
// their unit resolved (NULL enhet_updated_at) are included. Candidates for
// the unit-reconciliation job.
func (s *Store) ListStaleEnhet(ctx context.Context, q Querier, cutoff time.Time, limit int) ([]*models.StatusAggregate, error) {
	start := s.now()
	aggs, err := s.listAggregates(ctx, q,
		`SELECT `+aggregateColumns+` FROM person_oversikt_status
		 WHERE (enhet_updated_at IS NULL OR enhet_updated_at < $1)
		   AND (
			(oppfolgingsoppgave_aktiv IS TRUE)
			OR (tilfelle_end IS NOT NULL AND tilfelle_end >= CURRENT_DATE)
		   )
		 ORDER BY enhet_updated_at ASC NULLS FIRST
		 LIMIT $2`, cutoff, limit)
	metrics.RecordStoreQuery("list_stale_enhet", time.Since(start), err)
	return aggs, err
}

// ListReaperCandidates returns idents whose latest tilfelle ended before
// endBefore and whose row has been quiet since modifiedBefore, and that
// still carry a caseworker assignment.
func (s *Store) ListReaperCandidates(ctx context.Context, q Querier, endBefore, modifiedBefore time.Time, limit int) ([]models.PersonIdent, error) {
	start := s.now()
	idents, err := s.listIdents(ctx, q,
		`SELECT person_ident FROM person_oversikt_status
		 WHERE veileder_ident IS NOT NULL
		   AND tilfelle_end IS NOT NULL AND tilfelle_end < $1
		   AND last_modified_at < $2
		 ORDER BY tilfelle_end ASC
		 LIMIT $3`, endBefore, modifiedBefore, limit)
	metrics.RecordStoreQuery("list_reaper_candidates", time.Since(start), err)
	return idents, err
}

// ListDistinctEnheter returns every unit that currently has assigned persons.
func (s *Store) ListDistinctEnheter(ctx context.Context, q Querier) ([]string, error) {
	start := s.now()
	rows, err := q.Query(ctx,
		`SELECT DISTINCT enhet FROM person_oversikt_status
		 WHERE enhet IS NOT NULL ORDER BY enhet`)
	metrics.RecordStoreQuery("list_distinct_enheter", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("list distinct enheter: %w", err)
	}
	defer rows.Close()

	var enheter []string
	for rows.Next() {
		var enhet string
		if err := rows.Scan(&enhet); err != nil {
			return nil, fmt.Errorf("scan enhet: %w", err)
		}
		enheter = append(enheter, enhet)
	}
	return enheter, rows.Err()
}

// ListIdentsByEnhet returns the idents assigned to a unit. Used by the
// cache-preload job.
func (s *Store) ListIdentsByEnhet(ctx context.Context, q Querier, enhet string) ([]models.PersonIdent, error) {
	start := s.now()
	idents, err := s.listIdents(ctx, q,
		`SELECT person_ident FROM person_oversikt_status
		 WHERE enhet = $1 ORDER BY person_ident`, enhet)
	metrics.RecordStoreQuery("list_idents_by_enhet", time.Since(start), err)
	return idents, err
}

func (s *Store) listAggregates(ctx context.Context, q Querier, sql string, args ...any) ([]*models.StatusAggregate, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []*models.StatusAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		aggs = append(aggs, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, agg := range aggs {
		if agg.LatestTilfelle != nil {
			if err := s.loadVirksomheter(ctx, q, agg); err != nil {
				return nil, err
			}
		}
	}
	return aggs, nil
}

func (s *Store) listIdents(ctx context.Context, q Querier, sql string, args ...any) ([]models.PersonIdent, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list idents: %w", err)
	}
	defer rows.Close()

	var idents []models.PersonIdent
	for rows.Next() {
		var ident models.PersonIdent
		if err := rows.Scan(&ident); err != nil {
			return nil, fmt.Errorf("scan ident: %w", err)
		}
		idents = append(idents, ident)
	}
	return idents, rows.Err()
}
