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

// ReplaceTilfelle replaces the latest tilfelle wholesale and reconciles the
// virksomhet list by set difference: entries no longer reported upstream
// are removed, newly reported ones inserted, surviving rows left untouched
// so their metadata is preserved.
func (s *Store) ReplaceTilfelle(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, t *models.Tilfelle) error {
	start := s.now()
	err := s.replaceTilfelle(ctx, tx, ident, t)
	metrics.RecordStoreQuery("replace_tilfelle", time.Since(start), err)
	return err
}

func (s *Store) replaceTilfelle(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, t *models.Tilfelle) error {
	_, err := tx.Exec(ctx,
		`UPDATE person_oversikt_status
		 SET tilfelle_start = $1, tilfelle_end = $2, tilfelle_source_ref = $3,
		     tilfelle_generated_at = $4, last_modified_at = $5
		 WHERE person_ident = $6`,
		t.Start, t.End, t.SourceRef, t.GeneratedAt, s.now(), ident)
	if err != nil {
		return fmt.Errorf("replace tilfelle for %s: %w", ident, err)
	}

	return s.reconcileVirksomheter(ctx, tx, ident, t.Virksomheter)
}

func (s *Store) reconcileVirksomheter(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, upstream []models.Virksomhet) error {
	rows, err := tx.Query(ctx,
		`SELECT virksomhetsnummer FROM person_tilfelle_virksomhet WHERE person_ident = $1`,
		ident)
	if err != nil {
		return fmt.Errorf("list virksomheter for %s: %w", ident, err)
	}

	stored := make(map[string]bool)
	for rows.Next() {
		var nr string
		if err := rows.Scan(&nr); err != nil {
			rows.Close()
			return fmt.Errorf("scan virksomhetsnummer: %w", err)
		}
		stored[nr] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	wanted := make(map[string]bool, len(upstream))
	for _, v := range upstream {
		wanted[v.Virksomhetsnummer] = true
		if !stored[v.Virksomhetsnummer] {
			if err := s.insertVirksomhet(ctx, tx, ident, v); err != nil {
				return err
			}
		}
	}

	for nr := range stored {
		if !wanted[nr] {
			_, err := tx.Exec(ctx,
				`DELETE FROM person_tilfelle_virksomhet
				 WHERE person_ident = $1 AND virksomhetsnummer = $2`,
				ident, nr)
			if err != nil {
				return fmt.Errorf("remove virksomhet %s for %s: %w", nr, ident, err)
			}
		}
	}

	return nil
}

func (s *Store) insertVirksomhet(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, v models.Virksomhet) error {
	var navn *string
	if v.Navn != "" {
		navn = &v.Navn
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO person_tilfelle_virksomhet (person_ident, virksomhetsnummer, navn, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (person_ident, virksomhetsnummer) DO NOTHING`,
		ident, v.Virksomhetsnummer, navn, s.now())
	if err != nil {
		return fmt.Errorf("insert virksomhet %s for %s: %w", v.Virksomhetsnummer, ident, err)
	}
	return nil
}
