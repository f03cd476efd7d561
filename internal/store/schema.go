// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package store

import (
	"context"
	"fmt"
)

// schema is the aggregate store DDL. One row per person ident; nullable
// track columns encode "never seen". The virksomhet side table carries the
// tilfelle's organization list with its own uniqueness, FK'd with
// ON UPDATE CASCADE so identity migration moves children with the parent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS person_oversikt_status (
		id                              BIGSERIAL    PRIMARY KEY,
		person_ident                    VARCHAR(11)  NOT NULL UNIQUE,
		veileder_ident                  TEXT,
		enhet                           TEXT,
		enhet_updated_at                TIMESTAMPTZ,

		motebehov_ubehandlet            BOOLEAN,
		lps_bistand_ubehandlet          BOOLEAN,
		behandlerdialog_ubesvart        BOOLEAN,

		dialogmotekandidat              BOOLEAN,
		dialogmotekandidat_generated_at TIMESTAMPTZ,
		motestatus                      TEXT,
		motestatus_generated_at         TIMESTAMPTZ,
		aktivitetskrav_status           TEXT,
		aktivitetskrav_frist            DATE,
		aktivitetskrav_generated_at     TIMESTAMPTZ,
		arbeidsuforhet_aktiv            BOOLEAN,
		arbeidsuforhet_varsel_frist     DATE,
		arbeidsuforhet_generated_at     TIMESTAMPTZ,
		friskmelding_aktiv              BOOLEAN,
		friskmelding_generated_at       TIMESTAMPTZ,
		sen_oppfolging_kandidat         BOOLEAN,
		sen_oppfolging_generated_at     TIMESTAMPTZ,
		oppfolgingsoppgave_aktiv        BOOLEAN,
		oppfolgingsoppgave_frist        DATE,
		oppfolgingsoppgave_generated_at TIMESTAMPTZ,

		tilfelle_start                  DATE,
		tilfelle_end                    DATE,
		tilfelle_source_ref             UUID,
		tilfelle_generated_at           TIMESTAMPTZ,

		created_at                      TIMESTAMPTZ  NOT NULL,
		last_modified_at                TIMESTAMPTZ  NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS person_tilfelle_virksomhet (
		id                BIGSERIAL   PRIMARY KEY,
		person_ident      VARCHAR(11) NOT NULL
			REFERENCES person_oversikt_status (person_ident)
			ON UPDATE CASCADE ON DELETE CASCADE,
		virksomhetsnummer TEXT        NOT NULL,
		navn              TEXT,
		created_at        TIMESTAMPTZ NOT NULL,
		UNIQUE (person_ident, virksomhetsnummer)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_person_oversikt_status_enhet
		ON person_oversikt_status (enhet) WHERE enhet IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_person_oversikt_status_enhet_updated
		ON person_oversikt_status (enhet_updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_person_oversikt_status_tilfelle_end
		ON person_oversikt_status (tilfelle_end) WHERE tilfelle_end IS NOT NULL`,
}

// EnsureSchema creates the aggregate tables and indexes if absent.
// Idempotent; called once at startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
