// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package consumer

import (
	"github.com/helsearbeid/oversikt/internal/events"
	"github.com/helsearbeid/oversikt/internal/projection"
)

// Streams returns the full set of upstream subscriptions. One loop per
// entry; all share the subscriber connection and the merge engine.
func Streams() []StreamSpec {
	return []StreamSpec{
		{
			Name:   "oppfolgingstilfelle-person",
			Topic:  "oversikt.oppfolgingstilfelle-person",
			Mapper: events.MapOppfolgingstilfelle,
			Batch:  projection.BatchAtomic,
		},
		{
			Name:   "dialogmotekandidat",
			Topic:  "oversikt.dialogmotekandidat",
			Mapper: events.MapDialogmotekandidat,
			Batch:  projection.BatchAtomic,
		},
		{
			Name:   "dialogmote-statusendring",
			Topic:  "oversikt.dialogmote-statusendring",
			Mapper: events.MapDialogmoteStatus,
			Batch:  projection.BatchAtomic,
		},
		{
			Name:        "motebehov",
			Topic:       "oversikt.motebehov",
			Mapper:      events.MapMotebehov,
			OnTombstone: events.MotebehovTombstone,
			Batch:       projection.BatchAtomic,
		},
		{
			Name:   "oppfolgingsplan-lps",
			Topic:  "oversikt.oppfolgingsplan-lps",
			Mapper: events.MapOppfolgingsplanLPS,
			Batch:  projection.BatchAtomic,
		},
		{
			Name:   "aktivitetskrav-vurdering",
			Topic:  "oversikt.aktivitetskrav-vurdering",
			Mapper: events.MapAktivitetskrav,
			Batch:  projection.BatchAtomic,
		},
		{
			Name:   "arbeidsuforhet-vurdering",
			Topic:  "oversikt.arbeidsuforhet-vurdering",
			Mapper: events.MapArbeidsuforhet,
			Batch:  projection.BatchAtomic,
		},
		{
			Name:   "friskmelding-til-arbeidsformidling",
			Topic:  "oversikt.friskmelding-til-arbeidsformidling",
			Mapper: events.MapFriskmelding,
			Batch:  projection.BatchAtomic,
		},
		{
			Name:   "senoppfolging-kandidat",
			Topic:  "oversikt.senoppfolging-kandidat",
			Mapper: events.MapSenOppfolging,
			Batch:  projection.BatchAtomic,
		},
		{
			Name:   "oppfolgingsoppgave",
			Topic:  "oversikt.oppfolgingsoppgave",
			Mapper: events.MapOppfolgingsoppgave,
			Batch:  projection.BatchAtomic,
		},
		{
			Name:   "behandlerdialog-ubesvart",
			Topic:  "oversikt.behandlerdialog-ubesvart",
			Mapper: events.MapBehandlerdialog,
			Batch:  projection.BatchAtomic,
		},
		{
			// Identity migrations are isolated per record so one merge
			// conflict cannot block unrelated migrations in the batch.
			Name:   "identhendelse",
			Topic:  "oversikt.identhendelse",
			Mapper: events.MapIdenthendelse,
			Batch:  projection.BatchPerRecord,
		},
	}
}
