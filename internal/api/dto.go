// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package api

import (
	"time"

	"github.com/helsearbeid/oversikt/internal/models"
)

// PersonStatusDTO is the external view of one status aggregate. Tracks the
// projection has never seen serialize as null, not as zero values.
type PersonStatusDTO struct {
	PersonIdent   string  `json:"personIdent"`
	VeilederIdent *string `json:"veilederIdent"`
	Enhet         *string `json:"enhet"`

	MotebehovUbehandlet     *bool `json:"motebehovUbehandlet"`
	LPSBistandUbehandlet    *bool `json:"oppfolgingsplanLPSBistandUbehandlet"`
	BehandlerdialogUbesvart *bool `json:"behandlerdialogUbesvart"`
	Dialogmotekandidat      *bool `json:"dialogmotekandidat"`

	Motestatus *string `json:"motestatus"`

	Aktivitetskrav      *string    `json:"aktivitetskrav"`
	AktivitetskravFrist *time.Time `json:"aktivitetskravVurderingFrist"`

	ArbeidsuforhetAktiv       *bool      `json:"arbeidsuforhetVurderingAktiv"`
	ArbeidsuforhetVarselFrist *time.Time `json:"arbeidsuforhetVarselFrist"`

	FriskmeldingAktiv *bool `json:"friskmeldingTilArbeidsformidlingAktiv"`
	SenOppfolging     *bool `json:"senOppfolgingKandidat"`

	OppfolgingsoppgaveAktiv *bool      `json:"oppfolgingsoppgaveAktiv"`
	OppfolgingsoppgaveFrist *time.Time `json:"oppfolgingsoppgaveFrist"`

	LatestTilfelle *TilfelleDTO `json:"latestOppfolgingstilfelle"`
}

// TilfelleDTO is the external view of the latest follow-up period.
type TilfelleDTO struct {
	Start        string          `json:"start"`
	End          string          `json:"end"`
	Virksomheter []VirksomhetDTO `json:"virksomhetList"`
}

// VirksomhetDTO is one organization in a tilfelle.
type VirksomhetDTO struct {
	Virksomhetsnummer string `json:"virksomhetsnummer"`
	Navn              string `json:"virksomhetsnavn"`
}

const dateLayout = "2006-01-02"

func toPersonStatusDTO(agg *models.StatusAggregate) PersonStatusDTO {
	dto := PersonStatusDTO{
		PersonIdent:   string(agg.PersonIdent),
		VeilederIdent: agg.VeilederIdent,
		Enhet:         agg.Enhet,
	}

	dto.MotebehovUbehandlet = trackBool(agg.MotebehovUbehandlet)
	dto.LPSBistandUbehandlet = trackBool(agg.LPSBistandUbehandlet)
	dto.BehandlerdialogUbesvart = trackBool(agg.BehandlerdialogUbesvart)
	dto.Dialogmotekandidat = trackBool(agg.Dialogmotekandidat)
	dto.FriskmeldingAktiv = trackBool(agg.Friskmelding)
	dto.SenOppfolging = trackBool(agg.SenOppfolging)

	if agg.Motestatus.Set {
		status := string(agg.Motestatus.Value)
		dto.Motestatus = &status
	}
	if agg.Aktivitetskrav.Set {
		status := string(agg.Aktivitetskrav.Value.Status)
		dto.Aktivitetskrav = &status
		dto.AktivitetskravFrist = agg.Aktivitetskrav.Value.Frist
	}
	if agg.Arbeidsuforhet.Set {
		aktiv := agg.Arbeidsuforhet.Value.Aktiv
		dto.ArbeidsuforhetAktiv = &aktiv
		dto.ArbeidsuforhetVarselFrist = agg.Arbeidsuforhet.Value.VarselFrist
	}
	if agg.Oppfolgingsoppgave.Set {
		aktiv := agg.Oppfolgingsoppgave.Value.Aktiv
		dto.OppfolgingsoppgaveAktiv = &aktiv
		dto.OppfolgingsoppgaveFrist = agg.Oppfolgingsoppgave.Value.Frist
	}

	if t := agg.LatestTilfelle; t != nil {
		tilfelle := TilfelleDTO{
			Start:        t.Start.Format(dateLayout),
			End:          t.End.Format(dateLayout),
			Virksomheter: make([]VirksomhetDTO, 0, len(t.Virksomheter)),
		}
		for _, v := range t.Virksomheter {
			tilfelle.Virksomheter = append(tilfelle.Virksomheter, VirksomhetDTO{
				Virksomhetsnummer: v.Virksomhetsnummer,
				Navn:              v.Navn,
			})
		}
		dto.LatestTilfelle = &tilfelle
	}
	return dto
}

func trackBool(t models.Track[bool]) *bool {
	if !t.Set {
		return nil
	}
	v := t.Value
	return &v
}
