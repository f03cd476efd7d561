// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package events

import (
	"fmt"
	"time"

	"github.com/helsearbeid/oversikt/internal/models"
	"github.com/helsearbeid/oversikt/internal/projection"
)

// AktivitetskravEvent reports an activity-requirement assessment.
type AktivitetskravEvent struct {
	PersonIdent string     `json:"personIdent"`
	Status      string     `json:"status"`
	Frist       *time.Time `json:"frist"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

var aktivitetskravByStatus = map[string]models.AktivitetskravStatus{
	"NY":              models.AktivitetskravNy,
	"AVVENT":          models.AktivitetskravAvvent,
	"UNNTAK":          models.AktivitetskravUnntak,
	"OPPFYLT":         models.AktivitetskravOppfylt,
	"FORHANDSVARSEL":  models.AktivitetskravForhandsvarsel,
	"IKKE_OPPFYLT":    models.AktivitetskravIkkeOppfylt,
	"IKKE_AKTUELL":    models.AktivitetskravIkkeAktuell,
	"LUKKET":          models.AktivitetskravLukket,
}

// MapAktivitetskrav maps an aktivitetskrav-vurdering record.
func MapAktivitetskrav(_ string, payload []byte) ([]projection.Update, error) {
	var ev AktivitetskravEvent
	if err := decodeInto(payload, &ev); err != nil {
		return nil, err
	}
	ident, err := requireIdent(ev.PersonIdent)
	if err != nil {
		return nil, err
	}
	status, ok := aktivitetskravByStatus[ev.Status]
	if !ok {
		return nil, fmt.Errorf("%w: aktivitetskrav status %q", ErrUnrecognizedSubtype, ev.Status)
	}
	at := ev.UpdatedAt
	return []projection.Update{{
		Ident:       ident,
		Kind:        projection.KindAktivitetskrav,
		GeneratedAt: &at,
		Aktivitetskrav: models.AktivitetskravVurdering{
			Status: status,
			Frist:  ev.Frist,
		},
	}}, nil
}

// ArbeidsuforhetEvent reports a work-capability assessment.
type ArbeidsuforhetEvent struct {
	PersonIdent     string     `json:"personident"`
	Type            string     `json:"type"`
	VarselSvarfrist *time.Time `json:"varselSvarfrist"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// MapArbeidsuforhet maps an arbeidsuforhet-vurdering record. Only a
// forhandsvarsel keeps the assessment active; every closing type clears it.
func MapArbeidsuforhet(_ string, payload []byte) ([]projection.Update, error) {
	var ev ArbeidsuforhetEvent
	if err := decodeInto(payload, &ev); err != nil {
		return nil, err
	}
	ident, err := requireIdent(ev.PersonIdent)
	if err != nil {
		return nil, err
	}

	var aktiv bool
	var frist *time.Time
	switch ev.Type {
	case "FORHANDSVARSEL":
		aktiv = true
		frist = ev.VarselSvarfrist
	case "OPPFYLT", "AVSLAG", "IKKE_AKTUELL":
		aktiv = false
	default:
		return nil, fmt.Errorf("%w: arbeidsuforhet type %q", ErrUnrecognizedSubtype, ev.Type)
	}

	at := ev.CreatedAt
	return []projection.Update{{
		Ident:       ident,
		Kind:        projection.KindArbeidsuforhet,
		GeneratedAt: &at,
		Arbeidsuforhet: models.ArbeidsuforhetVurdering{
			Aktiv:       aktiv,
			VarselFrist: frist,
		},
	}}, nil
}

// FriskmeldingEvent reports a friskmelding-til-arbeidsformidling assessment.
type FriskmeldingEvent struct {
	PersonIdent string    `json:"personident"`
	Aktiv       bool      `json:"isAktivVurdering"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MapFriskmelding maps a friskmelding-til-arbeidsformidling record.
func MapFriskmelding(_ string, payload []byte) ([]projection.Update, error) {
	var ev FriskmeldingEvent
	if err := decodeInto(payload, &ev); err != nil {
		return nil, err
	}
	ident, err := requireIdent(ev.PersonIdent)
	if err != nil {
		return nil, err
	}
	at := ev.CreatedAt
	return []projection.Update{{
		Ident:       ident,
		Kind:        projection.KindFriskmelding,
		GeneratedAt: &at,
		Flag:        ev.Aktiv,
	}}, nil
}

// SenOppfolgingEvent reports late-stage follow-up candidacy.
type SenOppfolgingEvent struct {
	PersonIdent string    `json:"personident"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MapSenOppfolging maps a senoppfolging-kandidat record.
func MapSenOppfolging(_ string, payload []byte) ([]projection.Update, error) {
	var ev SenOppfolgingEvent
	if err := decodeInto(payload, &ev); err != nil {
		return nil, err
	}
	ident, err := requireIdent(ev.PersonIdent)
	if err != nil {
		return nil, err
	}

	var kandidat bool
	switch ev.Status {
	case "KANDIDAT":
		kandidat = true
	case "FERDIGBEHANDLET":
		kandidat = false
	default:
		return nil, fmt.Errorf("%w: senoppfolging status %q", ErrUnrecognizedSubtype, ev.Status)
	}

	at := ev.CreatedAt
	return []projection.Update{{
		Ident:       ident,
		Kind:        projection.KindSenOppfolging,
		GeneratedAt: &at,
		Flag:        kandidat,
	}}, nil
}

// OppfolgingsoppgaveEvent reports a caseworker follow-up task.
type OppfolgingsoppgaveEvent struct {
	PersonIdent string     `json:"personIdent"`
	Aktiv       bool       `json:"isActive"`
	Frist       *time.Time `json:"frist"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// MapOppfolgingsoppgave maps an oppfolgingsoppgave record.
func MapOppfolgingsoppgave(_ string, payload []byte) ([]projection.Update, error) {
	var ev OppfolgingsoppgaveEvent
	if err := decodeInto(payload, &ev); err != nil {
		return nil, err
	}
	ident, err := requireIdent(ev.PersonIdent)
	if err != nil {
		return nil, err
	}
	at := ev.UpdatedAt
	return []projection.Update{{
		Ident:       ident,
		Kind:        projection.KindOppfolgingsoppgave,
		GeneratedAt: &at,
		Oppfolgingsoppgave: models.Oppfolgingsoppgave{
			Aktiv: ev.Aktiv,
			Frist: ev.Frist,
		},
	}}, nil
}
