// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

// Package models defines the per-person status aggregate and its tracks.
//
// A track is one independently updatable value on the aggregate, guarded by
// its own producer timestamp. Tracks are value+timestamp+presence triples so
// the merge engine can distinguish "never seen" from "seen but stale".
package models

import (
	"time"

	"github.com/google/uuid"
)

// PersonIdent is the natural key of a status aggregate: an 11-digit
// national identity number. Immutable once assigned except through
// identhendelse migration.
type PersonIdent string

// Valid reports whether the ident has the expected 11-digit shape.
func (p PersonIdent) Valid() bool {
	if len(p) != 11 {
		return false
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Motestatus is the most recent dialogmote state for a person.
type Motestatus string

const (
	MotestatusInnkalt      Motestatus = "INNKALT"
	MotestatusAvlyst       Motestatus = "AVLYST"
	MotestatusFerdigstilt  Motestatus = "FERDIGSTILT"
	MotestatusNyttTidSted  Motestatus = "NYTT_TID_STED"
	MotestatusLukket       Motestatus = "LUKKET"
)

// AktivitetskravStatus is the state of the activity-requirement assessment.
type AktivitetskravStatus string

const (
	AktivitetskravNy             AktivitetskravStatus = "NY"
	AktivitetskravAvvent         AktivitetskravStatus = "AVVENT"
	AktivitetskravUnntak         AktivitetskravStatus = "UNNTAK"
	AktivitetskravOppfylt        AktivitetskravStatus = "OPPFYLT"
	AktivitetskravForhandsvarsel AktivitetskravStatus = "FORHANDSVARSEL"
	AktivitetskravIkkeOppfylt    AktivitetskravStatus = "IKKE_OPPFYLT"
	AktivitetskravIkkeAktuell    AktivitetskravStatus = "IKKE_AKTUELL"
	AktivitetskravLukket         AktivitetskravStatus = "LUKKET"
)

// Track is one status track: a value, the producer timestamp that ordered
// it, and a presence flag. GeneratedAt is nil for tracks whose producer
// emits no ordering timestamp.
type Track[T any] struct {
	Set         bool
	Value       T
	GeneratedAt *time.Time
}

// TrackOf builds a populated track.
func TrackOf[T any](value T, generatedAt *time.Time) Track[T] {
	return Track[T]{Set: true, Value: value, GeneratedAt: generatedAt}
}

// AktivitetskravVurdering is the aktivitetskrav track value: the assessment
// state plus an optional deadline set by AVVENT and FORHANDSVARSEL.
type AktivitetskravVurdering struct {
	Status AktivitetskravStatus
	Frist  *time.Time
}

// ArbeidsuforhetVurdering is the work-incapacity assessment track value.
type ArbeidsuforhetVurdering struct {
	Aktiv       bool
	VarselFrist *time.Time
}

// Oppfolgingsoppgave is the follow-up-needed track value.
type Oppfolgingsoppgave struct {
	Aktiv bool
	Frist *time.Time
}

// Virksomhet is one organization involved in a tilfelle.
type Virksomhet struct {
	Virksomhetsnummer string
	Navn              string
}

// Tilfelle is a time-bounded follow-up period. It is a snapshot from a
// single authoritative producer and is replaced wholesale, never merged
// field by field. The virksomhet list is reconciled by set difference so
// per-entry metadata not present in the event survives.
type Tilfelle struct {
	Start        time.Time
	End          time.Time
	SourceRef    uuid.UUID
	GeneratedAt  time.Time
	Virksomheter []Virksomhet
}

// StatusAggregate is the single continuously updated projection row for one
// person. One row per ident; created lazily on first event or first
// reconciliation touch, never hard-deleted by the projection path.
type StatusAggregate struct {
	PersonIdent PersonIdent

	// Assignment. VeilederIdent is only meaningful within Enhet, so the
	// two are cleared together whenever Enhet changes.
	VeilederIdent  *string
	Enhet          *string
	EnhetUpdatedAt *time.Time

	// Unordered flag tracks (last write wins).
	MotebehovUbehandlet     Track[bool]
	LPSBistandUbehandlet    Track[bool]
	BehandlerdialogUbesvart Track[bool]

	// Timestamp-guarded tracks.
	Dialogmotekandidat Track[bool]
	Motestatus         Track[Motestatus]
	Aktivitetskrav     Track[AktivitetskravVurdering]
	Arbeidsuforhet     Track[ArbeidsuforhetVurdering]
	Friskmelding       Track[bool]
	SenOppfolging      Track[bool]
	Oppfolgingsoppgave Track[Oppfolgingsoppgave]

	LatestTilfelle *Tilfelle

	CreatedAt      time.Time
	LastModifiedAt time.Time
}

// NewStatusAggregate constructs an empty aggregate for an ident.
func NewStatusAggregate(ident PersonIdent, now time.Time) *StatusAggregate {
	return &StatusAggregate{
		PersonIdent:    ident,
		CreatedAt:      now,
		LastModifiedAt: now,
	}
}
