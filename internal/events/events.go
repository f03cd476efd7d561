// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

// Package events defines the upstream event payloads and the mappers that
// translate each stream's records into projection track updates.
//
// Every upstream stream is keyed by person ident (or event id) and carries
// a typed JSON payload. Mappers are pure: decode, validate, emit updates.
// A payload whose subtype the mapper does not recognize yields
// ErrUnrecognizedSubtype so the consumer can count and skip it without
// touching the aggregate.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/helsearbeid/oversikt/internal/models"
	"github.com/helsearbeid/oversikt/internal/projection"
)

// ErrUnrecognizedSubtype marks payloads with a valid shape but an unknown
// enum value. Counted and skipped, never fatal.
var ErrUnrecognizedSubtype = errors.New("unrecognized event subtype")

func decodeInto(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func requireIdent(raw string) (models.PersonIdent, error) {
	ident := models.PersonIdent(raw)
	if !ident.Valid() {
		return "", fmt.Errorf("invalid person ident %q", raw)
	}
	return ident, nil
}

// DialogmotekandidatEvent flags a person as candidate for dialogmote.
type DialogmotekandidatEvent struct {
	PersonIdent string    `json:"personIdentNumber"`
	Kandidat    bool      `json:"kandidat"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MapDialogmotekandidat maps a dialogmotekandidat record.
func MapDialogmotekandidat(_ string, payload []byte) ([]projection.Update, error) {
	var ev DialogmotekandidatEvent
	if err := decodeInto(payload, &ev); err != nil {
		return nil, err
	}
	ident, err := requireIdent(ev.PersonIdent)
	if err != nil {
		return nil, err
	}
	createdAt := ev.CreatedAt
	return []projection.Update{{
		Ident:       ident,
		Kind:        projection.KindDialogmotekandidat,
		GeneratedAt: &createdAt,
		Flag:        ev.Kandidat,
	}}, nil
}

// DialogmoteStatusEvent reports a meeting-status transition.
type DialogmoteStatusEvent struct {
	PersonIdent       string    `json:"personIdent"`
	StatusEndringType string    `json:"statusEndringType"`
	EndringTidspunkt  time.Time `json:"statusEndringTidspunkt"`
}

var motestatusByType = map[string]models.Motestatus{
	"INNKALT":       models.MotestatusInnkalt,
	"AVLYST":        models.MotestatusAvlyst,
	"FERDIGSTILT":   models.MotestatusFerdigstilt,
	"NYTT_TID_STED": models.MotestatusNyttTidSted,
	"LUKKET":        models.MotestatusLukket,
}

// MapDialogmoteStatus maps a dialogmote-statusendring record.
func MapDialogmoteStatus(_ string, payload []byte) ([]projection.Update, error) {
	var ev DialogmoteStatusEvent
	if err := decodeInto(payload, &ev); err != nil {
		return nil, err
	}
	ident, err := requireIdent(ev.PersonIdent)
	if err != nil {
		return nil, err
	}
	status, ok := motestatusByType[ev.StatusEndringType]
	if !ok {
		return nil, fmt.Errorf("%w: statusEndringType %q", ErrUnrecognizedSubtype, ev.StatusEndringType)
	}
	at := ev.EndringTidspunkt
	return []projection.Update{{
		Ident:       ident,
		Kind:        projection.KindMotestatus,
		GeneratedAt: &at,
		Motestatus:  status,
	}}, nil
}

// MotebehovEvent reports a submitted meeting-need form.
type MotebehovEvent struct {
	PersonIdent string `json:"arbeidstakerFnr"`
	Ubehandlet  bool   `json:"ubehandlet"`
}

// MapMotebehov maps a motebehov record. No ordering timestamp; last write
// wins.
func MapMotebehov(_ string, payload []byte) ([]projection.Update, error) {
	var ev MotebehovEvent
	if err := decodeInto(payload, &ev); err != nil {
		return nil, err
	}
	ident, err := requireIdent(ev.PersonIdent)
	if err != nil {
		return nil, err
	}
	return []projection.Update{{
		Ident: ident,
		Kind:  projection.KindMotebehov,
		Flag:  ev.Ubehandlet,
	}}, nil
}

// MotebehovTombstone clears the meeting-need flag when the upstream record
// is deleted. The record key carries the ident.
func MotebehovTombstone(key string) (projection.Update, bool) {
	ident := models.PersonIdent(key)
	if !ident.Valid() {
		return projection.Update{}, false
	}
	return projection.Update{
		Ident: ident,
		Kind:  projection.KindMotebehov,
		Flag:  false,
	}, true
}

// OppfolgingsplanLPSEvent reports an LPS follow-up plan needing assistance.
type OppfolgingsplanLPSEvent struct {
	PersonIdent     string `json:"fodselsnummer"`
	BistandPabegynt bool   `json:"behovForBistandFraNav"`
}

// MapOppfolgingsplanLPS maps an oppfolgingsplan-lps record.
func MapOppfolgingsplanLPS(_ string, payload []byte) ([]projection.Update, error) {
	var ev OppfolgingsplanLPSEvent
	if err := decodeInto(payload, &ev); err != nil {
		return nil, err
	}
	ident, err := requireIdent(ev.PersonIdent)
	if err != nil {
		return nil, err
	}
	return []projection.Update{{
		Ident: ident,
		Kind:  projection.KindLPSBistand,
		Flag:  ev.BistandPabegynt,
	}}, nil
}

// BehandlerdialogEvent reports unanswered practitioner-dialog messages.
type BehandlerdialogEvent struct {
	PersonIdent        string `json:"personIdent"`
	HarUbesvartMelding bool   `json:"harUbesvartMelding"`
}

// MapBehandlerdialog maps a behandlerdialog-ubesvart record.
func MapBehandlerdialog(_ string, payload []byte) ([]projection.Update, error) {
	var ev BehandlerdialogEvent
	if err := decodeInto(payload, &ev); err != nil {
		return nil, err
	}
	ident, err := requireIdent(ev.PersonIdent)
	if err != nil {
		return nil, err
	}
	return []projection.Update{{
		Ident: ident,
		Kind:  projection.KindBehandlerdialog,
		Flag:  ev.HarUbesvartMelding,
	}}, nil
}

// IdenthendelseEvent reports an identity change: one active ident replacing
// a set of inactive ones.
type IdenthendelseEvent struct {
	AktivIdent      string   `json:"aktivIdent"`
	InaktiveIdenter []string `json:"inaktiveIdenter"`
}

// MapIdenthendelse emits one migration update per inactive ident.
func MapIdenthendelse(_ string, payload []byte) ([]projection.Update, error) {
	var ev IdenthendelseEvent
	if err := decodeInto(payload, &ev); err != nil {
		return nil, err
	}
	aktiv, err := requireIdent(ev.AktivIdent)
	if err != nil {
		return nil, err
	}

	updates := make([]projection.Update, 0, len(ev.InaktiveIdenter))
	for _, raw := range ev.InaktiveIdenter {
		inaktiv := models.PersonIdent(raw)
		if !inaktiv.Valid() || inaktiv == aktiv {
			continue
		}
		updates = append(updates, projection.Update{
			Ident:    inaktiv,
			Kind:     projection.KindIdentChange,
			NewIdent: aktiv,
		})
	}
	return updates, nil
}
