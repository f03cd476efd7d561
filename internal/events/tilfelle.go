// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/helsearbeid/oversikt/internal/models"
	"github.com/helsearbeid/oversikt/internal/projection"
)

const dateLayout = "2006-01-02"

// Date unmarshals the producer's bare yyyy-mm-dd date fields.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("parse date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

// TilfelleVirksomhetDTO is one organization entry inside a tilfelle event.
type TilfelleVirksomhetDTO struct {
	Virksomhetsnummer string `json:"virksomhetsnummer"`
	Navn              string `json:"virksomhetsnavn"`
}

// TilfelleDTO is one follow-up period inside a tilfelle event.
type TilfelleDTO struct {
	Start        Date                    `json:"start"`
	End          Date                    `json:"end"`
	Virksomheter []TilfelleVirksomhetDTO `json:"virksomhetList"`
}

// OppfolgingstilfellePersonEvent is a full snapshot of a person's follow-up
// periods from the authoritative tilfelle producer.
type OppfolgingstilfellePersonEvent struct {
	PersonIdent  string        `json:"personIdentNumber"`
	ReferanseID  uuid.UUID     `json:"referanseTilfelleBitUuid"`
	CreatedAt    time.Time     `json:"createdAt"`
	TilfelleList []TilfelleDTO `json:"oppfolgingstilfelleList"`
}

// MapOppfolgingstilfelle maps an oppfolgingstilfelle-person record. Only the
// latest tilfelle in the snapshot is projected; an empty list is valid and
// emits nothing.
func MapOppfolgingstilfelle(_ string, payload []byte) ([]projection.Update, error) {
	var ev OppfolgingstilfellePersonEvent
	if err := decodeInto(payload, &ev); err != nil {
		return nil, err
	}
	ident, err := requireIdent(ev.PersonIdent)
	if err != nil {
		return nil, err
	}
	latest := latestTilfelle(ev.TilfelleList)
	if latest == nil {
		return nil, nil
	}

	virksomheter := make([]models.Virksomhet, 0, len(latest.Virksomheter))
	for _, v := range latest.Virksomheter {
		if v.Virksomhetsnummer == "" {
			continue
		}
		virksomheter = append(virksomheter, models.Virksomhet{
			Virksomhetsnummer: v.Virksomhetsnummer,
			Navn:              v.Navn,
		})
	}

	at := ev.CreatedAt
	return []projection.Update{{
		Ident:       ident,
		Kind:        projection.KindTilfelle,
		GeneratedAt: &at,
		Tilfelle: &models.Tilfelle{
			Start:        latest.Start.Time,
			End:          latest.End.Time,
			SourceRef:    ev.ReferanseID,
			GeneratedAt:  ev.CreatedAt,
			Virksomheter: virksomheter,
		},
	}}, nil
}

func latestTilfelle(list []TilfelleDTO) *TilfelleDTO {
	var latest *TilfelleDTO
	for i := range list {
		if latest == nil || list[i].Start.After(latest.Start.Time) {
			latest = &list[i]
		}
	}
	return latest
}
