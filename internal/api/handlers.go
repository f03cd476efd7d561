// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helsearbeid/oversikt/internal/logging"
	"github.com/helsearbeid/oversikt/internal/models"
	"github.com/helsearbeid/oversikt/internal/ready"
	"github.com/helsearbeid/oversikt/internal/store"
)

// Reader is the aggregate read surface the handlers query.
// Satisfied by *StoreReader; faked in tests.
type Reader interface {
	GetByIdent(ctx context.Context, ident models.PersonIdent) (*models.StatusAggregate, error)
	ListByEnhet(ctx context.Context, enhet string) ([]*models.StatusAggregate, error)
	ListDistinctEnheter(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// StoreReader adapts the aggregate store's pool-level reads to the handler
// surface.
type StoreReader struct {
	store *store.Store
}

// NewStoreReader wraps the aggregate store for the API.
func NewStoreReader(s *store.Store) *StoreReader {
	return &StoreReader{store: s}
}

func (r *StoreReader) GetByIdent(ctx context.Context, ident models.PersonIdent) (*models.StatusAggregate, error) {
	return r.store.GetByIdent(ctx, r.store.Pool(), ident)
}

func (r *StoreReader) ListByEnhet(ctx context.Context, enhet string) ([]*models.StatusAggregate, error) {
	return r.store.ListByEnhet(ctx, r.store.Pool(), enhet)
}

func (r *StoreReader) ListDistinctEnheter(ctx context.Context) ([]string, error) {
	return r.store.ListDistinctEnheter(ctx, r.store.Pool())
}

func (r *StoreReader) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Handler serves the read API.
type Handler struct {
	reader   Reader
	ready    *ready.Flag
	validate *validator.Validate
}

// NewHandler creates the API handler set.
func NewHandler(reader Reader, readyFlag *ready.Flag) *Handler {
	return &Handler{
		reader:   reader,
		ready:    readyFlag,
		validate: validator.New(),
	}
}

type personParams struct {
	Ident string `validate:"required,len=11,numeric"`
}

type enhetParams struct {
	Enhet string `validate:"required,min=4,max=6,numeric"`
}

// GetPerson returns one person's status aggregate.
func (h *Handler) GetPerson(w http.ResponseWriter, r *http.Request) {
	params := personParams{Ident: chi.URLParam(r, "ident")}
	if err := h.validate.Struct(params); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid person ident")
		return
	}

	agg, err := h.reader.GetByIdent(r.Context(), models.PersonIdent(params.Ident))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "person not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("Person lookup failed")
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "lookup failed")
		return
	}

	writeSuccess(w, toPersonStatusDTO(agg))
}

// ListPersons returns the status aggregates for one unit.
func (h *Handler) ListPersons(w http.ResponseWriter, r *http.Request) {
	params := enhetParams{Enhet: r.URL.Query().Get("enhet")}
	if err := h.validate.Struct(params); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid or missing enhet parameter")
		return
	}

	aggs, err := h.reader.ListByEnhet(r.Context(), params.Enhet)
	if err != nil {
		logging.Error().Err(err).Str("enhet", params.Enhet).Msg("Unit listing failed")
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "listing failed")
		return
	}

	dtos := make([]PersonStatusDTO, 0, len(aggs))
	for _, agg := range aggs {
		dtos = append(dtos, toPersonStatusDTO(agg))
	}
	writeSuccess(w, dtos)
}

// ListEnheter returns every unit with at least one tracked person.
func (h *Handler) ListEnheter(w http.ResponseWriter, r *http.Request) {
	enheter, err := h.reader.ListDistinctEnheter(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Unit enumeration failed")
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "listing failed")
		return
	}
	writeSuccess(w, enheter)
}

// HealthAlive reports process liveness.
func (h *Handler) HealthAlive(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, map[string]string{"status": "alive"})
}

// HealthReady reports readiness: the startup sequence completed and the
// store answers.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if !h.ready.IsUp() {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "not ready")
		return
	}
	if err := h.reader.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "store unavailable")
		return
	}
	writeSuccess(w, map[string]string{"status": "ready"})
}
