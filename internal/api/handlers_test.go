// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helsearbeid/oversikt/internal/config"
	"github.com/helsearbeid/oversikt/internal/models"
	"github.com/helsearbeid/oversikt/internal/ready"
	"github.com/helsearbeid/oversikt/internal/store"
)

const testIdent = models.PersonIdent("12345678901")

type fakeReader struct {
	aggs    map[models.PersonIdent]*models.StatusAggregate
	byEnhet map[string][]*models.StatusAggregate
	enheter []string
	pingErr error
	err     error
}

func (f *fakeReader) GetByIdent(_ context.Context, ident models.PersonIdent) (*models.StatusAggregate, error) {
	if f.err != nil {
		return nil, f.err
	}
	agg, ok := f.aggs[ident]
	if !ok {
		return nil, store.ErrNotFound
	}
	return agg, nil
}

func (f *fakeReader) ListByEnhet(_ context.Context, enhet string) ([]*models.StatusAggregate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byEnhet[enhet], nil
}

func (f *fakeReader) ListDistinctEnheter(_ context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.enheter, nil
}

func (f *fakeReader) Ping(_ context.Context) error { return f.pingErr }

func testRouter(reader Reader, up bool) http.Handler {
	flag := &ready.Flag{}
	if up {
		flag.Up()
	}
	return NewRouter(NewHandler(reader, flag), config.ServerConfig{
		RateLimitReqs:   100,
		RateLimitWindow: time.Minute,
	})
}

func doRequest(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestGetPersonReturnsDTO(t *testing.T) {
	enhet := "0314"
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	agg := models.NewStatusAggregate(testIdent, ts)
	agg.Enhet = &enhet
	agg.MotebehovUbehandlet = models.TrackOf(true, nil)
	agg.Motestatus = models.TrackOf(models.MotestatusInnkalt, &ts)

	reader := &fakeReader{aggs: map[models.PersonIdent]*models.StatusAggregate{testIdent: agg}}
	rec, resp := doRequest(t, testRouter(reader, true), http.MethodGet, "/api/v1/persons/12345678901")

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var dto PersonStatusDTO
	require.NoError(t, json.Unmarshal(raw, &dto))

	assert.Equal(t, "12345678901", dto.PersonIdent)
	require.NotNil(t, dto.Enhet)
	assert.Equal(t, "0314", *dto.Enhet)
	require.NotNil(t, dto.MotebehovUbehandlet)
	assert.True(t, *dto.MotebehovUbehandlet)
	require.NotNil(t, dto.Motestatus)
	assert.Equal(t, "INNKALT", *dto.Motestatus)
	assert.Nil(t, dto.Dialogmotekandidat, "unseen tracks serialize as null")
	assert.Nil(t, dto.LatestTilfelle)
}

func TestGetPersonNotFound(t *testing.T) {
	rec, resp := doRequest(t, testRouter(&fakeReader{}, true), http.MethodGet, "/api/v1/persons/12345678901")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestGetPersonRejectsMalformedIdent(t *testing.T) {
	tests := []string{"123", "123456789012", "1234567890a"}
	for _, ident := range tests {
		t.Run(ident, func(t *testing.T) {
			rec, resp := doRequest(t, testRouter(&fakeReader{}, true), http.MethodGet, "/api/v1/persons/"+ident)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, ErrCodeBadRequest, resp.Error.Code)
		})
	}
}

func TestGetPersonInternalError(t *testing.T) {
	reader := &fakeReader{err: errors.New("pool exhausted")}
	rec, resp := doRequest(t, testRouter(reader, true), http.MethodGet, "/api/v1/persons/12345678901")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
}

func TestListPersonsByEnhet(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	reader := &fakeReader{byEnhet: map[string][]*models.StatusAggregate{
		"0314": {
			models.NewStatusAggregate(testIdent, ts),
			models.NewStatusAggregate("10987654321", ts),
		},
	}}

	rec, resp := doRequest(t, testRouter(reader, true), http.MethodGet, "/api/v1/persons?enhet=0314")
	require.Equal(t, http.StatusOK, rec.Code)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var dtos []PersonStatusDTO
	require.NoError(t, json.Unmarshal(raw, &dtos))
	assert.Len(t, dtos, 2)
}

func TestListPersonsRequiresEnhet(t *testing.T) {
	rec, resp := doRequest(t, testRouter(&fakeReader{}, true), http.MethodGet, "/api/v1/persons")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeBadRequest, resp.Error.Code)
}

func TestListPersonsEmptyUnitReturnsEmptyList(t *testing.T) {
	rec, resp := doRequest(t, testRouter(&fakeReader{}, true), http.MethodGet, "/api/v1/persons?enhet=0314")
	require.Equal(t, http.StatusOK, rec.Code)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestListEnheter(t *testing.T) {
	reader := &fakeReader{enheter: []string{"0219", "0314"}}
	rec, resp := doRequest(t, testRouter(reader, true), http.MethodGet, "/api/v1/enheter")
	require.Equal(t, http.StatusOK, rec.Code)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var enheter []string
	require.NoError(t, json.Unmarshal(raw, &enheter))
	assert.Equal(t, []string{"0219", "0314"}, enheter)
}

func TestHealthAlive(t *testing.T) {
	rec, resp := doRequest(t, testRouter(&fakeReader{}, false), http.MethodGet, "/health/alive")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name     string
		up       bool
		pingErr  error
		wantCode int
	}{
		{"ready", true, nil, http.StatusOK},
		{"startup incomplete", false, nil, http.StatusServiceUnavailable},
		{"store down", true, errors.New("no connection"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &fakeReader{pingErr: tt.pingErr}
			rec, resp := doRequest(t, testRouter(reader, tt.up), http.MethodGet, "/health/ready")
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				require.NotNil(t, resp.Error)
				assert.Equal(t, ErrCodeServiceUnavailable, resp.Error.Code)
			}
		})
	}
}
