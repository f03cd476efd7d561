// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helsearbeid/oversikt/internal/config"
	"github.com/helsearbeid/oversikt/internal/models"
)

const testIdent = models.PersonIdent("12345678901")

func TestUnitLookupSendsIdentInBody(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotPath = r.URL.Path
		gotBody = string(raw)
		_, _ = w.Write([]byte(`{"enhetId":"0314"}`))
	}))
	defer srv.Close()

	c := NewUnitLookupClient(config.ClientsConfig{UnitLookupURL: srv.URL + "/enhet", Timeout: time.Second})
	unit, err := c.GetUnit(context.Background(), testIdent)
	require.NoError(t, err)
	assert.Equal(t, "0314", unit)

	assert.JSONEq(t, `{"personIdent":"12345678901"}`, gotBody)
	assert.NotContains(t, gotPath, string(testIdent), "ident must never appear in the URL")
}

func TestUnitLookupRejectsEmptyUnit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"enhetId":""}`))
	}))
	defer srv.Close()

	c := NewUnitLookupClient(config.ClientsConfig{UnitLookupURL: srv.URL, Timeout: time.Second})
	_, err := c.GetUnit(context.Background(), testIdent)
	assert.ErrorContains(t, err, "missing enhetId")
}

func TestUnitLookupErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewUnitLookupClient(config.ClientsConfig{UnitLookupURL: srv.URL, Timeout: time.Second})
	_, err := c.GetUnit(context.Background(), testIdent)
	assert.ErrorContains(t, err, "status 502")
}

func TestCacheWarmSendsBatch(t *testing.T) {
	var got cacheWarmRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewCacheWarmClient(config.ClientsConfig{CacheWarmURL: srv.URL, Timeout: time.Second})
	err := c.Preload(context.Background(), []models.PersonIdent{testIdent, "10987654321"})
	require.NoError(t, err)
	assert.Equal(t, []string{"12345678901", "10987654321"}, got.PersonIdenter)
}

func TestCacheWarmEmptyBatchSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewCacheWarmClient(config.ClientsConfig{CacheWarmURL: srv.URL, Timeout: time.Second})
	require.NoError(t, c.Preload(context.Background(), nil))
	assert.False(t, called)
}

func TestCacheWarmErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewCacheWarmClient(config.ClientsConfig{CacheWarmURL: srv.URL, Timeout: time.Second})
	err := c.Preload(context.Background(), []models.PersonIdent{testIdent})
	assert.ErrorContains(t, err, "status 503")
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewUnitLookupClient(config.ClientsConfig{UnitLookupURL: srv.URL, Timeout: time.Second})

	// The breaker trips at 60% failures over at least 10 requests.
	for range 12 {
		_, _ = c.GetUnit(context.Background(), testIdent)
	}
	_, err := c.GetUnit(context.Background(), testIdent)
	assert.ErrorContains(t, err, "circuit breaker is open")
}
