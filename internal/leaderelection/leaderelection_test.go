// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package leaderelection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/helsearbeid/oversikt/internal/config"
)

func electorStub(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newChecker(url, podName string) *Checker {
	return New(config.ElectorConfig{URL: url, Timeout: time.Second}, podName)
}

func TestIsLeaderWhenPodNameMatches(t *testing.T) {
	srv := electorStub(t, http.StatusOK, `{"name":"oversikt-7d9f"}`)
	c := newChecker(srv.URL, "oversikt-7d9f")
	assert.True(t, c.IsLeader(context.Background()))
}

func TestIsLeaderFalseWhenAnotherPodLeads(t *testing.T) {
	srv := electorStub(t, http.StatusOK, `{"name":"oversikt-b2c1"}`)
	c := newChecker(srv.URL, "oversikt-7d9f")
	assert.False(t, c.IsLeader(context.Background()))
}

func TestIsLeaderFailsSafe(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"elector error status", http.StatusInternalServerError, ""},
		{"malformed body", http.StatusOK, `{"name":`},
		{"empty leader name", http.StatusOK, `{"name":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := electorStub(t, tt.status, tt.body)
			c := newChecker(srv.URL, "oversikt-7d9f")
			assert.False(t, c.IsLeader(context.Background()))
		})
	}
}

func TestIsLeaderFalseWhenElectorUnreachable(t *testing.T) {
	srv := electorStub(t, http.StatusOK, `{"name":"oversikt-7d9f"}`)
	url := srv.URL
	srv.Close()

	c := newChecker(url, "oversikt-7d9f")
	assert.False(t, c.IsLeader(context.Background()))
}
