// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helsearbeid/oversikt/internal/config"
	"github.com/helsearbeid/oversikt/internal/metrics"
)

// NewRouter assembles the read API routes.
func NewRouter(handler *Handler, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health/alive", handler.HealthAlive)
	r.Get("/health/ready", handler.HealthReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		r.Use(requestMetrics)

		r.Get("/persons/{ident}", handler.GetPerson)
		r.Get("/persons", handler.ListPersons)
		r.Get("/enheter", handler.ListEnheter)
	})

	return r
}

// requestMetrics records request counts and latency per route pattern.
// Patterns, not raw paths, keep person idents out of metric labels.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		metrics.RecordAPIRequest(r.Method, pattern, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
