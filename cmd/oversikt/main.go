// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

// Package main is the entry point for the Oversikt server.
//
// Oversikt maintains one continuously updated status row per person on
// sick leave by consuming the upstream status streams, and reconciles
// slowly drifting state (unit assignments, lapsed caseworker assignments,
// collaborator caches) with leader-elected periodic jobs. A small HTTP API
// serves the projected aggregates per person and per unit.
//
// Startup order:
//
//  1. Configuration (koanf: defaults, YAML file, environment)
//  2. Logging (zerolog)
//  3. Postgres pool and schema
//  4. Merge engine and NATS JetStream subscriber
//  5. Supervision tree: stream consumers, job runners, HTTP server
//  6. Readiness flag up; SIGINT/SIGTERM flips it down and drains
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/helsearbeid/oversikt/internal/api"
	"github.com/helsearbeid/oversikt/internal/clients"
	"github.com/helsearbeid/oversikt/internal/config"
	"github.com/helsearbeid/oversikt/internal/consumer"
	"github.com/helsearbeid/oversikt/internal/jobs"
	"github.com/helsearbeid/oversikt/internal/leaderelection"
	"github.com/helsearbeid/oversikt/internal/logging"
	"github.com/helsearbeid/oversikt/internal/projection"
	"github.com/helsearbeid/oversikt/internal/ready"
	"github.com/helsearbeid/oversikt/internal/scheduler"
	"github.com/helsearbeid/oversikt/internal/store"
	"github.com/helsearbeid/oversikt/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logging.Info().Str("pod", cfg.PodName).Msg("Oversikt starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	sub, err := consumer.NewSubscriber(cfg.NATS)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create stream subscriber")
	}
	defer func() {
		if err := sub.Close(); err != nil {
			logging.Warn().Err(err).Msg("Subscriber close failed")
		}
	}()

	engine := projection.NewEngine(st, st)
	readyFlag := &ready.Flag{}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	for _, spec := range consumer.Streams() {
		loop := consumer.NewLoop(sub, engine, spec, cfg.NATS.BatchSize, cfg.NATS.PollTimeout)
		tree.AddStreamService(supervisor.NewStreamService(loop))
	}

	leader := leaderelection.New(cfg.Elector, cfg.PodName)

	if cfg.Jobs.UnitReconciliation.Enabled {
		lookup := clients.NewUnitLookupClient(cfg.Clients)
		job := jobs.NewUnitReconciliation(st, lookup, cfg.Jobs.UnitReconciliation)
		tree.AddReconcileService(scheduler.NewRunner(job, leader, readyFlag))
	}
	if cfg.Jobs.CachePreload.Enabled {
		warmer := clients.NewCacheWarmClient(cfg.Clients)
		job := jobs.NewCachePreload(st, warmer, cfg.Jobs.CachePreload)
		tree.AddReconcileService(scheduler.NewRunner(job, leader, readyFlag))
	}
	if cfg.Jobs.Reaper.Enabled {
		job := jobs.NewReaper(st, cfg.Jobs.Reaper)
		tree.AddReconcileService(scheduler.NewRunner(job, leader, readyFlag))
	}

	handler := api.NewHandler(api.NewStoreReader(st), readyFlag)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handler, cfg.Server),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, supervisor.DefaultTreeConfig().ShutdownTimeout))

	errCh := tree.ServeBackground(ctx)
	readyFlag.Up()
	logging.Info().Str("addr", cfg.Server.Addr()).Msg("Oversikt ready")

	var treeErr error
	treeDone := false
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
	case treeErr = <-errCh:
		treeDone = true
	}

	readyFlag.Down()
	stop()
	if !treeDone {
		treeErr = <-errCh
	}
	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		logging.Error().Err(treeErr).Msg("Supervision tree terminated with error")
	}
	logging.Info().Msg("Oversikt stopped")
}
