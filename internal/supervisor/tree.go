// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

// Package supervisor builds the process's supervision tree. Three child
// supervisors isolate failures: a crashing stream consumer is restarted
// without touching the scheduler, and neither brings down the read API.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	FailureDecay float64

	// FailureBackoff is the duration to wait when the threshold is exceeded.
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's documented production defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the supervision hierarchy:
//   - streams: one service per upstream stream consumer
//   - reconcile: one service per scheduled job
//   - api: the HTTP server
type Tree struct {
	root      *suture.Supervisor
	streams   *suture.Supervisor
	reconcile *suture.Supervisor
	api       *suture.Supervisor
}

// NewTree creates the supervision tree. Supervisor lifecycle events are
// logged through the given slog logger.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logger}

	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("oversikt", rootSpec)
	streams := suture.New("streams-layer", childSpec)
	reconcile := suture.New("reconcile-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(streams)
	root.Add(reconcile)
	root.Add(api)

	return &Tree{root: root, streams: streams, reconcile: reconcile, api: api}
}

// AddStreamService adds a stream consumer to the streams layer.
func (t *Tree) AddStreamService(svc suture.Service) suture.ServiceToken {
	return t.streams.Add(svc)
}

// AddReconcileService adds a job runner to the reconcile layer.
func (t *Tree) AddReconcileService(svc suture.Service) suture.ServiceToken {
	return t.reconcile.Add(svc)
}

// AddAPIService adds the HTTP server to the api layer.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until the context is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a background goroutine and returns the
// channel that receives the terminal error.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}
