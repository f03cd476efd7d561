// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// StreamLoop is the consumer loop contract wrapped as a supervised service.
type StreamLoop interface {
	Name() string
	Run(ctx context.Context) error
}

// StreamService runs one consumer loop under supervision. A loop error
// (including a closed subscription channel) surfaces to suture, which
// restarts the loop and thereby resubscribes.
type StreamService struct {
	loop StreamLoop
}

// NewStreamService wraps a consumer loop.
func NewStreamService(loop StreamLoop) *StreamService {
	return &StreamService{loop: loop}
}

func (s *StreamService) String() string {
	return "stream/" + s.loop.Name()
}

// Serve implements suture.Service.
func (s *StreamService) Serve(ctx context.Context) error {
	return s.loop.Run(ctx)
}

// HTTPServer matches *http.Server's lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService wraps the blocking ListenAndServe pattern as a supervised
// service with graceful shutdown on context cancellation.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService wraps an HTTP server.
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) String() string {
	return "http-server"
}

// Serve implements suture.Service. http.ErrServerClosed is expected on
// shutdown and converted to the context's error.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return ctx.Err()
	}
}
