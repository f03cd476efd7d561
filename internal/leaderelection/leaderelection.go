// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

// Package leaderelection answers "is this replica the leader right now" by
// polling the elector sidecar over HTTP. The check is fail safe: any
// transport, decode, or HTTP error reports non-leader, so a broken elector
// pauses reconciliation on every replica rather than running it twice.
package leaderelection

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/helsearbeid/oversikt/internal/config"
	"github.com/helsearbeid/oversikt/internal/logging"
	"github.com/helsearbeid/oversikt/internal/metrics"
)

// electedLeader is the elector sidecar's response body.
type electedLeader struct {
	Name string `json:"name"`
}

// Checker polls the elector sidecar and compares the elected pod name
// against this replica's own.
type Checker struct {
	client  *http.Client
	url     string
	podName string
}

// New creates a leadership checker from config.
func New(cfg config.ElectorConfig, podName string) *Checker {
	return &Checker{
		client:  &http.Client{Timeout: cfg.Timeout},
		url:     cfg.URL,
		podName: podName,
	}
}

// IsLeader reports whether this replica currently holds leadership.
// Errors are logged, counted, and reported as non-leader.
func (c *Checker) IsLeader(ctx context.Context) bool {
	leader, err := c.currentLeader(ctx)
	isLeader := err == nil && leader == c.podName
	metrics.RecordLeaderCheck(isLeader, err)

	if err != nil {
		logging.Warn().Err(err).Msg("Leader check failed, assuming non-leader")
	}
	return isLeader
}

func (c *Checker) currentLeader(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("build elector request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query elector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("elector returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("read elector response: %w", err)
	}

	var elected electedLeader
	if err := json.Unmarshal(body, &elected); err != nil {
		return "", fmt.Errorf("decode elector response: %w", err)
	}
	if elected.Name == "" {
		return "", fmt.Errorf("elector response missing leader name")
	}
	return elected.Name, nil
}
