// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package clients

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/helsearbeid/oversikt/internal/config"
	"github.com/helsearbeid/oversikt/internal/models"
)

// CacheWarmer asks the person-detail service to prefetch a batch of
// persons into its cache.
type CacheWarmer interface {
	Preload(ctx context.Context, idents []models.PersonIdent) error
}

// CacheWarmClient is the HTTP implementation of CacheWarmer.
type CacheWarmClient struct {
	client *http.Client
	url    string
	cb     *gobreaker.CircuitBreaker[struct{}]
}

// NewCacheWarmClient creates the cache-warm client from config.
func NewCacheWarmClient(cfg config.ClientsConfig) *CacheWarmClient {
	return &CacheWarmClient{
		client: &http.Client{Timeout: cfg.Timeout},
		url:    cfg.CacheWarmURL,
		cb:     newBreaker[struct{}]("cache-warm"),
	}
}

type cacheWarmRequest struct {
	PersonIdenter []string `json:"personIdenter"`
}

// Preload submits one batch of idents for prefetching. Idents travel in
// the request body, never in the URL.
func (c *CacheWarmClient) Preload(ctx context.Context, idents []models.PersonIdent) error {
	if len(idents) == 0 {
		return nil
	}

	_, err := c.cb.Execute(func() (struct{}, error) {
		return struct{}{}, c.preload(ctx, idents)
	})
	recordBreakerResult("cache-warm", err)
	return err
}

func (c *CacheWarmClient) preload(ctx context.Context, idents []models.PersonIdent) error {
	payload := cacheWarmRequest{PersonIdenter: make([]string, 0, len(idents))}
	for _, ident := range idents {
		payload.PersonIdenter = append(payload.PersonIdenter, string(ident))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode cache warm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build cache warm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cache warm: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("cache warm returned status %d", resp.StatusCode)
	}
	return nil
}
