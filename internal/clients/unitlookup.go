// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/helsearbeid/oversikt/internal/config"
	"github.com/helsearbeid/oversikt/internal/models"
)

// UnitLookup resolves a person's current responsible unit from the unit
// registry.
type UnitLookup interface {
	GetUnit(ctx context.Context, ident models.PersonIdent) (string, error)
}

// UnitLookupClient is the HTTP implementation of UnitLookup.
type UnitLookupClient struct {
	client *http.Client
	url    string
	cb     *gobreaker.CircuitBreaker[string]
}

// NewUnitLookupClient creates the unit registry client from config.
func NewUnitLookupClient(cfg config.ClientsConfig) *UnitLookupClient {
	return &UnitLookupClient{
		client: &http.Client{Timeout: cfg.Timeout},
		url:    cfg.UnitLookupURL,
		cb:     newBreaker[string]("unit-lookup"),
	}
}

type unitLookupRequest struct {
	PersonIdent string `json:"personIdent"`
}

type unitLookupResponse struct {
	EnhetID string `json:"enhetId"`
}

// GetUnit returns the responsible unit id for a person. The ident travels
// in the request body, never in the URL.
func (c *UnitLookupClient) GetUnit(ctx context.Context, ident models.PersonIdent) (string, error) {
	unit, err := c.cb.Execute(func() (string, error) {
		return c.getUnit(ctx, ident)
	})
	recordBreakerResult("unit-lookup", err)
	return unit, err
}

func (c *UnitLookupClient) getUnit(ctx context.Context, ident models.PersonIdent) (string, error) {
	body, err := json.Marshal(unitLookupRequest{PersonIdent: string(ident)})
	if err != nil {
		return "", fmt.Errorf("encode unit lookup request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build unit lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("unit lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unit lookup returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read unit lookup response: %w", err)
	}

	var decoded unitLookupResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode unit lookup response: %w", err)
	}
	if decoded.EnhetID == "" {
		return "", fmt.Errorf("unit lookup response missing enhetId")
	}
	return decoded.EnhetID, nil
}
