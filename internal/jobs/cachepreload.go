// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/helsearbeid/oversikt/internal/clients"
	"github.com/helsearbeid/oversikt/internal/config"
	"github.com/helsearbeid/oversikt/internal/logging"
	"github.com/helsearbeid/oversikt/internal/scheduler"
)

// CachePreload walks every known unit and pushes its persons to the
// person-detail service in fixed-size batches so overview queries hit a
// warm cache. A failed batch is tallied and the walk continues with the
// next one.
type CachePreload struct {
	store  Store
	warmer clients.CacheWarmer
	cfg    config.CachePreloadConfig
}

// NewCachePreload creates the cache warming job.
func NewCachePreload(s Store, warmer clients.CacheWarmer, cfg config.CachePreloadConfig) *CachePreload {
	return &CachePreload{store: s, warmer: warmer, cfg: cfg}
}

func (j *CachePreload) Name() string                { return "cache-preload" }
func (j *CachePreload) InitialDelay() time.Duration { return j.cfg.InitialDelay }
func (j *CachePreload) Interval() time.Duration     { return j.cfg.Interval }

// Run preloads every unit's persons. Stats count batches, not persons.
func (j *CachePreload) Run(ctx context.Context) (scheduler.Stats, error) {
	var stats scheduler.Stats

	enheter, err := j.store.ListDistinctEnheter(ctx, j.store.Pool())
	if err != nil {
		return stats, fmt.Errorf("list units: %w", err)
	}

	for _, enhet := range enheter {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		idents, err := j.store.ListIdentsByEnhet(ctx, j.store.Pool(), enhet)
		if err != nil {
			stats.Failed++
			logging.Warn().Err(err).Str("enhet", enhet).Msg("Cache preload listing failed")
			continue
		}

		for start := 0; start < len(idents); start += j.cfg.BatchSize {
			end := min(start+j.cfg.BatchSize, len(idents))
			if err := j.warmer.Preload(ctx, idents[start:end]); err != nil {
				stats.Failed++
				logging.Warn().
					Err(err).
					Str("enhet", enhet).
					Int("batch_size", end-start).
					Msg("Cache preload batch failed")
				continue
			}
			stats.Updated++
		}
	}
	return stats, nil
}
