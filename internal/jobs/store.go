// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helsearbeid/oversikt/internal/models"
	"github.com/helsearbeid/oversikt/internal/store"
)

// Store is the aggregate store surface the jobs use.
// Satisfied by *store.Store; faked in tests.
type Store interface {
	Pool() *pgxpool.Pool
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error

	ListStaleEnhet(ctx context.Context, q store.Querier, cutoff time.Time, limit int) ([]*models.StatusAggregate, error)
	ListDistinctEnheter(ctx context.Context, q store.Querier) ([]string, error)
	ListIdentsByEnhet(ctx context.Context, q store.Querier, enhet string) ([]models.PersonIdent, error)
	ListReaperCandidates(ctx context.Context, q store.Querier, endBefore, modifiedBefore time.Time, limit int) ([]models.PersonIdent, error)

	UpdateEnhet(ctx context.Context, tx pgx.Tx, ident models.PersonIdent, enhet string) error
	TouchEnhetUpdatedAt(ctx context.Context, tx pgx.Tx, ident models.PersonIdent) error
	ClearVeileder(ctx context.Context, tx pgx.Tx, ident models.PersonIdent) error
}
