// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

// Package store is the Postgres-backed aggregate store.
//
// All mutating operations execute within a caller-supplied transaction so a
// batch of merges commits or rolls back atomically. Reads accept any Querier
// (pool or transaction). Concurrent writers are serialized per row by
// Postgres row locks plus the person_ident uniqueness constraint; create
// races surface as ErrDuplicateIdent for the caller to retry.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helsearbeid/oversikt/internal/config"
	"github.com/helsearbeid/oversikt/internal/logging"
)

var (
	// ErrNotFound is returned when no aggregate exists for an ident.
	ErrNotFound = errors.New("status aggregate not found")

	// ErrDuplicateIdent is returned when creating an aggregate loses a race
	// with a concurrent creator for the same ident.
	ErrDuplicateIdent = errors.New("status aggregate already exists")
)

// Querier is the subset of pgx shared by pgxpool.Pool and pgx.Tx.
// Read operations accept a Querier so they run against either.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides access to the person status aggregate table.
type Store struct {
	pool *pgxpool.Pool

	// now is injectable for tests.
	now func() time.Time
}

// New connects a pgx pool and returns a Store. Pool construction is lazy;
// connection failures surface on first use, leaving retry to the consumer
// loops so one unreachable database never crashes the process at startup.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	logging.Info().Int32("max_conns", cfg.MaxConns).Msg("Aggregate store pool created")

	return &Store{pool: pool, now: time.Now}, nil
}

// NewWithPool wraps an existing pool. Used by integration tests.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Pool exposes the underlying pool for read paths outside a transaction.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. The merge engine wraps each batch in one WithTx call.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logging.Warn().Err(rbErr).Msg("Transaction rollback failed")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
