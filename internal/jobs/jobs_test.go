// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helsearbeid/oversikt/internal/config"
	"github.com/helsearbeid/oversikt/internal/models"
	"github.com/helsearbeid/oversikt/internal/store"
)

const (
	identA = models.PersonIdent("12345678901")
	identB = models.PersonIdent("10987654321")
)

type fakeJobStore struct {
	staleAggs        []*models.StatusAggregate
	reaperCandidates []models.PersonIdent
	enheter          []string
	identsByEnhet    map[string][]models.PersonIdent

	gotStaleCutoff    time.Time
	gotEndBefore      time.Time
	gotModifiedBefore time.Time

	updatedEnhet map[models.PersonIdent]string
	touched      []models.PersonIdent
	cleared      []models.PersonIdent
	failClearFor models.PersonIdent
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		identsByEnhet: make(map[string][]models.PersonIdent),
		updatedEnhet:  make(map[models.PersonIdent]string),
	}
}

func (f *fakeJobStore) Pool() *pgxpool.Pool { return nil }

func (f *fakeJobStore) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (f *fakeJobStore) ListStaleEnhet(_ context.Context, _ store.Querier, cutoff time.Time, _ int) ([]*models.StatusAggregate, error) {
	f.gotStaleCutoff = cutoff
	return f.staleAggs, nil
}

func (f *fakeJobStore) ListDistinctEnheter(_ context.Context, _ store.Querier) ([]string, error) {
	return f.enheter, nil
}

func (f *fakeJobStore) ListIdentsByEnhet(_ context.Context, _ store.Querier, enhet string) ([]models.PersonIdent, error) {
	return f.identsByEnhet[enhet], nil
}

func (f *fakeJobStore) ListReaperCandidates(_ context.Context, _ store.Querier, endBefore, modifiedBefore time.Time, _ int) ([]models.PersonIdent, error) {
	f.gotEndBefore = endBefore
	f.gotModifiedBefore = modifiedBefore
	return f.reaperCandidates, nil
}

func (f *fakeJobStore) UpdateEnhet(_ context.Context, _ pgx.Tx, ident models.PersonIdent, enhet string) error {
	f.updatedEnhet[ident] = enhet
	return nil
}

func (f *fakeJobStore) TouchEnhetUpdatedAt(_ context.Context, _ pgx.Tx, ident models.PersonIdent) error {
	f.touched = append(f.touched, ident)
	return nil
}

func (f *fakeJobStore) ClearVeileder(_ context.Context, _ pgx.Tx, ident models.PersonIdent) error {
	if ident == f.failClearFor {
		return errors.New("clear failed")
	}
	f.cleared = append(f.cleared, ident)
	return nil
}

type fakeLookup struct {
	units map[models.PersonIdent]string
	err   error
}

func (f *fakeLookup) GetUnit(_ context.Context, ident models.PersonIdent) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.units[ident], nil
}

type fakeWarmer struct {
	batches [][]models.PersonIdent
	err     error
}

func (f *fakeWarmer) Preload(_ context.Context, idents []models.PersonIdent) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, idents)
	return nil
}

func aggWithEnhet(ident models.PersonIdent, enhet string) *models.StatusAggregate {
	agg := models.NewStatusAggregate(ident, time.Now())
	if enhet != "" {
		agg.Enhet = &enhet
	}
	return agg
}

func TestUnitReconciliationUpdatesChangedUnit(t *testing.T) {
	fs := newFakeJobStore()
	fs.staleAggs = []*models.StatusAggregate{
		aggWithEnhet(identA, "0314"),
		aggWithEnhet(identB, "0219"),
	}
	lookup := &fakeLookup{units: map[models.PersonIdent]string{
		identA: "0626",
		identB: "0219",
	}}

	job := NewUnitReconciliation(fs, lookup, config.UnitReconciliationConfig{
		StaleAfter: 24 * time.Hour,
		BatchLimit: 100,
	})

	stats, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Unchanged)
	assert.Zero(t, stats.Failed)

	assert.Equal(t, "0626", fs.updatedEnhet[identA])
	assert.Equal(t, []models.PersonIdent{identB}, fs.touched, "unchanged unit only advances the check timestamp")
}

func TestUnitReconciliationAssignsUnitToUnassignedRow(t *testing.T) {
	fs := newFakeJobStore()
	fs.staleAggs = []*models.StatusAggregate{aggWithEnhet(identA, "")}
	lookup := &fakeLookup{units: map[models.PersonIdent]string{identA: "0314"}}

	job := NewUnitReconciliation(fs, lookup, config.UnitReconciliationConfig{StaleAfter: time.Hour})
	stats, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, "0314", fs.updatedEnhet[identA])
}

func TestUnitReconciliationIsolatesLookupFailures(t *testing.T) {
	fs := newFakeJobStore()
	fs.staleAggs = []*models.StatusAggregate{aggWithEnhet(identA, "0314")}
	lookup := &fakeLookup{err: errors.New("registry down")}

	job := NewUnitReconciliation(fs, lookup, config.UnitReconciliationConfig{StaleAfter: time.Hour})
	stats, err := job.Run(context.Background())
	require.NoError(t, err, "candidate failures never fail the run")
	assert.Equal(t, 1, stats.Failed)
	assert.Empty(t, fs.updatedEnhet)
	assert.Empty(t, fs.touched)
}

func TestUnitReconciliationCutoff(t *testing.T) {
	fs := newFakeJobStore()
	job := NewUnitReconciliation(fs, &fakeLookup{}, config.UnitReconciliationConfig{
		StaleAfter: 24 * time.Hour,
	})
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	_, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), fs.gotStaleCutoff)
}

func TestCachePreloadBatchesPerUnit(t *testing.T) {
	fs := newFakeJobStore()
	fs.enheter = []string{"0314", "0219"}
	fs.identsByEnhet["0314"] = []models.PersonIdent{identA, identB, "11111111111"}
	fs.identsByEnhet["0219"] = []models.PersonIdent{"22222222222"}
	warmer := &fakeWarmer{}

	job := NewCachePreload(fs, warmer, config.CachePreloadConfig{BatchSize: 2})
	stats, err := job.Run(context.Background())
	require.NoError(t, err)

	// 0314 splits into two batches, 0219 into one.
	assert.Equal(t, 3, stats.Updated)
	require.Len(t, warmer.batches, 3)
	assert.Len(t, warmer.batches[0], 2)
	assert.Len(t, warmer.batches[1], 1)
}

func TestCachePreloadToleratesWarmerFailure(t *testing.T) {
	fs := newFakeJobStore()
	fs.enheter = []string{"0314"}
	fs.identsByEnhet["0314"] = []models.PersonIdent{identA}
	warmer := &fakeWarmer{err: errors.New("unavailable")}

	job := NewCachePreload(fs, warmer, config.CachePreloadConfig{BatchSize: 50})
	stats, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestReaperClearsCandidatesWithBothCutoffs(t *testing.T) {
	fs := newFakeJobStore()
	fs.reaperCandidates = []models.PersonIdent{identA, identB}

	job := NewReaper(fs, config.ReaperConfig{
		TilfelleGrace:     60 * 24 * time.Hour,
		LastModifiedGrace: 30 * 24 * time.Hour,
		BatchLimit:        100,
	})
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	stats, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Updated)
	assert.ElementsMatch(t, []models.PersonIdent{identA, identB}, fs.cleared)

	assert.Equal(t, now.Add(-60*24*time.Hour), fs.gotEndBefore)
	assert.Equal(t, now.Add(-30*24*time.Hour), fs.gotModifiedBefore)
}

func TestReaperIsolatesClearFailures(t *testing.T) {
	fs := newFakeJobStore()
	fs.reaperCandidates = []models.PersonIdent{identA, identB}
	fs.failClearFor = identA

	job := NewReaper(fs, config.ReaperConfig{
		TilfelleGrace:     60 * 24 * time.Hour,
		LastModifiedGrace: 30 * 24 * time.Hour,
	})
	stats, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []models.PersonIdent{identB}, fs.cleared)
}
