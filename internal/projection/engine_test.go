// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package projection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helsearbeid/oversikt/internal/models"
	"github.com/helsearbeid/oversikt/internal/store"
)

const (
	identA = models.PersonIdent("12345678901")
	identB = models.PersonIdent("10987654321")
)

// fakeStore keeps aggregates in memory and mimics the store's sentinel
// errors, including the create-race duplicate.
type fakeStore struct {
	aggs map[models.PersonIdent]*models.StatusAggregate

	// hiddenOnCreate simulates a concurrent consumer winning the create
	// race: Create fails with ErrDuplicateIdent and the hidden row becomes
	// visible.
	hiddenOnCreate *models.StatusAggregate

	failOp  string
	created []models.PersonIdent
	ops     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{aggs: make(map[models.PersonIdent]*models.StatusAggregate)}
}

func (f *fakeStore) fail(op string) error {
	if f.failOp == op {
		return errors.New(op + " boom")
	}
	return nil
}

func (f *fakeStore) get(ident models.PersonIdent) *models.StatusAggregate {
	agg, ok := f.aggs[ident]
	if !ok {
		return nil
	}
	return agg
}

func (f *fakeStore) GetByIdent(_ context.Context, _ store.Querier, ident models.PersonIdent) (*models.StatusAggregate, error) {
	if err := f.fail("get"); err != nil {
		return nil, err
	}
	agg, ok := f.aggs[ident]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *agg
	return &copied, nil
}

func (f *fakeStore) Create(_ context.Context, _ pgx.Tx, agg *models.StatusAggregate) error {
	f.ops = append(f.ops, "create")
	if f.hiddenOnCreate != nil {
		f.aggs[f.hiddenOnCreate.PersonIdent] = f.hiddenOnCreate
		f.hiddenOnCreate = nil
		return store.ErrDuplicateIdent
	}
	if _, ok := f.aggs[agg.PersonIdent]; ok {
		return store.ErrDuplicateIdent
	}
	copied := *agg
	f.aggs[agg.PersonIdent] = &copied
	f.created = append(f.created, agg.PersonIdent)
	return nil
}

func (f *fakeStore) UpdateFlag(_ context.Context, _ pgx.Tx, ident models.PersonIdent, flag store.FlagTrack, value bool, generatedAt *time.Time) error {
	f.ops = append(f.ops, "flag:"+string(flag))
	if err := f.fail("flag"); err != nil {
		return err
	}
	agg := f.get(ident)
	track := models.TrackOf(value, generatedAt)
	switch flag {
	case store.FlagMotebehovUbehandlet:
		agg.MotebehovUbehandlet = track
	case store.FlagLPSBistandUbehandlet:
		agg.LPSBistandUbehandlet = track
	case store.FlagBehandlerdialogUbesvart:
		agg.BehandlerdialogUbesvart = track
	case store.FlagDialogmotekandidat:
		agg.Dialogmotekandidat = track
	case store.FlagFriskmelding:
		agg.Friskmelding = track
	case store.FlagSenOppfolging:
		agg.SenOppfolging = track
	}
	return nil
}

func (f *fakeStore) UpdateMotestatus(_ context.Context, _ pgx.Tx, ident models.PersonIdent, status models.Motestatus, generatedAt *time.Time) error {
	f.ops = append(f.ops, "motestatus")
	f.get(ident).Motestatus = models.TrackOf(status, generatedAt)
	return nil
}

func (f *fakeStore) UpdateAktivitetskrav(_ context.Context, _ pgx.Tx, ident models.PersonIdent, v models.AktivitetskravVurdering, generatedAt *time.Time) error {
	f.ops = append(f.ops, "aktivitetskrav")
	f.get(ident).Aktivitetskrav = models.TrackOf(v, generatedAt)
	return nil
}

func (f *fakeStore) UpdateArbeidsuforhet(_ context.Context, _ pgx.Tx, ident models.PersonIdent, v models.ArbeidsuforhetVurdering, generatedAt *time.Time) error {
	f.ops = append(f.ops, "arbeidsuforhet")
	f.get(ident).Arbeidsuforhet = models.TrackOf(v, generatedAt)
	return nil
}

func (f *fakeStore) UpdateOppfolgingsoppgave(_ context.Context, _ pgx.Tx, ident models.PersonIdent, v models.Oppfolgingsoppgave, generatedAt *time.Time) error {
	f.ops = append(f.ops, "oppfolgingsoppgave")
	f.get(ident).Oppfolgingsoppgave = models.TrackOf(v, generatedAt)
	return nil
}

func (f *fakeStore) UpdateEnhet(_ context.Context, _ pgx.Tx, ident models.PersonIdent, enhet string) error {
	f.ops = append(f.ops, "enhet")
	agg := f.get(ident)
	now := time.Now()
	agg.Enhet = &enhet
	agg.EnhetUpdatedAt = &now
	agg.VeilederIdent = nil
	return nil
}

func (f *fakeStore) ReplaceTilfelle(_ context.Context, _ pgx.Tx, ident models.PersonIdent, t *models.Tilfelle) error {
	f.ops = append(f.ops, "tilfelle")
	f.get(ident).LatestTilfelle = t
	return nil
}

func (f *fakeStore) UpdateIdent(_ context.Context, _ pgx.Tx, oldIdent, newIdent models.PersonIdent) error {
	f.ops = append(f.ops, "rename")
	if _, ok := f.aggs[newIdent]; ok {
		return store.ErrDuplicateIdent
	}
	agg := f.aggs[oldIdent]
	delete(f.aggs, oldIdent)
	agg.PersonIdent = newIdent
	f.aggs[newIdent] = agg
	return nil
}

func (f *fakeStore) ReplaceAggregate(_ context.Context, _ pgx.Tx, agg *models.StatusAggregate) error {
	f.ops = append(f.ops, "replace")
	copied := *agg
	f.aggs[agg.PersonIdent] = &copied
	return nil
}

func (f *fakeStore) Delete(_ context.Context, _ pgx.Tx, ident models.PersonIdent) error {
	f.ops = append(f.ops, "delete")
	delete(f.aggs, ident)
	return nil
}

// fakeTxer runs the callback without a real transaction.
type fakeTxer struct{}

func (fakeTxer) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func newTestEngine(fs *fakeStore) *Engine {
	return NewEngine(fs, fakeTxer{})
}

func ts(offset time.Duration) *time.Time {
	t := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).Add(offset)
	return &t
}

func TestMergeCreatesAggregateOnFirstEvent(t *testing.T) {
	fs := newFakeStore()
	e := newTestEngine(fs)

	outcome, err := e.Merge(context.Background(), nil, Update{
		Ident: identA,
		Kind:  KindMotebehov,
		Flag:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	agg := fs.aggs[identA]
	require.NotNil(t, agg)
	assert.True(t, agg.MotebehovUbehandlet.Set)
	assert.True(t, agg.MotebehovUbehandlet.Value)
	assert.False(t, agg.Dialogmotekandidat.Set, "other tracks stay unset")
}

func TestMergeUpdatesExistingAggregate(t *testing.T) {
	fs := newFakeStore()
	fs.aggs[identA] = models.NewStatusAggregate(identA, time.Now())
	e := newTestEngine(fs)

	outcome, err := e.Merge(context.Background(), nil, Update{
		Ident:       identA,
		Kind:        KindMotestatus,
		GeneratedAt: ts(0),
		Motestatus:  models.MotestatusInnkalt,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	assert.Equal(t, models.MotestatusInnkalt, fs.aggs[identA].Motestatus.Value)
}

func TestMergeIsIdempotentForFlagTracks(t *testing.T) {
	fs := newFakeStore()
	e := newTestEngine(fs)
	upd := Update{Ident: identA, Kind: KindLPSBistand, Flag: true}

	for i := 0; i < 3; i++ {
		_, err := e.Merge(context.Background(), nil, upd)
		require.NoError(t, err)
	}

	assert.Len(t, fs.created, 1)
	assert.True(t, fs.aggs[identA].LPSBistandUbehandlet.Value)
}

func TestMergeStrictAfterDiscardsStale(t *testing.T) {
	fs := newFakeStore()
	agg := models.NewStatusAggregate(identA, time.Now())
	agg.Motestatus = models.TrackOf(models.MotestatusFerdigstilt, ts(time.Hour))
	fs.aggs[identA] = agg
	e := newTestEngine(fs)

	tests := []struct {
		name        string
		generatedAt *time.Time
		want        Outcome
	}{
		{"older timestamp discarded", ts(-time.Hour), OutcomeDiscarded},
		{"equal timestamp discarded", ts(time.Hour), OutcomeDiscarded},
		{"missing timestamp discarded", nil, OutcomeDiscarded},
		{"newer timestamp applied", ts(2 * time.Hour), OutcomeUpdated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := e.Merge(context.Background(), nil, Update{
				Ident:       identA,
				Kind:        KindMotestatus,
				GeneratedAt: tt.generatedAt,
				Motestatus:  models.MotestatusAvlyst,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome)
		})
	}
}

func TestMergeStaleDiscardLeavesStoredValue(t *testing.T) {
	fs := newFakeStore()
	agg := models.NewStatusAggregate(identA, time.Now())
	agg.Motestatus = models.TrackOf(models.MotestatusFerdigstilt, ts(time.Hour))
	fs.aggs[identA] = agg
	e := newTestEngine(fs)

	_, err := e.Merge(context.Background(), nil, Update{
		Ident:       identA,
		Kind:        KindMotestatus,
		GeneratedAt: ts(-time.Minute),
		Motestatus:  models.MotestatusAvlyst,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MotestatusFerdigstilt, fs.aggs[identA].Motestatus.Value)
}

func TestMergeNilOverridablePolicy(t *testing.T) {
	fs := newFakeStore()
	agg := models.NewStatusAggregate(identA, time.Now())
	agg.Arbeidsuforhet = models.TrackOf(models.ArbeidsuforhetVurdering{Aktiv: true}, ts(time.Hour))
	fs.aggs[identA] = agg
	e := newTestEngine(fs)

	// A timestamped but older update is stale.
	outcome, err := e.Merge(context.Background(), nil, Update{
		Ident:          identA,
		Kind:           KindArbeidsuforhet,
		GeneratedAt:    ts(-time.Hour),
		Arbeidsuforhet: models.ArbeidsuforhetVurdering{Aktiv: false},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, outcome)

	// An update without a timestamp always applies.
	outcome, err = e.Merge(context.Background(), nil, Update{
		Ident:          identA,
		Kind:           KindArbeidsuforhet,
		Arbeidsuforhet: models.ArbeidsuforhetVurdering{Aktiv: false},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	assert.False(t, fs.aggs[identA].Arbeidsuforhet.Value.Aktiv)
}

func TestMergeRetriesOnceAfterCreateConflict(t *testing.T) {
	fs := newFakeStore()
	racedRow := models.NewStatusAggregate(identA, time.Now())
	racedRow.Dialogmotekandidat = models.TrackOf(true, ts(0))
	fs.hiddenOnCreate = racedRow
	e := newTestEngine(fs)

	outcome, err := e.Merge(context.Background(), nil, Update{
		Ident:       identA,
		Kind:        KindMotestatus,
		GeneratedAt: ts(time.Minute),
		Motestatus:  models.MotestatusInnkalt,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	agg := fs.aggs[identA]
	assert.True(t, agg.Dialogmotekandidat.Value, "concurrent writer's track survives")
	assert.Equal(t, models.MotestatusInnkalt, agg.Motestatus.Value)
}

func TestMergeEnhetChangeClearsVeileder(t *testing.T) {
	fs := newFakeStore()
	agg := models.NewStatusAggregate(identA, time.Now())
	veileder := "Z990000"
	oldEnhet := "0314"
	agg.VeilederIdent = &veileder
	agg.Enhet = &oldEnhet
	fs.aggs[identA] = agg
	e := newTestEngine(fs)

	newEnhet := "0219"
	_, err := e.Merge(context.Background(), nil, Update{
		Ident: identA,
		Kind:  KindMotebehov,
		Flag:  true,
		Enhet: &newEnhet,
	})
	require.NoError(t, err)

	got := fs.aggs[identA]
	require.NotNil(t, got.Enhet)
	assert.Equal(t, newEnhet, *got.Enhet)
	assert.Nil(t, got.VeilederIdent, "caseworker is meaningless in the new unit")
}

func TestMergeSameEnhetKeepsVeileder(t *testing.T) {
	fs := newFakeStore()
	agg := models.NewStatusAggregate(identA, time.Now())
	veileder := "Z990000"
	enhet := "0314"
	agg.VeilederIdent = &veileder
	agg.Enhet = &enhet
	fs.aggs[identA] = agg
	e := newTestEngine(fs)

	sameEnhet := "0314"
	_, err := e.Merge(context.Background(), nil, Update{
		Ident: identA,
		Kind:  KindMotebehov,
		Flag:  false,
		Enhet: &sameEnhet,
	})
	require.NoError(t, err)
	require.NotNil(t, fs.aggs[identA].VeilederIdent)
	assert.Equal(t, veileder, *fs.aggs[identA].VeilederIdent)
}

func TestProcessBatchAtomicFailureRollsUpAllRecords(t *testing.T) {
	fs := newFakeStore()
	fs.aggs[identA] = models.NewStatusAggregate(identA, time.Now())
	fs.failOp = "flag"
	e := newTestEngine(fs)

	updates := []Update{
		{Ident: identA, Kind: KindMotebehov, Flag: true},
		{Ident: identA, Kind: KindLPSBistand, Flag: true},
	}
	result, err := e.ProcessBatch(context.Background(), updates, BatchAtomic)
	require.Error(t, err)
	assert.Equal(t, len(updates), result.Failed)
	assert.Zero(t, result.Applied())
}

func TestProcessBatchPerRecordIsolatesFailures(t *testing.T) {
	fs := newFakeStore()
	fs.aggs[identA] = models.NewStatusAggregate(identA, time.Now())
	fs.aggs[identB] = models.NewStatusAggregate(identB, time.Now())
	fs.failOp = "get"
	e := newTestEngine(fs)

	// First update fails on the read; then let the second succeed.
	updates := []Update{
		{Ident: identA, Kind: KindMotebehov, Flag: true},
		{Ident: identB, Kind: KindMotebehov, Flag: true},
	}

	// Flip failOp off after the first record by wrapping the store read.
	result, err := e.ProcessBatch(context.Background(), updates[:1], BatchPerRecord)
	require.NoError(t, err, "per-record batches never return a batch error")
	assert.Equal(t, 1, result.Failed)

	fs.failOp = ""
	result, err = e.ProcessBatch(context.Background(), updates[1:], BatchPerRecord)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
}

func TestProcessBatchCountsOutcomes(t *testing.T) {
	fs := newFakeStore()
	agg := models.NewStatusAggregate(identA, time.Now())
	agg.Motestatus = models.TrackOf(models.MotestatusInnkalt, ts(time.Hour))
	fs.aggs[identA] = agg
	e := newTestEngine(fs)

	updates := []Update{
		{Ident: identB, Kind: KindMotebehov, Flag: true},
		{Ident: identA, Kind: KindMotestatus, GeneratedAt: ts(2 * time.Hour), Motestatus: models.MotestatusAvlyst},
		{Ident: identA, Kind: KindMotestatus, GeneratedAt: ts(-time.Hour), Motestatus: models.MotestatusLukket},
	}
	result, err := e.ProcessBatch(context.Background(), updates, BatchAtomic)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Discarded)
	assert.Equal(t, 2, result.Applied())
}
