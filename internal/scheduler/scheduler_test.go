// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helsearbeid/oversikt/internal/ready"
)

type fakeJob struct {
	runs  atomic.Int32
	stats Stats
	err   error
	panic bool
}

func (f *fakeJob) Name() string                { return "fake" }
func (f *fakeJob) InitialDelay() time.Duration { return 0 }
func (f *fakeJob) Interval() time.Duration     { return time.Hour }

func (f *fakeJob) Run(context.Context) (Stats, error) {
	f.runs.Add(1)
	if f.panic {
		panic("kaboom")
	}
	return f.stats, f.err
}

type fakeLeader struct {
	leader bool
	checks atomic.Int32
}

func (f *fakeLeader) IsLeader(context.Context) bool {
	f.checks.Add(1)
	return f.leader
}

func upFlag() *ready.Flag {
	flag := &ready.Flag{}
	flag.Up()
	return flag
}

func TestTickRunsJobWhenLeader(t *testing.T) {
	job := &fakeJob{stats: Stats{Updated: 3}}
	runner := NewRunner(job, &fakeLeader{leader: true}, upFlag())

	runner.tick(context.Background())

	assert.Equal(t, int32(1), job.runs.Load())
}

func TestTickSkipsJobWhenNotLeader(t *testing.T) {
	job := &fakeJob{}
	leader := &fakeLeader{leader: false}
	runner := NewRunner(job, leader, upFlag())

	runner.tick(context.Background())

	assert.Zero(t, job.runs.Load())
	assert.Equal(t, int32(1), leader.checks.Load(), "leadership is checked every tick")
}

func TestTickSkipsJobWhenNotReady(t *testing.T) {
	job := &fakeJob{}
	leader := &fakeLeader{leader: true}
	runner := NewRunner(job, leader, &ready.Flag{})

	runner.tick(context.Background())

	assert.Zero(t, job.runs.Load())
	assert.Zero(t, leader.checks.Load(), "no elector traffic while not ready")
}

func TestTickContainsJobPanic(t *testing.T) {
	job := &fakeJob{panic: true}
	runner := NewRunner(job, &fakeLeader{leader: true}, upFlag())

	require.NotPanics(t, func() {
		runner.tick(context.Background())
	})
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestServeStopsOnContextCancel(t *testing.T) {
	job := &fakeJob{}
	runner := NewRunner(job, &fakeLeader{leader: true}, upFlag())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runner.Serve(ctx)
	}()

	// The zero initial delay lets the first tick run immediately.
	require.Eventually(t, func() bool {
		return job.runs.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerString(t *testing.T) {
	runner := NewRunner(&fakeJob{}, &fakeLeader{}, upFlag())
	assert.Equal(t, "job/fake", runner.String())
}
