// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

// Package ready holds the process-wide readiness flag.
//
// Scheduled jobs check the flag at the top of every tick; main() flips it
// up once wiring is complete and down when shutdown begins, together with
// canceling the supervision tree, so in-flight batches finish but no new
// work starts. The readiness probe reports the same flag.
package ready

import "sync/atomic"

// Flag is a process-wide liveness gate. The zero value is "not ready".
type Flag struct {
	ready atomic.Bool
}

// Up marks the process ready.
func (f *Flag) Up() {
	f.ready.Store(true)
}

// Down marks the process as shutting down.
func (f *Flag) Down() {
	f.ready.Store(false)
}

// IsUp reports whether the process is ready.
func (f *Flag) IsUp() bool {
	return f.ready.Load()
}
