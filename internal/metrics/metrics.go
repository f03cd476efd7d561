// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

// Package metrics provides Prometheus instrumentation for Oversikt:
// stream consumption, projection merges, reconciliation jobs, the aggregate
// store, and the external collaborators behind circuit breakers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stream consumption metrics

	StreamRecordsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oversikt_stream_records_consumed_total",
			Help: "Total records received per stream, tombstones included",
		},
		[]string{"stream"},
	)

	StreamTombstones = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oversikt_stream_tombstones_total",
			Help: "Total tombstone records (valid key, null payload) per stream",
		},
		[]string{"stream"},
	)

	StreamParseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oversikt_stream_parse_failures_total",
			Help: "Total payloads that failed to decode per stream",
		},
		[]string{"stream"},
	)

	StreamBatchesCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oversikt_stream_batches_committed_total",
			Help: "Total batches committed to the store per stream",
		},
		[]string{"stream"},
	)

	StreamBatchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oversikt_stream_batch_retries_total",
			Help: "Total batches nacked for redelivery after a failed commit",
		},
		[]string{"stream"},
	)

	StreamBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oversikt_stream_batch_duration_seconds",
			Help:    "Batch processing duration per stream, poll to offset commit",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stream"},
	)

	// Projection merge metrics

	MergeApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oversikt_merge_applied_total",
			Help: "Track updates applied, by track and outcome (created|updated)",
		},
		[]string{"track", "outcome"},
	)

	MergeStaleDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oversikt_merge_stale_discarded_total",
			Help: "Track updates discarded by the generatedAt ordering guard",
		},
		[]string{"track"},
	)

	MergeCreateConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oversikt_merge_create_conflicts_total",
			Help: "Unique-violation races on aggregate creation, retried as updates",
		},
	)

	IdentMigrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oversikt_ident_migrations_total",
			Help: "Identity migrations, by outcome (moved|merged|noop)",
		},
		[]string{"outcome"},
	)

	// Aggregate store metrics

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oversikt_store_query_duration_seconds",
			Help:    "Duration of aggregate store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oversikt_store_query_errors_total",
			Help: "Total aggregate store operation errors",
		},
		[]string{"operation"},
	)

	// Reconciliation metrics

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oversikt_job_runs_total",
			Help: "Scheduled job ticks, by job and outcome (run|skipped|failed)",
		},
		[]string{"job", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oversikt_job_duration_seconds",
			Help:    "Duration of completed job runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"job"},
	)

	JobCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oversikt_job_candidates_total",
			Help: "Per-candidate job outcomes (updated|failed|unchanged)",
		},
		[]string{"job", "outcome"},
	)

	LeaderChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oversikt_leader_checks_total",
			Help: "Leader election checks, by result (leader|follower|error)",
		},
		[]string{"result"},
	)

	// Circuit breaker metrics for external collaborators

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oversikt_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oversikt_circuit_breaker_requests_total",
			Help: "Requests through circuit breakers, by name and result",
		},
		[]string{"name", "result"},
	)

	// API metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oversikt_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oversikt_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordBatch records a committed or retried batch for a stream.
func RecordBatch(stream string, duration time.Duration, committed bool) {
	if committed {
		StreamBatchesCommitted.WithLabelValues(stream).Inc()
	} else {
		StreamBatchRetries.WithLabelValues(stream).Inc()
	}
	StreamBatchDuration.WithLabelValues(stream).Observe(duration.Seconds())
}

// RecordMerge records an applied track update.
func RecordMerge(track string, created bool) {
	outcome := "updated"
	if created {
		outcome = "created"
	}
	MergeApplied.WithLabelValues(track, outcome).Inc()
}

// RecordStoreQuery records an aggregate store operation.
func RecordStoreQuery(operation string, duration time.Duration, err error) {
	StoreQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StoreQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordJobRun records the outcome of one scheduler tick for a job.
func RecordJobRun(job, outcome string, duration time.Duration) {
	JobRuns.WithLabelValues(job, outcome).Inc()
	if outcome == "run" {
		JobDuration.WithLabelValues(job).Observe(duration.Seconds())
	}
}

// RecordLeaderCheck records a leader election check result.
func RecordLeaderCheck(isLeader bool, err error) {
	switch {
	case err != nil:
		LeaderChecks.WithLabelValues("error").Inc()
	case isLeader:
		LeaderChecks.WithLabelValues("leader").Inc()
	default:
		LeaderChecks.WithLabelValues("follower").Inc()
	}
}

// RecordAPIRequest records an API request with latency.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
