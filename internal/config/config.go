// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

// Package config provides layered configuration for Oversikt using Koanf v2.
//
// Loading order (later layers override earlier ones):
//  1. Built-in defaults
//  2. Optional YAML config file (CONFIG_PATH or well-known paths)
//  3. Environment variables (OVERSIKT_ prefix, "__" for nesting)
//
// Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	NATS      NATSConfig      `koanf:"nats"`
	Elector   ElectorConfig   `koanf:"elector"`
	Clients   ClientsConfig   `koanf:"clients"`
	Jobs      JobsConfig      `koanf:"jobs"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	PodName   string          `koanf:"pod_name"`
}

// DatabaseConfig configures the Postgres aggregate store.
type DatabaseConfig struct {
	// URL is the Postgres connection string (postgres://...).
	URL string `koanf:"url"`

	// MaxConns bounds the pgx connection pool.
	MaxConns int32 `koanf:"max_conns"`

	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// NATSConfig configures the JetStream consumers.
type NATSConfig struct {
	URL string `koanf:"url"`

	// DurablePrefix names the durable consumers; the stream name is appended.
	DurablePrefix string `koanf:"durable_prefix"`

	// QueueGroup enables load balancing across replicas.
	QueueGroup string `koanf:"queue_group"`

	// BatchSize is the maximum records merged in one store transaction.
	BatchSize int `koanf:"batch_size"`

	// PollTimeout bounds how long a partially filled batch waits for more
	// records before being flushed.
	PollTimeout time.Duration `koanf:"poll_timeout"`

	AckWaitTimeout time.Duration `koanf:"ack_wait_timeout"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
	CloseTimeout   time.Duration `koanf:"close_timeout"`
}

// ElectorConfig configures the leader election sidecar client.
type ElectorConfig struct {
	// URL is the elector sidecar endpoint returning the current leader.
	URL string `koanf:"url"`

	Timeout time.Duration `koanf:"timeout"`
}

// ClientsConfig configures the external HTTP collaborators.
type ClientsConfig struct {
	// UnitLookupURL is the base URL of the behandlende-enhet service.
	UnitLookupURL string `koanf:"unit_lookup_url"`

	// CacheWarmURL is the base URL of the access-control cache preload endpoint.
	CacheWarmURL string `koanf:"cache_warm_url"`

	Timeout time.Duration `koanf:"timeout"`
}

// JobsConfig configures the reconciliation jobs.
type JobsConfig struct {
	UnitReconciliation UnitReconciliationConfig `koanf:"unit_reconciliation"`
	CachePreload       CachePreloadConfig       `koanf:"cache_preload"`
	Reaper             ReaperConfig             `koanf:"reaper"`
}

// UnitReconciliationConfig configures the stale-unit refresh job.
type UnitReconciliationConfig struct {
	Enabled      bool          `koanf:"enabled"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	Interval     time.Duration `koanf:"interval"`

	// StaleAfter is how old EnhetUpdatedAt must be before a row is a candidate.
	StaleAfter time.Duration `koanf:"stale_after"`

	// BatchLimit caps the candidate set per run.
	BatchLimit int `koanf:"batch_limit"`
}

// CachePreloadConfig configures the access-control cache warming job.
type CachePreloadConfig struct {
	Enabled      bool          `koanf:"enabled"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	Interval     time.Duration `koanf:"interval"`

	// BatchSize is how many idents are pushed per preload request.
	BatchSize int `koanf:"batch_size"`
}

// ReaperConfig configures the lapsed-assignment reaper job.
type ReaperConfig struct {
	Enabled      bool          `koanf:"enabled"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	Interval     time.Duration `koanf:"interval"`

	// TilfelleGrace is how long after a tilfelle's end the assignment
	// survives. LastModifiedGrace additionally requires the row itself to
	// have been quiet; it is the shorter of the two.
	TilfelleGrace     time.Duration `koanf:"tilfelle_grace"`
	LastModifiedGrace time.Duration `koanf:"last_modified_grace"`

	BatchLimit int `koanf:"batch_limit"`
}

// ServerConfig configures the query API server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitReqs requests per RateLimitWindow per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Addr returns the listen address for the API server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate checks that required configuration is present and well-formed.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("database.max_conns must be positive, got %d", c.Database.MaxConns)
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.NATS.BatchSize <= 0 {
		return fmt.Errorf("nats.batch_size must be positive, got %d", c.NATS.BatchSize)
	}
	if c.NATS.PollTimeout <= 0 {
		return fmt.Errorf("nats.poll_timeout must be positive")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}

	for name, raw := range map[string]string{
		"elector.url":             c.Elector.URL,
		"clients.unit_lookup_url": c.Clients.UnitLookupURL,
		"clients.cache_warm_url":  c.Clients.CacheWarmURL,
	} {
		if raw == "" {
			continue // optional; the dependent job/check degrades to skip
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s is not a valid URL: %q", name, raw)
		}
	}

	if c.Jobs.Reaper.TilfelleGrace < c.Jobs.Reaper.LastModifiedGrace {
		return fmt.Errorf("jobs.reaper.tilfelle_grace (%s) must not be shorter than last_modified_grace (%s)",
			c.Jobs.Reaper.TilfelleGrace, c.Jobs.Reaper.LastModifiedGrace)
	}

	for name, j := range map[string]struct {
		enabled  bool
		interval time.Duration
	}{
		"unit_reconciliation": {c.Jobs.UnitReconciliation.Enabled, c.Jobs.UnitReconciliation.Interval},
		"cache_preload":       {c.Jobs.CachePreload.Enabled, c.Jobs.CachePreload.Interval},
		"reaper":              {c.Jobs.Reaper.Enabled, c.Jobs.Reaper.Interval},
	} {
		if j.enabled && j.interval <= 0 {
			return fmt.Errorf("jobs.%s.interval must be positive when enabled", name)
		}
	}

	if c.Jobs.CachePreload.Enabled && c.Jobs.CachePreload.BatchSize <= 0 {
		return fmt.Errorf("jobs.cache_preload.batch_size must be positive when enabled, got %d",
			c.Jobs.CachePreload.BatchSize)
	}

	return nil
}
