// Oversikt - Per-Person Status Aggregate Projection Service
// Copyright 2026 Helsearbeid
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/helsearbeid/oversikt

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/oversikt/config.yaml",
	"/etc/oversikt/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix namespaces Oversikt's environment variables.
// OVERSIKT_DATABASE__URL -> database.url
const EnvPrefix = "OVERSIKT_"

// defaultConfig returns a Config with all defaults applied. These are
// overridden by the config file and environment variables in that order.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:            "",
			MaxConns:       16,
			ConnectTimeout: 10 * time.Second,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			DurablePrefix:  "oversikt",
			QueueGroup:     "oversikt",
			BatchSize:      500,
			PollTimeout:    time.Second,
			AckWaitTimeout: 30 * time.Second,
			MaxReconnects:  -1, // retry forever
			ReconnectWait:  2 * time.Second,
			CloseTimeout:   30 * time.Second,
		},
		Elector: ElectorConfig{
			URL:     "http://localhost:4040",
			Timeout: 5 * time.Second,
		},
		Clients: ClientsConfig{
			UnitLookupURL: "",
			CacheWarmURL:  "",
			Timeout:       10 * time.Second,
		},
		Jobs: JobsConfig{
			UnitReconciliation: UnitReconciliationConfig{
				Enabled:      true,
				InitialDelay: 2 * time.Minute,
				Interval:     time.Hour,
				StaleAfter:   24 * time.Hour,
				BatchLimit:   500,
			},
			CachePreload: CachePreloadConfig{
				Enabled:      true,
				InitialDelay: 4 * time.Minute,
				Interval:     12 * time.Hour,
				BatchSize:    50,
			},
			Reaper: ReaperConfig{
				Enabled:           true,
				InitialDelay:      10 * time.Minute,
				Interval:          24 * time.Hour,
				TilfelleGrace:     60 * 24 * time.Hour,
				LastModifiedGrace: 30 * 24 * time.Hour,
				BatchLimit:        1000,
			},
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		PodName: os.Getenv("HOSTNAME"),
	}
}

// Load loads configuration using Koanf v2 with layered sources.
// Precedence: environment > config file > defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	// OVERSIKT_NATS__BATCH_SIZE -> nats.batch_size
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		return ""
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
