// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

// Package config provides layered configuration for NEMLens using Koanf v2.
//
// Precedence (highest wins): environment variables > config file > defaults.
// All tunables that depend on environment and dataset size — cache capacity,
// TTLs, the per-query memory ceiling, resolution thresholds — are settable
// without code changes.
package config

import (
	"time"
)

// Config is the root configuration for the NEMLens server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Cache    CacheConfig    `koanf:"cache"`
	Query    QueryConfig    `koanf:"query"`
	Retry    RetryConfig    `koanf:"retry"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	// CORSAllowedOrigins lists the origins permitted to call the API from
	// a browser. The dashboard frontend is typically served from a
	// different origin than the API.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// DatabaseConfig holds DuckDB connection settings.
type DatabaseConfig struct {
	// Path is the DuckDB database file. Empty string opens an in-memory
	// database (used by tests and demo mode).
	Path string `koanf:"path"`

	// MaxMemory is DuckDB's memory limit, e.g. "2GB".
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count. 0 = runtime.NumCPU().
	Threads int `koanf:"threads"`

	// PreserveInsertionOrder=false reduces memory usage on large scans;
	// result ordering is enforced by ORDER BY in every executor query, so
	// it is safe to disable.
	PreserveInsertionOrder bool `koanf:"preserve_insertion_order"`

	// SeedSampleData creates demo interval data on startup when the
	// datasets are empty. Development convenience only.
	SeedSampleData bool `koanf:"seed_sample_data"`
}

// CacheConfig holds result-cache settings.
type CacheConfig struct {
	// CapacityBytes bounds the total estimated size of cached results.
	// Least-recently-used entries are evicted when the total exceeds it.
	CapacityBytes int64 `koanf:"capacity_bytes"`

	// DefaultTTL applies to queries entirely in the settled past.
	DefaultTTL time.Duration `koanf:"default_ttl"`

	// RecentTTL applies to queries whose end time falls within
	// RecentWindow of now: that data is still arriving or may be revised.
	RecentTTL    time.Duration `koanf:"recent_ttl"`
	RecentWindow time.Duration `koanf:"recent_window"`

	// JanitorInterval is how often the background sweep removes expired
	// entries. Expiry is lazy; the sweep only reclaims memory earlier.
	JanitorInterval time.Duration `koanf:"janitor_interval"`

	// SnapshotPath enables warm-start persistence of cache entries in a
	// badger database at this path. Empty disables snapshots.
	SnapshotPath string `koanf:"snapshot_path"`
}

// QueryConfig holds resolution-selection thresholds and the cost model.
// Byte costs are calibrated empirically against real datasets; treat them
// as configuration, not law.
type QueryConfig struct {
	// MemoryCeilingMB is the per-query estimated memory limit. The
	// selector coarsens resolution to stay under it; an explicit override
	// that still exceeds it fails fast with a resource-limit error.
	MemoryCeilingMB float64 `koanf:"memory_ceiling_mb"`

	// FiveMinMaxDays is the longest span served at 5-minute resolution.
	FiveMinMaxDays float64 `koanf:"five_min_max_days"`

	// ThirtyMinMaxDays is the upper edge of the 5min->30min transition
	// band; spans inside the band prefer the safety margin of 30min.
	ThirtyMinMaxDays float64 `koanf:"thirty_min_max_days"`

	// DailyCutoverDays is the span beyond which daily buckets are used.
	DailyCutoverDays float64 `koanf:"daily_cutover_days"`

	// AggregateCutoverDays is the span beyond which monthly buckets are used.
	AggregateCutoverDays float64 `koanf:"aggregate_cutover_days"`

	// Average in-memory cost of one result row per category. Generation
	// carries many more dimension-rows per timestamp than price, so its
	// cost profile differs.
	BytesPerRowGeneration   float64 `koanf:"bytes_per_row_generation"`
	BytesPerRowPrice        float64 `koanf:"bytes_per_row_price"`
	BytesPerRowTransmission float64 `koanf:"bytes_per_row_transmission"`
	BytesPerRowRooftop      float64 `koanf:"bytes_per_row_rooftop"`

	// Expected number of dimension rows per timestamp per category (DUID
	// count for generation, region count for price/rooftop, interconnector
	// count for transmission).
	CardinalityGeneration   float64 `koanf:"cardinality_generation"`
	CardinalityPrice        float64 `koanf:"cardinality_price"`
	CardinalityTransmission float64 `koanf:"cardinality_transmission"`
	CardinalityRooftop      float64 `koanf:"cardinality_rooftop"`
}

// RetryConfig holds the retry policy applied uniformly at the executor's
// I/O boundary, plus circuit-breaker settings for a dead store.
type RetryConfig struct {
	MaxAttempts     uint          `koanf:"max_attempts"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`

	// BreakerFailureThreshold consecutive failures open the circuit;
	// while open, fetches fail fast with a data-source-unavailable error.
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerOpenTimeout      time.Duration `koanf:"breaker_open_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Defaults returns a Config with every default applied and nothing loaded
// from file or environment. Tests and demo tooling start from it.
func Defaults() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// layered first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8793,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitReqs:      300,
			RateLimitWindow:    time.Minute,
			CORSAllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Path:                   "/data/nemlens.duckdb",
			MaxMemory:              "2GB",
			Threads:                0,     // 0 = use runtime.NumCPU()
			PreserveInsertionOrder: false, // executor queries carry ORDER BY
			SeedSampleData:         false,
		},
		Cache: CacheConfig{
			CapacityBytes:   512 << 20,
			DefaultTTL:      6 * time.Hour,
			RecentTTL:       2 * time.Minute,
			RecentWindow:    time.Hour,
			JanitorInterval: 5 * time.Minute,
			SnapshotPath:    "",
		},
		Query: QueryConfig{
			MemoryCeilingMB:      500,
			FiveMinMaxDays:       7,
			ThirtyMinMaxDays:     14,
			DailyCutoverDays:     180,
			AggregateCutoverDays: 730,

			BytesPerRowGeneration:   64,
			BytesPerRowPrice:        40,
			BytesPerRowTransmission: 72,
			BytesPerRowRooftop:      40,

			CardinalityGeneration:   450, // registered DUIDs in the NEM
			CardinalityPrice:        5,   // NEM regions
			CardinalityTransmission: 6,   // interconnectors
			CardinalityRooftop:      5,
		},
		Retry: RetryConfig{
			MaxAttempts:             4,
			InitialInterval:         100 * time.Millisecond,
			MaxInterval:             2 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerOpenTimeout:      30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
