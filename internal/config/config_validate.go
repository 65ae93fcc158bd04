// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package config

import (
	"fmt"
	"strings"
)

// Validate checks that the configuration is internally consistent. Error
// messages name the environment variable an operator would set to fix the
// problem.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateQuery(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("SERVER_REQUEST_TIMEOUT must be positive, got %s", c.Server.RequestTimeout)
	}
	if c.Server.RateLimitReqs <= 0 {
		return fmt.Errorf("SERVER_RATE_LIMIT_REQS must be positive, got %d", c.Server.RateLimitReqs)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must be >= 0 (0 = all cores), got %d", c.Database.Threads)
	}
	if c.Database.MaxMemory != "" && !validMemoryLimit(c.Database.MaxMemory) {
		return fmt.Errorf("DUCKDB_MAX_MEMORY must look like '2GB' or '512MB', got %q", c.Database.MaxMemory)
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.CapacityBytes <= 0 {
		return fmt.Errorf("CACHE_CAPACITY_BYTES must be positive, got %d", c.Cache.CapacityBytes)
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("CACHE_DEFAULT_TTL must be positive, got %s", c.Cache.DefaultTTL)
	}
	if c.Cache.RecentTTL <= 0 {
		return fmt.Errorf("CACHE_RECENT_TTL must be positive, got %s", c.Cache.RecentTTL)
	}
	if c.Cache.RecentTTL > c.Cache.DefaultTTL {
		return fmt.Errorf("CACHE_RECENT_TTL (%s) must not exceed CACHE_DEFAULT_TTL (%s): recent data is revised, settled history is not",
			c.Cache.RecentTTL, c.Cache.DefaultTTL)
	}
	if c.Cache.RecentWindow < 0 {
		return fmt.Errorf("CACHE_RECENT_WINDOW must be >= 0, got %s", c.Cache.RecentWindow)
	}
	return nil
}

func (c *Config) validateQuery() error {
	if c.Query.MemoryCeilingMB <= 0 {
		return fmt.Errorf("QUERY_MEMORY_CEILING_MB must be positive, got %g", c.Query.MemoryCeilingMB)
	}
	// Thresholds must be strictly increasing or the selector's band logic
	// degenerates.
	if c.Query.FiveMinMaxDays <= 0 {
		return fmt.Errorf("QUERY_FIVE_MIN_MAX_DAYS must be positive, got %g", c.Query.FiveMinMaxDays)
	}
	if c.Query.ThirtyMinMaxDays <= c.Query.FiveMinMaxDays {
		return fmt.Errorf("QUERY_THIRTY_MIN_MAX_DAYS (%g) must exceed QUERY_FIVE_MIN_MAX_DAYS (%g)",
			c.Query.ThirtyMinMaxDays, c.Query.FiveMinMaxDays)
	}
	if c.Query.DailyCutoverDays <= c.Query.ThirtyMinMaxDays {
		return fmt.Errorf("QUERY_DAILY_CUTOVER_DAYS (%g) must exceed QUERY_THIRTY_MIN_MAX_DAYS (%g)",
			c.Query.DailyCutoverDays, c.Query.ThirtyMinMaxDays)
	}
	if c.Query.AggregateCutoverDays <= c.Query.DailyCutoverDays {
		return fmt.Errorf("QUERY_AGGREGATE_CUTOVER_DAYS (%g) must exceed QUERY_DAILY_CUTOVER_DAYS (%g)",
			c.Query.AggregateCutoverDays, c.Query.DailyCutoverDays)
	}
	for name, v := range map[string]float64{
		"QUERY_BYTES_PER_ROW_GENERATION":   c.Query.BytesPerRowGeneration,
		"QUERY_BYTES_PER_ROW_PRICE":        c.Query.BytesPerRowPrice,
		"QUERY_BYTES_PER_ROW_TRANSMISSION": c.Query.BytesPerRowTransmission,
		"QUERY_BYTES_PER_ROW_ROOFTOP":      c.Query.BytesPerRowRooftop,
		"QUERY_CARDINALITY_GENERATION":     c.Query.CardinalityGeneration,
		"QUERY_CARDINALITY_PRICE":          c.Query.CardinalityPrice,
		"QUERY_CARDINALITY_TRANSMISSION":   c.Query.CardinalityTransmission,
		"QUERY_CARDINALITY_ROOFTOP":        c.Query.CardinalityRooftop,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %g", name, v)
		}
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts == 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Retry.InitialInterval <= 0 {
		return fmt.Errorf("RETRY_INITIAL_INTERVAL must be positive, got %s", c.Retry.InitialInterval)
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("RETRY_MAX_INTERVAL (%s) must be >= RETRY_INITIAL_INTERVAL (%s)",
			c.Retry.MaxInterval, c.Retry.InitialInterval)
	}
	if c.Retry.BreakerFailureThreshold == 0 {
		return fmt.Errorf("RETRY_BREAKER_FAILURE_THRESHOLD must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal, panic; got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// validMemoryLimit accepts DuckDB-style memory limits such as "512MB" or "2GB".
func validMemoryLimit(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, suffix := range []string{"KB", "MB", "GB", "TB"} {
		if n, ok := strings.CutSuffix(s, suffix); ok {
			n = strings.TrimSpace(n)
			if n == "" {
				return false
			}
			for _, r := range n {
				if (r < '0' || r > '9') && r != '.' {
					return false
				}
			}
			return true
		}
	}
	return false
}
