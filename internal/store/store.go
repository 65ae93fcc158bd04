// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

// Package store is the columnar query executor. It owns the DuckDB
// connection, the physical table contracts for each market data category,
// and all SQL construction: range scans at native resolution and on-the-fly
// aggregation into coarser buckets.
//
// Reads go through a retry policy with exponential backoff and a circuit
// breaker. Transient failures (the ingestion process writing to the same
// file, short I/O stalls) are retried; once the breaker opens, queries fail
// fast with market.ErrDataSourceUnavailable until the data source recovers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/nemlens/nemlens/internal/config"
	"github.com/nemlens/nemlens/internal/logging"
	"github.com/nemlens/nemlens/internal/market"
)

// Store executes analytical queries against the market data file.
type Store struct {
	conn     *sql.DB
	cfg      *config.DatabaseConfig
	retry    config.RetryConfig
	breaker  *gobreaker.CircuitBreaker[*market.Table]
	coverage coverageCache
}

// Open opens the DuckDB database at cfg.Path, creates any missing tables
// and validates the schema contract. An empty path opens an in-memory
// database, used by tests.
func Open(ctx context.Context, cfg *config.DatabaseConfig, retry config.RetryConfig) (*Store, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	} else {
		dbDir := filepath.Dir(path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	// Disable auto-install/auto-load to prevent hangs in restricted
	// network environments.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=false&autoinstall_known_extensions=false&autoload_known_extensions=false",
		path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// DuckDB is embedded; a small pool is enough and bounds memory held by
	// in-flight analytical queries.
	conn.SetMaxOpenConns(numThreads)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(0)

	if err := conn.PingContext(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		conn:    conn,
		cfg:     cfg,
		retry:   retry,
		breaker: newBreaker(retry),
	}

	if err := s.initSchema(ctx); err != nil {
		closeQuietly(conn)
		return nil, err
	}
	if err := s.validateSchema(ctx); err != nil {
		closeQuietly(conn)
		return nil, err
	}

	logging.Info().
		Str("path", path).
		Int("threads", numThreads).
		Str("max_memory", cfg.MaxMemory).
		Msg("Market data store opened")

	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping reports whether the data source is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func newBreaker(retry config.RetryConfig) *gobreaker.CircuitBreaker[*market.Table] {
	threshold := retry.BreakerFailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	openTimeout := retry.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker[*market.Table](gobreaker.Settings{
		Name:    "duckdb-read",
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Data source circuit breaker state changed")
		},
	})
}

// withRetry runs op under the circuit breaker with exponential backoff.
// Context cancellation and schema mismatches are permanent; everything else
// is assumed transient. An open breaker or exhausted retries surface as
// market.ErrDataSourceUnavailable so callers can map the failure without
// knowing driver error shapes.
func (s *Store) withRetry(ctx context.Context, op func(ctx context.Context) (*market.Table, error)) (*market.Table, error) {
	table, err := s.breaker.Execute(func() (*market.Table, error) {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = s.retry.InitialInterval
		policy.MaxInterval = s.retry.MaxInterval

		attempts := uint64(s.retry.MaxAttempts)
		if attempts == 0 {
			attempts = 1
		}

		var result *market.Table
		retryErr := backoff.Retry(func() error {
			t, opErr := op(ctx)
			if opErr != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				var mismatch *market.SchemaMismatchError
				if errors.As(opErr, &mismatch) {
					return backoff.Permanent(opErr)
				}
				logging.Debug().Err(opErr).Msg("Retrying data source query")
				return opErr
			}
			result = t
			return nil
		}, backoff.WithContext(backoff.WithMaxRetries(policy, attempts-1), ctx))
		if retryErr != nil {
			return nil, retryErr
		}
		return result, nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var mismatch *market.SchemaMismatchError
		if errors.As(err, &mismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", market.ErrDataSourceUnavailable, err)
	}
	return table, nil
}

// closeQuietly closes c, logging failures at debug since callers are
// already on an error path or shutting down.
func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		logging.Debug().Err(err).Msg("Close failed")
	}
}
