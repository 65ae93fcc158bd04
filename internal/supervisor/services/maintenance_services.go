// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package services

import (
	"context"
	"time"

	"github.com/nemlens/nemlens/internal/cache"
	"github.com/nemlens/nemlens/internal/consistency"
	"github.com/nemlens/nemlens/internal/logging"
	"github.com/nemlens/nemlens/internal/metrics"
	"github.com/nemlens/nemlens/internal/store"
)

// JanitorService sweeps expired entries out of the result cache. Expiry is
// lazy on read; the sweep just reclaims memory for entries nobody asks for
// anymore.
type JanitorService struct {
	cache    *cache.ResultCache
	interval time.Duration
}

// NewJanitorService creates the sweep loop.
func NewJanitorService(c *cache.ResultCache, interval time.Duration) *JanitorService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &JanitorService{cache: c, interval: interval}
}

// Serve implements suture.Service.
func (j *JanitorService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed := j.cache.CleanupExpired()
			stats := j.cache.Stats()
			metrics.UpdateCacheGauges(stats.Entries, stats.TotalSizeBytes)
			if removed > 0 {
				logging.Debug().Int("removed", removed).Msg("Expired cache entries swept")
			}
		}
	}
}

func (j *JanitorService) String() string { return "cache-janitor" }

// CoverageService periodically rescans per-category data coverage so the
// query manager's short circuit and the metadata endpoint see fresh spans
// as ingestion appends new intervals.
type CoverageService struct {
	store    *store.Store
	interval time.Duration
}

// NewCoverageService creates the refresh loop.
func NewCoverageService(s *store.Store, interval time.Duration) *CoverageService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CoverageService{store: s, interval: interval}
}

// Serve implements suture.Service. A refresh failure is logged and retried
// next tick rather than crashing the loop; the store's own breaker handles
// persistent outages.
func (c *CoverageService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.store.RefreshCoverage(ctx); err != nil {
				logging.Warn().Err(err).Msg("Coverage refresh failed")
			}
		}
	}
}

func (c *CoverageService) String() string { return "coverage-refresher" }

// ConsistencyService runs the sampled dual-feed check on a slow cadence and
// reports outcomes through logs and metrics. Divergence is a data quality
// signal for operators, never a serving error.
type ConsistencyService struct {
	checker  *consistency.Checker
	interval time.Duration
	samples  int
}

// NewConsistencyService creates the check loop.
func NewConsistencyService(checker *consistency.Checker, interval time.Duration, samples int) *ConsistencyService {
	if interval <= 0 {
		interval = time.Hour
	}
	if samples <= 0 {
		samples = 8
	}
	return &ConsistencyService{checker: checker, interval: interval, samples: samples}
}

// Serve implements suture.Service.
func (c *ConsistencyService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := c.checker.Check(ctx, c.samples)
			if err != nil {
				logging.Warn().Err(err).Msg("Scheduled consistency check failed to run")
				continue
			}
			if report.Checked > 0 && report.PassRate < 1 {
				logging.Warn().
					Float64("pass_rate", report.PassRate).
					Int("checked", report.Checked).
					Msg("Derived and stored 30-minute data diverge")
			}
		}
	}
}

func (c *ConsistencyService) String() string { return "consistency-checker" }
