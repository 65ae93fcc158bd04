// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

// Package query orchestrates the read path: validate, pick a resolution,
// consult coverage, then serve from the result cache or fall through to the
// columnar store. It is the only component that sees the whole pipeline;
// selector, cache and store never call each other directly.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nemlens/nemlens/internal/cache"
	"github.com/nemlens/nemlens/internal/config"
	"github.com/nemlens/nemlens/internal/logging"
	"github.com/nemlens/nemlens/internal/market"
	"github.com/nemlens/nemlens/internal/metrics"
	"github.com/nemlens/nemlens/internal/resolution"
	"github.com/nemlens/nemlens/internal/store"
)

// DataSource is the slice of the store the manager depends on.
type DataSource interface {
	Fetch(ctx context.Context, req market.QueryRequest, res market.Resolution) (*market.Table, error)
	CachedCoverage(category market.Category) (store.Coverage, bool)
}

// Result is one answered query: the data plus how it was produced, so the
// API can tell dashboards which granularity they are looking at and whether
// the answer came from cache.
type Result struct {
	Table             *market.Table     `json:"table"`
	Resolution        market.Resolution `json:"resolution"`
	CacheHit          bool              `json:"cache_hit"`
	EstimatedRows     int64             `json:"estimated_rows"`
	EstimatedMemoryMB float64           `json:"estimated_memory_mb"`
	Rationale         string            `json:"rationale"`
	Fingerprint       string            `json:"fingerprint"`
	Elapsed           time.Duration     `json:"elapsed_ns"`
}

// Manager wires the resolution selector, result cache and columnar store
// into the serving pipeline.
type Manager struct {
	source   DataSource
	cache    *cache.ResultCache
	selector *resolution.Selector
	cacheCfg config.CacheConfig

	// now is replaceable in tests.
	now func() time.Time
}

// NewManager creates the orchestrator.
func NewManager(source DataSource, c *cache.ResultCache, selector *resolution.Selector, cacheCfg config.CacheConfig) *Manager {
	return &Manager{
		source:   source,
		cache:    c,
		selector: selector,
		cacheCfg: cacheCfg,
		now:      time.Now,
	}
}

// concreteResolutions are the granularities a request can actually be
// served at; auto is an input value only and never reaches the store or a
// fingerprint.
var concreteResolutions = []market.Resolution{
	market.Resolution5Min,
	market.Resolution30Min,
	market.ResolutionDaily,
	market.ResolutionAggregate,
}

// Query answers one request.
//
// Identical concurrent queries share a single store fetch; the rest wait on
// the cache's in-flight computation. A request whose range has no data
// coverage returns an empty table immediately and is never cached, so the
// cache cannot fill up with permanently empty results during backfills.
func (m *Manager) Query(ctx context.Context, req market.QueryRequest) (*Result, error) {
	started := m.now()

	req = req.Normalize()
	if err := req.Validate(); err != nil {
		metrics.RecordQueryError(string(req.Category), classifyError(err))
		return nil, err
	}

	strategy, err := m.resolve(req)
	if err != nil {
		metrics.RecordQueryError(string(req.Category), classifyError(err))
		return nil, err
	}

	// Coverage short circuit.
	if cov, ok := m.source.CachedCoverage(req.Category); ok {
		if !cov.HasData || !req.End.After(cov.Earliest) || req.Start.After(cov.Latest) {
			logging.Debug().
				Str("category", string(req.Category)).
				Time("start", req.Start).
				Time("end", req.End).
				Msg("Requested range outside data coverage")
			return &Result{
				Table:             market.NewTable(store.ResultColumns(req.Category, strategy.Resolution)...),
				Resolution:        strategy.Resolution,
				EstimatedRows:     strategy.EstimatedRows,
				EstimatedMemoryMB: strategy.EstimatedMemoryMB,
				Rationale:         strategy.Rationale + "; range outside data coverage, served empty",
				Elapsed:           m.now().Sub(started),
			}, nil
		}
	}

	fingerprint := market.Fingerprint(req, strategy.Resolution)
	ttl := m.ttlFor(req)

	table, hit, err := m.cache.GetOrCompute(ctx, fingerprint, ttl, func(ctx context.Context) (*market.Table, error) {
		return m.source.Fetch(ctx, req, strategy.Resolution)
	})
	if err != nil {
		metrics.RecordQueryError(string(req.Category), classifyError(err))
		return nil, err
	}

	elapsed := m.now().Sub(started)
	metrics.RecordQuery(string(req.Category), string(strategy.Resolution), hit, elapsed)

	stats := m.cache.Stats()
	metrics.UpdateCacheGauges(stats.Entries, stats.TotalSizeBytes)

	return &Result{
		Table:             table,
		Resolution:        strategy.Resolution,
		CacheHit:          hit,
		EstimatedRows:     strategy.EstimatedRows,
		EstimatedMemoryMB: strategy.EstimatedMemoryMB,
		Rationale:         strategy.Rationale,
		Fingerprint:       fingerprint,
		Elapsed:           elapsed,
	}, nil
}

// resolve turns the request's resolution field into a concrete strategy.
// Auto goes through the selector; an explicit resolution is honored as-is
// but still vetted against the memory ceiling, failing fast rather than
// attempting a fetch that would blow the budget.
func (m *Manager) resolve(req market.QueryRequest) (resolution.Strategy, error) {
	if req.Resolution == market.ResolutionAuto || req.Resolution == "" {
		strategy, err := m.selector.Select(req.Category, req.Start, req.End)
		if err != nil {
			return resolution.Strategy{}, err
		}
		metrics.ResolutionSelected.WithLabelValues(string(req.Category), string(strategy.Resolution), "auto").Inc()
		return strategy, nil
	}

	strategy := m.selector.Estimate(req.Category, req.Resolution, req.Start, req.End)
	strategy.Rationale = "explicit resolution override"
	if !m.selector.WithinCeiling(strategy) {
		return resolution.Strategy{}, &OverBudgetError{
			Resolution:        req.Resolution,
			EstimatedMemoryMB: strategy.EstimatedMemoryMB,
		}
	}
	metrics.ResolutionSelected.WithLabelValues(string(req.Category), string(strategy.Resolution), "override").Inc()
	return strategy, nil
}

// OverBudgetError rejects an explicit resolution whose estimated memory
// exceeds the per-query ceiling. Wraps market.ErrResourceLimitExceeded for
// errors.Is matching.
type OverBudgetError struct {
	Resolution        market.Resolution
	EstimatedMemoryMB float64
}

func (e *OverBudgetError) Error() string {
	return fmt.Sprintf("%v: resolution %s estimated at %.0fMB; narrow the range or use a coarser resolution",
		market.ErrResourceLimitExceeded, e.Resolution, e.EstimatedMemoryMB)
}

func (e *OverBudgetError) Unwrap() error { return market.ErrResourceLimitExceeded }

// ttlFor picks the cache lifetime: queries touching the recent edge of the
// dataset expire quickly because that data is still arriving or subject to
// revision, fully settled history lives much longer.
func (m *Manager) ttlFor(req market.QueryRequest) time.Duration {
	if req.End.After(m.now().Add(-m.cacheCfg.RecentWindow)) {
		return m.cacheCfg.RecentTTL
	}
	return m.cacheCfg.DefaultTTL
}

// InvalidateRequest drops any cached results for the request at every
// concrete resolution. Used after upstream corrections land for a range.
func (m *Manager) InvalidateRequest(req market.QueryRequest) int {
	req = req.Normalize()
	for _, res := range concreteResolutions {
		m.cache.Invalidate(market.Fingerprint(req, res))
	}
	metrics.CacheInvalidations.Add(float64(len(concreteResolutions)))

	logging.Info().
		Str("category", string(req.Category)).
		Time("start", req.Start).
		Time("end", req.End).
		Msg("Cache entries invalidated for request")
	return len(concreteResolutions)
}

// InvalidateFingerprint drops a single cached result by its exact key.
func (m *Manager) InvalidateFingerprint(fingerprint string) {
	m.cache.Invalidate(fingerprint)
	metrics.CacheInvalidations.Inc()
}

// ClearCache drops everything.
func (m *Manager) ClearCache() {
	m.cache.Clear()
	stats := m.cache.Stats()
	metrics.UpdateCacheGauges(stats.Entries, stats.TotalSizeBytes)
	logging.Info().Msg("Result cache cleared")
}

// CacheStats returns a snapshot of cache counters.
func (m *Manager) CacheStats() cache.Stats {
	return m.cache.Stats()
}

// classifyError buckets an error for the metrics label.
func classifyError(err error) string {
	switch {
	case market.IsInputError(err):
		return "invalid_input"
	case errors.Is(err, market.ErrResourceLimitExceeded):
		return "resource_limit"
	case errors.Is(err, market.ErrDataSourceUnavailable):
		return "data_source_unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		var mismatch *market.SchemaMismatchError
		if errors.As(err, &mismatch) {
			return "schema_mismatch"
		}
		return "internal"
	}
}
