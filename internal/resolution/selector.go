// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

// Package resolution decides which data granularity serves a requested time
// span. The selector is a pure function of (category, start, end) and the
// configured thresholds: no I/O, no clock, same inputs always produce the
// same strategy.
package resolution

import (
	"fmt"
	"time"

	"github.com/nemlens/nemlens/internal/config"
	"github.com/nemlens/nemlens/internal/market"
)

// Strategy is the selector's decision for one request: the granularity to
// read and its estimated cost. Never mutated after creation.
type Strategy struct {
	Resolution        market.Resolution `json:"resolution"`
	EstimatedRows     int64             `json:"estimated_rows"`
	EstimatedMemoryMB float64           `json:"estimated_memory_mb"`
	Rationale         string            `json:"rationale"`
}

// Selector maps a requested span onto a resolution strategy using the
// configured thresholds and per-category cost model.
type Selector struct {
	cfg config.QueryConfig
}

// NewSelector creates a selector from the query configuration.
func NewSelector(cfg config.QueryConfig) *Selector {
	return &Selector{cfg: cfg}
}

// Select chooses the optimal resolution for the span.
//
// Thresholds (all configurable, defaults in parentheses):
//
//	span <= FiveMinMaxDays (7d)        -> 5min
//	span <= ThirtyMinMaxDays (14d)     -> 30min (transition band: safety
//	                                      margin over precision)
//	span <= DailyCutoverDays (180d)    -> 30min
//	span <= AggregateCutoverDays (2y)  -> daily
//	beyond                             -> aggregate (monthly)
//
// After the threshold choice the resolution is coarsened further while the
// estimated memory exceeds the configured per-query ceiling, so a wide
// generation query can never blow past the budget just because its span
// landed in a fine band.
func (s *Selector) Select(category market.Category, start, end time.Time) (Strategy, error) {
	if !category.Valid() {
		return Strategy{}, fmt.Errorf("%w: %q", market.ErrUnknownCategory, string(category))
	}
	if !start.Before(end) {
		return Strategy{}, fmt.Errorf("%w (start=%s end=%s)",
			market.ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	days := end.Sub(start).Hours() / 24

	var res market.Resolution
	var rationale string
	switch {
	case days <= s.cfg.FiveMinMaxDays:
		res = market.Resolution5Min
		rationale = fmt.Sprintf("span %.1fd within 5-minute band (<= %.0fd)", days, s.cfg.FiveMinMaxDays)
	case days <= s.cfg.ThirtyMinMaxDays:
		res = market.Resolution30Min
		rationale = fmt.Sprintf("span %.1fd in 5min/30min transition band, preferring 30min", days)
	case days <= s.cfg.DailyCutoverDays:
		res = market.Resolution30Min
		rationale = fmt.Sprintf("span %.1fd within 30-minute band (<= %.0fd)", days, s.cfg.DailyCutoverDays)
	case days <= s.cfg.AggregateCutoverDays:
		res = market.ResolutionDaily
		rationale = fmt.Sprintf("span %.1fd within daily band (<= %.0fd)", days, s.cfg.AggregateCutoverDays)
	default:
		res = market.ResolutionAggregate
		rationale = fmt.Sprintf("span %.1fd beyond %.0fd, using monthly aggregates", days, s.cfg.AggregateCutoverDays)
	}

	strategy := s.Estimate(category, res, start, end)
	for strategy.EstimatedMemoryMB > s.cfg.MemoryCeilingMB {
		coarser := strategy.Resolution.Coarser()
		if coarser == strategy.Resolution {
			break // already at the coarsest granularity
		}
		rationale = fmt.Sprintf("%s; coarsened to %s to stay under %.0fMB ceiling",
			rationale, coarser, s.cfg.MemoryCeilingMB)
		strategy = s.Estimate(category, coarser, start, end)
	}
	strategy.Rationale = rationale
	return strategy, nil
}

// Estimate costs a concrete (category, resolution, span) combination without
// applying threshold logic. The manager uses it to vet explicit resolution
// overrides against the memory ceiling.
//
// rows = days * intervalsPerDay(resolution) * dimensionCardinality(category)
// memory = rows * bytesPerRow(category) / 1MiB
func (s *Selector) Estimate(category market.Category, res market.Resolution, start, end time.Time) Strategy {
	days := end.Sub(start).Hours() / 24
	rows := days * res.IntervalsPerDay() * s.cardinality(category)
	memMB := rows * s.bytesPerRow(category) / (1 << 20)
	return Strategy{
		Resolution:        res,
		EstimatedRows:     int64(rows),
		EstimatedMemoryMB: memMB,
	}
}

// WithinCeiling reports whether a strategy's estimated memory fits the
// configured per-query limit.
func (s *Selector) WithinCeiling(strategy Strategy) bool {
	return strategy.EstimatedMemoryMB <= s.cfg.MemoryCeilingMB
}

func (s *Selector) cardinality(category market.Category) float64 {
	switch category {
	case market.CategoryGeneration:
		return s.cfg.CardinalityGeneration
	case market.CategoryPrice:
		return s.cfg.CardinalityPrice
	case market.CategoryTransmission:
		return s.cfg.CardinalityTransmission
	case market.CategoryRooftop:
		return s.cfg.CardinalityRooftop
	default:
		return 1
	}
}

func (s *Selector) bytesPerRow(category market.Category) float64 {
	switch category {
	case market.CategoryGeneration:
		return s.cfg.BytesPerRowGeneration
	case market.CategoryPrice:
		return s.cfg.BytesPerRowPrice
	case market.CategoryTransmission:
		return s.cfg.BytesPerRowTransmission
	case market.CategoryRooftop:
		return s.cfg.BytesPerRowRooftop
	default:
		return 64
	}
}
