// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nemlens/nemlens/internal/logging"
	"github.com/nemlens/nemlens/internal/market"
)

// Coverage describes the time span a category has data for, measured on its
// finest stored table.
type Coverage struct {
	Category market.Category `json:"category"`
	Earliest time.Time       `json:"earliest,omitempty"`
	Latest   time.Time       `json:"latest,omitempty"`
	Rows     int64           `json:"rows"`
	HasData  bool            `json:"has_data"`
}

// coverageCache holds the last refreshed coverage per category. Refreshed
// periodically by the metadata service so request handling never pays for
// a MIN/MAX scan.
type coverageCache struct {
	mu       sync.RWMutex
	byCat    map[market.Category]Coverage
	lastScan time.Time
}

var allCategories = []market.Category{
	market.CategoryGeneration,
	market.CategoryPrice,
	market.CategoryTransmission,
	market.CategoryRooftop,
}

// Coverage queries the live span for one category.
func (s *Store) Coverage(ctx context.Context, category market.Category) (Coverage, error) {
	ds := finestDataset(category)
	if ds == nil {
		return Coverage{}, fmt.Errorf("%w: %q", market.ErrUnknownCategory, category)
	}

	query := fmt.Sprintf("SELECT MIN(settlement_ts), MAX(settlement_ts), COUNT(*) FROM %s", ds.table)

	var earliest, latest sql.NullTime
	var rows int64
	if err := s.conn.QueryRowContext(ctx, query).Scan(&earliest, &latest, &rows); err != nil {
		if ctx.Err() != nil {
			return Coverage{}, ctx.Err()
		}
		return Coverage{}, fmt.Errorf("%w: coverage query for %s: %v", market.ErrDataSourceUnavailable, category, err)
	}

	cov := Coverage{Category: category, Rows: rows, HasData: rows > 0}
	if earliest.Valid {
		cov.Earliest = earliest.Time.UTC()
	}
	if latest.Valid {
		cov.Latest = latest.Time.UTC()
	}
	return cov, nil
}

// RefreshCoverage rescans coverage for every category and updates the
// cached snapshot. Called at startup and on a timer by the metadata
// service.
func (s *Store) RefreshCoverage(ctx context.Context) error {
	fresh := make(map[market.Category]Coverage, len(allCategories))
	for _, cat := range allCategories {
		cov, err := s.Coverage(ctx, cat)
		if err != nil {
			return err
		}
		fresh[cat] = cov
	}

	s.coverage.mu.Lock()
	s.coverage.byCat = fresh
	s.coverage.lastScan = time.Now()
	s.coverage.mu.Unlock()

	logging.Debug().Int("categories", len(fresh)).Msg("Coverage metadata refreshed")
	return nil
}

// CachedCoverage returns the last refreshed coverage for a category. The
// second return is false when no refresh has completed yet.
func (s *Store) CachedCoverage(category market.Category) (Coverage, bool) {
	s.coverage.mu.RLock()
	defer s.coverage.mu.RUnlock()
	cov, ok := s.coverage.byCat[category]
	return cov, ok
}

// CoverageSnapshot returns the cached coverage for all categories, for the
// metadata endpoint.
func (s *Store) CoverageSnapshot() []Coverage {
	s.coverage.mu.RLock()
	defer s.coverage.mu.RUnlock()

	out := make([]Coverage, 0, len(s.coverage.byCat))
	for _, cat := range allCategories {
		if cov, ok := s.coverage.byCat[cat]; ok {
			out = append(out, cov)
		}
	}
	return out
}

// DimensionValues lists the distinct dimension key values for a category:
// DUIDs for generation, regions for price and rooftop, interconnector IDs
// for transmission. Drives dashboard filter dropdowns.
func (s *Store) DimensionValues(ctx context.Context, category market.Category) ([]string, error) {
	ds := finestDataset(category)
	if ds == nil {
		return nil, fmt.Errorf("%w: %q", market.ErrUnknownCategory, category)
	}

	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY %s", ds.dimension, ds.table, ds.dimension)
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: dimension query for %s: %v", market.ErrDataSourceUnavailable, category, err)
	}
	defer closeQuietly(rows)

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan dimension value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dimension iteration failed: %w", err)
	}
	return values, nil
}
