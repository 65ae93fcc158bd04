// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package store

import (
	"context"
	"fmt"

	"github.com/nemlens/nemlens/internal/market"
)

// dataset describes one physical table: where a category's data lives at a
// given native resolution and which columns the contract guarantees.
//
// Column naming is settled here, once, at the store boundary. Downstream
// components never re-guess naming conventions.
type dataset struct {
	table string
	// columns in contract order; settlement_ts always leads.
	columns []market.Column
	// dimension is the category's dimension key column (DUID,
	// interconnector, region), used for membership filters.
	dimension string
	// region is the region column for equality filters; transmission uses
	// regionPair matching instead.
	region     string
	regionPair bool
	// value is the measured quantity column (mw or rrp).
	value string
	// nativeInterval is the persisted bucket width.
	nativeInterval market.Resolution
}

var (
	tsCol = market.Column{Name: "settlement_ts", Type: "TIMESTAMP"}

	generation5 = dataset{
		table: "generation_5min",
		columns: []market.Column{
			tsCol,
			{Name: "duid", Type: "VARCHAR"},
			{Name: "region", Type: "VARCHAR"},
			{Name: "mw", Type: "DOUBLE"},
		},
		dimension:      "duid",
		region:         "region",
		value:          "mw",
		nativeInterval: market.Resolution5Min,
	}

	generation30 = dataset{
		table: "generation_30min",
		columns: []market.Column{
			tsCol,
			{Name: "duid", Type: "VARCHAR"},
			{Name: "region", Type: "VARCHAR"},
			{Name: "mw", Type: "DOUBLE"},
		},
		dimension:      "duid",
		region:         "region",
		value:          "mw",
		nativeInterval: market.Resolution30Min,
	}

	price5 = dataset{
		table: "price_5min",
		columns: []market.Column{
			tsCol,
			{Name: "region", Type: "VARCHAR"},
			{Name: "rrp", Type: "DOUBLE"},
		},
		dimension:      "region",
		region:         "region",
		value:          "rrp",
		nativeInterval: market.Resolution5Min,
	}

	price30 = dataset{
		table: "price_30min",
		columns: []market.Column{
			tsCol,
			{Name: "region", Type: "VARCHAR"},
			{Name: "rrp", Type: "DOUBLE"},
		},
		dimension:      "region",
		region:         "region",
		value:          "rrp",
		nativeInterval: market.Resolution30Min,
	}

	transmission5 = dataset{
		table: "transmission_5min",
		columns: []market.Column{
			tsCol,
			{Name: "interconnector", Type: "VARCHAR"},
			{Name: "region_from", Type: "VARCHAR"},
			{Name: "region_to", Type: "VARCHAR"},
			{Name: "mw", Type: "DOUBLE"},
		},
		dimension:      "interconnector",
		regionPair:     true,
		value:          "mw",
		nativeInterval: market.Resolution5Min,
	}

	rooftop30 = dataset{
		table: "rooftop_30min",
		columns: []market.Column{
			tsCol,
			{Name: "region", Type: "VARCHAR"},
			{Name: "mw", Type: "DOUBLE"},
		},
		dimension:      "region",
		region:         "region",
		value:          "mw",
		nativeInterval: market.Resolution30Min,
	}
)

// datasets lists every physical table, used for schema creation and
// validation.
var datasets = []*dataset{
	&generation5, &generation30, &price5, &price30, &transmission5, &rooftop30,
}

// nativeDataset picks the physical table serving (category, resolution).
// When the requested resolution is finer than anything persisted (rooftop at
// 5min), the finest available dataset is returned: absence of finer data is
// a normal condition, not an error. The second return reports whether
// on-the-fly aggregation into coarser buckets is required.
func nativeDataset(category market.Category, res market.Resolution) (*dataset, bool) {
	switch category {
	case market.CategoryGeneration:
		if res == market.Resolution5Min {
			return &generation5, false
		}
		if res == market.Resolution30Min {
			return &generation30, false
		}
		return &generation30, true
	case market.CategoryPrice:
		if res == market.Resolution5Min {
			return &price5, false
		}
		if res == market.Resolution30Min {
			return &price30, false
		}
		return &price30, true
	case market.CategoryTransmission:
		if res == market.Resolution5Min {
			return &transmission5, false
		}
		return &transmission5, true
	case market.CategoryRooftop:
		// 30-minute is the finest persisted rooftop granularity.
		if res == market.Resolution5Min || res == market.Resolution30Min {
			return &rooftop30, false
		}
		return &rooftop30, true
	default:
		return nil, false
	}
}

// finestDataset returns the highest-resolution physical table for a
// category; coverage metadata and the consistency checker read from it.
func finestDataset(category market.Category) *dataset {
	switch category {
	case market.CategoryGeneration:
		return &generation5
	case market.CategoryPrice:
		return &price5
	case market.CategoryTransmission:
		return &transmission5
	case market.CategoryRooftop:
		return &rooftop30
	default:
		return nil
	}
}

// coarseDataset returns the persisted 30-minute table for a category, or
// nil when none exists. The consistency checker compares aggregated fine
// data against it.
func coarseDataset(category market.Category) *dataset {
	switch category {
	case market.CategoryGeneration:
		return &generation30
	case market.CategoryPrice:
		return &price30
	default:
		return nil
	}
}

// initSchema creates any missing physical tables. Idempotent; existing
// tables are left untouched and validated separately.
func (s *Store) initSchema(ctx context.Context) error {
	for _, ds := range datasets {
		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (", ds.table)
		for i, col := range ds.columns {
			if i > 0 {
				ddl += ", "
			}
			ddl += col.Name + " " + col.Type
		}
		ddl += ")"
		if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table %s: %w", ds.table, err)
		}
	}
	return nil
}

// validateSchema checks every physical table against its contract once, at
// open time. A table missing contract columns fails with a schema mismatch
// naming exactly what is absent.
func (s *Store) validateSchema(ctx context.Context) error {
	for _, ds := range datasets {
		rows, err := s.conn.QueryContext(ctx,
			`SELECT column_name FROM information_schema.columns WHERE table_name = ?`, ds.table)
		if err != nil {
			return fmt.Errorf("failed to inspect schema of %s: %w", ds.table, err)
		}

		present := make(map[string]bool)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				closeQuietly(rows)
				return fmt.Errorf("failed to scan column name for %s: %w", ds.table, err)
			}
			present[name] = true
		}
		if err := rows.Err(); err != nil {
			closeQuietly(rows)
			return fmt.Errorf("failed to iterate columns of %s: %w", ds.table, err)
		}
		closeQuietly(rows)

		var missing []string
		for _, col := range ds.columns {
			if !present[col.Name] {
				missing = append(missing, col.Name)
			}
		}
		if len(missing) > 0 {
			return &market.SchemaMismatchError{Table: ds.table, Missing: missing}
		}
	}
	return nil
}
