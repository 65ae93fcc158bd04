// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nemlens/nemlens/internal/logging"
	"github.com/nemlens/nemlens/internal/market"
	"github.com/nemlens/nemlens/internal/metrics"
)

// Fetch executes a range scan for req at the given resolution and returns a
// columnar table ordered by settlement timestamp.
//
// When the resolution matches a persisted table, rows are returned as
// stored. When it is coarser, rows are aggregated on the fly: additive
// categories (generation, transmission, rooftop) convert megawatts to
// megawatt hours and sum; price averages. When it is finer than anything
// persisted (rooftop below 30 minutes), the finest stored rows are returned
// unchanged rather than failing: absence of finer data is a normal
// condition.
//
// The time range is half open: settlement_ts >= start AND settlement_ts <
// end. Timestamps label the END of their settlement interval, so a
// 30-minute bucket stamped 10:30 covers (10:00, 10:30].
func (s *Store) Fetch(ctx context.Context, req market.QueryRequest, res market.Resolution) (*market.Table, error) {
	ds, aggregate := nativeDataset(req.Category, res)
	if ds == nil {
		return nil, fmt.Errorf("%w: %q", market.ErrUnknownCategory, req.Category)
	}

	query, args, cols := buildQuery(ds, req, res, aggregate)

	start := time.Now()
	table, err := s.withRetry(ctx, func(ctx context.Context) (*market.Table, error) {
		return s.scanTable(ctx, query, args, cols)
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues(string(req.Category)).Inc()
		return nil, err
	}
	metrics.StoreFetchDuration.WithLabelValues(string(req.Category), string(res)).Observe(time.Since(start).Seconds())

	logging.Debug().
		Str("category", string(req.Category)).
		Str("resolution", string(res)).
		Int("rows", table.NumRows()).
		Dur("elapsed", time.Since(start)).
		Msg("Range scan complete")

	return table, nil
}

// FetchDerived30 aggregates a category's finest stored rows into end
// labelled 30-minute buckets, bypassing any persisted 30-minute table. The
// consistency checker compares its output against FetchStored30.
func (s *Store) FetchDerived30(ctx context.Context, req market.QueryRequest) (*market.Table, error) {
	ds := finestDataset(req.Category)
	if ds == nil {
		return nil, fmt.Errorf("%w: %q", market.ErrUnknownCategory, req.Category)
	}
	if ds.nativeInterval != market.Resolution5Min {
		return nil, fmt.Errorf("category %s has no sub-30-minute data to aggregate", req.Category)
	}

	query, args, cols := buildQuery(ds, req, market.Resolution30Min, true)
	return s.withRetry(ctx, func(ctx context.Context) (*market.Table, error) {
		return s.scanTable(ctx, query, args, cols)
	})
}

// FetchStored30 reads a category's persisted 30-minute table directly, in
// the same shape FetchDerived30 produces (values converted to energy for
// additive categories). Returns nil table when the category has no
// persisted 30-minute data.
func (s *Store) FetchStored30(ctx context.Context, req market.QueryRequest) (*market.Table, error) {
	ds := coarseDataset(req.Category)
	if ds == nil {
		return nil, nil
	}

	// A stored 30-minute row is already one bucket; converting mw to mwh
	// is a per-row projection, expressed as a single-row "aggregation".
	query, args, cols := buildQuery(ds, req, market.Resolution30Min, true)
	return s.withRetry(ctx, func(ctx context.Context) (*market.Table, error) {
		return s.scanTable(ctx, query, args, cols)
	})
}

// buildQuery renders the SELECT for one dataset. aggregate selects between
// a plain contract-order scan and bucketed aggregation into the target
// resolution.
func buildQuery(ds *dataset, req market.QueryRequest, target market.Resolution, aggregate bool) (string, []any, []market.Column) {
	where, args := buildPredicates(ds, req)

	if !aggregate {
		names := make([]string, len(ds.columns))
		for i, col := range ds.columns {
			names[i] = col.Name
		}
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY settlement_ts, %s",
			strings.Join(names, ", "), ds.table, where, ds.dimension)
		return query, args, ds.columns
	}

	bucket := bucketExpr(ds.nativeInterval, target)
	dims := dimensionColumns(ds)

	var valueExpr string
	if req.Category == market.CategoryPrice {
		valueExpr = fmt.Sprintf("AVG(%s) AS rrp", ds.value)
	} else {
		valueExpr = fmt.Sprintf("SUM(%s * %s) AS mwh", ds.value, intervalHours(ds.nativeInterval))
	}

	selects := append([]string{bucket + " AS settlement_ts"}, dims...)
	selects = append(selects, valueExpr)

	groupBy := make([]string, 0, len(dims)+1)
	groupBy = append(groupBy, "1")
	for i := range dims {
		groupBy = append(groupBy, fmt.Sprintf("%d", i+2))
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s GROUP BY %s ORDER BY settlement_ts, %s",
		strings.Join(selects, ", "), ds.table, where, strings.Join(groupBy, ", "), ds.dimension)

	return query, args, aggregatedColumns(ds, req.Category)
}

// aggregatedColumns is the output shape of a bucketed aggregation: the
// bucket timestamp, the dataset's dimension columns, and the energy or
// averaged-price value.
func aggregatedColumns(ds *dataset, category market.Category) []market.Column {
	dims := dimensionColumns(ds)

	valueCol := market.Column{Name: "mwh", Type: "DOUBLE"}
	if category == market.CategoryPrice {
		valueCol = market.Column{Name: "rrp", Type: "DOUBLE"}
	}

	cols := make([]market.Column, 0, len(dims)+2)
	cols = append(cols, tsCol)
	for _, d := range dims {
		cols = append(cols, market.Column{Name: d, Type: "VARCHAR"})
	}
	cols = append(cols, valueCol)
	return cols
}

// ResultColumns reports the column schema Fetch would return for a
// (category, resolution) pair without executing anything. The query manager
// uses it to shape empty results for ranges with no coverage.
func ResultColumns(category market.Category, res market.Resolution) []market.Column {
	ds, aggregate := nativeDataset(category, res)
	if ds == nil {
		return nil
	}
	if !aggregate {
		return ds.columns
	}
	return aggregatedColumns(ds, category)
}

// buildPredicates renders the WHERE clause shared by scans and aggregations:
// half-open time range, optional region match, optional dimension
// membership.
func buildPredicates(ds *dataset, req market.QueryRequest) (string, []any) {
	clauses := []string{"settlement_ts >= ? AND settlement_ts < ?"}
	args := []any{req.Start, req.End}

	if req.Region != "" {
		if ds.regionPair {
			// A flow touches a region as either endpoint.
			clauses = append(clauses, "(region_from = ? OR region_to = ?)")
			args = append(args, req.Region, req.Region)
		} else {
			clauses = append(clauses, ds.region+" = ?")
			args = append(args, req.Region)
		}
	}

	if len(req.DimensionFilter) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(req.DimensionFilter)), ", ")
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", ds.dimension, placeholders))
		for _, v := range req.DimensionFilter {
			args = append(args, v)
		}
	}

	return strings.Join(clauses, " AND "), args
}

// bucketExpr maps an end-labelled source timestamp into the target bucket.
//
// Subtracting the source interval width yields the interval START, which is
// what belongs to a bucket: a 30-minute row stamped 00:00 covers
// (23:30, 00:00] and must land in the previous day. Fixed-width targets add
// their width back so bucket labels stay end-of-interval; calendar targets
// (daily, monthly) are labelled by bucket start per AEMO convention.
func bucketExpr(source, target market.Resolution) string {
	shift := sqlInterval(source)
	switch target {
	case market.Resolution30Min:
		return fmt.Sprintf("time_bucket(INTERVAL '30 minutes', settlement_ts - %s) + INTERVAL '30 minutes'", shift)
	case market.ResolutionDaily:
		return fmt.Sprintf("date_trunc('day', settlement_ts - %s)", shift)
	case market.ResolutionAggregate:
		return fmt.Sprintf("date_trunc('month', settlement_ts - %s)", shift)
	default:
		return "settlement_ts"
	}
}

func sqlInterval(res market.Resolution) string {
	if res == market.Resolution30Min {
		return "INTERVAL '30 minutes'"
	}
	return "INTERVAL '5 minutes'"
}

// intervalHours is the SQL literal converting a power reading at the given
// resolution to energy: mwh = mw * hours.
func intervalHours(res market.Resolution) string {
	if res == market.Resolution30Min {
		return "0.5"
	}
	return "(5.0 / 60.0)"
}

// dimensionColumns lists a dataset's grouping columns: everything except the
// timestamp and the value.
func dimensionColumns(ds *dataset) []string {
	dims := make([]string, 0, len(ds.columns)-2)
	for _, col := range ds.columns {
		if col.Name == "settlement_ts" || col.Name == ds.value {
			continue
		}
		dims = append(dims, col.Name)
	}
	return dims
}

// scanTable runs query and materializes the result into a columnar table.
// Scan targets are typed from the column contract so rows carry time.Time,
// string and float64 values rather than driver-specific types.
func (s *Store) scanTable(ctx context.Context, query string, args []any, cols []market.Column) (*market.Table, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer closeQuietly(rows)

	table := market.NewTable(cols...)
	for rows.Next() {
		values, targets := scanTargets(cols)
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make([]any, len(cols))
		for i := range values {
			row[i] = dereference(values[i])
		}
		table.AppendRow(row...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	return table, nil
}

func scanTargets(cols []market.Column) ([]any, []any) {
	values := make([]any, len(cols))
	targets := make([]any, len(cols))
	for i, col := range cols {
		switch col.Type {
		case "TIMESTAMP":
			values[i] = new(time.Time)
		case "DOUBLE":
			values[i] = new(sql.NullFloat64)
		default:
			values[i] = new(sql.NullString)
		}
		targets[i] = values[i]
	}
	return values, targets
}

func dereference(v any) any {
	switch t := v.(type) {
	case *time.Time:
		return t.UTC()
	case *sql.NullFloat64:
		if !t.Valid {
			return 0.0
		}
		return t.Float64
	case *sql.NullString:
		if !t.Valid {
			return ""
		}
		return t.String
	default:
		return v
	}
}
