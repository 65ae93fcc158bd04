// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package market

import "time"

// Column describes one typed column of a tabular result.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"` // TIMESTAMP, VARCHAR, or DOUBLE
}

// Table is an ordered tabular result. Time-series rows are ordered by
// timestamp ascending, unique per (timestamp, dimension) pair.
//
// Tables handed out by the cache are shared between callers and must be
// treated as read-only; the cache only ever replaces entries wholesale,
// never mutates them in place.
type Table struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// NewTable creates an empty table with the given column contract.
func NewTable(columns ...Column) *Table {
	return &Table{Columns: columns, Rows: nil}
}

// AppendRow appends one row. The caller is responsible for matching the
// column contract; the executor is the only writer and validates its scan
// targets against the contract once, at the store boundary.
func (t *Table) AppendRow(values ...any) {
	t.Rows = append(t.Rows, values)
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	return len(t.Rows)
}

// Empty reports whether the table has no rows. An empty table is a normal
// success value, not an error.
func (t *Table) Empty() bool {
	return len(t.Rows) == 0
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// SizeBytes estimates the in-memory footprint of the table for cache
// accounting. The estimate is deliberately simple: fixed cost per scalar,
// length plus header for strings. Cache capacity enforcement only needs it
// to be roughly proportional to real usage.
func (t *Table) SizeBytes() int64 {
	const (
		rowOverhead    = 24
		scalarCost     = 8
		stringOverhead = 16
	)

	var size int64
	for _, c := range t.Columns {
		size += int64(len(c.Name)) + stringOverhead
	}
	for _, row := range t.Rows {
		size += rowOverhead
		for _, v := range row {
			switch val := v.(type) {
			case string:
				size += int64(len(val)) + stringOverhead
			case time.Time:
				size += 24
			default:
				size += scalarCost
			}
		}
	}
	return size
}
