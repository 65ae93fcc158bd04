// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package market

import (
	"testing"
	"time"
)

func TestTableBasics(t *testing.T) {
	tbl := NewTable(
		Column{Name: "settlement_ts", Type: "TIMESTAMP"},
		Column{Name: "region", Type: "VARCHAR"},
		Column{Name: "rrp", Type: "DOUBLE"},
	)

	if !tbl.Empty() {
		t.Error("new table should be empty")
	}

	tbl.AppendRow(time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC), "NSW1", 84.2)
	tbl.AppendRow(time.Date(2025, 1, 1, 0, 10, 0, 0, time.UTC), "NSW1", 85.0)

	if tbl.NumRows() != 2 {
		t.Errorf("expected 2 rows, got %d", tbl.NumRows())
	}
	if tbl.Empty() {
		t.Error("table with rows should not be empty")
	}
	if idx := tbl.ColumnIndex("rrp"); idx != 2 {
		t.Errorf("ColumnIndex(rrp) = %d, want 2", idx)
	}
	if idx := tbl.ColumnIndex("missing"); idx != -1 {
		t.Errorf("ColumnIndex(missing) = %d, want -1", idx)
	}
}

func TestTableSizeBytesGrowsWithRows(t *testing.T) {
	tbl := NewTable(
		Column{Name: "settlement_ts", Type: "TIMESTAMP"},
		Column{Name: "mw", Type: "DOUBLE"},
	)
	empty := tbl.SizeBytes()

	for i := 0; i < 100; i++ {
		tbl.AppendRow(time.Now(), float64(i))
	}

	filled := tbl.SizeBytes()
	if filled <= empty {
		t.Errorf("size estimate must grow with rows: empty=%d filled=%d", empty, filled)
	}
}
