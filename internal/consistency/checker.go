// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

// Package consistency cross-checks the two representations of 30-minute
// data: rows aggregated on the fly from 5-minute intervals against the
// separately ingested 30-minute tables. A systematic divergence usually
// means bucket windowing drifted (the classic failure is aggregating five
// intervals instead of six) or one ingestion feed is behind the other.
package consistency

import (
	"context"
	"fmt"
	"time"

	"github.com/nemlens/nemlens/internal/logging"
	"github.com/nemlens/nemlens/internal/market"
	"github.com/nemlens/nemlens/internal/metrics"
	"github.com/nemlens/nemlens/internal/store"
)

// DefaultTolerance is the relative error allowed between derived and stored
// values. Both feeds round independently upstream, so exact equality is not
// expected.
const DefaultTolerance = 1e-6

// checkedCategories have both a 5-minute feed and a stored 30-minute feed.
var checkedCategories = []market.Category{
	market.CategoryGeneration,
	market.CategoryPrice,
}

// Source is the slice of the store the checker reads.
type Source interface {
	FetchDerived30(ctx context.Context, req market.QueryRequest) (*market.Table, error)
	FetchStored30(ctx context.Context, req market.QueryRequest) (*market.Table, error)
	CachedCoverage(category market.Category) (store.Coverage, bool)
}

// Sample is one verified 30-minute window.
type Sample struct {
	Category    market.Category `json:"category"`
	WindowEnd   time.Time       `json:"window_end"`
	DerivedRows int             `json:"derived_rows"`
	StoredRows  int             `json:"stored_rows"`
	MaxRelDelta float64         `json:"max_rel_delta"`
	Pass        bool            `json:"pass"`
	Detail      string          `json:"detail,omitempty"`
}

// Report summarizes one checker run.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Tolerance   float64   `json:"tolerance"`
	Checked     int       `json:"checked"`
	Passed      int       `json:"passed"`
	PassRate    float64   `json:"pass_rate"`
	Samples     []Sample  `json:"samples"`
}

// Checker samples 30-minute windows and compares the derived and stored
// views.
type Checker struct {
	source    Source
	tolerance float64

	// now is replaceable in tests.
	now func() time.Time
}

// NewChecker creates a checker. tolerance <= 0 selects DefaultTolerance.
func NewChecker(source Source, tolerance float64) *Checker {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Checker{source: source, tolerance: tolerance, now: time.Now}
}

// Check verifies samplesPerCategory evenly spaced 30-minute windows inside
// each category's coverage. Windows are deterministic for a given coverage
// span, so repeated runs over unchanged data compare the same buckets.
func (c *Checker) Check(ctx context.Context, samplesPerCategory int) (*Report, error) {
	if samplesPerCategory <= 0 {
		samplesPerCategory = 8
	}

	report := &Report{
		GeneratedAt: c.now().UTC(),
		Tolerance:   c.tolerance,
	}

	for _, category := range checkedCategories {
		cov, ok := c.source.CachedCoverage(category)
		if !ok || !cov.HasData {
			continue
		}

		for _, windowEnd := range sampleWindows(cov.Earliest, cov.Latest, samplesPerCategory) {
			sample, err := c.checkWindow(ctx, category, windowEnd)
			if err != nil {
				return nil, err
			}

			outcome := "fail"
			if sample.Pass {
				outcome = "pass"
				report.Passed++
			} else {
				logging.Warn().
					Str("category", string(category)).
					Time("window_end", windowEnd).
					Str("detail", sample.Detail).
					Float64("max_rel_delta", sample.MaxRelDelta).
					Msg("Consistency check failed for window")
			}
			metrics.ConsistencySamples.WithLabelValues(string(category), outcome).Inc()

			report.Checked++
			report.Samples = append(report.Samples, sample)
		}
	}

	if report.Checked > 0 {
		report.PassRate = float64(report.Passed) / float64(report.Checked)
	}

	logging.Info().
		Int("checked", report.Checked).
		Int("passed", report.Passed).
		Float64("pass_rate", report.PassRate).
		Msg("Consistency check complete")

	return report, nil
}

// checkWindow compares one window at (windowEnd-30m, windowEnd].
func (c *Checker) checkWindow(ctx context.Context, category market.Category, windowEnd time.Time) (Sample, error) {
	// Half-open fetch range covering exactly the six 5-minute rows and the
	// single 30-minute row stamped windowEnd.
	req := market.QueryRequest{
		Category: category,
		Start:    windowEnd.Add(-25 * time.Minute),
		End:      windowEnd.Add(5 * time.Minute),
	}

	derived, err := c.source.FetchDerived30(ctx, req)
	if err != nil {
		return Sample{}, fmt.Errorf("derived fetch for %s at %s: %w", category, windowEnd, err)
	}
	stored, err := c.source.FetchStored30(ctx, req)
	if err != nil {
		return Sample{}, fmt.Errorf("stored fetch for %s at %s: %w", category, windowEnd, err)
	}

	sample := Sample{
		Category:    category,
		WindowEnd:   windowEnd,
		DerivedRows: derived.NumRows(),
		StoredRows:  stored.NumRows(),
	}
	sample.Pass, sample.MaxRelDelta, sample.Detail = compareWindow(derived, stored, c.tolerance)
	return sample, nil
}

// compareWindow matches rows by (timestamp, dimension values) and compares
// the trailing value column within a relative tolerance. Rows present on
// one side only are failures: a missing dimension row means the feeds
// disagree about what happened in the window.
func compareWindow(derived, stored *market.Table, tolerance float64) (bool, float64, string) {
	if derived.NumRows() != stored.NumRows() {
		return false, 0, fmt.Sprintf("row count mismatch: derived %d, stored %d",
			derived.NumRows(), stored.NumRows())
	}
	if derived.Empty() {
		return true, 0, ""
	}

	valIdx := len(derived.Columns) - 1
	storedVals := make(map[string]float64, stored.NumRows())
	for _, row := range stored.Rows {
		storedVals[rowKey(row, valIdx)] = asFloat(row[valIdx])
	}

	var maxDelta float64
	for _, row := range derived.Rows {
		key := rowKey(row, valIdx)
		storedVal, ok := storedVals[key]
		if !ok {
			return false, maxDelta, fmt.Sprintf("derived row %q absent from stored data", key)
		}
		d := relDelta(asFloat(row[valIdx]), storedVal)
		if d > maxDelta {
			maxDelta = d
		}
	}

	if maxDelta > tolerance {
		return false, maxDelta, fmt.Sprintf("max relative delta %.3g exceeds tolerance %.3g", maxDelta, tolerance)
	}
	return true, maxDelta, ""
}

// sampleWindows picks n 30-minute-aligned window ends evenly spaced across
// [earliest+30m, latest].
func sampleWindows(earliest, latest time.Time, n int) []time.Time {
	first := earliest.Add(30 * time.Minute).Truncate(30 * time.Minute)
	last := latest.Truncate(30 * time.Minute)
	if last.Before(first) {
		return nil
	}

	span := last.Sub(first)
	windows := make([]time.Time, 0, n)
	seen := make(map[time.Time]struct{}, n)
	for i := 0; i < n; i++ {
		var offset time.Duration
		if n > 1 {
			offset = time.Duration(int64(span) * int64(i) / int64(n-1))
		}
		w := first.Add(offset).Truncate(30 * time.Minute)
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		windows = append(windows, w)
	}
	return windows
}

func rowKey(row []any, valIdx int) string {
	key := ""
	for i := 0; i < valIdx; i++ {
		switch v := row[i].(type) {
		case time.Time:
			key += v.UTC().Format(time.RFC3339) + "|"
		default:
			key += fmt.Sprint(v) + "|"
		}
	}
	return key
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func relDelta(a, b float64) float64 {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	scale := b
	if scale < 0 {
		scale = -scale
	}
	if scale < 1 {
		scale = 1
	}
	return diff / scale
}
