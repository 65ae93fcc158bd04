// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nemlens/nemlens/internal/logging"
	"github.com/nemlens/nemlens/internal/market"
)

// Sample fleet for seeded databases: a few dispatchable units per region
// plus the major interconnectors. Enough shape for dashboards and tests
// without pretending to be a full registration list.
var (
	seedUnits = []struct {
		duid   string
		region string
		baseMW float64
	}{
		{"BAYSW1", "NSW1", 660},
		{"ER01", "NSW1", 720},
		{"LOYYB1", "VIC1", 530},
		{"YWPS1", "VIC1", 380},
		{"GSTONE1", "QLD1", 280},
		{"TORRB1", "SA1", 120},
		{"GORDON", "TAS1", 144},
	}

	seedRegions = []string{"NSW1", "QLD1", "SA1", "TAS1", "VIC1"}

	seedInterconnectors = []struct {
		id   string
		from string
		to   string
		base float64
	}{
		{"VIC1-NSW1", "VIC1", "NSW1", 400},
		{"N-Q-MNSP1", "NSW1", "QLD1", 180},
		{"V-SA", "VIC1", "SA1", 250},
		{"T-V-MNSP1", "TAS1", "VIC1", 300},
	}
)

// SeedSampleData populates every table with deterministic synthetic rows
// covering [start, end). Five-minute series are generated directly;
// 30-minute rows are derived as exact six-interval means so the stored and
// aggregated views agree, which is the property the consistency checker
// verifies on real data.
func (s *Store) SeedSampleData(ctx context.Context, start, end time.Time) error {
	start = start.UTC().Truncate(30 * time.Minute)
	end = end.UTC().Truncate(30 * time.Minute)
	if !start.Before(end) {
		return market.ErrInvalidRange
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	gen5, err := tx.PrepareContext(ctx, "INSERT INTO generation_5min (settlement_ts, duid, region, mw) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare seed insert: %w", err)
	}
	gen30, err := tx.PrepareContext(ctx, "INSERT INTO generation_30min (settlement_ts, duid, region, mw) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare seed insert: %w", err)
	}
	price5, err := tx.PrepareContext(ctx, "INSERT INTO price_5min (settlement_ts, region, rrp) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare seed insert: %w", err)
	}
	price30, err := tx.PrepareContext(ctx, "INSERT INTO price_30min (settlement_ts, region, rrp) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare seed insert: %w", err)
	}
	trans5, err := tx.PrepareContext(ctx, "INSERT INTO transmission_5min (settlement_ts, interconnector, region_from, region_to, mw) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare seed insert: %w", err)
	}
	roof30, err := tx.PrepareContext(ctx, "INSERT INTO rooftop_30min (settlement_ts, region, mw) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare seed insert: %w", err)
	}

	var inserted int

	// Walk 30-minute buckets; each contains six end-labelled 5-minute
	// intervals. Buckets themselves are end-labelled too.
	for bucketEnd := start.Add(30 * time.Minute); !bucketEnd.After(end); bucketEnd = bucketEnd.Add(30 * time.Minute) {
		for _, u := range seedUnits {
			var sum float64
			for i := 5; i >= 0; i-- {
				ts := bucketEnd.Add(-time.Duration(i) * 5 * time.Minute)
				mw := seedValue(u.baseMW, 0.25, u.duid, ts)
				sum += mw
				if _, err := gen5.ExecContext(ctx, ts, u.duid, u.region, mw); err != nil {
					return fmt.Errorf("failed to seed generation_5min: %w", err)
				}
				inserted++
			}
			if _, err := gen30.ExecContext(ctx, bucketEnd, u.duid, u.region, sum/6); err != nil {
				return fmt.Errorf("failed to seed generation_30min: %w", err)
			}
			inserted++
		}

		for _, region := range seedRegions {
			var sum float64
			for i := 5; i >= 0; i-- {
				ts := bucketEnd.Add(-time.Duration(i) * 5 * time.Minute)
				rrp := seedValue(85, 0.6, region+"-rrp", ts)
				sum += rrp
				if _, err := price5.ExecContext(ctx, ts, region, rrp); err != nil {
					return fmt.Errorf("failed to seed price_5min: %w", err)
				}
				inserted++
			}
			if _, err := price30.ExecContext(ctx, bucketEnd, region, sum/6); err != nil {
				return fmt.Errorf("failed to seed price_30min: %w", err)
			}
			inserted++

			// Rooftop output follows a day curve; zero overnight.
			if mw := rooftopValue(region, bucketEnd); mw > 0 {
				if _, err := roof30.ExecContext(ctx, bucketEnd, region, mw); err != nil {
					return fmt.Errorf("failed to seed rooftop_30min: %w", err)
				}
				inserted++
			}
		}

		for _, ic := range seedInterconnectors {
			for i := 5; i >= 0; i-- {
				ts := bucketEnd.Add(-time.Duration(i) * 5 * time.Minute)
				mw := seedValue(ic.base, 0.5, ic.id, ts)
				if _, err := trans5.ExecContext(ctx, ts, ic.id, ic.from, ic.to, mw); err != nil {
					return fmt.Errorf("failed to seed transmission_5min: %w", err)
				}
				inserted++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed transaction: %w", err)
	}

	if err := s.RefreshCoverage(ctx); err != nil {
		return err
	}

	logging.Info().
		Int("rows", inserted).
		Time("start", start).
		Time("end", end).
		Msg("Sample market data seeded")
	return nil
}

// seedValue produces a deterministic value for (series, timestamp): a daily
// sinusoid around base with a per-series phase offset, plus a small
// timestamp-keyed wobble so consecutive intervals differ.
func seedValue(base, swing float64, series string, ts time.Time) float64 {
	phase := float64(hashString(series)%360) * math.Pi / 180
	dayFrac := float64(ts.Hour()*60+ts.Minute()) / 1440
	wobble := float64((hashString(series)^uint32(ts.Unix()/300))%97) / 97

	v := base * (1 + swing*math.Sin(2*math.Pi*dayFrac+phase) + 0.05*(wobble-0.5))
	return math.Round(v*100) / 100
}

// rooftopValue approximates a solar curve: zero outside 06:00 to 20:00,
// peaking near solar noon.
func rooftopValue(region string, ts time.Time) float64 {
	h := float64(ts.Hour()) + float64(ts.Minute())/60
	if h < 6 || h > 20 {
		return 0
	}
	scale := 800 + float64(hashString(region)%400)
	v := scale * math.Sin(math.Pi*(h-6)/14)
	return math.Round(v*100) / 100
}

// hashString is FNV-1a, inlined to keep seed values stable across Go
// releases.
func hashString(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
