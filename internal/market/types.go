// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package market

import (
	"fmt"
	"time"
)

// Category identifies a class of market time-series data.
type Category string

// Supported data categories. Each category has its own dimension key
// (DUID for generation, region for price and rooftop, interconnector for
// transmission) and its own per-row cost profile.
const (
	CategoryGeneration   Category = "generation"
	CategoryPrice        Category = "price"
	CategoryTransmission Category = "transmission"
	CategoryRooftop      Category = "rooftop"
)

// Categories lists all supported categories in a stable order.
func Categories() []Category {
	return []Category{CategoryGeneration, CategoryPrice, CategoryTransmission, CategoryRooftop}
}

// ParseCategory converts a string into a Category.
// Returns ErrUnknownCategory for anything outside the closed set.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryGeneration, CategoryPrice, CategoryTransmission, CategoryRooftop:
		return Category(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
}

// Valid reports whether c is one of the supported categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryGeneration, CategoryPrice, CategoryTransmission, CategoryRooftop:
		return true
	}
	return false
}

// Additive reports whether the category's measured quantity is additive
// across time (MW integrated over interval length yields MWh). Price is the
// only intensive quantity: it is averaged, never summed.
func (c Category) Additive() bool {
	return c != CategoryPrice
}

// Resolution is the time granularity of a dataset or query result.
type Resolution string

// Supported resolutions, finest first. ResolutionAuto defers the choice to
// the resolution selector. ResolutionAggregate uses monthly buckets for
// multi-year spans.
const (
	ResolutionAuto      Resolution = "auto"
	Resolution5Min      Resolution = "5min"
	Resolution30Min     Resolution = "30min"
	ResolutionDaily     Resolution = "daily"
	ResolutionAggregate Resolution = "aggregate"
)

// ParseResolution converts a string into a Resolution. An empty string is
// treated as auto. Unknown values are rejected.
func ParseResolution(s string) (Resolution, error) {
	if s == "" {
		return ResolutionAuto, nil
	}
	switch Resolution(s) {
	case ResolutionAuto, Resolution5Min, Resolution30Min, ResolutionDaily, ResolutionAggregate:
		return Resolution(s), nil
	default:
		return "", fmt.Errorf("invalid resolution: %q (expected auto, 5min, 30min, daily, or aggregate)", s)
	}
}

// Interval returns the bucket width for fixed-width resolutions.
// Monthly aggregate buckets are calendar-based and return 0.
func (r Resolution) Interval() time.Duration {
	switch r {
	case Resolution5Min:
		return 5 * time.Minute
	case Resolution30Min:
		return 30 * time.Minute
	case ResolutionDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// IntervalsPerDay returns the number of buckets per day for row estimation.
// Aggregate (monthly) is approximated as 1/30 of a day.
func (r Resolution) IntervalsPerDay() float64 {
	switch r {
	case Resolution5Min:
		return 288
	case Resolution30Min:
		return 48
	case ResolutionDaily:
		return 1
	case ResolutionAggregate:
		return 1.0 / 30.0
	default:
		return 0
	}
}

// Coarser returns the next coarser resolution, or the receiver when already
// at the coarsest. Used by the selector when stepping down to stay under the
// memory ceiling.
func (r Resolution) Coarser() Resolution {
	switch r {
	case Resolution5Min:
		return Resolution30Min
	case Resolution30Min:
		return ResolutionDaily
	case ResolutionDaily:
		return ResolutionAggregate
	default:
		return r
	}
}

// CoarserThan reports whether r is a coarser granularity than other.
func (r Resolution) CoarserThan(other Resolution) bool {
	return r.rank() > other.rank()
}

func (r Resolution) rank() int {
	switch r {
	case Resolution5Min:
		return 0
	case Resolution30Min:
		return 1
	case ResolutionDaily:
		return 2
	case ResolutionAggregate:
		return 3
	default:
		return -1
	}
}
