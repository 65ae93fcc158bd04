// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package market

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// QueryRequest is an immutable logical query against the market dataset.
//
// Region and DimensionFilter are optional narrowing predicates: Region is an
// equality match on the category's region column, DimensionFilter is a
// membership match on the category's dimension key (DUIDs for generation,
// interconnector IDs for transmission).
type QueryRequest struct {
	Category        Category   `json:"category"`
	Start           time.Time  `json:"start"`
	End             time.Time  `json:"end"`
	Region          string     `json:"region,omitempty"`
	DimensionFilter []string   `json:"dimension_filter,omitempty"`
	Resolution      Resolution `json:"resolution"`
}

// Validate checks request invariants: a supported category and start < end.
func (q QueryRequest) Validate() error {
	if !q.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, string(q.Category))
	}
	if !q.Start.Before(q.End) {
		return fmt.Errorf("%w (start=%s end=%s)",
			ErrInvalidRange, q.Start.Format(time.RFC3339), q.End.Format(time.RFC3339))
	}
	return nil
}

// Normalize returns a canonical copy of the request: timestamps in UTC and
// the dimension filter sorted and deduplicated. Two logically identical
// requests with filter sets in different iteration order normalize to the
// same value, which is what makes fingerprints collide exactly when they
// should.
func (q QueryRequest) Normalize() QueryRequest {
	n := q
	n.Start = q.Start.UTC()
	n.End = q.End.UTC()
	if n.Resolution == "" {
		n.Resolution = ResolutionAuto
	}
	if len(q.DimensionFilter) > 0 {
		filter := make([]string, 0, len(q.DimensionFilter))
		seen := make(map[string]struct{}, len(q.DimensionFilter))
		for _, d := range q.DimensionFilter {
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			filter = append(filter, d)
		}
		sort.Strings(filter)
		n.DimensionFilter = filter
	} else {
		n.DimensionFilter = nil
	}
	return n
}

// fingerprintPayload is the exact value hashed into a fingerprint. The chosen
// resolution is part of the key so two requests resolving to different
// granularities never collide.
type fingerprintPayload struct {
	Category   Category   `json:"category"`
	Resolution Resolution `json:"resolution"`
	StartUnix  int64      `json:"start"`
	EndUnix    int64      `json:"end"`
	Region     string     `json:"region"`
	Dimensions []string   `json:"dimensions"`
}

// Fingerprint derives the canonical cache key for a normalized request and
// its chosen resolution. The key is stable across process restarts (fixed
// field order, unix timestamps), so persisted cache snapshots remain valid
// for warm starts.
func Fingerprint(req QueryRequest, resolution Resolution) string {
	n := req.Normalize()
	payload := fingerprintPayload{
		Category:   n.Category,
		Resolution: resolution,
		StartUnix:  n.Start.Unix(),
		EndUnix:    n.End.Unix(),
		Region:     n.Region,
		Dimensions: n.DimensionFilter,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// Marshal of a flat struct cannot realistically fail; fall back to
		// a verbose key rather than panicking in the serving path.
		return fmt.Sprintf("%s:%s:%d:%d:%s:%v",
			n.Category, resolution, n.Start.Unix(), n.End.Unix(), n.Region, n.DimensionFilter)
	}

	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%s:%x", n.Category, resolution, hash[:16])
}
