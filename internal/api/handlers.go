// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

// Package api provides the HTTP surface of NEMLens: the query endpoint,
// cache administration, dataset metadata, the consistency check and health
// probes, all behind a Chi router.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/nemlens/nemlens/internal/consistency"
	"github.com/nemlens/nemlens/internal/market"
	"github.com/nemlens/nemlens/internal/query"
	"github.com/nemlens/nemlens/internal/store"
)

// Handler holds the dependencies behind every endpoint.
type Handler struct {
	manager *query.Manager
	store   *store.Store
	checker *consistency.Checker
	started time.Time
	version string
}

// NewHandler creates the endpoint handler set.
func NewHandler(manager *query.Manager, s *store.Store, checker *consistency.Checker, version string) *Handler {
	return &Handler{
		manager: manager,
		store:   s,
		checker: checker,
		started: time.Now(),
		version: version,
	}
}

// queryData is the payload of a successful /query response.
type queryData struct {
	Columns           []market.Column   `json:"columns"`
	Rows              [][]any           `json:"rows"`
	RowCount          int               `json:"row_count"`
	Resolution        market.Resolution `json:"resolution"`
	Rationale         string            `json:"rationale"`
	EstimatedRows     int64             `json:"estimated_rows"`
	EstimatedMemoryMB float64           `json:"estimated_memory_mb"`
	Fingerprint       string            `json:"fingerprint"`
}

// Query handles GET /api/v1/query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	req, err := parseQueryRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	result, err := h.manager.Query(r.Context(), req)
	if err != nil {
		respondQueryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "success",
		Data: queryData{
			Columns:           result.Table.Columns,
			Rows:              result.Table.Rows,
			RowCount:          result.Table.NumRows(),
			Resolution:        result.Resolution,
			Rationale:         result.Rationale,
			EstimatedRows:     result.EstimatedRows,
			EstimatedMemoryMB: result.EstimatedMemoryMB,
			Fingerprint:       result.Fingerprint,
		},
		Metadata: Metadata{
			Timestamp:   time.Now().UTC(),
			QueryTimeMS: result.Elapsed.Milliseconds(),
			Cached:      result.CacheHit,
		},
	})
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     h.manager.CacheStats(),
		Metadata: Metadata{Timestamp: time.Now().UTC()},
	})
}

// invalidateBody is the payload of POST /api/v1/cache/invalidate: either an
// exact fingerprint or a logical request whose cached results (at every
// resolution) should be dropped.
type invalidateBody struct {
	Fingerprint string   `json:"fingerprint,omitempty"`
	Category    string   `json:"category,omitempty"`
	Start       string   `json:"start,omitempty"`
	End         string   `json:"end,omitempty"`
	Region      string   `json:"region,omitempty"`
	Dimensions  []string `json:"dimensions,omitempty"`
}

// CacheInvalidate handles POST /api/v1/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var body invalidateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body", nil)
		return
	}

	var invalidated int
	switch {
	case body.Fingerprint != "":
		h.manager.InvalidateFingerprint(body.Fingerprint)
		invalidated = 1
	case body.Category != "":
		category, err := market.ParseCategory(body.Category)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		start, err := parseTimestamp(body.Start)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid start timestamp", nil)
			return
		}
		end, err := parseTimestamp(body.End)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid end timestamp", nil)
			return
		}
		invalidated = h.manager.InvalidateRequest(market.QueryRequest{
			Category:        category,
			Start:           start,
			End:             end,
			Region:          body.Region,
			DimensionFilter: body.Dimensions,
		})
	default:
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"provide a fingerprint or a category with start and end", nil)
		return
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     map[string]int{"invalidated": invalidated},
		Metadata: Metadata{Timestamp: time.Now().UTC()},
	})
}

// CacheClear handles POST /api/v1/cache/clear.
func (h *Handler) CacheClear(w http.ResponseWriter, _ *http.Request) {
	h.manager.ClearCache()
	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     map[string]string{"cache": "cleared"},
		Metadata: Metadata{Timestamp: time.Now().UTC()},
	})
}

// Metadata handles GET /api/v1/metadata: coverage per category.
func (h *Handler) Metadata(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     map[string]any{"coverage": h.store.CoverageSnapshot()},
		Metadata: Metadata{Timestamp: time.Now().UTC()},
	})
}

// Dimensions handles GET /api/v1/metadata/dimensions.
func (h *Handler) Dimensions(w http.ResponseWriter, r *http.Request) {
	category, err := market.ParseCategory(r.URL.Query().Get("category"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	values, err := h.store.DimensionValues(r.Context(), category)
	if err != nil {
		respondQueryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "success",
		Data: map[string]any{
			"category": category,
			"values":   values,
		},
		Metadata: Metadata{Timestamp: time.Now().UTC()},
	})
}

// Consistency handles GET /api/v1/consistency, running a sampled check of
// derived versus stored 30-minute data.
func (h *Handler) Consistency(w http.ResponseWriter, r *http.Request) {
	samples := 8
	if s := r.URL.Query().Get("samples"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "samples must be 1 to 500", nil)
			return
		}
		samples = n
	}

	report, err := h.checker.Check(r.Context(), samples)
	if err != nil {
		respondQueryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     report,
		Metadata: Metadata{Timestamp: time.Now().UTC()},
	})
}

// HealthLive handles GET /api/v1/health/live. Always 200 while the process
// can serve HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "success",
		Data: map[string]any{
			"alive":          true,
			"version":        h.version,
			"uptime_seconds": int64(time.Since(h.started).Seconds()),
		},
		Metadata: Metadata{Timestamp: time.Now().UTC()},
	})
}

// HealthReady handles GET /api/v1/health/ready. Ready means the data source
// answers a ping.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "DATA_SOURCE_UNAVAILABLE",
			"data source not reachable", err)
		return
	}

	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     map[string]bool{"ready": true},
		Metadata: Metadata{Timestamp: time.Now().UTC()},
	})
}
