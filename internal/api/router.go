// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nemlens/nemlens/internal/config"
)

// NewRouter assembles the HTTP surface.
//
// Health probes and /metrics sit outside the rate limit so orchestration
// and scraping never compete with dashboard traffic for the budget.
func NewRouter(handler *Handler, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "ETag"},
		MaxAge:         86400,
	}))
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(PrometheusMetrics)
		r.Get("/live", handler.HealthLive)
		r.Get("/ready", handler.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByRealIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		r.Use(PrometheusMetrics)

		r.Get("/query", handler.Query)
		r.Get("/metadata", handler.Metadata)
		r.Get("/metadata/dimensions", handler.Dimensions)
		r.Get("/consistency", handler.Consistency)

		r.Get("/cache/stats", handler.CacheStats)
		r.Post("/cache/invalidate", handler.CacheInvalidate)
		r.Post("/cache/clear", handler.CacheClear)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
