// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

// NEMLens server: a resolution-adaptive query and caching layer over NEM
// interval data.
//
// Startup order:
//  1. Configuration (defaults, optional YAML file, environment overrides)
//  2. Logging
//  3. Columnar store (DuckDB), schema validation, optional demo seed
//  4. Result cache, warm-started from the snapshot if one is configured
//  5. Query manager and consistency checker
//  6. HTTP router and the supervised service tree
//
// Shutdown drains the HTTP server, stops the maintenance loops and writes a
// cache snapshot for the next warm start.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nemlens/nemlens/internal/api"
	"github.com/nemlens/nemlens/internal/cache"
	"github.com/nemlens/nemlens/internal/config"
	"github.com/nemlens/nemlens/internal/consistency"
	"github.com/nemlens/nemlens/internal/logging"
	"github.com/nemlens/nemlens/internal/market"
	"github.com/nemlens/nemlens/internal/query"
	"github.com/nemlens/nemlens/internal/resolution"
	"github.com/nemlens/nemlens/internal/store"
	"github.com/nemlens/nemlens/internal/supervisor"
	"github.com/nemlens/nemlens/internal/supervisor/services"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.Info().Str("version", version).Msg("NEMLens starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Columnar store.
	st, err := store.Open(ctx, &cfg.Database, cfg.Retry)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Warn().Err(err).Msg("Store close failed")
		}
	}()

	if err := st.RefreshCoverage(ctx); err != nil {
		logging.Warn().Err(err).Msg("Initial coverage scan failed; metadata will populate on first refresh")
	}

	if cfg.Database.SeedSampleData {
		if cov, ok := st.CachedCoverage(market.CategoryGeneration); !ok || !cov.HasData {
			end := time.Now().UTC().Truncate(30 * time.Minute)
			if err := st.SeedSampleData(ctx, end.AddDate(0, 0, -7), end); err != nil {
				return fmt.Errorf("failed to seed sample data: %w", err)
			}
		}
	}

	// Result cache, warm-started when a snapshot path is configured.
	resultCache := cache.New(cfg.Cache.CapacityBytes)
	if cfg.Cache.SnapshotPath != "" {
		if err := resultCache.LoadSnapshot(cfg.Cache.SnapshotPath); err != nil {
			logging.Warn().Err(err).Msg("Cache snapshot load failed, starting cold")
		} else if n := resultCache.Len(); n > 0 {
			logging.Info().Int("entries", n).Msg("Cache warm-started from snapshot")
		}
	}

	manager := query.NewManager(st, resultCache, resolution.NewSelector(cfg.Query), cfg.Cache)
	checker := consistency.NewChecker(st, 0)

	handler := api.NewHandler(manager, st, checker, version)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg.Server),
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
		IdleTimeout:  2 * cfg.Server.RequestTimeout,
	}

	// Supervised service tree.
	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)

	tree.AddMaintenanceService(services.NewJanitorService(resultCache, cfg.Cache.JanitorInterval))
	tree.AddMaintenanceService(services.NewCoverageService(st, time.Minute))
	tree.AddMaintenanceService(services.NewConsistencyService(checker, time.Hour, 8))
	tree.AddAPIService(services.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("addr", server.Addr).
		Int64("cache_capacity_bytes", cfg.Cache.CapacityBytes).
		Msg("Serving")

	errCh := tree.ServeBackground(ctx)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn().Err(err).Msg("Supervisor stopped with error")
		}
	}

	// Persist the cache for the next warm start.
	if cfg.Cache.SnapshotPath != "" {
		if err := resultCache.SaveSnapshot(cfg.Cache.SnapshotPath); err != nil {
			logging.Warn().Err(err).Msg("Cache snapshot save failed")
		}
	}

	logging.Info().Msg("NEMLens stopped")
	return nil
}
