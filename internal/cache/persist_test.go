// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nemlens/nemlens/internal/market"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot")

	c := New(1 << 20)
	for _, fp := range []string{"fp-a", "fp-b"} {
		_, _, err := c.GetOrCompute(context.Background(), fp, time.Hour,
			func(context.Context) (*market.Table, error) { return testTable(4), nil })
		if err != nil {
			t.Fatalf("seed %s failed: %v", fp, err)
		}
	}

	if err := c.SaveSnapshot(path); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	warm := New(1 << 20)
	if err := warm.LoadSnapshot(path); err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}

	if warm.Len() != 2 {
		t.Fatalf("expected 2 restored entries, got %d", warm.Len())
	}
	tbl, ok := warm.Get("fp-a")
	if !ok {
		t.Fatal("fp-a missing after restore")
	}
	if tbl.NumRows() != 4 {
		t.Errorf("restored table has %d rows, want 4", tbl.NumRows())
	}
}

func TestSnapshotSkipsExpiredEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot")

	c := New(1 << 20)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, _, _ = c.GetOrCompute(context.Background(), "short", time.Minute,
		func(context.Context) (*market.Table, error) { return testTable(1), nil })
	_, _, _ = c.GetOrCompute(context.Background(), "long", time.Hour,
		func(context.Context) (*market.Table, error) { return testTable(1), nil })

	if err := c.SaveSnapshot(path); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	// Restore into a cache whose clock is 10 minutes later: "short" has
	// expired in the interim and must be skipped.
	warm := New(1 << 20)
	warm.now = func() time.Time { return now.Add(10 * time.Minute) }
	if err := warm.LoadSnapshot(path); err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}

	if warm.Len() != 1 {
		t.Fatalf("expected 1 restored entry, got %d", warm.Len())
	}
	if _, ok := warm.Get("long"); !ok {
		t.Error("unexpired entry must survive the restart")
	}
}

func TestSnapshotOverwritesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot")

	first := New(1 << 20)
	_, _, _ = first.GetOrCompute(context.Background(), "old", time.Hour,
		func(context.Context) (*market.Table, error) { return testTable(1), nil })
	if err := first.SaveSnapshot(path); err != nil {
		t.Fatalf("first SaveSnapshot failed: %v", err)
	}

	second := New(1 << 20)
	_, _, _ = second.GetOrCompute(context.Background(), "new", time.Hour,
		func(context.Context) (*market.Table, error) { return testTable(1), nil })
	if err := second.SaveSnapshot(path); err != nil {
		t.Fatalf("second SaveSnapshot failed: %v", err)
	}

	warm := New(1 << 20)
	if err := warm.LoadSnapshot(path); err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if _, ok := warm.Get("old"); ok {
		t.Error("previous snapshot contents must be replaced, not merged")
	}
	if _, ok := warm.Get("new"); !ok {
		t.Error("current snapshot contents missing")
	}
}
