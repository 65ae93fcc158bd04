// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nemlens/nemlens/internal/market"
)

func testTable(rows int) *market.Table {
	tbl := market.NewTable(
		market.Column{Name: "settlement_ts", Type: "TIMESTAMP"},
		market.Column{Name: "rrp", Type: "DOUBLE"},
	)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		tbl.AppendRow(base.Add(time.Duration(i)*5*time.Minute), float64(i))
	}
	return tbl
}

func TestGetMissOnEmptyCache(t *testing.T) {
	c := New(1 << 20)
	if _, ok := c.Get("fp1"); ok {
		t.Error("empty cache must miss")
	}
	stats := c.Stats()
	if stats.Misses != 1 || stats.Hits != 0 {
		t.Errorf("expected 1 miss 0 hits, got %+v", stats)
	}
}

func TestGetOrComputeStoresAndHits(t *testing.T) {
	c := New(1 << 20)
	calls := 0
	compute := func(context.Context) (*market.Table, error) {
		calls++
		return testTable(10), nil
	}

	tbl, hit, err := c.GetOrCompute(context.Background(), "fp1", time.Minute, compute)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if hit {
		t.Error("first call must be a miss")
	}
	if tbl.NumRows() != 10 {
		t.Errorf("expected 10 rows, got %d", tbl.NumRows())
	}

	again, hit, err := c.GetOrCompute(context.Background(), "fp1", time.Minute, compute)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if !hit {
		t.Error("second call within TTL must be a hit")
	}
	if again != tbl {
		t.Error("hit must return the same shared table")
	}
	if calls != 1 {
		t.Errorf("compute must run exactly once, ran %d times", calls)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(1 << 20)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, _, err := c.GetOrCompute(context.Background(), "fp1", 30*time.Second,
		func(context.Context) (*market.Table, error) { return testTable(1), nil })
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}

	// Just before expiry: still served.
	now = now.Add(29 * time.Second)
	if _, ok := c.Get("fp1"); !ok {
		t.Error("entry must be served before TTL elapses")
	}

	// Just after expiry: treated as a miss.
	now = now.Add(2 * time.Second)
	if _, ok := c.Get("fp1"); ok {
		t.Error("expired entry must be a miss")
	}

	// And a recompute is triggered.
	calls := 0
	_, hit, err := c.GetOrCompute(context.Background(), "fp1", 30*time.Second,
		func(context.Context) (*market.Table, error) { calls++; return testTable(2), nil })
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}
	if hit || calls != 1 {
		t.Errorf("expired entry must recompute: hit=%v calls=%d", hit, calls)
	}
}

func TestSingleFlightConcurrentCallers(t *testing.T) {
	c := New(1 << 20)

	var computeCalls atomic.Int64
	ready := make(chan struct{})
	compute := func(context.Context) (*market.Table, error) {
		computeCalls.Add(1)
		<-ready // hold the flight open until all callers have joined
		return testTable(5), nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*market.Table, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrCompute(context.Background(), "fp1", time.Minute, compute)
		}(i)
	}

	// Give every goroutine a chance to join the flight, then release it.
	time.Sleep(50 * time.Millisecond)
	close(ready)
	wg.Wait()

	if got := computeCalls.Load(); got != 1 {
		t.Errorf("compute must run exactly once for %d concurrent callers, ran %d times", callers, got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("caller %d received a different result value", i)
		}
	}
}

func TestDifferentFingerprintsDoNotBlock(t *testing.T) {
	c := New(1 << 20)

	slowStarted := make(chan struct{})
	slowRelease := make(chan struct{})
	go func() {
		_, _, _ = c.GetOrCompute(context.Background(), "slow", time.Minute,
			func(context.Context) (*market.Table, error) {
				close(slowStarted)
				<-slowRelease
				return testTable(1), nil
			})
	}()
	<-slowStarted
	defer close(slowRelease)

	// A different fingerprint must complete while "slow" is in flight.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := c.GetOrCompute(context.Background(), "fast", time.Minute,
			func(context.Context) (*market.Table, error) { return testTable(1), nil })
		if err != nil {
			t.Errorf("fast fingerprint failed: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("computation for a different fingerprint was blocked by an unrelated flight")
	}
}

func TestComputeErrorPropagatesAndReleasesSlot(t *testing.T) {
	c := New(1 << 20)
	boom := errors.New("scan failed")

	var wg sync.WaitGroup
	errsCh := make(chan error, 4)
	ready := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), "fp1", time.Minute,
				func(context.Context) (*market.Table, error) {
					<-ready
					return nil, boom
				})
			errsCh <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(ready)
	wg.Wait()
	close(errsCh)

	for err := range errsCh {
		if !errors.Is(err, boom) {
			t.Errorf("every waiter must receive the compute error, got %v", err)
		}
	}

	// The failure must not poison the cache: a retry can succeed.
	tbl, hit, err := c.GetOrCompute(context.Background(), "fp1", time.Minute,
		func(context.Context) (*market.Table, error) { return testTable(3), nil })
	if err != nil {
		t.Fatalf("retry after failure must succeed: %v", err)
	}
	if hit {
		t.Error("retry must be a miss, not a poisoned placeholder")
	}
	if tbl.NumRows() != 3 {
		t.Errorf("retry returned wrong table: %d rows", tbl.NumRows())
	}
}

func TestTimeoutAbortsWaitButNotFlight(t *testing.T) {
	c := New(1 << 20)

	release := make(chan struct{})
	started := make(chan struct{})
	compute := func(context.Context) (*market.Table, error) {
		close(started)
		<-release
		return testTable(7), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := c.GetOrCompute(ctx, "fp1", time.Minute, compute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	// The flight keeps running and stores its result for future callers.
	<-started
	close(release)

	deadline := time.After(2 * time.Second)
	for {
		if tbl, ok := c.Get("fp1"); ok {
			if tbl.NumRows() != 7 {
				t.Errorf("stored table has %d rows, want 7", tbl.NumRows())
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed-out caller's flight result was never stored")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestInvalidateThenRecomputeFreshness(t *testing.T) {
	c := New(1 << 20)

	stale := testTable(1)
	fresh := testTable(2)

	_, _, err := c.GetOrCompute(context.Background(), "fp1", time.Hour,
		func(context.Context) (*market.Table, error) { return stale, nil })
	if err != nil {
		t.Fatalf("initial compute failed: %v", err)
	}

	c.Invalidate("fp1")

	if _, ok := c.Get("fp1"); ok {
		t.Fatal("invalidated entry must be gone regardless of TTL")
	}

	tbl, hit, err := c.GetOrCompute(context.Background(), "fp1", time.Hour,
		func(context.Context) (*market.Table, error) { return fresh, nil })
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}
	if hit {
		t.Error("post-invalidation call must recompute")
	}
	if tbl != fresh {
		t.Error("post-invalidation call returned the stale table")
	}
}

func TestInvalidateDuringFlightDoesNotStoreStaleResult(t *testing.T) {
	c := New(1 << 20)

	computeStarted := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _, _ = c.GetOrCompute(context.Background(), "fp1", time.Hour,
			func(context.Context) (*market.Table, error) {
				close(computeStarted)
				<-release
				return testTable(1), nil // stale by the time it lands
			})
	}()

	<-computeStarted
	c.Invalidate("fp1") // data changed while the flight was running
	close(release)

	// The superseded flight must not install its result. Poll briefly to
	// let the flight finish.
	time.Sleep(100 * time.Millisecond)
	if _, ok := c.Get("fp1"); ok {
		t.Error("a flight superseded by invalidation must not store its result")
	}
}

func TestCapacityEvictionLRUOrder(t *testing.T) {
	// Size each entry via a real table so the test tracks the estimator.
	entrySize := testTable(10).SizeBytes()
	c := New(3 * entrySize) // room for 3 entries

	insert := func(fp string) {
		_, _, err := c.GetOrCompute(context.Background(), fp, time.Hour,
			func(context.Context) (*market.Table, error) { return testTable(10), nil })
		if err != nil {
			t.Fatalf("insert %s failed: %v", fp, err)
		}
	}

	insert("a")
	insert("b")
	insert("c")

	// Touch "a" so "b" becomes the least recently used.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("entry a should be present")
	}

	insert("d") // over capacity: must evict "b", not the recently used "a"

	if _, ok := c.Get("b"); ok {
		t.Error("least-recently-used entry b should have been evicted")
	}
	for _, fp := range []string{"a", "c", "d"} {
		if _, ok := c.Get(fp); !ok {
			t.Errorf("entry %s should have survived eviction", fp)
		}
	}
	if stats := c.Stats(); stats.TotalSizeBytes > 3*entrySize {
		t.Errorf("total size %d exceeds capacity %d", stats.TotalSizeBytes, 3*entrySize)
	}
}

func TestCleanupExpired(t *testing.T) {
	c := New(1 << 20)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		fp := fmt.Sprintf("short-%d", i)
		_, _, _ = c.GetOrCompute(context.Background(), fp, time.Minute,
			func(context.Context) (*market.Table, error) { return testTable(1), nil })
	}
	_, _, _ = c.GetOrCompute(context.Background(), "long", time.Hour,
		func(context.Context) (*market.Table, error) { return testTable(1), nil })

	now = now.Add(10 * time.Minute)

	if removed := c.CleanupExpired(); removed != 5 {
		t.Errorf("expected 5 expired entries removed, got %d", removed)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 surviving entry, got %d", c.Len())
	}
	if _, ok := c.Get("long"); !ok {
		t.Error("unexpired entry must survive the sweep")
	}
}

func TestClear(t *testing.T) {
	c := New(1 << 20)
	for _, fp := range []string{"a", "b", "c"} {
		_, _, _ = c.GetOrCompute(context.Background(), fp, time.Hour,
			func(context.Context) (*market.Table, error) { return testTable(1), nil })
	}

	c.Clear()

	if c.Len() != 0 {
		t.Errorf("expected empty cache after Clear, got %d entries", c.Len())
	}
	if stats := c.Stats(); stats.TotalSizeBytes != 0 {
		t.Errorf("expected zero total size after Clear, got %d", stats.TotalSizeBytes)
	}
}

func TestStatsHitRate(t *testing.T) {
	c := New(1 << 20)
	_, _, _ = c.GetOrCompute(context.Background(), "fp1", time.Hour,
		func(context.Context) (*market.Table, error) { return testTable(1), nil })

	c.Get("fp1") // hit
	c.Get("fp1") // hit
	c.Get("nope") // miss

	stats := c.Stats()
	if stats.Hits != 2 {
		t.Errorf("expected 2 hits, got %d", stats.Hits)
	}
	// Misses: initial GetOrCompute lookup + "nope".
	if stats.Misses < 2 {
		t.Errorf("expected at least 2 misses, got %d", stats.Misses)
	}
	if stats.HitRate <= 0 || stats.HitRate >= 1 {
		t.Errorf("hit rate should be in (0,1), got %g", stats.HitRate)
	}
}
