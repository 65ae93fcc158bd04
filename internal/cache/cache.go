// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nemlens/nemlens/internal/market"
)

// Entry is one cached query result. Entries are immutable once stored;
// replacing a fingerprint's value always inserts a fresh Entry.
type Entry struct {
	Fingerprint string
	Table       *market.Table
	CreatedAt   time.Time
	TTL         time.Duration
	SizeBytes   int64
}

// Expired reports whether the entry is past CreatedAt + TTL.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Stats is a snapshot of cache performance counters.
type Stats struct {
	Entries        int     `json:"entries"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Evictions      int64   `json:"evictions"`
	HitRate        float64 `json:"hit_rate"`
}

// ResultCache is a thread-safe fingerprint-keyed result cache with TTL,
// byte-capacity LRU eviction, and per-fingerprint single-flight computation.
//
// Internals follow the classic O(1) LRU shape: a hashmap for lookup and a
// doubly-linked list for recency ordering (front = most recently used).
// Mutations (insert, evict, invalidate) happen under one write lock, so no
// reader ever observes a partially-written entry.
type ResultCache struct {
	mu            sync.RWMutex
	items         map[string]*list.Element // element.Value is *Entry
	lru           *list.List
	totalBytes    int64
	capacityBytes int64

	// epochs guards the invalidate-then-recompute ordering: a flight
	// records the fingerprint's epoch before computing and only stores
	// its result if no invalidation bumped the epoch meanwhile. Grows by
	// one small record per invalidated fingerprint.
	epochs map[string]uint64

	flight singleflight.Group

	hits      int64
	misses    int64
	evictions int64

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a result cache bounded to capacityBytes of estimated result
// size.
func New(capacityBytes int64) *ResultCache {
	if capacityBytes <= 0 {
		capacityBytes = 256 << 20
	}
	return &ResultCache{
		items:         make(map[string]*list.Element),
		lru:           list.New(),
		capacityBytes: capacityBytes,
		epochs:        make(map[string]uint64),
		now:           time.Now,
	}
}

// Get returns the cached table for fingerprint if present and unexpired.
// It never triggers a computation.
func (c *ResultCache) Get(fingerprint string) (*market.Table, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(fingerprint)
}

// lookupLocked returns a valid entry's table and refreshes its recency.
// Expired entries are removed on sight (lazy expiry). Callers hold mu.
func (c *ResultCache) lookupLocked(fingerprint string) (*market.Table, bool) {
	elem, ok := c.items[fingerprint]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := elem.Value.(*Entry)
	if entry.Expired(c.now()) {
		c.removeLocked(elem)
		c.evictions++
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(elem)
	c.hits++
	return entry.Table, true
}

// GetOrCompute returns the cached result for fingerprint, or computes it.
//
// If no valid entry exists and no computation for this fingerprint is in
// flight, compute runs exactly once and its result is stored with the given
// TTL. Concurrent callers for the same fingerprint wait for that single
// computation and share its result. Callers for different fingerprints
// never block each other.
//
// The computation runs on a context detached from the caller's cancellation:
// if ctx expires while the flight is in progress, this caller returns
// ctx.Err() immediately, but the shared computation continues to completion
// and its result is stored for the remaining waiters and future callers.
//
// If compute fails, the error propagates to every waiter, nothing is stored,
// and the flight slot is released so a later call can retry.
//
// The returned bool is true for a cache hit (no computation was needed for
// this caller's result to already exist).
func (c *ResultCache) GetOrCompute(
	ctx context.Context,
	fingerprint string,
	ttl time.Duration,
	compute func(ctx context.Context) (*market.Table, error),
) (*market.Table, bool, error) {
	c.mu.Lock()
	if table, ok := c.lookupLocked(fingerprint); ok {
		c.mu.Unlock()
		return table, true, nil
	}
	epoch := c.epochs[fingerprint]
	c.mu.Unlock()

	// Detach before entering the flight: the computation is shared
	// property and must not die with whichever caller happened to start it.
	flightCtx := context.WithoutCancel(ctx)

	ch := c.flight.DoChan(fingerprint, func() (interface{}, error) {
		// A store may have completed between the miss above and this
		// flight winning the slot.
		c.mu.Lock()
		if table, ok := c.lookupLocked(fingerprint); ok {
			c.mu.Unlock()
			return table, nil
		}
		c.mu.Unlock()

		table, err := compute(flightCtx)
		if err != nil {
			return nil, err
		}
		c.storeIfCurrent(fingerprint, table, ttl, epoch)
		return table, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*market.Table), false, nil
	case <-ctx.Done():
		// The flight keeps running; only this caller's wait aborts.
		return nil, false, ctx.Err()
	}
}

// storeIfCurrent inserts the computed table unless the fingerprint was
// invalidated after the flight began. A stale flight still returns its
// result to the callers that joined it before invalidation; it just must
// not poison the cache for callers that arrive afterwards.
func (c *ResultCache) storeIfCurrent(fingerprint string, table *market.Table, ttl time.Duration, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epochs[fingerprint] != epoch {
		return
	}

	if elem, ok := c.items[fingerprint]; ok {
		c.removeLocked(elem)
	}

	entry := &Entry{
		Fingerprint: fingerprint,
		Table:       table,
		CreatedAt:   c.now(),
		TTL:         ttl,
		SizeBytes:   table.SizeBytes(),
	}
	elem := c.lru.PushFront(entry)
	c.items[fingerprint] = elem
	c.totalBytes += entry.SizeBytes

	c.evictOverCapacityLocked()
}

// Invalidate removes an entry immediately regardless of TTL and forgets any
// in-flight computation for the fingerprint, so a caller arriving after
// this call always observes a fresh computation. Used when underlying data
// is known to have changed (backfills, revisions).
func (c *ResultCache) Invalidate(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epochs[fingerprint]++
	if elem, ok := c.items[fingerprint]; ok {
		c.removeLocked(elem)
		c.evictions++
	}
	c.flight.Forget(fingerprint)
}

// Clear removes all entries.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for fp := range c.items {
		c.epochs[fp]++
		c.flight.Forget(fp)
	}
	c.evictions += int64(len(c.items))
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.totalBytes = 0
}

// CleanupExpired removes all expired entries and returns how many were
// dropped. Called periodically by the janitor service.
func (c *ResultCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*Entry).Expired(now) {
			c.removeLocked(elem)
			c.evictions++
			removed++
		}
		elem = prev
	}
	return removed
}

// Stats returns a snapshot of the cache counters.
func (c *ResultCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Entries:        len(c.items),
		TotalSizeBytes: c.totalBytes,
		Hits:           c.hits,
		Misses:         c.misses,
		Evictions:      c.evictions,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Len returns the current entry count.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// evictOverCapacityLocked drops least-recently-used entries until the total
// estimated size is back under the capacity ceiling. Called after every
// insert with mu held.
func (c *ResultCache) evictOverCapacityLocked() {
	for c.totalBytes > c.capacityBytes {
		oldest := c.lru.Back()
		if oldest == nil {
			return
		}
		c.removeLocked(oldest)
		c.evictions++
	}
}

// removeLocked unlinks an element from both the list and the map.
func (c *ResultCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*Entry)
	c.lru.Remove(elem)
	delete(c.items, entry.Fingerprint)
	c.totalBytes -= entry.SizeBytes
}
