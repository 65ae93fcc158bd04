// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

// Package cache implements the query-result cache: a fingerprint-keyed
// store with TTL expiry, byte-capacity LRU eviction, and at-most-one
// concurrent computation per fingerprint.
//
// The single-flight guarantee is the load-bearing property: N concurrent
// callers asking for the same uncached query trigger exactly one columnar
// scan, and all N receive the same result. A multi-year generation scan can
// take seconds; without the guard, every dashboard tab that opens on the
// same view would re-issue it (the thundering-herd pattern).
//
// Expiry is lazy: an expired entry is treated as a miss at lookup time. The
// optional janitor sweep only reclaims memory earlier; it is not required
// for correctness.
//
// The cache owns its entries exclusively. Results handed out are shared,
// read-only views; an update is always an atomic insert-or-replace, never
// an in-place mutation.
package cache
