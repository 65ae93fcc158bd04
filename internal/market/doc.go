// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

// Package market defines the core domain types shared by the query layer:
// data categories, interval resolutions, query requests, tabular results,
// cache fingerprints, and the error taxonomy.
//
// Categories and resolutions are closed enum types with exhaustive matching
// at the selector and executor boundaries, so adding a new resolution is a
// compile-time-checked change rather than a scattered string literal.
//
// The error taxonomy distinguishes three classes of failure:
//
//   - Input errors (ErrInvalidRange, ErrUnknownCategory): caller mistakes,
//     reported synchronously and never retried.
//   - Data absence: NOT an error. A valid range with no underlying rows
//     yields an empty Table, because partial coverage is a normal operating
//     condition for a live-updating dataset.
//   - Source errors (ErrDataSourceUnavailable, SchemaMismatchError): the
//     underlying store is broken; these propagate unchanged to the caller
//     and are never converted into silently-empty results.
package market
