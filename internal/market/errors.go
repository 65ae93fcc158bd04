// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package market

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the query layer. Callers match with errors.Is.
var (
	// ErrInvalidRange indicates a request where start is not strictly
	// before end.
	ErrInvalidRange = errors.New("invalid time range: start must be before end")

	// ErrUnknownCategory indicates a category outside the supported set.
	ErrUnknownCategory = errors.New("unknown data category")

	// ErrDataSourceUnavailable indicates the underlying columnar store
	// cannot be opened or reached at all. Distinct from "no rows in range",
	// which is a successful empty result.
	ErrDataSourceUnavailable = errors.New("data source unavailable")

	// ErrResourceLimitExceeded indicates the estimated memory for the
	// requested resolution exceeds the configured per-query ceiling.
	// Recoverable: the caller should use a coarser resolution or a
	// narrower range.
	ErrResourceLimitExceeded = errors.New("estimated query memory exceeds configured ceiling")
)

// SchemaMismatchError indicates that a physical dataset is missing columns
// required by its category's schema contract.
type SchemaMismatchError struct {
	Table   string
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch in %s: missing columns [%s]",
		e.Table, strings.Join(e.Missing, ", "))
}

// IsInputError reports whether err is a caller mistake (never retried, maps
// to HTTP 400 at the API boundary).
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidRange) || errors.Is(err, ErrUnknownCategory)
}
