// Package repository provides database access for the park gate system.
//
// Every mutating method is a single atomic statement or a single
// transaction: a gate scan that fails mid-transition must never leave a
// half-updated queue row. Promotion writes are conditioned on the row
// still being in its expected source state, so a sweep racing a gate
// scan for the same vehicle loses cleanly (zero rows affected) instead
// of double-moving it.
package repository

import "errors"

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrRecentEntry is returned when a Parking entry activity is
	// appended while an unpaid one younger than five minutes exists for
	// the same vehicle. It guards against double-scanning and should be
	// treated as retryable, not as an access decision.
	ErrRecentEntry = errors.New("an entry activity was recorded less than 5 minutes ago")
)
