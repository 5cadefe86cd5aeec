// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now directly. In production, Real() provides the standard library
// behavior. In tests, Fake() provides a deterministic clock that moves
// only when Advance or Set is called.
//
// # Wiring Pattern
//
// Add a Clock field to structs that stamp times:
//
//	type Writer struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	w := &Writer{clock: clock.Real()}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	w := &Writer{clock: c}
//	c.Advance(5 * time.Second) // deterministic timestamps
package clock
