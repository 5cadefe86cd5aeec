// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source used by components that stamp events, such
// as the fuzz journal and mutation timing. Production code injects
// Real(); tests inject Fake() with deterministic time control.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}
