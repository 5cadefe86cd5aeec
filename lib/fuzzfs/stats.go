// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzfs

import "sync/atomic"

// Stats counts filesystem activity since mount. Fields are updated
// atomically by the open and release paths; read them through
// Snapshot.
type Stats struct {
	// Opens counts every file open served, fuzzed or not.
	Opens atomic.Uint64

	// FuzzedOpens counts opens that were served a mutated artifact.
	FuzzedOpens atomic.Uint64

	// PassthroughOpens counts opens the policy exempted from
	// mutation.
	PassthroughOpens atomic.Uint64

	// MutationFailures counts opens failed with EIO because the
	// mutation tool failed, timed out, or was missing.
	MutationFailures atomic.Uint64

	// Releases counts handle releases, fuzzed or not.
	Releases atomic.Uint64

	// Preserved counts artifacts archived to the corpus store on
	// release.
	Preserved atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Opens            uint64
	FuzzedOpens      uint64
	PassthroughOpens uint64
	MutationFailures uint64
	Releases         uint64
	Preserved        uint64
}

// Snapshot returns a consistent-enough copy for logging: each field
// is read atomically, the set is not a single atomic cut.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Opens:            s.Opens.Load(),
		FuzzedOpens:      s.FuzzedOpens.Load(),
		PassthroughOpens: s.PassthroughOpens.Load(),
		MutationFailures: s.MutationFailures.Load(),
		Releases:         s.Releases.Load(),
		Preserved:        s.Preserved.Load(),
	}
}
