// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal records what the filesystem served.
//
// Every fuzzed open, every release, and every mutation failure becomes
// one [Event] appended to a journal file as a deterministic CBOR
// stream. When the application under test crashes, the journal maps
// the crash window back to the digest of the artifact that was being
// served, and with corpus preservation enabled that digest names the
// preserved reproducer.
//
// The stream is append-only and self-delimiting, so a journal survives
// an unclean shutdown: [Read] returns every complete event written
// before the cut.
package journal
