// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

// Package corpus preserves served artifacts for later triage.
//
// By default the filesystem deletes each mutated artifact when its
// handle is released, which destroys the reproducer the moment the
// application under test crashes on it. A [Store] changes the disposal
// step: released artifacts are archived under their BLAKE3 digest —
// the same digest the fuzz journal records — before the scratch copy
// is removed.
//
// Storage is content-addressed and optionally compressed; the
// compression choice is a per-store setting encoded in the file name
// suffix, so mixed-history stores remain fully readable.
package corpus
