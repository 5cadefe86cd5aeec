// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuzzfs implements the FATS filesystem: a FUSE passthrough
// mirror of a source directory in which every file open is intercepted
// and served a freshly mutated copy of the file's content.
//
// # Interception
//
// All metadata and namespace operations (lookup, getattr, readdir,
// mkdir, rename, unlink, ...) forward directly to the mirrored tree.
// Open is the one exception: before the handle is returned, the
// mutation policy is consulted and, for a mutating decision, an
// external tool produces a mutated scratch copy of the file. The
// returned handle is backed by that scratch artifact — the original
// file is never opened, and nothing written through the handle can
// reach it.
//
// # Artifact lifecycle
//
// Each open produces its own artifact; two concurrent opens of the
// same file see two independent mutations. The artifact exists from
// just before the open returns until the handle's release, at which
// point it is deleted exactly once (or archived to a corpus store and
// then deleted). The handle table pins each live descriptor to its
// artifact; consuming the table entry on release is what makes
// duplicate releases harmless. Failures anywhere in the mutation
// pipeline clean up their partial state and fail the open with EIO:
// the application under test sees an I/O error, not a half-mutated
// file.
//
// # What is not fuzzed
//
// Directory listings, symlink targets, and attributes come from the
// real tree. Files created through the mount are brand new, have no
// content worth mutating, and open directly. A policy can exempt
// further paths (shared libraries, oversized files) from mutation;
// exempted opens fall back to plain passthrough.
package fuzzfs
