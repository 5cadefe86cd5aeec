// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

// Package mutator produces mutated copies of files through an external
// mutation tool.
//
// The [Mutator] interface is the seam between the filesystem and the
// tool: the filesystem calls Mutate once per open and serves the
// returned artifact through that handle. [Command] is the production
// implementation, invoking a radamsa-style executable whose stdout is
// the mutated output. Tests substitute a [MutatorFunc] or a small
// shell script to get deterministic bytes.
//
// Ownership is strict: on success the caller owns the artifact file
// and must remove it; on any error the implementation has already
// cleaned up and nothing is left on disk. This is what makes the
// filesystem's no-leak guarantee checkable by counting files in the
// scratch directory.
package mutator
