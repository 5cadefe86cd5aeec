// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy provides per-open mutation decisions.
//
// A policy is authored on disk as a JSONC file (JSON extended with
// comments and trailing commas):
//
//	{
//	    // Never corrupt shared libraries; the loader crashes before
//	    // the target even reads its input.
//	    "skip": ["*.so", "lib/*"],
//
//	    // Only mutate media inputs.
//	    "mutate": ["*.png", "*.gif"],
//
//	    "max_size_bytes": 10485760,
//	}
//
// The typical flow:
//
//  1. ReadFile or Parse: JSONC bytes → Policy
//  2. Validate: glob syntax checks
//  3. Decide: called by the filesystem once per open
//
// Skip wins over Mutate; an empty Mutate list allows everything; the
// size cap applies last. The zero policy mutates every open.
package policy
