// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for fats.
//
// Configuration is loaded from a single file specified by either the
// FATS_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides. Configuration is optional:
// [Default] is complete, and fats runs without any file.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${TMPDIR}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Mutator, Corpus, Mount sections
//   - [Default] -- returns the complete default configuration
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other FATS packages.
package config
