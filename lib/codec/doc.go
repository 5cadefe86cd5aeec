// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration.
//
// FATS uses two serialization formats with a clear boundary:
//
//   - JSON (with comments, via JSONC) for human-edited inputs: the
//     mutation policy file.
//   - CBOR for machine-written output: the on-disk fuzz journal, an
//     append-only stream of open/release/error records.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the journal file):
//
//	encoder := codec.NewEncoder(file)
//	decoder := codec.NewDecoder(file)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: the type is only ever serialized as CBOR (journal
//     records).
//   - `json` tag: the type is only ever serialized as JSON (policy
//     files).
//
// Never use both tags on the same field. The tag choice documents the
// contract.
package codec
