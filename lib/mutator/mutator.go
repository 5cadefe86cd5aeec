// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package mutator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
)

// Mutator produces a mutated copy of a source file. Implementations
// write the mutated bytes to a fresh scratch file and return its path;
// the caller owns the file on success and must remove it when done.
// On error, no file is left behind.
type Mutator interface {
	// Mutate reads the file at sourcePath and materializes a mutated
	// copy. Every call produces an independent artifact, even for the
	// same source.
	Mutate(ctx context.Context, sourcePath string) (*Result, error)
}

// MutatorFunc adapts a function to the Mutator interface.
type MutatorFunc func(ctx context.Context, sourcePath string) (*Result, error)

// Mutate calls f.
func (f MutatorFunc) Mutate(ctx context.Context, sourcePath string) (*Result, error) {
	return f(ctx, sourcePath)
}

// Result describes one materialized artifact.
type Result struct {
	// ArtifactPath is the scratch file holding the mutated bytes.
	// The caller owns it and removes it when the consumer is done.
	ArtifactPath string

	// Digest is the BLAKE3 digest of the artifact's content.
	Digest Digest

	// Size is the artifact's size in bytes.
	Size int64
}

// Digest is a 32-byte BLAKE3 digest of an artifact's content.
type Digest [32]byte

// FormatDigest returns the hex-encoded string representation of a
// digest. This is the canonical format used in the journal, corpus
// file names, and logs.
func FormatDigest(digest Digest) string {
	return hex.EncodeToString(digest[:])
}

// ParseDigest parses a 64-character hex string into a Digest.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing artifact digest: %w", err)
	}
	if len(decoded) != 32 {
		return digest, fmt.Errorf("artifact digest is %d bytes, want 32", len(decoded))
	}
	copy(digest[:], decoded)
	return digest, nil
}

// ErrToolNotFound reports that the external mutation tool executable
// could not be resolved. Callers use this to distinguish a missing
// collaborator from a failing one.
var ErrToolNotFound = errors.New("mutation tool not found")

// ExitError represents a non-zero exit from the mutation tool.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("mutation tool exited with code %d", e.Code)
	}
	return fmt.Sprintf("mutation tool exited with code %d (stderr: %s)", e.Code, e.Stderr)
}

// IsExitError checks if an error is an ExitError and returns the code.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
