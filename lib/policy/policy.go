// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/tidwall/jsonc"
)

// Policy decides per open whether a file is served mutated or passed
// through unchanged. The zero value (and [Default]) mutates every
// open.
type Policy struct {
	// Skip lists glob patterns for files that are never mutated. Skip
	// wins over Mutate. Patterns match against both the full mount
	// path (without the leading slash) and the base name, using
	// path.Match syntax.
	Skip []string `json:"skip"`

	// Mutate, when non-empty, is an allowlist: only matching files
	// are mutated. Empty means everything not skipped is mutated.
	Mutate []string `json:"mutate"`

	// MaxSizeBytes passes files larger than this through unchanged.
	// Zero means no cap. Large inputs make external mutators slow, and
	// every open pays the full mutation cost.
	MaxSizeBytes int64 `json:"max_size_bytes"`
}

// Decision is the outcome of a policy check for one open.
type Decision struct {
	// Mutate is true when the open should serve a mutated artifact.
	Mutate bool

	// Reason explains a pass-through decision for logging. Empty when
	// Mutate is true.
	Reason string
}

// Default returns the policy that mutates every open.
func Default() *Policy {
	return &Policy{}
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Policy. The on-disk format is JSON
// extended with // line comments, /* block comments */, and trailing
// commas.
func Parse(data []byte) (*Policy, error) {
	stripped := jsonc.ToJSON(data)

	var p Policy
	if err := json.Unmarshal(stripped, &p); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}

	return &p, nil
}

// ReadFile reads a JSONC policy file from disk and parses it.
func ReadFile(filePath string) (*Policy, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filePath, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	return p, nil
}

// Validate checks all patterns for glob syntax errors.
func (p *Policy) Validate() error {
	var errs []error

	for _, pattern := range p.Skip {
		if _, err := path.Match(pattern, "probe"); err != nil {
			errs = append(errs, fmt.Errorf("skip pattern %q: %w", pattern, err))
		}
	}
	for _, pattern := range p.Mutate {
		if _, err := path.Match(pattern, "probe"); err != nil {
			errs = append(errs, fmt.Errorf("mutate pattern %q: %w", pattern, err))
		}
	}
	if p.MaxSizeBytes < 0 {
		errs = append(errs, fmt.Errorf("max_size_bytes must not be negative: %d", p.MaxSizeBytes))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Decide returns the mutation decision for one open. virtualPath is
// the slash-separated path as seen inside the mount, with a leading
// slash; size is the file's current size from the mirror.
func (p *Policy) Decide(virtualPath string, size int64) Decision {
	relative := strings.TrimPrefix(virtualPath, "/")
	base := path.Base(virtualPath)

	for _, pattern := range p.Skip {
		if matches(pattern, relative, base) {
			return Decision{Reason: fmt.Sprintf("matches skip pattern %q", pattern)}
		}
	}

	if len(p.Mutate) > 0 {
		allowed := false
		for _, pattern := range p.Mutate {
			if matches(pattern, relative, base) {
				allowed = true
				break
			}
		}
		if !allowed {
			return Decision{Reason: "no mutate pattern matches"}
		}
	}

	if p.MaxSizeBytes > 0 && size > p.MaxSizeBytes {
		return Decision{Reason: fmt.Sprintf("size %d exceeds cap %d", size, p.MaxSizeBytes)}
	}

	return Decision{Mutate: true}
}

// matches reports whether pattern matches either the relative mount
// path or the base name. Invalid patterns never match; Validate
// rejects them at load time.
func matches(pattern, relative, base string) bool {
	if ok, _ := path.Match(pattern, relative); ok {
		return true
	}
	if ok, _ := path.Match(pattern, base); ok {
		return true
	}
	return false
}
