// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzfs

import (
	"path/filepath"
	"strings"
)

// Mapper resolves mount-relative paths to paths in the mirrored
// source tree. It is pure string manipulation: whether the resolved
// path exists is the caller's concern.
type Mapper struct {
	root string
}

// NewMapper returns a Mapper rooted at the given source directory.
func NewMapper(root string) Mapper {
	return Mapper{root: root}
}

// Resolve maps a mount-relative path (with or without its leading
// slash) to the corresponding path under the mirror root. The empty
// path and "/" both resolve to the root itself.
func (m Mapper) Resolve(virtual string) string {
	virtual = strings.TrimPrefix(virtual, "/")
	return filepath.Join(m.root, virtual)
}

// Root returns the mirror root.
func (m Mapper) Root() string {
	return m.root
}
