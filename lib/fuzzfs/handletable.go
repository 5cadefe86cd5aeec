// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzfs

import "sync"

// HandleTable maps open file descriptors to the scratch artifacts
// backing them. It is the bookkeeping that makes artifact disposal
// exact: the fuzzing open path inserts an entry after the artifact's
// descriptor is open, and the release path consumes it at most once.
// A descriptor number is unique among the process's live descriptors,
// so a table entry unambiguously names one open.
type HandleTable struct {
	mu      sync.Mutex
	entries map[int]string
}

// NewHandleTable returns an empty table.
func NewHandleTable() *HandleTable {
	return &HandleTable{entries: make(map[int]string)}
}

// Put registers the artifact path backing fd.
func (t *HandleTable) Put(fd int, artifactPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[fd] = artifactPath
}

// Take removes and returns the artifact path for fd. Removal is part
// of the lookup so two racing releases of the same descriptor cannot
// both observe (and both delete) the artifact.
func (t *HandleTable) Take(fd int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, ok := t.entries[fd]
	if ok {
		delete(t.entries, fd)
	}
	return path, ok
}

// Len returns the number of live entries. After every handle is
// released the table is empty; tests lean on that to prove no
// artifact leaks.
func (t *HandleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
