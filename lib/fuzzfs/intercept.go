// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzfs

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"

	"github.com/deepsight/FATS/lib/journal"
	"github.com/deepsight/FATS/lib/mutator"
)

// openPassthrough opens the real file and wraps its descriptor. Used
// for opens the policy exempts from mutation; errors map to the host
// filesystem's errno unchanged.
func (m *mountState) openPassthrough(virtual, real string, flags uint32) (*fileHandle, syscall.Errno) {
	fd, err := syscall.Open(real, int(flags), 0)
	if err != nil {
		return nil, fs.ToErrno(err)
	}
	m.stats.Opens.Add(1)
	m.stats.PassthroughOpens.Add(1)
	return newFileHandle(fd, m, virtual), 0
}

// openFuzzed runs the mutation pipeline for one open: produce the
// artifact, open it, register the descriptor in the handle table,
// journal the event. Every failure branch cleans up whatever the
// pipeline had built by then, and all of them surface as EIO — the
// kernel's open contract has no room for mutation detail, which lives
// in the log and the journal instead.
func (m *mountState) openFuzzed(ctx context.Context, virtual, real string, flags uint32) (*fileHandle, syscall.Errno) {
	m.stats.Opens.Add(1)

	start := m.options.Clock.Now()
	result, err := m.options.Mutator.Mutate(ctx, real)
	if err != nil {
		m.stats.MutationFailures.Add(1)
		m.options.Logger.Error("mutation failed",
			"path", virtual,
			"error", err,
		)
		m.journalError(virtual, err)
		return nil, syscall.EIO
	}
	elapsed := m.options.Clock.Now().Sub(start)

	fd, err := syscall.Open(result.ArtifactPath, int(flags), 0)
	if err != nil {
		// Not yet in the table: removing it here is the only thing
		// standing between this branch and a leaked artifact.
		os.Remove(result.ArtifactPath)
		m.options.Logger.Error("opening mutated artifact failed",
			"path", virtual,
			"artifact", result.ArtifactPath,
			"error", err,
		)
		m.journalError(virtual, err)
		return nil, syscall.EIO
	}

	m.handles.Put(fd, result.ArtifactPath)
	m.stats.FuzzedOpens.Add(1)

	digest := mutator.FormatDigest(result.Digest)
	m.journalOpen(virtual, digest, result.Size, elapsed)
	m.options.Logger.Debug("open fuzzed",
		"path", virtual,
		"artifact", result.ArtifactPath,
		"digest", digest,
		"size", result.Size,
		"mutation_time", elapsed,
	)
	return newFuzzedFileHandle(fd, m, virtual, result.Digest), 0
}

func (m *mountState) journalOpen(virtual, digest string, size int64, took time.Duration) {
	if m.options.Journal == nil {
		return
	}
	err := m.options.Journal.Record(journal.Event{
		Op:            journal.OpOpen,
		Path:          virtual,
		Digest:        digest,
		Size:          size,
		MutationNanos: took.Nanoseconds(),
	})
	if err != nil {
		m.options.Logger.Warn("journal write failed", "error", err)
	}
}

func (m *mountState) journalRelease(virtual, digest string) {
	if m.options.Journal == nil {
		return
	}
	err := m.options.Journal.Record(journal.Event{
		Op:     journal.OpRelease,
		Path:   virtual,
		Digest: digest,
	})
	if err != nil {
		m.options.Logger.Warn("journal write failed", "error", err)
	}
}

func (m *mountState) journalError(virtual string, cause error) {
	if m.options.Journal == nil {
		return
	}
	err := m.options.Journal.Record(journal.Event{
		Op:     journal.OpError,
		Path:   virtual,
		Detail: cause.Error(),
	})
	if err != nil {
		m.options.Logger.Warn("journal write failed", "error", err)
	}
}
