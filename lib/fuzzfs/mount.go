// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzfs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/deepsight/FATS/lib/clock"
	"github.com/deepsight/FATS/lib/corpus"
	"github.com/deepsight/FATS/lib/journal"
	"github.com/deepsight/FATS/lib/mutator"
	"github.com/deepsight/FATS/lib/policy"
)

// Options configures the FATS mount.
type Options struct {
	// SourceDir is the directory mirrored through the mount.
	// Required.
	SourceDir string

	// Mountpoint is the directory where the filesystem is mounted.
	// Created if missing. Required.
	Mountpoint string

	// Mutator produces the mutated copy served by each intercepted
	// open. Required.
	Mutator mutator.Mutator

	// Policy decides per open whether the file is mutated or passed
	// through. If nil, every open is mutated.
	Policy *policy.Policy

	// Journal, when non-nil, receives an event for every fuzzed
	// open, release, and mutation failure.
	Journal *journal.Writer

	// Corpus, when non-nil, archives served artifacts on release
	// instead of just deleting them.
	Corpus *corpus.Store

	// Clock measures mutation time. If nil, defaults to
	// clock.Real().
	Clock clock.Clock

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf. Needed when the target
	// application runs as a different UID than the daemon.
	AllowOther bool

	// Debug enables FUSE protocol tracing.
	Debug bool

	// Logger receives diagnostic messages. If nil, a logger that
	// writes errors to stderr is used.
	Logger *slog.Logger
}

// mountState is shared by every node and file handle of one mount.
type mountState struct {
	options *Options
	mapper  Mapper
	handles *HandleTable
	stats   Stats
	rootDev uint64
}

// newMountState stats the source directory and wires the shared
// per-mount state. The caller has validated and defaulted options.
func newMountState(options *Options) (*mountState, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(options.SourceDir, &st); err != nil {
		return nil, fmt.Errorf("statting source directory %s: %w", options.SourceDir, err)
	}
	if st.Mode&syscall.S_IFMT != syscall.S_IFDIR {
		return nil, fmt.Errorf("source %s is not a directory", options.SourceDir)
	}
	return &mountState{
		options: options,
		mapper:  NewMapper(options.SourceDir),
		handles: NewHandleTable(),
		rootDev: uint64(st.Dev),
	}, nil
}

// Server is a live FATS mount.
type Server struct {
	fuseServer *fuse.Server
	state      *mountState
}

// Mount validates options and mounts the filesystem. The caller must
// Unmount the returned Server when done; a mount with live fuzzed
// handles still holds their scratch artifacts.
func Mount(options Options) (*Server, error) {
	if options.SourceDir == "" {
		return nil, fmt.Errorf("source directory is required")
	}
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Mutator == nil {
		return nil, fmt.Errorf("mutator is required")
	}
	if options.Policy == nil {
		options.Policy = policy.Default()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	source, err := filepath.Abs(options.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("resolving source directory: %w", err)
	}
	options.SourceDir = source

	state, err := newMountState(&options)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	// No entry or attribute timeouts: the bytes behind a path change
	// on every open, so the kernel must not reuse anything across
	// opens.
	fuseServer, err := fs.Mount(options.Mountpoint, &node{mount: state}, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:     options.SourceDir,
			Name:       "fats",
			AllowOther: options.AllowOther,
			Debug:      options.Debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("fats filesystem mounted",
		"source", options.SourceDir,
		"mountpoint", options.Mountpoint,
	)
	return &Server{fuseServer: fuseServer, state: state}, nil
}

// Wait blocks until the filesystem is unmounted, by Unmount or
// externally (fusermount -u).
func (s *Server) Wait() {
	s.fuseServer.Wait()
}

// Unmount detaches the filesystem. Fails with EBUSY while the
// application under test still holds open handles.
func (s *Server) Unmount() error {
	return s.fuseServer.Unmount()
}

// Stats returns a snapshot of the mount's activity counters.
func (s *Server) Stats() Snapshot {
	return s.state.stats.Snapshot()
}
