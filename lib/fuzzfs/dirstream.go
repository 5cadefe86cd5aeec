// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzfs

import (
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// dirBatchSize is how many real entries are pulled from the mirrored
// directory per getdents batch.
const dirBatchSize = 128

// dirStream lists a mirrored directory: the self and parent entries
// first, then the real children in directory order, read lazily in
// batches. The stream is forward-only; a rewind arrives as a fresh
// Readdir, which opens a fresh stream.
type dirStream struct {
	dir     *os.File
	pending []fuse.DirEntry
	done    bool
}

var _ fs.DirStream = (*dirStream)(nil)

// openDirStream opens realPath for listing.
func openDirStream(realPath string) (fs.DirStream, syscall.Errno) {
	dir, err := os.Open(realPath)
	if err != nil {
		return nil, fs.ToErrno(err)
	}
	return &dirStream{
		dir: dir,
		pending: []fuse.DirEntry{
			{Name: ".", Mode: syscall.S_IFDIR},
			{Name: "..", Mode: syscall.S_IFDIR},
		},
	}, 0
}

func (s *dirStream) HasNext() bool {
	if len(s.pending) == 0 {
		s.fill()
	}
	return len(s.pending) > 0
}

// fill pulls the next batch of real entries. ReadDir returns a
// partial batch with a nil error mid-directory and io.EOF at the
// end; any error ends the stream, since DirStream has no way to
// report one mid-iteration.
func (s *dirStream) fill() {
	if s.done {
		return
	}
	entries, err := s.dir.ReadDir(dirBatchSize)
	for _, entry := range entries {
		s.pending = append(s.pending, fuse.DirEntry{
			Name: entry.Name(),
			Mode: direntMode(entry.Type()),
		})
	}
	if err != nil || len(entries) == 0 {
		s.done = true
	}
}

func (s *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if !s.HasNext() {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.pending[0]
	s.pending = s.pending[1:]
	return entry, 0
}

func (s *dirStream) Close() {
	s.dir.Close()
}

// direntMode converts a directory entry's type bits to the S_IF*
// form readdir reports.
func direntMode(entryType os.FileMode) uint32 {
	switch {
	case entryType.IsDir():
		return syscall.S_IFDIR
	case entryType&os.ModeSymlink != 0:
		return syscall.S_IFLNK
	case entryType&os.ModeNamedPipe != 0:
		return syscall.S_IFIFO
	case entryType&os.ModeSocket != 0:
		return syscall.S_IFSOCK
	case entryType&os.ModeCharDevice != 0:
		return syscall.S_IFCHR
	case entryType&os.ModeDevice != 0:
		return syscall.S_IFBLK
	default:
		return syscall.S_IFREG
	}
}
